// Package billing verifies PayMongo webhook events and reconciles them
// against the entitlement ledger.
package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// PayMongo sends: Paymongo-Signature: t=<unix_ts>,te=<test_hmac>,li=<live_hmac>
// In test mode te is filled and li is empty; in live mode the reverse.
// The digest is HMAC-SHA256("<timestamp>.<rawBody>", webhookSecret), hex.

// replayWindow is how old an event may be before it is rejected.
const replayWindow = 300 * time.Second

var (
	// ErrMissingSecret means the webhook secret is not configured.
	ErrMissingSecret = eris.New("billing: webhook secret not configured")
	// ErrInvalidSignature covers a missing/malformed header, an absent
	// digest, and a digest mismatch.
	ErrInvalidSignature = eris.New("billing: invalid webhook signature")
	// ErrStaleEvent means the signed timestamp fell outside the replay window.
	ErrStaleEvent = eris.New("billing: webhook event outside replay window")
)

type signatureHeader struct {
	timestamp int64
	digest    string
}

// parseSignatureHeader splits the comma-separated k=v header. The live
// digest is preferred; the test digest is the fallback.
func parseSignatureHeader(header string) (*signatureHeader, error) {
	parts := map[string]string{}
	for _, pair := range strings.Split(header, ",") {
		idx := strings.Index(pair, "=")
		if idx == -1 {
			continue
		}
		parts[strings.TrimSpace(pair[:idx])] = strings.TrimSpace(pair[idx+1:])
	}

	ts, ok := parts["t"]
	if !ok {
		return nil, eris.Wrap(ErrInvalidSignature, "missing timestamp")
	}
	timestamp, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, eris.Wrap(ErrInvalidSignature, "malformed timestamp")
	}

	digest := parts["li"]
	if digest == "" {
		digest = parts["te"]
	}
	if digest == "" {
		return nil, eris.Wrap(ErrInvalidSignature, "no usable digest")
	}

	return &signatureHeader{timestamp: timestamp, digest: digest}, nil
}

// verifySignature checks the header against the exact raw bytes received.
// Parsing must not happen first: re-serialization could alter the bytes
// and break the digest match.
func verifySignature(rawBody []byte, header, secret string, now time.Time) error {
	sig, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	if now.Unix()-sig.timestamp > int64(replayWindow.Seconds()) {
		return ErrStaleEvent
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(sig.timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(sig.digest), []byte(expected)) {
		return eris.Wrap(ErrInvalidSignature, "digest mismatch")
	}

	return nil
}
