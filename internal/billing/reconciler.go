package billing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/docscan-ai/docscan/internal/entitlement"
	"github.com/docscan-ai/docscan/internal/model"
	"github.com/docscan-ai/docscan/internal/resilience"
)

// EventCheckoutPaid is the only event type that mutates entitlement state.
const EventCheckoutPaid = "checkout_session.payment.paid"

// ErrInvalidPayload means the body did not parse as JSON after its
// signature verified.
var ErrInvalidPayload = eris.New("billing: invalid webhook payload")

// event mirrors PayMongo's nested webhook envelope.
type event struct {
	Data struct {
		Attributes struct {
			Type string `json:"type"`
			Data struct {
				Attributes checkoutSession `json:"attributes"`
			} `json:"data"`
		} `json:"attributes"`
	} `json:"data"`
}

type checkoutSession struct {
	Metadata struct {
		UserEmail string `json:"user_email"`
		Plan      string `json:"plan"`
	} `json:"metadata"`
	Billing struct {
		Email string `json:"email"`
	} `json:"billing"`
}

// Reconciler applies verified payment events to the entitlement ledger.
type Reconciler struct {
	ledger *entitlement.Ledger
	secret string
	now    func() time.Time
	retry  resilience.RetryConfig
}

// NewReconciler creates a Reconciler. secret is the PayMongo webhook
// signing secret; it may be empty, in which case every event is rejected
// as unconfigured.
func NewReconciler(ledger *entitlement.Ledger, secret string) *Reconciler {
	cfg := resilience.DefaultRetryConfig()
	// PayMongo will not redeliver an acked event, so retry every apply
	// failure within the request, not just recognizably transient ones.
	cfg.ShouldRetry = func(error) bool { return true }
	return &Reconciler{
		ledger: ledger,
		secret: secret,
		now:    time.Now,
		retry:  cfg,
	}
}

// WithClock overrides the reconciler's clock. Tests only.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Handle verifies and applies one webhook delivery.
//
// A nil return means the event should be acknowledged, including events
// that were verified but skipped (unknown type, missing metadata) and
// events whose entitlement update ultimately failed; the provider only
// redelivers on non-2xx, and redelivery cannot fix those. Returned errors
// are ErrMissingSecret, ErrInvalidSignature/ErrStaleEvent, or
// ErrInvalidPayload, each mapping to a distinct HTTP status.
func (r *Reconciler) Handle(ctx context.Context, rawBody []byte, sigHeader string) error {
	if r.secret == "" {
		return ErrMissingSecret
	}

	if err := verifySignature(rawBody, sigHeader, r.secret, r.now()); err != nil {
		zap.L().Warn("webhook rejected", zap.Error(err))
		return err
	}

	var ev event
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		return eris.Wrap(ErrInvalidPayload, err.Error())
	}

	if ev.Data.Attributes.Type != EventCheckoutPaid {
		zap.L().Debug("webhook event ignored",
			zap.String("type", ev.Data.Attributes.Type),
		)
		return nil
	}

	session := ev.Data.Attributes.Data.Attributes

	userEmail := session.Metadata.UserEmail
	if userEmail == "" {
		userEmail = session.Billing.Email
	}
	plan := model.Plan(session.Metadata.Plan)

	if userEmail == "" || !plan.Paid() {
		// Authentic but malformed. Ack so the provider does not retry a
		// payload that can never apply.
		zap.L().Error("webhook metadata missing or invalid",
			zap.String("user", userEmail),
			zap.String("plan", string(plan)),
		)
		return nil
	}

	err := resilience.Do(ctx, r.retry, func(ctx context.Context) error {
		return r.ledger.ApplyPlanChange(ctx, userEmail, plan)
	})
	if err != nil {
		// Out of attempts. Still ack, see Handle doc.
		zap.L().Error("webhook entitlement update failed after retries",
			zap.String("user", userEmail),
			zap.String("plan", string(plan)),
			zap.Error(err),
		)
		return nil
	}

	zap.L().Info("plan upgrade applied from webhook",
		zap.String("user", userEmail),
		zap.String("plan", string(plan)),
	)
	return nil
}
