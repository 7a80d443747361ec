package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/docscan-ai/docscan/internal/billing"
	"github.com/docscan-ai/docscan/internal/model"
	"github.com/docscan-ai/docscan/internal/pipeline"
	"github.com/docscan-ai/docscan/internal/resilience"
	"github.com/docscan-ai/docscan/pkg/paymongo"
)

// maxScanBody caps the request body for /api/analyze. Base64 inflates the
// image by a third, so this allows roughly 15MB of raw image.
const maxScanBody = 20 << 20

// defaultScanPageSize bounds /api/scans responses.
const defaultScanPageSize = 50

// maxWebhookBody caps the webhook request body. PayMongo events are a few
// KB; anything truncated at this cap fails the signature check.
const maxWebhookBody = 1 << 20

// userEmail extracts the authenticated identity or writes a 401.
func userEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	email := r.Header.Get(userHeader)
	if email == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return "", false
	}
	return email, true
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	email, ok := userEmail(w, r)
	if !ok {
		return
	}

	var req model.ScanRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxScanBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ImageBase64 == "" || req.MimeType == "" {
		writeError(w, http.StatusBadRequest, "imageBase64 and mimeType are required")
		return
	}

	result, err := s.pipeline.Analyze(r.Context(), email, req)
	if err != nil {
		var limitErr *pipeline.LimitError
		if errors.As(err, &limitErr) {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"error":      "scan_limit_reached",
				"plan":       limitErr.Plan,
				"scansUsed":  limitErr.Used,
				"scansLimit": limitErr.Limit,
			})
			return
		}
		var upstreamErr *pipeline.UpstreamError
		if errors.As(err, &upstreamErr) {
			writeError(w, http.StatusBadGateway, "document analysis service unavailable")
			return
		}
		zap.L().Error("analyze failed", zap.String("user", email), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	email, ok := userEmail(w, r)
	if !ok {
		return
	}

	scans, err := s.store.ListScans(r.Context(), email, defaultScanPageSize)
	if err != nil {
		zap.L().Error("list scans failed", zap.String("user", email), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if scans == nil {
		scans = []model.ScanRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"scans": scans})
}

// subscriptionResponse is the read model for GET /api/subscription.
type subscriptionResponse struct {
	Plan          model.Plan `json:"plan"`
	PlanName      string     `json:"planName"`
	ScansUsed     int        `json:"scansUsed"`
	ScansLimit    int        `json:"scansLimit"`
	IsUnlimited   bool       `json:"isUnlimited"`
	PriceCentavos int        `json:"priceCentavos"`
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	email, ok := userEmail(w, r)
	if !ok {
		return
	}

	ent, err := s.ledger.Get(r.Context(), email)
	if err != nil {
		zap.L().Error("subscription lookup failed", zap.String("user", email), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if ent == nil {
		// A read must not create a record. Unknown users see the trial
		// defaults they would receive on their first scan.
		spec := model.SpecFor(model.PlanTrial)
		writeJSON(w, http.StatusOK, subscriptionResponse{
			Plan:          model.PlanTrial,
			PlanName:      spec.Name,
			ScansUsed:     0,
			ScansLimit:    spec.ScanLimit,
			IsUnlimited:   false,
			PriceCentavos: spec.PriceCentavos,
		})
		return
	}

	spec := model.SpecFor(ent.Plan)
	writeJSON(w, http.StatusOK, subscriptionResponse{
		Plan:          ent.Plan,
		PlanName:      spec.Name,
		ScansUsed:     ent.ScansUsed,
		ScansLimit:    ent.ScansLimit,
		IsUnlimited:   ent.Unlimited(),
		PriceCentavos: spec.PriceCentavos,
	})
}

type checkoutRequest struct {
	Plan model.Plan `json:"plan"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	email, ok := userEmail(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Plan.Paid() {
		writeError(w, http.StatusBadRequest, "plan is not purchasable")
		return
	}

	spec := model.SpecFor(req.Plan)
	session, err := s.createCheckoutSession(r.Context(), paymongo.CheckoutSessionRequest{
		Description: fmt.Sprintf("%s plan subscription", spec.Name),
		LineItems: []paymongo.LineItem{
			{Currency: "PHP", Amount: spec.PriceCentavos, Name: spec.Name, Quantity: 1},
		},
		SuccessURL: s.siteURL + "/dashboard?payment=success",
		CancelURL:  s.siteURL + "/pricing?payment=cancelled",
		Metadata: map[string]string{
			"user_email": email,
			"plan":       string(req.Plan),
		},
	})
	if err != nil {
		zap.L().Error("checkout session failed",
			zap.String("user", email),
			zap.String("plan", string(req.Plan)),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "payment provider unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": session.URL})
}

// createCheckoutSession retries transient provider failures. A 4xx from
// PayMongo is a permanent rejection and returns immediately.
func (s *Server) createCheckoutSession(ctx context.Context, req paymongo.CheckoutSessionRequest) (*paymongo.CheckoutSession, error) {
	var session *paymongo.CheckoutSession
	err := resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		sess, err := s.checkout.CreateCheckoutSession(ctx, req)
		if err != nil {
			var apiErr *paymongo.APIError
			if eris.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
				return resilience.NewTransientError(err, apiErr.StatusCode)
			}
			return err
		}
		session = sess
		return nil
	})
	return session, err
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	// The raw bytes feed the HMAC check; nothing may parse the body first.
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	err = s.reconciler.Handle(r.Context(), rawBody, r.Header.Get("Paymongo-Signature"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case eris.Is(err, billing.ErrMissingSecret):
		writeError(w, http.StatusInternalServerError, "webhook not configured")
	case eris.Is(err, billing.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, "invalid payload")
	default:
		// Signature and replay failures.
		writeError(w, http.StatusUnauthorized, "invalid signature")
	}
}
