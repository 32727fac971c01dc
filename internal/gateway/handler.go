package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tdmanh/toxgate/internal/account"
	"github.com/tdmanh/toxgate/internal/auth"
	"github.com/tdmanh/toxgate/internal/classifier"
	"github.com/tdmanh/toxgate/internal/keystore"
	"github.com/tdmanh/toxgate/internal/ledger"
	"github.com/tdmanh/toxgate/internal/metrics"
	"github.com/tdmanh/toxgate/internal/quota"
	"github.com/tdmanh/toxgate/pkg/ratelimit"
)

// Handler orchestrates a prediction request: authenticate (done by the
// auth middleware), quota check, classify, charge, respond. All
// collaborators are injected so tests run against mocks.
type Handler struct {
	keys          keystore.Store
	ledger        ledger.Store
	owners        account.Store
	cls           classifier.Classifier
	limiter       *ratelimit.Limiter
	cache         *auth.Cache
	tracer        trace.Tracer
	baseAllowance int
}

func NewHandler(
	keys keystore.Store,
	ledgerStore ledger.Store,
	owners account.Store,
	cls classifier.Classifier,
	limiter *ratelimit.Limiter,
	cache *auth.Cache,
	tracer trace.Tracer,
	baseAllowance int,
) *Handler {
	return &Handler{
		keys:          keys,
		ledger:        ledgerStore,
		owners:        owners,
		cls:           cls,
		limiter:       limiter,
		cache:         cache,
		tracer:        tracer,
		baseAllowance: baseAllowance,
	}
}

type predictRequest struct {
	Text string `json:"text"`
}

type predictResponse struct {
	Label             int     `json:"label"`
	Score             float64 `json:"score"`
	RequestsUsed      int     `json:"requests_used"`
	RequestsRemaining int     `json:"requests_remaining"`
}

func (h *Handler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := auth.GetAPIKey(ctx)
	if key == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing required field: text"})
		return
	}

	requestID := auth.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	_, span := h.tracer.Start(ctx, "gateway.predict")
	defer span.End()
	span.SetAttributes(
		attribute.String("api_key_id", key.ID),
		attribute.String("request_id", requestID),
	)

	allowed, err := h.limiter.Allow(ctx, key.ID)
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60s")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"retry_after": "60s",
		})
		return
	}

	// Fast-path quota check: rejects spent keys with an exact
	// used/allowed body before the classifier is touched. The check
	// that actually holds under races is the one inside Reserve.
	used, err := h.ledger.Count(ctx, key.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if quota.Remaining(h.baseAllowance, key.PaidAllowance, used) == 0 {
		h.writeQuotaExceeded(w, used, h.baseAllowance+key.PaidAllowance)
		return
	}

	result, err := h.cls.Classify(ctx, req.Text)
	if err != nil {
		// A failed classification is never billed.
		if errors.Is(err, classifier.ErrUnavailable) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "classifier unavailable, retry later",
			})
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	usedNow, totalAllowed, err := h.reserve(r.Context(), key.ID)
	if err != nil {
		var exhausted *ledger.ExhaustedError
		if errors.As(err, &exhausted) {
			h.writeQuotaExceeded(w, exhausted.Used, exhausted.Allowed)
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, predictResponse{
		Label:             result.Label,
		Score:             result.Score,
		RequestsUsed:      usedNow,
		RequestsRemaining: totalAllowed - usedNow,
	})
}

// reserve runs the atomic check-and-charge, retrying once on a
// transient store failure. The retry re-runs the whole transaction:
// either the first attempt committed (and the error was elsewhere) or
// nothing was written, so a retry cannot double-charge.
func (h *Handler) reserve(ctx context.Context, keyID string) (int, int, error) {
	used, allowed, err := h.ledger.Reserve(ctx, keyID, h.baseAllowance)
	if err == nil {
		return used, allowed, nil
	}

	var exhausted *ledger.ExhaustedError
	if errors.As(err, &exhausted) || errors.Is(err, keystore.ErrKeyNotFound) {
		return 0, 0, err
	}

	return h.ledger.Reserve(ctx, keyID, h.baseAllowance)
}

func (h *Handler) writeQuotaExceeded(w http.ResponseWriter, used, allowed int) {
	metrics.CountQuotaRejection()
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":         "request limit reached, purchase more to continue",
		"requests_used": used,
		"allowed":       allowed,
	})
}

type purchaseRequest struct {
	Amount int `json:"amount"`
}

func (h *Handler) HandlePurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := auth.GetAPIKey(ctx)
	if key == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must be positive"})
		return
	}

	totalPaid, err := h.keys.AddAllowance(ctx, key.Token, req.Amount)
	if err != nil {
		if errors.Is(err, keystore.ErrInvalidArgument) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if errors.Is(err, keystore.ErrKeyNotFound) {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid or revoked api key"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	// Drop the cached key so the next authenticate sees the new allowance.
	_ = h.cache.Invalidate(ctx, key.Token)

	writeJSON(w, http.StatusOK, map[string]int{
		"total_allowance": h.baseAllowance + totalPaid,
	})
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := auth.GetAPIKey(ctx)
	if key == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	now := time.Now()
	from := now.AddDate(0, 0, -30) // Default: last 30 days
	to := now

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		var err error
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid 'from' date format (use RFC3339)"})
			return
		}
	}
	if toStr := r.URL.Query().Get("to"); toStr != "" {
		var err error
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid 'to' date format (use RFC3339)"})
			return
		}
	}

	records, err := h.ledger.History(ctx, key.ID, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	used, err := h.ledger.Count(ctx, key.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	timestamps := make([]time.Time, len(records))
	for i, rec := range records {
		timestamps[i] = rec.CreatedAt
	}

	allowed := h.baseAllowance + key.PaidAllowance
	writeJSON(w, http.StatusOK, map[string]any{
		"api_key_id":         key.ID,
		"requests_used":      used,
		"allowed":            allowed,
		"requests_remaining": quota.Remaining(h.baseAllowance, key.PaidAllowance, used),
		"records":            timestamps,
		"from":               from,
		"to":                 to,
	})
}

type registerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	owner := &account.Owner{Name: req.Name, Email: req.Email}
	if err := h.owners.Create(ctx, owner); err != nil {
		if errors.Is(err, account.ErrDuplicate) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "email already registered"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	k, err := h.keys.Issue(ctx, owner.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"owner_id": owner.ID,
		"api_key":  k.Token,
	})
}

func (h *Handler) HandleRecover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	email := r.URL.Query().Get("email")
	if email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email is required"})
		return
	}

	owner, err := h.owners.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "owner not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	keys, err := h.keys.KeysForOwner(ctx, owner.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if len(keys) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active api keys"})
		return
	}

	tokens := make([]string, len(keys))
	for i, k := range keys {
		tokens[i] = k.Token
	}

	writeJSON(w, http.StatusOK, map[string][]string{"api_keys": tokens})
}

type issueKeyRequest struct {
	OwnerID string `json:"owner_id"`
}

func (h *Handler) HandleIssueKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req issueKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OwnerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner_id is required"})
		return
	}

	k, err := h.keys.Issue(ctx, req.OwnerID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"key_id":  k.ID,
		"api_key": k.Token,
	})
}

func (h *Handler) HandleRevokeKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := chi.URLParam(r, "token")
	if token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token is required"})
		return
	}

	if err := h.keys.Revoke(ctx, token); err != nil {
		if errors.Is(err, keystore.ErrKeyNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "api key not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	// Bust the auth cache before answering so no later authenticate can
	// ride a stale active entry.
	_ = h.cache.Invalidate(ctx, token)

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
