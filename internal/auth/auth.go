package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tdmanh/toxgate/internal/keystore"
)

type Middleware func(next http.Handler) http.Handler

type contextKey string

const (
	apiKeyKey    contextKey = "api_key"
	requestIDKey contextKey = "request_id"
)

// NewMiddleware authenticates bearer tokens against the key store, with
// an optional redis read-through cache in front of it. A missing or
// blank token is 401; an unknown or revoked token is 403. Nothing past
// this middleware runs for a rejected request.
func NewMiddleware(store keystore.Store, cache *Cache) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			// Generate RequestID
			requestID := uuid.New().String()
			ctx = context.WithValue(ctx, requestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)

			// Extract Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
				return
			}

			if k, ok := cache.Get(ctx, token); ok {
				if k.Revoked {
					writeError(w, http.StatusForbidden, "api key revoked")
					return
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, apiKeyKey, k)))
				return
			}

			// Cache miss or error: lookup in store
			k, err := store.GetByToken(ctx, token)
			if err != nil {
				if errors.Is(err, keystore.ErrKeyNotFound) {
					writeError(w, http.StatusForbidden, "invalid api key")
					return
				}
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			if k.Revoked {
				// Cached too, so repeated calls with a dead key stay cheap.
				cache.Put(ctx, token, k)
				writeError(w, http.StatusForbidden, "api key revoked")
				return
			}

			cache.Put(ctx, token, k)
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, apiKeyKey, k)))
		})
	}
}

// AdminOnly guards issuance/revocation routes with a shared token from
// config. An empty configured token disables the routes entirely.
func AdminOnly(adminToken string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Admin-Token")
			if adminToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(adminToken)) != 1 {
				writeError(w, http.StatusForbidden, "admin token required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Helpers to extract from context
func GetAPIKey(ctx context.Context) *keystore.APIKey {
	if k, ok := ctx.Value(apiKeyKey).(*keystore.APIKey); ok {
		return k
	}
	return nil
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Helpers for testing
func WithAPIKey(ctx context.Context, k *keystore.APIKey) context.Context {
	return context.WithValue(ctx, apiKeyKey, k)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}
