package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tdmanh/toxgate/internal/keystore"
)

// Mock key store
type mockKeyStore struct {
	getByTokenFunc func(ctx context.Context, token string) (*keystore.APIKey, error)
}

func (m *mockKeyStore) GetByToken(ctx context.Context, token string) (*keystore.APIKey, error) {
	return m.getByTokenFunc(ctx, token)
}

func (m *mockKeyStore) Issue(ctx context.Context, ownerID string) (*keystore.APIKey, error) {
	return nil, nil
}

func (m *mockKeyStore) Revoke(ctx context.Context, token string) error { return nil }

func (m *mockKeyStore) AddAllowance(ctx context.Context, token string, amount int) (int, error) {
	return 0, nil
}

func (m *mockKeyStore) KeysForOwner(ctx context.Context, ownerID string) ([]*keystore.APIKey, error) {
	return nil, nil
}

func runMiddleware(store keystore.Store, authHeader string) (*httptest.ResponseRecorder, *keystore.APIKey) {
	var seen *keystore.APIKey
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetAPIKey(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	mw := NewMiddleware(store, nil)
	req := httptest.NewRequest("POST", "/v1/predict", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	mw(next).ServeHTTP(w, req)
	return w, seen
}

func TestMiddleware_MissingToken(t *testing.T) {
	store := &mockKeyStore{}
	w, _ := runMiddleware(store, "")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestMiddleware_BlankToken(t *testing.T) {
	store := &mockKeyStore{}
	w, _ := runMiddleware(store, "Bearer   ")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestMiddleware_UnknownToken(t *testing.T) {
	store := &mockKeyStore{
		getByTokenFunc: func(ctx context.Context, token string) (*keystore.APIKey, error) {
			return nil, keystore.ErrKeyNotFound
		},
	}
	w, _ := runMiddleware(store, "Bearer tox_deadbeef")

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", w.Code)
	}
}

func TestMiddleware_RevokedToken(t *testing.T) {
	store := &mockKeyStore{
		getByTokenFunc: func(ctx context.Context, token string) (*keystore.APIKey, error) {
			return &keystore.APIKey{ID: "k-1", Token: token, Revoked: true}, nil
		},
	}
	w, seen := runMiddleware(store, "Bearer tox_deadbeef")

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", w.Code)
	}
	if seen != nil {
		t.Error("Handler must not run for a revoked key")
	}
}

func TestMiddleware_ValidToken(t *testing.T) {
	store := &mockKeyStore{
		getByTokenFunc: func(ctx context.Context, token string) (*keystore.APIKey, error) {
			return &keystore.APIKey{ID: "k-1", OwnerID: "o-1", Token: token}, nil
		},
	}
	w, seen := runMiddleware(store, "Bearer tox_deadbeef")

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if seen == nil || seen.ID != "k-1" {
		t.Errorf("Expected api key in context, got %+v", seen)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header")
	}
}

func TestAdminOnly(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name       string
		configured string
		sent       string
		want       int
	}{
		{"matching token", "secret", "secret", http.StatusNoContent},
		{"wrong token", "secret", "nope", http.StatusForbidden},
		{"missing token", "secret", "", http.StatusForbidden},
		{"disabled when unconfigured", "", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/v1/admin/keys", nil)
			if tt.sent != "" {
				req.Header.Set("X-Admin-Token", tt.sent)
			}
			w := httptest.NewRecorder()
			AdminOnly(tt.configured)(next).ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}
