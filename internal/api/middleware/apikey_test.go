package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pagemule/pagemule/internal/api/middleware"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyAuthDisabled(t *testing.T) {
	t.Setenv("PAGEMULE_API_KEYS", "")

	auth := middleware.NewAPIKeyAuth()
	if auth.Enabled() {
		t.Error("auth enabled without PAGEMULE_API_KEYS")
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/operations/upsert", nil)
	w := httptest.NewRecorder()
	auth.Middleware(okHandler()).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d when auth disabled", w.Code, http.StatusOK)
	}
}

func TestAPIKeyAuthValidKey(t *testing.T) {
	t.Setenv("PAGEMULE_API_KEYS", "key-1, key-2")

	auth := middleware.NewAPIKeyAuth()
	if !auth.Enabled() {
		t.Fatal("auth not enabled")
	}
	handler := auth.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/operations/upsert", nil)
	req.Header.Set("Authorization", "Bearer key-1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Bearer key: status = %d, want 200", w.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/operations/link", nil)
	req2.Header.Set("X-API-Key", "key-2")
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Errorf("X-API-Key: status = %d, want 200", w2.Code)
	}
}

func TestAPIKeyAuthInvalidKey(t *testing.T) {
	t.Setenv("PAGEMULE_API_KEYS", "real-key")

	handler := middleware.NewAPIKeyAuth().Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/operations/upsert", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAPIKeyAuthPublicPaths(t *testing.T) {
	t.Setenv("PAGEMULE_API_KEYS", "real-key")

	handler := middleware.NewAPIKeyAuth().Middleware(okHandler())

	for _, path := range []string{"/health", "/version"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200 without a key", path, w.Code)
		}
	}
}
