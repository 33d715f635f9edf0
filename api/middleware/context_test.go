package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMerchantContextResolvesPathParam(t *testing.T) {
	var seen string
	r := chi.NewRouter()
	r.Route("/api/v1/merchants/{merchantId}", func(r chi.Router) {
		r.Use(MerchantContext(nil))
		r.Get("/summary", func(w http.ResponseWriter, r *http.Request) {
			seen = MerchantIDFromContext(r.Context())
		})
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/merchants/m-42/summary", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen != "m-42" {
		t.Fatalf("expected merchant m-42, got %q", seen)
	}
}

func TestMerchantContextRejectsOversizedID(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/api/v1/merchants/{merchantId}", func(r chi.Router) {
		r.Use(MerchantContext(nil))
		r.Get("/summary", func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not run")
		})
	})

	rec := httptest.NewRecorder()
	long := strings.Repeat("x", maxMerchantIDLen+1)
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/merchants/"+long+"/summary", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRequestIDPropagatesOrMints(t *testing.T) {
	handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get(requestIDHeader) != "req-123" {
		t.Fatalf("expected caller id to be echoed, got %q", rec.Header().Get(requestIDHeader))
	}

	req = httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set(requestIDHeader, "bad id\twith spaces")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	got := rec.Header().Get(requestIDHeader)
	if got == "" || strings.Contains(got, " ") {
		t.Fatalf("expected a minted id, got %q", got)
	}
}

func TestRecovererAnswersInternalError(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
