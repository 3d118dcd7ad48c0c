package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/viaschema/ucp-samples/internal/capability"
	"github.com/viaschema/ucp-samples/internal/schema"
	"github.com/viaschema/ucp-samples/internal/session"
)

func TestNewRouterDefaultMounts(t *testing.T) {
	router := NewRouter()

	t.Run("healthz", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("expected content-type application/json, got %s", ct)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("not implemented group", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("expected status 501, got %d", rr.Code)
		}
	})

	t.Run("unknown route", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/nope", nil)
		rr := httptest.NewRecorder()

		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), errorNotFoundCode) {
			t.Fatalf("expected %s code, got %s", errorNotFoundCode, rr.Body.String())
		}
	})
}

func TestNewRouterWellKnownProfile(t *testing.T) {
	merchant := capability.Profile{
		ProtocolVersion: "2026-01-01",
		Capabilities: []capability.Capability{
			{Name: schema.CapabilityCheckout, Version: "1.0"},
			{Name: schema.CapabilityFulfillment, Version: "1.0"},
		},
	}
	profile := NewProfileHandlers(merchant)

	router := NewRouter(WithProfileHandler(profile.WellKnown))

	req := httptest.NewRequest(http.MethodGet, WellKnownPath, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var served capability.Profile
	if err := json.Unmarshal(rr.Body.Bytes(), &served); err != nil {
		t.Fatalf("invalid profile JSON: %v", err)
	}
	if served.ProtocolVersion != "2026-01-01" {
		t.Fatalf("unexpected protocol version %q", served.ProtocolVersion)
	}
	if len(served.Capabilities) != 2 {
		t.Fatalf("unexpected capabilities %v", served.Capabilities)
	}
}

func TestNewRouterCheckoutGroupMiddleware(t *testing.T) {
	store := session.NewMemoryStore()
	sess := handlerTestSession(t, "sess-42", schema.CapabilityCheckout)
	if err := store.Put(context.Background(), sess); err != nil {
		t.Fatalf("unexpected error seeding session: %v", err)
	}

	var gotSessionID string
	router := NewRouter(
		WithCheckoutMiddlewares(RequireSession(store)),
		WithCheckoutRoutes(func(r chi.Router) {
			r.Get("/ping", func(w http.ResponseWriter, req *http.Request) {
				if s, ok := sessionFromContext(req.Context()); ok {
					gotSessionID = s.ID
				}
				w.WriteHeader(http.StatusNoContent)
			})
		}),
	)

	t.Run("missing header rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/checkouts/ping", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected status 401, got %d", rr.Code)
		}
	})

	t.Run("unknown session rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/checkouts/ping", nil)
		req.Header.Set(SessionHeader, "sess-unknown")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected status 401, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "session_not_found") {
			t.Fatalf("expected session_not_found code, got %s", rr.Body.String())
		}
	})

	t.Run("valid session reaches handler", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/checkouts/ping", nil)
		req.Header.Set(SessionHeader, "sess-42")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected status 204, got %d: %s", rr.Code, rr.Body.String())
		}
		if gotSessionID != "sess-42" {
			t.Fatalf("expected session sess-42 in context, got %q", gotSessionID)
		}
	})
}
