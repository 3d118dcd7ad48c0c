package capability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const validProfileDoc = `{
	"protocol_version": "2026-01-01",
	"capabilities": [{"name": "checkout", "version": "1.0"}]
}`

func TestResolverResolveSuccess(t *testing.T) {
	var gotAccept, gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(validProfileDoc))
	}))
	defer server.Close()

	resolver := NewResolver(ResolverDeps{UserAgent: "ucp-merchant/1.0"})
	profile, err := resolver.Resolve(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.ProtocolVersion != "2026-01-01" {
		t.Fatalf("unexpected protocol version %q", profile.ProtocolVersion)
	}
	if gotAccept != "application/json" {
		t.Fatalf("unexpected Accept header %q", gotAccept)
	}
	if gotAgent != "ucp-merchant/1.0" {
		t.Fatalf("unexpected User-Agent %q", gotAgent)
	}
}

func TestResolverRejectsUnsupportedScheme(t *testing.T) {
	resolver := NewResolver(ResolverDeps{})
	_, err := resolver.Resolve(context.Background(), "ftp://profiles.example/doc.json")
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if !strings.Contains(fetchErr.Error(), "unsupported scheme") {
		t.Fatalf("unexpected error %v", fetchErr)
	}
}

func TestResolverRetriesServerErrorsOnce(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(validProfileDoc))
	}))
	defer server.Close()

	resolver := NewResolver(ResolverDeps{})
	profile, err := resolver.Resolve(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected two fetch attempts, got %d", calls.Load())
	}
	if len(profile.Capabilities) != 1 {
		t.Fatalf("unexpected profile %v", profile)
	}
}

func TestResolverDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	resolver := NewResolver(ResolverDeps{})
	_, err := resolver.Resolve(context.Background(), server.URL)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one fetch attempt, got %d", calls.Load())
	}
}

func TestResolverEnforcesBodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"protocol_version": "2026-01-01", "capabilities": [`))
		_, _ = w.Write([]byte(strings.Repeat(`{"name": "cap", "version": "1.0"},`, 64)))
		_, _ = w.Write([]byte(`{"name": "cap", "version": "2.0"}]}`))
	}))
	defer server.Close()

	resolver := NewResolver(ResolverDeps{MaxBodyBytes: 128})
	_, err := resolver.Resolve(context.Background(), server.URL)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
}

func TestResolverMalformedBodyIsNotAFetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"capabilities": []}`))
	}))
	defer server.Close()

	resolver := NewResolver(ResolverDeps{})
	_, err := resolver.Resolve(context.Background(), server.URL)
	var malformedErr *MalformedProfileError
	if !errors.As(err, &malformedErr) {
		t.Fatalf("expected MalformedProfileError, got %v", err)
	}
}

func TestResolverHonoursContextCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte(validProfileDoc))
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	resolver := NewResolver(ResolverDeps{Timeout: 10 * time.Second})
	_, err := resolver.Resolve(ctx, server.URL)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
}
