package capability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultFetchTimeout = 5 * time.Second
	defaultMaxBodyBytes = 1 << 20
	retryBackoff        = 250 * time.Millisecond
)

var errResponseTooLarge = errors.New("response body exceeds size limit")

// FetchError reports a network or transport failure while resolving a profile.
type FetchError struct {
	Ref   string
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("capability: fetch %s: %v", e.Ref, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// ResolverDeps wires the dependencies and limits for a Resolver.
type ResolverDeps struct {
	HTTPClient   *http.Client
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

// Resolver fetches and parses remote capability profile documents. The input
// reference carries no embedded trust assumption; responses are bounded in
// time and size and validated strictly.
type Resolver struct {
	client    *http.Client
	timeout   time.Duration
	maxBytes  int64
	userAgent string
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewResolver constructs a Resolver applying defaults for unset limits.
func NewResolver(deps ResolverDeps) *Resolver {
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	maxBytes := deps.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Resolver{
		client:    client,
		timeout:   timeout,
		maxBytes:  maxBytes,
		userAgent: strings.TrimSpace(deps.UserAgent),
		logger:    logger,
	}
}

// Resolve fetches the profile document the reference points at. Transient
// network failures are retried once before the error is surfaced; parse
// failures are never retried.
func (r *Resolver) Resolve(ctx context.Context, ref string) (Profile, error) {
	ref = strings.TrimSpace(ref)
	parsed, err := url.Parse(ref)
	if err != nil {
		return Profile{}, &FetchError{Ref: ref, Cause: err}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Profile{}, &FetchError{Ref: ref, Cause: fmt.Errorf("unsupported scheme %q", parsed.Scheme)}
	}

	body, err := r.fetch(ctx, ref)
	if err != nil {
		if !retryable(err) {
			return Profile{}, &FetchError{Ref: ref, Cause: err}
		}
		r.logger(ctx, "profile.fetch_retry", map[string]any{"ref": ref, "error": err.Error()})
		select {
		case <-time.After(retryBackoff):
		case <-ctx.Done():
			return Profile{}, &FetchError{Ref: ref, Cause: ctx.Err()}
		}
		body, err = r.fetch(ctx, ref)
		if err != nil {
			return Profile{}, &FetchError{Ref: ref, Cause: err}
		}
	}

	profile, err := ParseProfile(body)
	if err != nil {
		return Profile{}, err
	}

	r.logger(ctx, "profile.resolved", map[string]any{
		"ref":          ref,
		"capabilities": len(profile.Capabilities),
		"version":      profile.ProtocolVersion,
	})
	return profile, nil
}

type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.status)
}

func (r *Resolver) fetch(ctx context.Context, ref string) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > r.maxBytes {
		return nil, errResponseTooLarge
	}
	return body, nil
}

// retryable classifies transient failures worth one retry: network errors,
// timeouts, and server-side statuses. Size violations and client errors fail
// immediately.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errResponseTooLarge) {
		return false
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.status >= http.StatusInternalServerError || statusErr.status == http.StatusTooManyRequests
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}
