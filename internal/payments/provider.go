package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised authorization outcomes shared across handlers.
type Status string

const (
	// StatusApproved indicates the handler authorized the amount.
	StatusApproved Status = "approved"
	// StatusDeclined indicates the handler refused the instrument. Declines
	// are recoverable: the caller may retry with another instrument.
	StatusDeclined Status = "declined"
)

// ErrUnsupportedHandler is returned when the manager cannot locate a handler.
var ErrUnsupportedHandler = errors.New("payments: unsupported handler")

// AuthorizeRequest captures a single authorization attempt. CredentialRef is
// an opaque token; it must never be persisted or logged.
type AuthorizeRequest struct {
	Amount         int64
	Currency       string
	CredentialRef  string
	Brand          string
	LastDigits     string
	IdempotencyKey string
	Metadata       map[string]string
}

// Authorization is the normalised result of an authorization attempt.
type Authorization struct {
	ID           string
	HandlerID    string
	Status       Status
	Amount       int64
	Currency     string
	DeclineCode  string
	AuthorizedAt time.Time
}

// Approved reports whether the authorization succeeded.
func (a Authorization) Approved() bool {
	return a.Status == StatusApproved
}

// Provider defines the contract payment handler adapters implement.
type Provider interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error)
}

// HandlerContext carries the hints available when selecting a handler.
type HandlerContext struct {
	PreferredHandler string
	Currency         string
}

// Manager routes authorization requests to the registered handler adapters.
type Manager struct {
	providers      map[string]Provider
	defaultHandler string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultHandler overrides the handler used when no preference is given.
func WithDefaultHandler(handlerID string) ManagerOption {
	return func(m *Manager) {
		m.defaultHandler = strings.TrimSpace(strings.ToLower(handlerID))
	}
}

// NewManager constructs a Manager over the supplied handler adapters.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one handler is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid handler registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{providers: copyMap}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) resolveProvider(handlerCtx HandlerContext) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, errors.New("payments: no handlers registered")
	}
	if preferred := strings.TrimSpace(strings.ToLower(handlerCtx.PreferredHandler)); preferred != "" {
		if p, ok := m.providers[preferred]; ok {
			return preferred, p, nil
		}
		return "", nil, ErrUnsupportedHandler
	}
	if def := m.defaultHandler; def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedHandler
}

// Authorize delegates to the resolved handler and stamps the handler id on
// the result.
func (m *Manager) Authorize(ctx context.Context, handlerCtx HandlerContext, req AuthorizeRequest) (Authorization, error) {
	key, provider, err := m.resolveProvider(handlerCtx)
	if err != nil {
		return Authorization{}, err
	}
	auth, err := provider.Authorize(ctx, req)
	if err != nil {
		return Authorization{}, err
	}
	auth.HandlerID = key
	return auth, nil
}
