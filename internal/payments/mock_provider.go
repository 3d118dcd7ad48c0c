package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// declinePrefix marks test credentials the mock handler always refuses.
const declinePrefix = "tok_decline"

// MockLogger defines the logging contract for mock handler operations.
type MockLogger func(ctx context.Context, event string, fields map[string]any)

// MockProviderConfig configures the MockProvider.
type MockProviderConfig struct {
	Clock  func() time.Time
	Logger MockLogger
}

// MockProvider is the deterministic authorization collaborator used by local
// deployments and tests. It approves every instrument except credentials
// carrying the decline prefix, mirroring sandbox PSP behaviour.
type MockProvider struct {
	clock  func() time.Time
	logger MockLogger
}

// NewMockProvider constructs a MockProvider with defaults applied.
func NewMockProvider(cfg MockProviderConfig) *MockProvider {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &MockProvider{
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}
}

// Authorize implements the Provider interface.
func (p *MockProvider) Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error) {
	if req.Amount <= 0 {
		return Authorization{}, errors.New("mock payments: amount must be positive")
	}
	if strings.TrimSpace(req.CredentialRef) == "" {
		return Authorization{}, errors.New("mock payments: credential reference is required")
	}

	auth := Authorization{
		ID:           "auth_" + uuid.NewString(),
		Status:       StatusApproved,
		Amount:       req.Amount,
		Currency:     strings.ToUpper(strings.TrimSpace(req.Currency)),
		AuthorizedAt: p.clock(),
	}
	if strings.HasPrefix(req.CredentialRef, declinePrefix) {
		auth.Status = StatusDeclined
		auth.DeclineCode = "generic_decline"
	}

	p.logger(ctx, "payments.mock_authorize", map[string]any{
		"status":   string(auth.Status),
		"amount":   auth.Amount,
		"currency": auth.Currency,
	})
	return auth, nil
}
