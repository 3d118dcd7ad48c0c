package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe handler operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   StripeLogger
	Clock    func() time.Time
	Intents  stripePaymentIntentAPI
}

// StripeProvider implements the Provider interface by creating and confirming
// a Stripe PaymentIntent in a single call.
type StripeProvider struct {
	intents stripePaymentIntentAPI
	clock   func() time.Time
	logger  StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Intents == nil {
		return nil, errors.New("stripe: api key is required")
	}

	intents := cfg.Intents
	if intents == nil {
		sc := client.New(apiKey, cfg.Backends)
		intents = sc.PaymentIntents
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		intents: intents,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Authorize implements the Provider interface.
func (p *StripeProvider) Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error) {
	if p == nil {
		return Authorization{}, errors.New("stripe: provider is nil")
	}
	if req.Amount <= 0 {
		return Authorization{}, errors.New("stripe: amount must be positive")
	}
	credential := strings.TrimSpace(req.CredentialRef)
	if credential == "" {
		return Authorization{}, errors.New("stripe: credential reference is required")
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(currency),
		PaymentMethod: stripe.String(credential),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String(string(stripe.PaymentIntentAutomaticPaymentMethodsAllowRedirectsNever)),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	for k, v := range req.Metadata {
		if strings.TrimSpace(k) == "" {
			continue
		}
		params.AddMetadata(k, v)
	}

	intent, err := p.intents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			p.logger(ctx, "payments.stripe_declined", map[string]any{
				"decline_code": string(stripeErr.DeclineCode),
			})
			return Authorization{
				Status:       StatusDeclined,
				Amount:       req.Amount,
				Currency:     strings.ToUpper(currency),
				DeclineCode:  string(stripeErr.DeclineCode),
				AuthorizedAt: p.clock(),
			}, nil
		}
		p.logger(ctx, "payments.stripe_error", map[string]any{"error": err.Error()})
		return Authorization{}, err
	}

	auth := Authorization{
		ID:           intent.ID,
		Amount:       req.Amount,
		Currency:     strings.ToUpper(currency),
		AuthorizedAt: p.clock(),
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusRequiresCapture, stripe.PaymentIntentStatusProcessing:
		auth.Status = StatusApproved
	default:
		auth.Status = StatusDeclined
		auth.DeclineCode = string(intent.Status)
	}

	p.logger(ctx, "payments.stripe_authorize", map[string]any{
		"intent": intent.ID,
		"status": string(auth.Status),
	})
	return auth, nil
}
