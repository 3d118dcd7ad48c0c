package repositories

import (
	"context"

	domain "github.com/viaschema/ucp-samples/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CheckoutRepository is the keyed store contract for checkout aggregates and
// confirmed orders. The state machine is written against this interface so a
// transactional backend can replace the in-process map without touching it.
type CheckoutRepository interface {
	GetCheckout(ctx context.Context, checkoutID string) (domain.Checkout, error)
	PutCheckout(ctx context.Context, checkout domain.Checkout) error
	DeleteCheckout(ctx context.Context, checkoutID string) error

	GetOrder(ctx context.Context, orderID string) (domain.Checkout, error)
	PutOrder(ctx context.Context, order domain.Checkout) error
}
