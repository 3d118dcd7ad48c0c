// Package redis provides a Redis-backed implementation of the checkout store
// contract. Checkouts and orders are stored as JSON documents keyed by id.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/viaschema/ucp-samples/internal/domain"
)

const (
	checkoutKeyPrefix = "ucp:checkout:"
	orderKeyPrefix    = "ucp:order:"
	defaultTTL        = 24 * time.Hour
)

// Error implements repositories.RepositoryError for the Redis store.
type Error struct {
	op          string
	err         error
	notFound    bool
	unavailable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.op
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.err }

// IsNotFound reports whether the error represents a missing record.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports whether the error represents a conflicting update.
func (e *Error) IsConflict() bool { return false }

// IsUnavailable reports whether the error represents a backend outage.
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return &Error{op: op, err: err, notFound: true}
	}
	return &Error{op: op, err: err, unavailable: true}
}

// CheckoutRepository persists checkout documents in Redis with a TTL, the
// production-shaped swap-in for the in-memory reference store.
type CheckoutRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCheckoutRepository constructs a repository over the supplied client.
func NewCheckoutRepository(client *redis.Client, ttl time.Duration) (*CheckoutRepository, error) {
	if client == nil {
		return nil, errors.New("redis repository: client is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &CheckoutRepository{client: client, ttl: ttl}, nil
}

// GetCheckout implements the CheckoutRepository contract.
func (r *CheckoutRepository) GetCheckout(ctx context.Context, checkoutID string) (domain.Checkout, error) {
	data, err := r.client.Get(ctx, checkoutKeyPrefix+strings.TrimSpace(checkoutID)).Bytes()
	if err != nil {
		return domain.Checkout{}, wrapError("redis: get checkout", err)
	}
	var checkout domain.Checkout
	if err := json.Unmarshal(data, &checkout); err != nil {
		return domain.Checkout{}, &Error{op: "redis: decode checkout", err: err}
	}
	return checkout, nil
}

// PutCheckout implements the CheckoutRepository contract.
func (r *CheckoutRepository) PutCheckout(ctx context.Context, checkout domain.Checkout) error {
	if strings.TrimSpace(checkout.ID) == "" {
		return &Error{op: "redis: put checkout without id"}
	}
	data, err := json.Marshal(checkout)
	if err != nil {
		return &Error{op: "redis: encode checkout", err: err}
	}
	return wrapError("redis: put checkout", r.client.Set(ctx, checkoutKeyPrefix+checkout.ID, data, r.ttl).Err())
}

// DeleteCheckout implements the CheckoutRepository contract.
func (r *CheckoutRepository) DeleteCheckout(ctx context.Context, checkoutID string) error {
	return wrapError("redis: delete checkout", r.client.Del(ctx, checkoutKeyPrefix+strings.TrimSpace(checkoutID)).Err())
}

// GetOrder implements the CheckoutRepository contract.
func (r *CheckoutRepository) GetOrder(ctx context.Context, orderID string) (domain.Checkout, error) {
	data, err := r.client.Get(ctx, orderKeyPrefix+strings.TrimSpace(orderID)).Bytes()
	if err != nil {
		return domain.Checkout{}, wrapError("redis: get order", err)
	}
	var order domain.Checkout
	if err := json.Unmarshal(data, &order); err != nil {
		return domain.Checkout{}, &Error{op: "redis: decode order", err: err}
	}
	return order, nil
}

// PutOrder implements the CheckoutRepository contract. Orders have no TTL;
// confirmations stay addressable for the life of the instance.
func (r *CheckoutRepository) PutOrder(ctx context.Context, order domain.Checkout) error {
	if order.Order == nil || strings.TrimSpace(order.Order.ID) == "" {
		return &Error{op: "redis: put order without confirmation"}
	}
	data, err := json.Marshal(order)
	if err != nil {
		return &Error{op: "redis: encode order", err: err}
	}
	return wrapError("redis: put order", r.client.Set(ctx, orderKeyPrefix+order.Order.ID, data, 0).Err())
}
