// Package memory provides the in-process implementation of the checkout
// store contract.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	domain "github.com/viaschema/ucp-samples/internal/domain"
)

// Error implements repositories.RepositoryError for the in-memory store.
type Error struct {
	op       string
	notFound bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.notFound {
		return fmt.Sprintf("%s: not found", e.op)
	}
	return e.op
}

// IsNotFound reports whether the error represents a missing record.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports whether the error represents a conflicting update.
func (e *Error) IsConflict() bool { return false }

// IsUnavailable reports whether the error represents a backend outage.
func (e *Error) IsUnavailable() bool { return false }

// CheckoutRepository stores checkouts and orders in process-local maps.
// Records are deep-copied on both reads and writes so callers never share
// aggregate state with the store.
type CheckoutRepository struct {
	mu        sync.RWMutex
	checkouts map[string]domain.Checkout
	orders    map[string]domain.Checkout
}

// NewCheckoutRepository constructs an empty in-memory checkout store.
func NewCheckoutRepository() *CheckoutRepository {
	return &CheckoutRepository{
		checkouts: make(map[string]domain.Checkout),
		orders:    make(map[string]domain.Checkout),
	}
}

// GetCheckout implements the CheckoutRepository contract.
func (r *CheckoutRepository) GetCheckout(_ context.Context, checkoutID string) (domain.Checkout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	checkout, ok := r.checkouts[strings.TrimSpace(checkoutID)]
	if !ok {
		return domain.Checkout{}, &Error{op: "memory: get checkout", notFound: true}
	}
	return checkout.Clone(), nil
}

// PutCheckout implements the CheckoutRepository contract.
func (r *CheckoutRepository) PutCheckout(_ context.Context, checkout domain.Checkout) error {
	if strings.TrimSpace(checkout.ID) == "" {
		return &Error{op: "memory: put checkout without id"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkouts[checkout.ID] = checkout.Clone()
	return nil
}

// DeleteCheckout implements the CheckoutRepository contract.
func (r *CheckoutRepository) DeleteCheckout(_ context.Context, checkoutID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checkouts, strings.TrimSpace(checkoutID))
	return nil
}

// GetOrder implements the CheckoutRepository contract.
func (r *CheckoutRepository) GetOrder(_ context.Context, orderID string) (domain.Checkout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[strings.TrimSpace(orderID)]
	if !ok {
		return domain.Checkout{}, &Error{op: "memory: get order", notFound: true}
	}
	return order.Clone(), nil
}

// PutOrder implements the CheckoutRepository contract.
func (r *CheckoutRepository) PutOrder(_ context.Context, order domain.Checkout) error {
	if order.Order == nil || strings.TrimSpace(order.Order.ID) == "" {
		return &Error{op: "memory: put order without confirmation"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.Order.ID] = order.Clone()
	return nil
}
