package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrCheckoutNotFound is returned when a checkout id does not resolve to a
	// checkout owned by the calling session.
	ErrCheckoutNotFound = errors.New("services: checkout not found")
	// ErrItemNotFound is returned when a line-item mutation names a product that
	// has no line item on the checkout.
	ErrItemNotFound = errors.New("services: line item not found")
	// ErrCheckoutLocked is returned when a mutation targets a checkout whose
	// status no longer admits it.
	ErrCheckoutLocked = errors.New("services: checkout locked")
	// ErrCheckoutNotReady is returned when completion is requested before the
	// checkout reached ready_for_complete.
	ErrCheckoutNotReady = errors.New("services: checkout not ready for completion")
	// ErrCapabilityNotNegotiated is returned when a request touches a schema
	// field the session did not negotiate.
	ErrCapabilityNotNegotiated = errors.New("services: capability not negotiated")
	// ErrPaymentDeclined is returned when the payment provider declines the
	// authorization. The checkout stays in ready_for_complete.
	ErrPaymentDeclined = errors.New("services: payment declined")
	// ErrPaymentUnavailable is returned when the payment provider could not be
	// reached. Nothing about the checkout changes.
	ErrPaymentUnavailable = errors.New("services: payment provider unavailable")
	// ErrProductUnknown is returned when an item operation names a product the
	// catalog does not carry.
	ErrProductUnknown = errors.New("services: unknown product")
	// ErrDiscountUnknown is returned for discount codes the merchant does not
	// recognize.
	ErrDiscountUnknown = errors.New("services: unknown discount code")
	// ErrCheckoutInvalidInput is returned for malformed command input.
	ErrCheckoutInvalidInput = errors.New("services: invalid checkout input")
	// ErrCheckoutUnavailable is returned when the checkout store cannot be
	// reached.
	ErrCheckoutUnavailable = errors.New("services: checkout store unavailable")
	// ErrTotalsInvariant indicates the pricing engine produced totals that do
	// not reconcile. It signals a defect, not a caller mistake.
	ErrTotalsInvariant = errors.New("services: totals invariant violated")
)

// ValidationError reports the preconditions a checkout is still missing before
// payment can start. Missing entries are stable, sorted field names.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("services: checkout missing preconditions: %s", strings.Join(e.Missing, ", "))
}

func newValidationError(missing ...string) *ValidationError {
	sort.Strings(missing)
	return &ValidationError{Missing: missing}
}
