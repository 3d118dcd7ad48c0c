package services

import (
	"context"

	"github.com/viaschema/ucp-samples/internal/domain"
	"github.com/viaschema/ucp-samples/internal/session"
)

// CheckoutService drives the checkout lifecycle for a negotiated session. All
// operations are scoped to the session that owns the checkout; a checkout id
// created under a different session behaves as not found.
type CheckoutService interface {
	CreateOrAddItem(ctx context.Context, sess session.Session, cmd AddItemCommand) (domain.Checkout, error)
	UpdateItem(ctx context.Context, sess session.Session, cmd UpdateItemCommand) (domain.Checkout, error)
	RemoveItem(ctx context.Context, sess session.Session, cmd RemoveItemCommand) (domain.Checkout, error)
	SetCustomerDetails(ctx context.Context, sess session.Session, cmd CustomerDetailsCommand) (domain.Checkout, error)
	SelectFulfillmentOption(ctx context.Context, sess session.Session, cmd SelectFulfillmentCommand) (domain.Checkout, error)
	ApplyDiscount(ctx context.Context, sess session.Session, cmd ApplyDiscountCommand) (domain.Checkout, error)
	StartPayment(ctx context.Context, sess session.Session, checkoutID string) (domain.Checkout, error)
	CompleteCheckout(ctx context.Context, sess session.Session, cmd CompleteCommand) (domain.Checkout, error)
	CancelCheckout(ctx context.Context, sess session.Session, checkoutID string) (domain.Checkout, error)
	GetCheckout(ctx context.Context, sess session.Session, checkoutID string) (domain.Checkout, error)
}

// AddItemCommand adds quantity of a product to a checkout. When CheckoutID is
// empty or unknown a new checkout is created.
type AddItemCommand struct {
	CheckoutID string
	ProductID  string
	Quantity   int
}

// UpdateItemCommand replaces the quantity of an existing line item. Quantity
// zero removes the line.
type UpdateItemCommand struct {
	CheckoutID string
	ProductID  string
	Quantity   int
}

// RemoveItemCommand removes the product's line item regardless of quantity.
type RemoveItemCommand struct {
	CheckoutID string
	ProductID  string
}

// CustomerDetailsCommand sets buyer and fulfillment address details. Nil
// fields are left untouched.
type CustomerDetailsCommand struct {
	CheckoutID string
	Buyer      *domain.Buyer
	Address    *domain.Address
}

// SelectFulfillmentCommand picks one of the merchant's fulfillment options.
type SelectFulfillmentCommand struct {
	CheckoutID string
	OptionID   string
}

// ApplyDiscountCommand applies a merchant discount code to the checkout.
type ApplyDiscountCommand struct {
	CheckoutID string
	Code       string
}

// CompleteCommand carries the payment instrument for completion. The
// instrument is forwarded to the payment provider and never persisted.
type CompleteCommand struct {
	CheckoutID string
	Instrument domain.PaymentInstrument
}

// TaxPolicy resolves the tax rate, in basis points, for a checkout's
// destination. A nil address means no destination is known yet.
type TaxPolicy interface {
	RateBps(ctx context.Context, address *domain.Address) (int64, error)
}

// FlatRateTaxPolicy keys rates by address region with a fallback default.
// NoAddressBps applies before a destination is known; the zero value keeps
// address-less checkouts untaxed.
type FlatRateTaxPolicy struct {
	RegionBps    map[string]int64
	DefaultBps   int64
	NoAddressBps int64
}

func (p *FlatRateTaxPolicy) RateBps(_ context.Context, address *domain.Address) (int64, error) {
	if address == nil {
		return p.NoAddressBps, nil
	}
	if bps, ok := p.RegionBps[address.Region]; ok {
		return bps, nil
	}
	return p.DefaultBps, nil
}

// DiscountResolver looks up the amount, in minor units, for a discount code.
type DiscountResolver interface {
	Lookup(ctx context.Context, code string) (int64, error)
}

// StaticDiscountResolver serves a fixed code table.
type StaticDiscountResolver struct {
	Codes map[string]int64
}

func (r *StaticDiscountResolver) Lookup(_ context.Context, code string) (int64, error) {
	amount, ok := r.Codes[code]
	if !ok || amount <= 0 {
		return 0, ErrDiscountUnknown
	}
	return amount, nil
}
