package domain

import (
	"time"
)

// Status enumerates the checkout lifecycle states.
type Status string

const (
	// StatusIncomplete marks a checkout that is still collecting items and details.
	StatusIncomplete Status = "incomplete"
	// StatusReadyForComplete marks a checkout whose totals are frozen and awaiting payment.
	StatusReadyForComplete Status = "ready_for_complete"
	// StatusCompleted marks a checkout that has been paid and confirmed as an order.
	StatusCompleted Status = "completed"
	// StatusCanceled marks a checkout abandoned before completion.
	StatusCanceled Status = "canceled"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// Locked reports whether item and detail mutation is rejected in this status.
func (s Status) Locked() bool {
	return s != StatusIncomplete
}

// TotalType names one monetary component of a checkout.
type TotalType string

const (
	// TotalSubtotal is the sum of line item subtotals.
	TotalSubtotal TotalType = "subtotal"
	// TotalTax is the tax amount computed by the active tax policy.
	TotalTax TotalType = "tax"
	// TotalShipping is the price of the selected fulfillment option.
	TotalShipping TotalType = "shipping"
	// TotalDiscount is a non-positive adjustment from an applied discount.
	TotalDiscount TotalType = "discount"
	// TotalGrand is the final amount charged at completion.
	TotalGrand TotalType = "total"
)

// Total is one named monetary component. Amounts are integer minor currency units.
type Total struct {
	Type        TotalType
	DisplayText string
	Amount      int64
}

// LineItem is one product entry within a checkout.
type LineItem struct {
	ID         string
	ProductID  string
	Title      string
	UnitPrice  int64
	Quantity   int
	LineTotals []Total
}

// Subtotal returns the pre-tax amount for the line.
func (li LineItem) Subtotal() int64 {
	return li.UnitPrice * int64(li.Quantity)
}

// Address captures a fulfillment destination. Region keys the tax policy.
type Address struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	Region     string
	PostalCode string
	Country    string
}

// Buyer holds the customer contact details collected before payment.
type Buyer struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

// FulfillmentOption is one shipping method the merchant offers.
type FulfillmentOption struct {
	ID    string
	Title string
	Price int64
}

// Fulfillment is the delivery section of a checkout, present only when negotiated.
type Fulfillment struct {
	Address          *Address
	Options          []FulfillmentOption
	SelectedOptionID string
}

// SelectedOption returns the chosen fulfillment option when one is selected.
func (f *Fulfillment) SelectedOption() (FulfillmentOption, bool) {
	if f == nil || f.SelectedOptionID == "" {
		return FulfillmentOption{}, false
	}
	for _, opt := range f.Options {
		if opt.ID == f.SelectedOptionID {
			return opt, true
		}
	}
	return FulfillmentOption{}, false
}

// PaymentHandler identifies one payment mechanism the merchant accepts.
type PaymentHandler struct {
	ID   string
	Name string
}

// PaymentInstrument references a payment credential plus display metadata.
// The credential reference is opaque and scoped to the active session; it is
// never persisted with the checkout and never written to logs.
type PaymentInstrument struct {
	CredentialRef string
	HandlerID     string
	Brand         string
	LastDigits    string
}

// Payment is the payment section of a checkout, present only when negotiated.
// It carries handler metadata for display; instruments are deliberately absent.
type Payment struct {
	Handlers          []PaymentHandler
	SelectedHandlerID string
}

// Discount records an applied discount code and its non-positive amount.
type Discount struct {
	Code   string
	Amount int64
}

// OrderConfirmation is created exactly once, on the terminal completed transition.
type OrderConfirmation struct {
	ID           string
	PermalinkURL string
}

// Checkout is the aggregate root tracking items, totals, and status from cart to order.
type Checkout struct {
	ID          string
	SessionID   string
	Status      Status
	Currency    string
	Buyer       *Buyer
	LineItems   []LineItem
	Totals      []Total
	Fulfillment *Fulfillment
	Payment     *Payment
	Discount    *Discount
	Order       *OrderConfirmation

	// FrozenAt records when startPayment froze the totals. CompleteCheckout
	// charges the totals captured at that instant, never a recomputation.
	FrozenAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// GrandTotal returns the amount of the total entry, or 0 when totals are absent.
func (c Checkout) GrandTotal() int64 {
	for _, t := range c.Totals {
		if t.Type == TotalGrand {
			return t.Amount
		}
	}
	return 0
}

// FindLineItemByProduct locates the line item for a product id.
func (c Checkout) FindLineItemByProduct(productID string) (int, bool) {
	for i, li := range c.LineItems {
		if li.ProductID == productID {
			return i, true
		}
	}
	return -1, false
}

// Clone returns a deep copy safe to hand across store boundaries.
func (c Checkout) Clone() Checkout {
	out := c
	if c.Buyer != nil {
		buyer := *c.Buyer
		out.Buyer = &buyer
	}
	if c.LineItems != nil {
		out.LineItems = make([]LineItem, len(c.LineItems))
		for i, li := range c.LineItems {
			copied := li
			copied.LineTotals = append([]Total(nil), li.LineTotals...)
			out.LineItems[i] = copied
		}
	}
	out.Totals = append([]Total(nil), c.Totals...)
	if c.Fulfillment != nil {
		f := *c.Fulfillment
		if c.Fulfillment.Address != nil {
			addr := *c.Fulfillment.Address
			f.Address = &addr
		}
		f.Options = append([]FulfillmentOption(nil), c.Fulfillment.Options...)
		out.Fulfillment = &f
	}
	if c.Payment != nil {
		p := *c.Payment
		p.Handlers = append([]PaymentHandler(nil), c.Payment.Handlers...)
		out.Payment = &p
	}
	if c.Discount != nil {
		d := *c.Discount
		out.Discount = &d
	}
	if c.Order != nil {
		o := *c.Order
		out.Order = &o
	}
	return out
}
