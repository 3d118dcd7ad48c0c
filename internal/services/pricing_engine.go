package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/viaschema/ucp-samples/internal/domain"
)

const bpsDenominator = 10000

// PricingBreakdown is the result of one pricing pass. All amounts are minor
// currency units; Discount is zero or negative.
type PricingBreakdown struct {
	Subtotal int64
	Discount int64
	Tax      int64
	Shipping int64
	Total    int64
	Totals   []domain.Total
	Lines    []LinePricing
}

// LinePricing carries the totals for a single line item.
type LinePricing struct {
	LineItemID string
	Totals     []domain.Total
}

// PricingEngineDeps configures NewPricingEngine.
type PricingEngineDeps struct {
	Tax    TaxPolicy
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// PricingEngine recalculates checkout totals. It is purely integer
// arithmetic; tax rounding is half-up on the basis-point product.
type PricingEngine struct {
	tax    TaxPolicy
	logger func(ctx context.Context, event string, fields map[string]any)
}

func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	if deps.Tax == nil {
		return nil, errors.New("services: pricing engine requires a tax policy")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PricingEngine{tax: deps.Tax, logger: logger}, nil
}

// Calculate derives the full totals breakdown for a checkout. The checkout is
// not mutated; callers assign the breakdown back onto their copy.
func (e *PricingEngine) Calculate(ctx context.Context, checkout domain.Checkout) (PricingBreakdown, error) {
	var breakdown PricingBreakdown

	for _, item := range checkout.LineItems {
		if item.UnitPrice < 0 {
			return PricingBreakdown{}, fmt.Errorf("%w: negative unit price on line %s", ErrTotalsInvariant, item.ID)
		}
		if item.Quantity <= 0 {
			return PricingBreakdown{}, fmt.Errorf("%w: non-positive quantity on line %s", ErrTotalsInvariant, item.ID)
		}
		lineSubtotal := item.Subtotal()
		breakdown.Subtotal += lineSubtotal
		breakdown.Lines = append(breakdown.Lines, LinePricing{
			LineItemID: item.ID,
			Totals: []domain.Total{
				{Type: domain.TotalSubtotal, DisplayText: "Subtotal", Amount: lineSubtotal},
				{Type: domain.TotalGrand, DisplayText: "Total", Amount: lineSubtotal},
			},
		})
	}

	if checkout.Discount != nil {
		breakdown.Discount = checkout.Discount.Amount
		if breakdown.Discount > 0 {
			breakdown.Discount = -breakdown.Discount
		}
	}

	var address *domain.Address
	if checkout.Fulfillment != nil {
		address = checkout.Fulfillment.Address
		if selected, ok := checkout.Fulfillment.SelectedOption(); ok {
			breakdown.Shipping = selected.Price
		}
	}

	rateBps, err := e.tax.RateBps(ctx, address)
	if err != nil {
		return PricingBreakdown{}, fmt.Errorf("services: resolve tax rate: %w", err)
	}
	if rateBps < 0 {
		return PricingBreakdown{}, fmt.Errorf("%w: negative tax rate", ErrTotalsInvariant)
	}
	taxable := breakdown.Subtotal + breakdown.Discount
	if taxable < 0 {
		taxable = 0
	}
	breakdown.Tax = (taxable*rateBps + bpsDenominator/2) / bpsDenominator

	breakdown.Total = breakdown.Subtotal + breakdown.Discount + breakdown.Tax + breakdown.Shipping

	breakdown.Totals = append(breakdown.Totals, domain.Total{Type: domain.TotalSubtotal, DisplayText: "Subtotal", Amount: breakdown.Subtotal})
	if checkout.Discount != nil {
		breakdown.Totals = append(breakdown.Totals, domain.Total{Type: domain.TotalDiscount, DisplayText: "Discount", Amount: breakdown.Discount})
	}
	breakdown.Totals = append(breakdown.Totals, domain.Total{Type: domain.TotalTax, DisplayText: "Tax", Amount: breakdown.Tax})
	if checkout.Fulfillment != nil {
		breakdown.Totals = append(breakdown.Totals, domain.Total{Type: domain.TotalShipping, DisplayText: "Shipping", Amount: breakdown.Shipping})
	}
	breakdown.Totals = append(breakdown.Totals, domain.Total{Type: domain.TotalGrand, DisplayText: "Total", Amount: breakdown.Total})

	if err := breakdown.verify(); err != nil {
		e.logger(ctx, "pricing.invariant_violation", map[string]any{"checkout_id": checkout.ID})
		return PricingBreakdown{}, err
	}
	return breakdown, nil
}

// verify cross-checks the summed breakdown against the emitted totals list.
func (b PricingBreakdown) verify() error {
	var sum int64
	var total int64
	for _, t := range b.Totals {
		if t.Type == domain.TotalGrand {
			total = t.Amount
			continue
		}
		sum += t.Amount
	}
	if sum != total || total != b.Total {
		return fmt.Errorf("%w: components sum to %d, total is %d", ErrTotalsInvariant, sum, total)
	}
	return nil
}
