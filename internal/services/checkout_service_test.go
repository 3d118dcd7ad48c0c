package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/viaschema/ucp-samples/internal/capability"
	"github.com/viaschema/ucp-samples/internal/catalog"
	"github.com/viaschema/ucp-samples/internal/domain"
	"github.com/viaschema/ucp-samples/internal/payments"
	memoryrepo "github.com/viaschema/ucp-samples/internal/repositories/memory"
	"github.com/viaschema/ucp-samples/internal/schema"
	"github.com/viaschema/ucp-samples/internal/session"
)

type stubAuthorizer struct {
	authorizeFunc func(ctx context.Context, handlerCtx payments.HandlerContext, req payments.AuthorizeRequest) (payments.Authorization, error)
}

func (s *stubAuthorizer) Authorize(ctx context.Context, handlerCtx payments.HandlerContext, req payments.AuthorizeRequest) (payments.Authorization, error) {
	return s.authorizeFunc(ctx, handlerCtx, req)
}

func approveAll() *stubAuthorizer {
	return &stubAuthorizer{
		authorizeFunc: func(_ context.Context, _ payments.HandlerContext, req payments.AuthorizeRequest) (payments.Authorization, error) {
			return payments.Authorization{ID: "auth-1", Status: payments.StatusApproved, Amount: req.Amount, Currency: req.Currency}, nil
		},
	}
}

func testSession(t *testing.T, id string, capabilities ...string) session.Session {
	t.Helper()
	set := capability.NegotiatedSet{ProtocolVersion: "2026-01-01"}
	for _, name := range capabilities {
		set.Capabilities = append(set.Capabilities, capability.Capability{Name: name, Version: "1.0"})
	}
	fields, err := schema.NewComposer().Compose(set)
	if err != nil {
		t.Fatalf("unexpected error composing field set: %v", err)
	}
	return session.Session{ID: id, Negotiated: set, Fields: fields}
}

type serviceFixture struct {
	service CheckoutService
	repo    *memoryrepo.CheckoutRepository
}

func newServiceFixture(t *testing.T, authorizer paymentAuthorizer) *serviceFixture {
	t.Helper()
	if authorizer == nil {
		authorizer = approveAll()
	}
	engine, err := NewPricingEngine(PricingEngineDeps{
		Tax: &FlatRateTaxPolicy{RegionBps: map[string]int64{"CA": 1000}},
	})
	if err != nil {
		t.Fatalf("unexpected error constructing pricing engine: %v", err)
	}
	repo := memoryrepo.NewCheckoutRepository()
	var seq int
	service, err := NewCheckoutService(CheckoutServiceDeps{
		Checkouts: repo,
		Catalog:   catalog.NewMemoryCatalog(catalog.Fixtures()...),
		Payments:  authorizer,
		Pricing:   engine,
		Discounts: &StaticDiscountResolver{Codes: map[string]int64{"SAVE200": 200}},
		PaymentHandlers: []domain.PaymentHandler{
			{ID: "mock", Name: "Mock Card"},
		},
		FulfillmentOptions: []domain.FulfillmentOption{
			{ID: "standard", Title: "Standard Shipping", Price: 500},
			{ID: "express", Title: "Express Shipping", Price: 1500},
		},
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("chk-%d", seq)
		},
		LineIDGenerator: func() string {
			seq++
			return fmt.Sprintf("line-%d", seq)
		},
		Clock: func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing checkout service: %v", err)
	}
	return &serviceFixture{service: service, repo: repo}
}

// readyCheckout drives a checkout through add, details, fulfillment, and
// startPayment so completion tests can begin at ready_for_complete.
func readyCheckout(t *testing.T, fx *serviceFixture, sess session.Session) domain.Checkout {
	t.Helper()
	ctx := context.Background()
	checkout, err := fx.service.CreateOrAddItem(ctx, sess, AddItemCommand{ProductID: "prod_filter", Quantity: 2})
	if err != nil {
		t.Fatalf("unexpected error adding item: %v", err)
	}
	checkout, err = fx.service.SetCustomerDetails(ctx, sess, CustomerDetailsCommand{
		CheckoutID: checkout.ID,
		Buyer:      &domain.Buyer{Email: "buyer@example.com"},
		Address:    &domain.Address{Line1: "1 Market St", City: "San Francisco", Region: "CA", Country: "US"},
	})
	if err != nil {
		t.Fatalf("unexpected error setting customer details: %v", err)
	}
	checkout, err = fx.service.SelectFulfillmentOption(ctx, sess, SelectFulfillmentCommand{CheckoutID: checkout.ID, OptionID: "standard"})
	if err != nil {
		t.Fatalf("unexpected error selecting fulfillment: %v", err)
	}
	checkout, err = fx.service.StartPayment(ctx, sess, checkout.ID)
	if err != nil {
		t.Fatalf("unexpected error starting payment: %v", err)
	}
	return checkout
}

func TestCreateOrAddItemCreatesCheckoutWithNegotiatedSections(t *testing.T) {
	fx := newServiceFixture(t, nil)
	sess := testSession(t, "sess-1", schema.CapabilityCheckout, schema.CapabilityFulfillment)

	checkout, err := fx.service.CreateOrAddItem(context.Background(), sess, AddItemCommand{ProductID: "prod_filter", Quantity: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if checkout.Status != domain.StatusIncomplete {
		t.Fatalf("expected status incomplete, got %q", checkout.Status)
	}
	if checkout.SessionID != "sess-1" {
		t.Fatalf("expected checkout bound to sess-1, got %q", checkout.SessionID)
	}
	if checkout.Payment == nil || len(checkout.Payment.Handlers) != 1 {
		t.Fatalf("expected payment section with one handler, got %+v", checkout.Payment)
	}
	if checkout.Fulfillment == nil || len(checkout.Fulfillment.Options) != 2 {
		t.Fatalf("expected fulfillment section with two options, got %+v", checkout.Fulfillment)
	}
	if checkout.GrandTotal() != 998 {
		t.Fatalf("expected total 998, got %d", checkout.GrandTotal())
	}
}

func TestCreateOrAddItemOmitsSectionsOutsideFieldSet(t *testing.T) {
	fx := newServiceFixture(t, nil)
	sess := testSession(t, "sess-1", schema.CapabilityCheckout)

	checkout, err := fx.service.CreateOrAddItem(context.Background(), sess, AddItemCommand{ProductID: "prod_mug", Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if checkout.Fulfillment != nil {
		t.Fatalf("expected no fulfillment section without the capability, got %+v", checkout.Fulfillment)
	}
}

func TestCreateOrAddItemIncrementsExistingLine(t *testing.T) {
	fx := newServiceFixture(t, nil)
	sess := testSession(t, "sess-1", schema.CapabilityCheckout)
	ctx := context.Background()

	checkout, err := fx.service.CreateOrAddItem(ctx, sess, AddItemCommand{ProductID: "prod_filter", Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkout, err = fx.service.CreateOrAddItem(ctx, sess, AddItemCommand{CheckoutID: checkout.ID, ProductID: "prod_filter", Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(checkout.LineItems) != 1 {
		t.Fatalf("expected a single merged line, got %d", len(checkout.LineItems))
	}
	if checkout.LineItems[0].Quantity != 2 {
		t.Fatalf("expected quantity 2, got %d", checkout.LineItems[0].Quantity)
	}
	if checkout.GrandTotal() != 998 {
		t.Fatalf("expected total 998, got %d", checkout.GrandTotal())
	}
}

func TestCreateOrAddItemUnknownCheckoutIDCreatesFresh(t *testing.T) {
	fx := newServiceFixture(t, nil)
	sess := testSession(t, "sess-1", schema.CapabilityCheckout)

	checkout, err := fx.service.CreateOrAddItem(context.Background(), sess, AddItemCommand{CheckoutID: "missing", ProductID: "prod_mug", Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if checkout.ID == "missing" || checkout.ID == "" {
		t.Fatalf("expected a freshly generated id, got %q", checkout.ID)
	}
}

func TestCreateOrAddItemRejectsUnknownProduct(t *testing.T) {
	fx := newServiceFixture(t, nil)
	sess := testSession(t, "sess-1", schema.CapabilityCheckout)

	if _, err := fx.service.CreateOrAddItem(context.Background(), sess, AddItemCommand{ProductID: "prod_missing", Quantity: 1}); !errors.Is(err, ErrProductUnknown) {
		t.Fatalf("expected unknown product error, got %v", err)
	}
}

func TestUpdateItemZeroQuantityRemovesLine(t *testing.T) {
	fx := newServiceFixture(t, nil)
	sess := testSession(t, "sess-1", schema.CapabilityCheckout)
	ctx := context.Background()

	checkout, err := fx.service.CreateOrAddItem(ctx, sess, AddItemCommand{ProductID: "prod_filter", Quantity: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkout, err = fx.service.UpdateItem(ctx, sess, UpdateItemCommand{CheckoutID: checkout.ID, ProductID: "prod_filter", Quantity: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(checkout.LineItems) != 0 {
		t.Fatalf("expected empty line items, got %d", len(checkout.LineItems))
	}
	if checkout.GrandTotal() != 0 {
		t.Fatalf("expected total 0, got %d", checkout.GrandTotal())
	}
}

func TestRemoveItemUnknownProductFails(t *testing.T) {
	fx := newServiceFixture(t, nil)
	sess := testSession(t, "sess-1", schema.CapabilityCheckout)
	ctx := context.Background()

	checkout, err := fx.service.CreateOrAddItem(ctx, sess, AddItemCommand{ProductID: "prod_filter", Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fx.service.RemoveItem(ctx, sess, RemoveItemCommand{CheckoutID: checkout.ID, ProductID: "prod_mug"}); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected item not found, got %v", err)
	}
}

func TestSetCustomerDetailsRequiresNegotiatedCapabilities(t *testing.T) {
	fx := newServiceFixture(t, nil)
	sess := testSession(t, "sess-1", schema.CapabilityCheckout)
	ctx := context.Background()

	checkout, err := fx.service.CreateOrAddItem(ctx, sess, AddItemCommand{ProductID: "prod_filter", Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = fx.service.SetCustomerDetails(ctx, sess, CustomerDetailsCommand{
		CheckoutID: checkout.ID,
		Address:    &domain.Address{Region: "CA"},
	})
	if !errors.Is(err, ErrCapabilityNotNegotiated) {
		t.Fatalf("expected capability not negotiated, got %v", err)
	}
}

func TestSetCustomerDetailsAddressAdjustsTax(t *testing.T) {
	fx := newServiceFixture(t, nil)
	sess := testSession(t, "sess-1", schema.CapabilityCheckout, schema.CapabilityFulfillment)
	ctx := context.Background()

	checkout, err := fx.service.CreateOrAddItem(ctx, sess, AddItemCommand{ProductID: "prod_filter", Quantity: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkout, err = fx.service.SetCustomerDetails(ctx, sess, CustomerDetailsCommand{
		CheckoutID: checkout.ID,
		Buyer:      &domain.Buyer{Email: "buyer@example.com"},
		Address:    &domain.Address{Region: "CA"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var tax int64 = -1
	for _, total := range checkout.Totals {
		if total.Type == domain.TotalTax {
			tax = total.Amount
		}
	}
	if tax != 100 {
		t.Fatalf("expected tax 100 after address, got %d", tax)
	}
}

func TestSelectFulfillmentOptionUnknownIDFails(t *testing.T) {
	fx := newServiceFixture(t, nil)
	sess := testSession(t, "sess-1", schema.CapabilityCheckout, schema.CapabilityFulfillment)
	ctx := context.Background()

	checkout, err := fx.service.CreateOrAddItem(ctx, sess, AddItemCommand{ProductID: "prod_filter", Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fx.service.SelectFulfillmentOption(ctx, sess, SelectFulfillmentCommand{CheckoutID: checkout.ID, OptionID: "overnight"}); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestApplyDiscountRequiresCapability(t *testing.T) {
	fx := newServiceFixture(t, nil)
	sess := testSession(t, "sess-1", schema.CapabilityCheckout)
	ctx := context.Background()

	checkout, err := fx.service.CreateOrAddItem(ctx, sess, AddItemCommand{ProductID: "prod_filter", Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fx.service.ApplyDiscount(ctx, sess, ApplyDiscountCommand{CheckoutID: checkout.ID, Code: "SAVE200"}); !errors.Is(err, ErrCapabilityNotNegotiated) {
		t.Fatalf("expected capability not negotiated, got %v", err)
	}
}

func TestApplyDiscountAddsNegativeTotalLine(t *testing.T) {
	fx := newServiceFixture(t, nil)
	sess := testSession(t, "sess-1", schema.CapabilityCheckout, schema.CapabilityDiscount)
	ctx := context.Background()

	checkout, err := fx.service.CreateOrAddItem(ctx, sess, AddItemCommand{ProductID: "prod_mug", Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkout, err = fx.service.ApplyDiscount(ctx, sess, ApplyDiscountCommand{CheckoutID: checkout.ID, Code: "SAVE200"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if checkout.Discount == nil || checkout.Discount.Amount != -200 {
		t.Fatalf("expected discount -200, got %+v", checkout.Discount)
	}
	if checkout.GrandTotal() != 1050 {
		t.Fatalf("expected total 1050, got %d", checkout.GrandTotal())
	}

	if _, err := fx.service.ApplyDiscount(ctx, sess, ApplyDiscountCommand{CheckoutID: checkout.ID, Code: "BOGUS"}); !errors.Is(err, ErrDiscountUnknown) {
		t.Fatalf("expected unknown discount code, got %v", err)
	}
}

func TestStartPaymentReportsAllMissingPreconditions(t *testing.T) {
	fx := newServiceFixture(t, nil)
	sess := testSession(t, "sess-1", schema.CapabilityCheckout, schema.CapabilityFulfillment)
	ctx := context.Background()

	checkout, err := fx.service.CreateOrAddItem(ctx, sess, AddItemCommand{ProductID: "prod_filter", Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkout, err = fx.service.RemoveItem(ctx, sess, RemoveItemCommand{CheckoutID: checkout.ID, ProductID: "prod_filter"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = fx.service.StartPayment(ctx, sess, checkout.ID)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	want := []string{"buyer_email", "fulfillment_address", "line_items"}
	if len(validationErr.Missing) != len(want) {
		t.Fatalf("expected missing %v, got %v", want, validationErr.Missing)
	}
	for i, field := range want {
		if validationErr.Missing[i] != field {
			t.Fatalf("expected missing %v, got %v", want, validationErr.Missing)
		}
	}
}

func TestStartPaymentFreezesCheckout(t *testing.T) {
	fx := newServiceFixture(t, nil)
	sess := testSession(t, "sess-1", schema.CapabilityCheckout, schema.CapabilityFulfillment)

	checkout := readyCheckout(t, fx, sess)
	if checkout.Status != domain.StatusReadyForComplete {
		t.Fatalf("expected ready_for_complete, got %q", checkout.Status)
	}
	if checkout.FrozenAt.IsZero() {
		t.Fatalf("expected frozen timestamp")
	}
	if checkout.GrandTotal() != 1598 {
		t.Fatalf("expected frozen total 1598, got %d", checkout.GrandTotal())
	}

	ctx := context.Background()
	if _, err := fx.service.CreateOrAddItem(ctx, sess, AddItemCommand{CheckoutID: checkout.ID, ProductID: "prod_mug", Quantity: 1}); !errors.Is(err, ErrCheckoutLocked) {
		t.Fatalf("expected locked on add after freeze, got %v", err)
	}
	if _, err := fx.service.SetCustomerDetails(ctx, sess, CustomerDetailsCommand{CheckoutID: checkout.ID, Buyer: &domain.Buyer{Email: "other@example.com"}}); !errors.Is(err, ErrCheckoutLocked) {
		t.Fatalf("expected locked on details after freeze, got %v", err)
	}

	// Repeating startPayment is a no-op, not an error.
	again, err := fx.service.StartPayment(ctx, sess, checkout.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.Status != domain.StatusReadyForComplete || again.GrandTotal() != 1598 {
		t.Fatalf("expected unchanged frozen checkout, got status %q total %d", again.Status, again.GrandTotal())
	}
}

func TestCompleteCheckoutChargesFrozenTotalAndConfirmsOrder(t *testing.T) {
	var charged int64
	authorizer := &stubAuthorizer{
		authorizeFunc: func(_ context.Context, _ payments.HandlerContext, req payments.AuthorizeRequest) (payments.Authorization, error) {
			charged = req.Amount
			return payments.Authorization{ID: "auth-1", Status: payments.StatusApproved, Amount: req.Amount, Currency: req.Currency}, nil
		},
	}
	fx := newServiceFixture(t, authorizer)
	sess := testSession(t, "sess-1", schema.CapabilityCheckout, schema.CapabilityFulfillment)
	checkout := readyCheckout(t, fx, sess)

	completed, err := fx.service.CompleteCheckout(context.Background(), sess, CompleteCommand{
		CheckoutID: checkout.ID,
		Instrument: domain.PaymentInstrument{CredentialRef: "tok_visa", HandlerID: "mock"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if completed.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %q", completed.Status)
	}
	if charged != 1598 {
		t.Fatalf("expected frozen total 1598 charged, got %d", charged)
	}
	wantOrderID := "ORD-" + checkout.ID
	if completed.Order == nil || completed.Order.ID != wantOrderID {
		t.Fatalf("expected order id %q, got %+v", wantOrderID, completed.Order)
	}
	wantPermalink := "https://example.com/order?id=" + wantOrderID
	if completed.Order.PermalinkURL != wantPermalink {
		t.Fatalf("expected permalink %q, got %q", wantPermalink, completed.Order.PermalinkURL)
	}

	order, err := fx.repo.GetOrder(context.Background(), wantOrderID)
	if err != nil {
		t.Fatalf("unexpected error fetching order: %v", err)
	}
	if order.Status != domain.StatusCompleted {
		t.Fatalf("expected stored order completed, got %q", order.Status)
	}
}

func TestCompleteCheckoutDeclineKeepsReadyForRetry(t *testing.T) {
	attempts := 0
	authorizer := &stubAuthorizer{
		authorizeFunc: func(_ context.Context, _ payments.HandlerContext, req payments.AuthorizeRequest) (payments.Authorization, error) {
			attempts++
			if attempts == 1 {
				return payments.Authorization{ID: "auth-1", Status: payments.StatusDeclined, DeclineCode: "generic_decline"}, nil
			}
			return payments.Authorization{ID: "auth-2", Status: payments.StatusApproved, Amount: req.Amount}, nil
		},
	}
	fx := newServiceFixture(t, authorizer)
	sess := testSession(t, "sess-1", schema.CapabilityCheckout, schema.CapabilityFulfillment)
	checkout := readyCheckout(t, fx, sess)
	ctx := context.Background()

	_, err := fx.service.CompleteCheckout(ctx, sess, CompleteCommand{
		CheckoutID: checkout.ID,
		Instrument: domain.PaymentInstrument{CredentialRef: "tok_decline_insufficient", HandlerID: "mock"},
	})
	if !errors.Is(err, ErrPaymentDeclined) {
		t.Fatalf("expected payment declined, got %v", err)
	}

	current, err := fx.service.GetCheckout(ctx, sess, checkout.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if current.Status != domain.StatusReadyForComplete {
		t.Fatalf("expected checkout still ready after decline, got %q", current.Status)
	}

	completed, err := fx.service.CompleteCheckout(ctx, sess, CompleteCommand{
		CheckoutID: checkout.ID,
		Instrument: domain.PaymentInstrument{CredentialRef: "tok_visa", HandlerID: "mock"},
	})
	if err != nil {
		t.Fatalf("unexpected error retrying complete: %v", err)
	}
	if completed.Status != domain.StatusCompleted {
		t.Fatalf("expected completed on retry, got %q", completed.Status)
	}
}

func TestCompleteCheckoutFromIncompleteFails(t *testing.T) {
	fx := newServiceFixture(t, nil)
	sess := testSession(t, "sess-1", schema.CapabilityCheckout)
	ctx := context.Background()

	checkout, err := fx.service.CreateOrAddItem(ctx, sess, AddItemCommand{ProductID: "prod_mug", Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = fx.service.CompleteCheckout(ctx, sess, CompleteCommand{
		CheckoutID: checkout.ID,
		Instrument: domain.PaymentInstrument{CredentialRef: "tok_visa"},
	})
	if !errors.Is(err, ErrCheckoutNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
}

func TestCompleteCheckoutTwiceIsLocked(t *testing.T) {
	fx := newServiceFixture(t, nil)
	sess := testSession(t, "sess-1", schema.CapabilityCheckout, schema.CapabilityFulfillment)
	checkout := readyCheckout(t, fx, sess)
	ctx := context.Background()

	instrument := domain.PaymentInstrument{CredentialRef: "tok_visa", HandlerID: "mock"}
	if _, err := fx.service.CompleteCheckout(ctx, sess, CompleteCommand{CheckoutID: checkout.ID, Instrument: instrument}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fx.service.CompleteCheckout(ctx, sess, CompleteCommand{CheckoutID: checkout.ID, Instrument: instrument}); !errors.Is(err, ErrCheckoutLocked) {
		t.Fatalf("expected locked on second completion, got %v", err)
	}
}

func TestCompleteCheckoutProviderErrorLeavesStateUntouched(t *testing.T) {
	providerErr := errors.New("gateway timeout")
	authorizer := &stubAuthorizer{
		authorizeFunc: func(context.Context, payments.HandlerContext, payments.AuthorizeRequest) (payments.Authorization, error) {
			return payments.Authorization{}, providerErr
		},
	}
	fx := newServiceFixture(t, authorizer)
	sess := testSession(t, "sess-1", schema.CapabilityCheckout, schema.CapabilityFulfillment)
	checkout := readyCheckout(t, fx, sess)
	ctx := context.Background()

	_, err := fx.service.CompleteCheckout(ctx, sess, CompleteCommand{
		CheckoutID: checkout.ID,
		Instrument: domain.PaymentInstrument{CredentialRef: "tok_visa", HandlerID: "mock"},
	})
	if !errors.Is(err, ErrPaymentUnavailable) {
		t.Fatalf("expected payment unavailable, got %v", err)
	}

	current, err := fx.service.GetCheckout(ctx, sess, checkout.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if current.Status != domain.StatusReadyForComplete {
		t.Fatalf("expected ready after provider failure, got %q", current.Status)
	}
}

func TestCancelCheckoutTerminalStatesReject(t *testing.T) {
	fx := newServiceFixture(t, nil)
	sess := testSession(t, "sess-1", schema.CapabilityCheckout, schema.CapabilityFulfillment)
	checkout := readyCheckout(t, fx, sess)
	ctx := context.Background()

	canceled, err := fx.service.CancelCheckout(ctx, sess, checkout.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if canceled.Status != domain.StatusCanceled {
		t.Fatalf("expected canceled, got %q", canceled.Status)
	}
	if _, err := fx.service.CancelCheckout(ctx, sess, checkout.ID); !errors.Is(err, ErrCheckoutLocked) {
		t.Fatalf("expected locked on double cancel, got %v", err)
	}
}

func TestCheckoutIsScopedToOwningSession(t *testing.T) {
	fx := newServiceFixture(t, nil)
	owner := testSession(t, "sess-1", schema.CapabilityCheckout)
	other := testSession(t, "sess-2", schema.CapabilityCheckout)
	ctx := context.Background()

	checkout, err := fx.service.CreateOrAddItem(ctx, owner, AddItemCommand{ProductID: "prod_mug", Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fx.service.GetCheckout(ctx, other, checkout.ID); !errors.Is(err, ErrCheckoutNotFound) {
		t.Fatalf("expected not found for foreign session, got %v", err)
	}
}
