package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/viaschema/ucp-samples/internal/catalog"
	"github.com/viaschema/ucp-samples/internal/domain"
	"github.com/viaschema/ucp-samples/internal/payments"
	"github.com/viaschema/ucp-samples/internal/repositories"
	"github.com/viaschema/ucp-samples/internal/schema"
	"github.com/viaschema/ucp-samples/internal/session"
)

const defaultPermalinkBase = "https://example.com/order"

// paymentAuthorizer is the slice of payments.Manager the checkout flow needs.
type paymentAuthorizer interface {
	Authorize(ctx context.Context, handlerCtx payments.HandlerContext, req payments.AuthorizeRequest) (payments.Authorization, error)
}

// CheckoutServiceDeps wires the collaborators for NewCheckoutService.
type CheckoutServiceDeps struct {
	Checkouts          repositories.CheckoutRepository
	Catalog            catalog.Catalog
	Payments           paymentAuthorizer
	Pricing            *PricingEngine
	Discounts          DiscountResolver
	PaymentHandlers    []domain.PaymentHandler
	FulfillmentOptions []domain.FulfillmentOption
	Currency           string
	OrderPermalinkBase string
	IDGenerator        func() string
	LineIDGenerator    func() string
	Clock              func() time.Time
	Logger             func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	checkouts          repositories.CheckoutRepository
	catalog            catalog.Catalog
	payments           paymentAuthorizer
	pricing            *PricingEngine
	discounts          DiscountResolver
	paymentHandlers    []domain.PaymentHandler
	fulfillmentOptions []domain.FulfillmentOption
	currency           string
	permalinkBase      string
	idGen              func() string
	lineIDGen          func() string
	clock              func() time.Time
	logger             func(ctx context.Context, event string, fields map[string]any)
	locks              *keyedMutex
}

// NewCheckoutService builds the checkout state machine over the supplied
// collaborators.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Checkouts == nil {
		return nil, errors.New("services: checkout service requires a checkout repository")
	}
	if deps.Catalog == nil {
		return nil, errors.New("services: checkout service requires a catalog")
	}
	if deps.Payments == nil {
		return nil, errors.New("services: checkout service requires a payment authorizer")
	}
	if deps.Pricing == nil {
		return nil, errors.New("services: checkout service requires a pricing engine")
	}
	svc := &checkoutService{
		checkouts:          deps.Checkouts,
		catalog:            deps.Catalog,
		payments:           deps.Payments,
		pricing:            deps.Pricing,
		discounts:          deps.Discounts,
		paymentHandlers:    append([]domain.PaymentHandler(nil), deps.PaymentHandlers...),
		fulfillmentOptions: append([]domain.FulfillmentOption(nil), deps.FulfillmentOptions...),
		currency:           strings.TrimSpace(deps.Currency),
		permalinkBase:      strings.TrimSpace(deps.OrderPermalinkBase),
		idGen:              deps.IDGenerator,
		lineIDGen:          deps.LineIDGenerator,
		clock:              deps.Clock,
		logger:             deps.Logger,
		locks:              newKeyedMutex(),
	}
	if svc.currency == "" {
		svc.currency = "USD"
	}
	if svc.permalinkBase == "" {
		svc.permalinkBase = defaultPermalinkBase
	}
	if svc.idGen == nil {
		svc.idGen = func() string { return ulid.Make().String() }
	}
	if svc.lineIDGen == nil {
		svc.lineIDGen = uuid.NewString
	}
	if svc.clock == nil {
		svc.clock = time.Now
	}
	base := svc.clock
	svc.clock = func() time.Time { return base().UTC() }
	if svc.logger == nil {
		svc.logger = func(context.Context, string, map[string]any) {}
	}
	return svc, nil
}

// load fetches a checkout and enforces session ownership. Checkouts created
// under another session are reported as not found.
func (s *checkoutService) load(ctx context.Context, sess session.Session, checkoutID string) (domain.Checkout, error) {
	checkoutID = strings.TrimSpace(checkoutID)
	if checkoutID == "" {
		return domain.Checkout{}, ErrCheckoutNotFound
	}
	checkout, err := s.checkouts.GetCheckout(ctx, checkoutID)
	if err != nil {
		return domain.Checkout{}, translateRepositoryError(err)
	}
	if checkout.SessionID != sess.ID {
		return domain.Checkout{}, ErrCheckoutNotFound
	}
	return checkout, nil
}

func translateRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		if repoErr.IsNotFound() {
			return ErrCheckoutNotFound
		}
		if repoErr.IsUnavailable() {
			return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
}

// reprice runs the pricing engine and writes the breakdown back onto the
// checkout, including per-line totals.
func (s *checkoutService) reprice(ctx context.Context, checkout *domain.Checkout) error {
	breakdown, err := s.pricing.Calculate(ctx, *checkout)
	if err != nil {
		return err
	}
	checkout.Totals = breakdown.Totals
	byLine := make(map[string][]domain.Total, len(breakdown.Lines))
	for _, line := range breakdown.Lines {
		byLine[line.LineItemID] = line.Totals
	}
	for i := range checkout.LineItems {
		checkout.LineItems[i].LineTotals = byLine[checkout.LineItems[i].ID]
	}
	return nil
}

func (s *checkoutService) save(ctx context.Context, checkout *domain.Checkout) error {
	checkout.UpdatedAt = s.clock()
	if err := s.checkouts.PutCheckout(ctx, *checkout); err != nil {
		return translateRepositoryError(err)
	}
	return nil
}

// newCheckout assembles a fresh incomplete checkout with the sections the
// session's field set admits.
func (s *checkoutService) newCheckout(sess session.Session) domain.Checkout {
	now := s.clock()
	checkout := domain.Checkout{
		ID:        s.idGen(),
		SessionID: sess.ID,
		Status:    domain.StatusIncomplete,
		Currency:  s.currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sess.Allows(schema.FieldPayment) {
		checkout.Payment = &domain.Payment{
			Handlers: append([]domain.PaymentHandler(nil), s.paymentHandlers...),
		}
	}
	if sess.Allows(schema.FieldFulfillment) {
		checkout.Fulfillment = &domain.Fulfillment{
			Options: append([]domain.FulfillmentOption(nil), s.fulfillmentOptions...),
		}
	}
	return checkout
}

func (s *checkoutService) CreateOrAddItem(ctx context.Context, sess session.Session, cmd AddItemCommand) (domain.Checkout, error) {
	if cmd.Quantity <= 0 {
		return domain.Checkout{}, fmt.Errorf("%w: quantity must be positive", ErrCheckoutInvalidInput)
	}
	product, err := s.catalog.Lookup(ctx, strings.TrimSpace(cmd.ProductID))
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return domain.Checkout{}, fmt.Errorf("%w: %s", ErrProductUnknown, cmd.ProductID)
		}
		return domain.Checkout{}, fmt.Errorf("services: catalog lookup: %w", err)
	}

	checkoutID := strings.TrimSpace(cmd.CheckoutID)
	if checkoutID != "" {
		unlock := s.locks.Lock(checkoutID)
		checkout, err := s.load(ctx, sess, checkoutID)
		switch {
		case err == nil:
			checkout, err = s.addItemLocked(ctx, checkout, product, cmd.Quantity)
			unlock()
			return checkout, err
		case errors.Is(err, ErrCheckoutNotFound):
			// Unknown id falls through to creation with a fresh id.
			unlock()
		default:
			unlock()
			return domain.Checkout{}, err
		}
	}

	checkout := s.newCheckout(sess)
	unlock := s.locks.Lock(checkout.ID)
	defer unlock()
	checkout, err = s.addItemLocked(ctx, checkout, product, cmd.Quantity)
	if err != nil {
		return domain.Checkout{}, err
	}
	s.logger(ctx, "checkout.created", map[string]any{"checkout_id": checkout.ID, "session_id": sess.ID})
	return checkout, nil
}

func (s *checkoutService) addItemLocked(ctx context.Context, checkout domain.Checkout, product catalog.Product, quantity int) (domain.Checkout, error) {
	if checkout.Status.Locked() {
		return domain.Checkout{}, ErrCheckoutLocked
	}
	if idx, ok := checkout.FindLineItemByProduct(product.ID); ok {
		checkout.LineItems[idx].Quantity += quantity
	} else {
		checkout.LineItems = append(checkout.LineItems, domain.LineItem{
			ID:        s.lineIDGen(),
			ProductID: product.ID,
			Title:     product.Title,
			UnitPrice: product.Price,
			Quantity:  quantity,
		})
	}
	if err := s.reprice(ctx, &checkout); err != nil {
		return domain.Checkout{}, err
	}
	if err := s.save(ctx, &checkout); err != nil {
		return domain.Checkout{}, err
	}
	return checkout, nil
}

func (s *checkoutService) UpdateItem(ctx context.Context, sess session.Session, cmd UpdateItemCommand) (domain.Checkout, error) {
	if cmd.Quantity < 0 {
		return domain.Checkout{}, fmt.Errorf("%w: quantity must not be negative", ErrCheckoutInvalidInput)
	}
	return s.mutate(ctx, sess, cmd.CheckoutID, func(ctx context.Context, checkout *domain.Checkout) error {
		idx, ok := checkout.FindLineItemByProduct(strings.TrimSpace(cmd.ProductID))
		if !ok {
			return ErrItemNotFound
		}
		if cmd.Quantity == 0 {
			checkout.LineItems = append(checkout.LineItems[:idx], checkout.LineItems[idx+1:]...)
			return nil
		}
		checkout.LineItems[idx].Quantity = cmd.Quantity
		return nil
	})
}

func (s *checkoutService) RemoveItem(ctx context.Context, sess session.Session, cmd RemoveItemCommand) (domain.Checkout, error) {
	return s.mutate(ctx, sess, cmd.CheckoutID, func(ctx context.Context, checkout *domain.Checkout) error {
		idx, ok := checkout.FindLineItemByProduct(strings.TrimSpace(cmd.ProductID))
		if !ok {
			return ErrItemNotFound
		}
		checkout.LineItems = append(checkout.LineItems[:idx], checkout.LineItems[idx+1:]...)
		return nil
	})
}

func (s *checkoutService) SetCustomerDetails(ctx context.Context, sess session.Session, cmd CustomerDetailsCommand) (domain.Checkout, error) {
	if cmd.Buyer != nil && !sess.Allows(schema.FieldBuyer) {
		return domain.Checkout{}, fmt.Errorf("%w: %s", ErrCapabilityNotNegotiated, schema.FieldBuyer)
	}
	if cmd.Address != nil && !sess.Allows(schema.FieldFulfillment) {
		return domain.Checkout{}, fmt.Errorf("%w: %s", ErrCapabilityNotNegotiated, schema.FieldFulfillment)
	}
	if cmd.Buyer != nil {
		email := strings.TrimSpace(cmd.Buyer.Email)
		if email != "" && !strings.Contains(email, "@") {
			return domain.Checkout{}, fmt.Errorf("%w: malformed buyer email", ErrCheckoutInvalidInput)
		}
	}
	return s.mutate(ctx, sess, cmd.CheckoutID, func(ctx context.Context, checkout *domain.Checkout) error {
		if cmd.Buyer != nil {
			buyer := *cmd.Buyer
			buyer.Email = strings.TrimSpace(buyer.Email)
			checkout.Buyer = &buyer
		}
		if cmd.Address != nil {
			addr := *cmd.Address
			if checkout.Fulfillment == nil {
				checkout.Fulfillment = &domain.Fulfillment{
					Options: append([]domain.FulfillmentOption(nil), s.fulfillmentOptions...),
				}
			}
			checkout.Fulfillment.Address = &addr
		}
		return nil
	})
}

func (s *checkoutService) SelectFulfillmentOption(ctx context.Context, sess session.Session, cmd SelectFulfillmentCommand) (domain.Checkout, error) {
	if !sess.Allows(schema.FieldFulfillment) {
		return domain.Checkout{}, fmt.Errorf("%w: %s", ErrCapabilityNotNegotiated, schema.FieldFulfillment)
	}
	optionID := strings.TrimSpace(cmd.OptionID)
	return s.mutate(ctx, sess, cmd.CheckoutID, func(ctx context.Context, checkout *domain.Checkout) error {
		if checkout.Fulfillment == nil {
			checkout.Fulfillment = &domain.Fulfillment{
				Options: append([]domain.FulfillmentOption(nil), s.fulfillmentOptions...),
			}
		}
		found := false
		for _, opt := range checkout.Fulfillment.Options {
			if opt.ID == optionID {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: unknown fulfillment option %q", ErrCheckoutInvalidInput, optionID)
		}
		checkout.Fulfillment.SelectedOptionID = optionID
		return nil
	})
}

func (s *checkoutService) ApplyDiscount(ctx context.Context, sess session.Session, cmd ApplyDiscountCommand) (domain.Checkout, error) {
	if !sess.Allows(schema.FieldDiscount) {
		return domain.Checkout{}, fmt.Errorf("%w: %s", ErrCapabilityNotNegotiated, schema.FieldDiscount)
	}
	if s.discounts == nil {
		return domain.Checkout{}, ErrDiscountUnknown
	}
	code := strings.TrimSpace(cmd.Code)
	amount, err := s.discounts.Lookup(ctx, code)
	if err != nil {
		return domain.Checkout{}, err
	}
	return s.mutate(ctx, sess, cmd.CheckoutID, func(ctx context.Context, checkout *domain.Checkout) error {
		checkout.Discount = &domain.Discount{Code: code, Amount: -amount}
		return nil
	})
}

// mutate is the shared incomplete-state mutation path: lock, load, apply,
// reprice, save.
func (s *checkoutService) mutate(ctx context.Context, sess session.Session, checkoutID string, apply func(context.Context, *domain.Checkout) error) (domain.Checkout, error) {
	checkoutID = strings.TrimSpace(checkoutID)
	unlock := s.locks.Lock(checkoutID)
	defer unlock()

	checkout, err := s.load(ctx, sess, checkoutID)
	if err != nil {
		return domain.Checkout{}, err
	}
	if checkout.Status.Locked() {
		return domain.Checkout{}, ErrCheckoutLocked
	}
	if err := apply(ctx, &checkout); err != nil {
		return domain.Checkout{}, err
	}
	if err := s.reprice(ctx, &checkout); err != nil {
		return domain.Checkout{}, err
	}
	if err := s.save(ctx, &checkout); err != nil {
		return domain.Checkout{}, err
	}
	return checkout, nil
}

func (s *checkoutService) StartPayment(ctx context.Context, sess session.Session, checkoutID string) (domain.Checkout, error) {
	checkoutID = strings.TrimSpace(checkoutID)
	unlock := s.locks.Lock(checkoutID)
	defer unlock()

	checkout, err := s.load(ctx, sess, checkoutID)
	if err != nil {
		return domain.Checkout{}, err
	}
	switch checkout.Status {
	case domain.StatusReadyForComplete:
		// Already frozen; repeating the call is a no-op.
		return checkout, nil
	case domain.StatusCompleted, domain.StatusCanceled:
		return domain.Checkout{}, ErrCheckoutLocked
	}

	var missing []string
	if len(checkout.LineItems) == 0 {
		missing = append(missing, "line_items")
	}
	if checkout.Buyer == nil || strings.TrimSpace(checkout.Buyer.Email) == "" {
		missing = append(missing, "buyer_email")
	}
	if sess.Allows(schema.FieldFulfillment) {
		if checkout.Fulfillment == nil || checkout.Fulfillment.Address == nil {
			missing = append(missing, "fulfillment_address")
		}
	}
	if len(missing) > 0 {
		return domain.Checkout{}, newValidationError(missing...)
	}

	if err := s.reprice(ctx, &checkout); err != nil {
		return domain.Checkout{}, err
	}
	checkout.Status = domain.StatusReadyForComplete
	checkout.FrozenAt = s.clock()
	if err := s.save(ctx, &checkout); err != nil {
		return domain.Checkout{}, err
	}
	s.logger(ctx, "checkout.ready_for_complete", map[string]any{
		"checkout_id": checkout.ID,
		"total":       checkout.GrandTotal(),
	})
	return checkout, nil
}

func (s *checkoutService) CompleteCheckout(ctx context.Context, sess session.Session, cmd CompleteCommand) (domain.Checkout, error) {
	checkoutID := strings.TrimSpace(cmd.CheckoutID)
	unlock := s.locks.Lock(checkoutID)
	defer unlock()

	checkout, err := s.load(ctx, sess, checkoutID)
	if err != nil {
		return domain.Checkout{}, err
	}
	switch checkout.Status {
	case domain.StatusIncomplete:
		return domain.Checkout{}, ErrCheckoutNotReady
	case domain.StatusCompleted, domain.StatusCanceled:
		return domain.Checkout{}, ErrCheckoutLocked
	}
	if strings.TrimSpace(cmd.Instrument.CredentialRef) == "" {
		return domain.Checkout{}, fmt.Errorf("%w: payment credential required", ErrCheckoutInvalidInput)
	}

	// Charge the totals frozen at startPayment; no recomputation here.
	auth, err := s.payments.Authorize(ctx, payments.HandlerContext{
		PreferredHandler: cmd.Instrument.HandlerID,
		Currency:         checkout.Currency,
	}, payments.AuthorizeRequest{
		Amount:        checkout.GrandTotal(),
		Currency:      checkout.Currency,
		CredentialRef: cmd.Instrument.CredentialRef,
		Brand:         cmd.Instrument.Brand,
		LastDigits:    cmd.Instrument.LastDigits,
		Metadata:      map[string]string{"checkout_id": checkout.ID},
	})
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedHandler) {
			return domain.Checkout{}, fmt.Errorf("%w: unknown payment handler", ErrCheckoutInvalidInput)
		}
		s.logger(ctx, "checkout.payment_error", map[string]any{"checkout_id": checkout.ID})
		return domain.Checkout{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}
	if !auth.Approved() {
		s.logger(ctx, "checkout.payment_declined", map[string]any{
			"checkout_id":  checkout.ID,
			"decline_code": auth.DeclineCode,
		})
		return domain.Checkout{}, fmt.Errorf("%w: %s", ErrPaymentDeclined, auth.DeclineCode)
	}

	orderID := "ORD-" + checkout.ID
	checkout.Status = domain.StatusCompleted
	checkout.Order = &domain.OrderConfirmation{
		ID:           orderID,
		PermalinkURL: fmt.Sprintf("%s?id=%s", s.permalinkBase, orderID),
	}
	if checkout.Payment != nil {
		checkout.Payment.SelectedHandlerID = auth.HandlerID
	}
	if err := s.save(ctx, &checkout); err != nil {
		return domain.Checkout{}, err
	}
	if err := s.checkouts.PutOrder(ctx, checkout); err != nil {
		return domain.Checkout{}, translateRepositoryError(err)
	}
	s.logger(ctx, "checkout.completed", map[string]any{
		"checkout_id": checkout.ID,
		"order_id":    orderID,
		"handler_id":  auth.HandlerID,
	})
	return checkout, nil
}

func (s *checkoutService) CancelCheckout(ctx context.Context, sess session.Session, checkoutID string) (domain.Checkout, error) {
	checkoutID = strings.TrimSpace(checkoutID)
	unlock := s.locks.Lock(checkoutID)
	defer unlock()

	checkout, err := s.load(ctx, sess, checkoutID)
	if err != nil {
		return domain.Checkout{}, err
	}
	if checkout.Status.Terminal() {
		return domain.Checkout{}, ErrCheckoutLocked
	}
	checkout.Status = domain.StatusCanceled
	if err := s.save(ctx, &checkout); err != nil {
		return domain.Checkout{}, err
	}
	s.logger(ctx, "checkout.canceled", map[string]any{"checkout_id": checkout.ID})
	return checkout, nil
}

func (s *checkoutService) GetCheckout(ctx context.Context, sess session.Session, checkoutID string) (domain.Checkout, error) {
	return s.load(ctx, sess, checkoutID)
}
