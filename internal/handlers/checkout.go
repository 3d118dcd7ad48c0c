package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/viaschema/ucp-samples/internal/domain"
	"github.com/viaschema/ucp-samples/internal/platform/httpx"
	"github.com/viaschema/ucp-samples/internal/schema"
	"github.com/viaschema/ucp-samples/internal/services"
	"github.com/viaschema/ucp-samples/internal/session"
)

const maxCheckoutRequestBody = 16 * 1024

// CheckoutHandlers exposes the checkout lifecycle endpoints. Every route
// requires a negotiated session; responses expose only the fields the
// session's composed schema admits.
type CheckoutHandlers struct {
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs the checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: checkout}
}

// Routes registers checkout endpoints under the provided router. The complete
// endpoint is expected to be wrapped with idempotency middleware by the router.
func (h *CheckoutHandlers) Routes(r chi.Router, completeMiddleware ...func(http.Handler) http.Handler) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrAddItem)
	r.Get("/{checkoutID}", h.getCheckout)
	r.Post("/{checkoutID}/items", h.addItem)
	r.Patch("/{checkoutID}/items/{productID}", h.updateItem)
	r.Delete("/{checkoutID}/items/{productID}", h.removeItem)
	r.Post("/{checkoutID}/customer", h.setCustomerDetails)
	r.Post("/{checkoutID}/fulfillment", h.selectFulfillment)
	r.Post("/{checkoutID}/discount", h.applyDiscount)
	r.Post("/{checkoutID}/start-payment", h.startPayment)
	r.With(completeMiddleware...).Post("/{checkoutID}/complete", h.completeCheckout)
	r.Post("/{checkoutID}/cancel", h.cancelCheckout)
}

type addItemRequest struct {
	CheckoutID string `json:"checkout_id,omitempty"`
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

type addressPayload struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

type buyerPayload struct {
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type customerDetailsRequest struct {
	Buyer   *buyerPayload   `json:"buyer,omitempty"`
	Address *addressPayload `json:"address,omitempty"`
}

type selectFulfillmentRequest struct {
	OptionID string `json:"option_id"`
}

type applyDiscountRequest struct {
	Code string `json:"code"`
}

type completeRequest struct {
	Payment paymentInstrumentPayload `json:"payment"`
}

type paymentInstrumentPayload struct {
	CredentialRef string `json:"credential_ref"`
	HandlerID     string `json:"handler_id,omitempty"`
	Brand         string `json:"brand,omitempty"`
	LastDigits    string `json:"last_digits,omitempty"`
}

func (h *CheckoutHandlers) createOrAddItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := h.requireSession(ctx, w)
	if !ok {
		return
	}

	var req addItemRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}

	checkout, err := h.checkout.CreateOrAddItem(ctx, sess, services.AddItemCommand{
		CheckoutID: req.CheckoutID,
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, newCheckoutResponse(checkout, sess))
}

func (h *CheckoutHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := h.requireSession(ctx, w)
	if !ok {
		return
	}

	var req addItemRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}

	checkout, err := h.checkout.CreateOrAddItem(ctx, sess, services.AddItemCommand{
		CheckoutID: chi.URLParam(r, "checkoutID"),
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newCheckoutResponse(checkout, sess))
}

func (h *CheckoutHandlers) getCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := h.requireSession(ctx, w)
	if !ok {
		return
	}

	checkout, err := h.checkout.GetCheckout(ctx, sess, chi.URLParam(r, "checkoutID"))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newCheckoutResponse(checkout, sess))
}

func (h *CheckoutHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := h.requireSession(ctx, w)
	if !ok {
		return
	}

	var req updateItemRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}

	checkout, err := h.checkout.UpdateItem(ctx, sess, services.UpdateItemCommand{
		CheckoutID: chi.URLParam(r, "checkoutID"),
		ProductID:  chi.URLParam(r, "productID"),
		Quantity:   req.Quantity,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newCheckoutResponse(checkout, sess))
}

func (h *CheckoutHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := h.requireSession(ctx, w)
	if !ok {
		return
	}

	checkout, err := h.checkout.RemoveItem(ctx, sess, services.RemoveItemCommand{
		CheckoutID: chi.URLParam(r, "checkoutID"),
		ProductID:  chi.URLParam(r, "productID"),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newCheckoutResponse(checkout, sess))
}

func (h *CheckoutHandlers) setCustomerDetails(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := h.requireSession(ctx, w)
	if !ok {
		return
	}

	var req customerDetailsRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}
	if req.Buyer == nil && req.Address == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "buyer or address is required", http.StatusBadRequest))
		return
	}

	cmd := services.CustomerDetailsCommand{CheckoutID: chi.URLParam(r, "checkoutID")}
	if req.Buyer != nil {
		cmd.Buyer = &domain.Buyer{
			Email:     req.Buyer.Email,
			FirstName: req.Buyer.FirstName,
			LastName:  req.Buyer.LastName,
			Phone:     req.Buyer.Phone,
		}
	}
	if req.Address != nil {
		cmd.Address = &domain.Address{
			Name:       req.Address.Name,
			Line1:      req.Address.Line1,
			Line2:      req.Address.Line2,
			City:       req.Address.City,
			Region:     req.Address.Region,
			PostalCode: req.Address.PostalCode,
			Country:    req.Address.Country,
		}
	}

	checkout, err := h.checkout.SetCustomerDetails(ctx, sess, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newCheckoutResponse(checkout, sess))
}

func (h *CheckoutHandlers) selectFulfillment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := h.requireSession(ctx, w)
	if !ok {
		return
	}

	var req selectFulfillmentRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}

	checkout, err := h.checkout.SelectFulfillmentOption(ctx, sess, services.SelectFulfillmentCommand{
		CheckoutID: chi.URLParam(r, "checkoutID"),
		OptionID:   req.OptionID,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newCheckoutResponse(checkout, sess))
}

func (h *CheckoutHandlers) applyDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := h.requireSession(ctx, w)
	if !ok {
		return
	}

	var req applyDiscountRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}

	checkout, err := h.checkout.ApplyDiscount(ctx, sess, services.ApplyDiscountCommand{
		CheckoutID: chi.URLParam(r, "checkoutID"),
		Code:       req.Code,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newCheckoutResponse(checkout, sess))
}

func (h *CheckoutHandlers) startPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := h.requireSession(ctx, w)
	if !ok {
		return
	}

	checkout, err := h.checkout.StartPayment(ctx, sess, chi.URLParam(r, "checkoutID"))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newCheckoutResponse(checkout, sess))
}

func (h *CheckoutHandlers) completeCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := h.requireSession(ctx, w)
	if !ok {
		return
	}

	var req completeRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Payment.CredentialRef) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment.credential_ref is required", http.StatusBadRequest))
		return
	}

	checkout, err := h.checkout.CompleteCheckout(ctx, sess, services.CompleteCommand{
		CheckoutID: chi.URLParam(r, "checkoutID"),
		Instrument: domain.PaymentInstrument{
			CredentialRef: req.Payment.CredentialRef,
			HandlerID:     req.Payment.HandlerID,
			Brand:         req.Payment.Brand,
			LastDigits:    req.Payment.LastDigits,
		},
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newCheckoutResponse(checkout, sess))
}

func (h *CheckoutHandlers) cancelCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := h.requireSession(ctx, w)
	if !ok {
		return
	}

	checkout, err := h.checkout.CancelCheckout(ctx, sess, chi.URLParam(r, "checkoutID"))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newCheckoutResponse(checkout, sess))
}

func (h *CheckoutHandlers) requireSession(ctx context.Context, w http.ResponseWriter) (session.Session, bool) {
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return session.Session{}, false
	}
	sess, ok := sessionFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("session_required", "missing "+SessionHeader+" header", http.StatusUnauthorized))
		return session.Session{}, false
	}
	return sess, true
}

func (h *CheckoutHandlers) decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var validationErr *services.ValidationError
	switch {
	case errors.As(err, &validationErr):
		httpx.WriteError(ctx, w, httpx.NewError("missing_preconditions", validationErr.Error(), http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"missing": validationErr.Missing}))
	case errors.Is(err, services.ErrCheckoutNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_not_found", "checkout not found", http.StatusNotFound))
	case errors.Is(err, services.ErrItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("item_not_found", "line item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrProductUnknown):
		httpx.WriteError(ctx, w, httpx.NewError("product_unknown", "unknown product", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutLocked):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_locked", "checkout no longer accepts this operation", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutNotReady):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_not_ready", "checkout is not ready for completion", http.StatusConflict))
	case errors.Is(err, services.ErrCapabilityNotNegotiated):
		httpx.WriteError(ctx, w, httpx.NewError("capability_not_negotiated", "session did not negotiate this capability", http.StatusForbidden))
	case errors.Is(err, services.ErrPaymentDeclined):
		httpx.WriteError(ctx, w, httpx.NewError("payment_declined", "payment was declined", http.StatusPaymentRequired))
	case errors.Is(err, services.ErrPaymentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "payment provider unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrDiscountUnknown):
		httpx.WriteError(ctx, w, httpx.NewError("discount_unknown", "unknown discount code", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout store unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

type totalPayload struct {
	Type        string `json:"type"`
	DisplayText string `json:"display_text"`
	Amount      int64  `json:"amount"`
}

type lineItemPayload struct {
	ID         string         `json:"id"`
	ProductID  string         `json:"product_id"`
	Title      string         `json:"title"`
	UnitPrice  int64          `json:"unit_price"`
	Quantity   int            `json:"quantity"`
	LineTotals []totalPayload `json:"line_totals,omitempty"`
}

type fulfillmentOptionPayload struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Price int64  `json:"price"`
}

type fulfillmentPayload struct {
	Address          *addressPayload            `json:"address,omitempty"`
	Options          []fulfillmentOptionPayload `json:"options"`
	SelectedOptionID string                     `json:"selected_option_id,omitempty"`
}

type paymentHandlerPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type paymentPayload struct {
	Handlers          []paymentHandlerPayload `json:"handlers"`
	SelectedHandlerID string                  `json:"selected_handler_id,omitempty"`
}

type discountPayload struct {
	Code   string `json:"code"`
	Amount int64  `json:"amount"`
}

type orderPayload struct {
	ID        string `json:"id"`
	Permalink string `json:"permalink"`
}

type checkoutResponse struct {
	ID          string              `json:"id"`
	Status      string              `json:"status"`
	Currency    string              `json:"currency"`
	LineItems   []lineItemPayload   `json:"line_items"`
	Totals      []totalPayload      `json:"totals"`
	Buyer       *buyerPayload       `json:"buyer,omitempty"`
	Payment     *paymentPayload     `json:"payment,omitempty"`
	Fulfillment *fulfillmentPayload `json:"fulfillment,omitempty"`
	Discount    *discountPayload    `json:"discount,omitempty"`
	Order       *orderPayload       `json:"order,omitempty"`
	UpdatedAt   string              `json:"updated_at"`
}

// newCheckoutResponse serializes a checkout for the wire. Sections outside
// the session's composed field set are omitted entirely, never null-filled.
func newCheckoutResponse(checkout domain.Checkout, sess session.Session) checkoutResponse {
	resp := checkoutResponse{
		ID:        checkout.ID,
		Status:    string(checkout.Status),
		Currency:  checkout.Currency,
		LineItems: make([]lineItemPayload, 0, len(checkout.LineItems)),
		Totals:    totalsPayload(checkout.Totals),
		UpdatedAt: checkout.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	for _, item := range checkout.LineItems {
		resp.LineItems = append(resp.LineItems, lineItemPayload{
			ID:        item.ID,
			ProductID: item.ProductID,
			Title:     item.Title,
			UnitPrice: item.UnitPrice,
			Quantity:   item.Quantity,
			LineTotals: totalsPayload(item.LineTotals),
		})
	}

	if sess.Allows(schema.FieldBuyer) && checkout.Buyer != nil {
		resp.Buyer = &buyerPayload{
			Email:     checkout.Buyer.Email,
			FirstName: checkout.Buyer.FirstName,
			LastName:  checkout.Buyer.LastName,
			Phone:     checkout.Buyer.Phone,
		}
	}
	if sess.Allows(schema.FieldPayment) && checkout.Payment != nil {
		payment := &paymentPayload{
			Handlers:          make([]paymentHandlerPayload, 0, len(checkout.Payment.Handlers)),
			SelectedHandlerID: checkout.Payment.SelectedHandlerID,
		}
		for _, handler := range checkout.Payment.Handlers {
			payment.Handlers = append(payment.Handlers, paymentHandlerPayload{ID: handler.ID, Name: handler.Name})
		}
		resp.Payment = payment
	}
	if sess.Allows(schema.FieldFulfillment) && checkout.Fulfillment != nil {
		fulfillment := &fulfillmentPayload{
			Options:          make([]fulfillmentOptionPayload, 0, len(checkout.Fulfillment.Options)),
			SelectedOptionID: checkout.Fulfillment.SelectedOptionID,
		}
		for _, opt := range checkout.Fulfillment.Options {
			fulfillment.Options = append(fulfillment.Options, fulfillmentOptionPayload{ID: opt.ID, Title: opt.Title, Price: opt.Price})
		}
		if addr := checkout.Fulfillment.Address; addr != nil {
			fulfillment.Address = &addressPayload{
				Name:       addr.Name,
				Line1:      addr.Line1,
				Line2:      addr.Line2,
				City:       addr.City,
				Region:     addr.Region,
				PostalCode: addr.PostalCode,
				Country:    addr.Country,
			}
		}
		resp.Fulfillment = fulfillment
	}
	if sess.Allows(schema.FieldDiscount) && checkout.Discount != nil {
		resp.Discount = &discountPayload{Code: checkout.Discount.Code, Amount: checkout.Discount.Amount}
	}
	if checkout.Order != nil {
		resp.Order = &orderPayload{ID: checkout.Order.ID, Permalink: checkout.Order.PermalinkURL}
	}
	return resp
}

func totalsPayload(totals []domain.Total) []totalPayload {
	if len(totals) == 0 {
		return nil
	}
	out := make([]totalPayload, 0, len(totals))
	for _, total := range totals {
		out = append(out, totalPayload{
			Type:        string(total.Type),
			DisplayText: total.DisplayText,
			Amount:      total.Amount,
		})
	}
	return out
}
