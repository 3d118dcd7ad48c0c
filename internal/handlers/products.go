package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/viaschema/ucp-samples/internal/catalog"
	"github.com/viaschema/ucp-samples/internal/platform/httpx"
)

// ProductHandlers exposes the merchant catalog for browsing before checkout.
type ProductHandlers struct {
	catalog catalog.Catalog
}

// NewProductHandlers constructs the catalog browsing handlers.
func NewProductHandlers(c catalog.Catalog) *ProductHandlers {
	return &ProductHandlers{catalog: c}
}

// Routes registers product endpoints under the provided router.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.searchProducts)
	r.Get("/{productID}", h.getProduct)
}

type productPayload struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Price    int64  `json:"price"`
	Currency string `json:"currency"`
}

type productListResponse struct {
	Products []productPayload `json:"products"`
}

func (h *ProductHandlers) searchProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is not configured", http.StatusServiceUnavailable))
		return
	}

	products, err := h.catalog.Search(ctx, r.URL.Query().Get("query"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "catalog search failed", http.StatusInternalServerError))
		return
	}

	resp := productListResponse{Products: make([]productPayload, 0, len(products))}
	for _, p := range products {
		resp.Products = append(resp.Products, newProductPayload(p))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is not configured", http.StatusServiceUnavailable))
		return
	}

	product, err := h.catalog.Lookup(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			httpx.WriteError(ctx, w, httpx.NewError("product_unknown", "unknown product", http.StatusNotFound))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "catalog lookup failed", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, newProductPayload(product))
}

func newProductPayload(p catalog.Product) productPayload {
	return productPayload{ID: p.ID, Title: p.Title, Price: p.Price, Currency: p.Currency}
}
