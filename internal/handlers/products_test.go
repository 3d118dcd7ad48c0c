package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/viaschema/ucp-samples/internal/catalog"
)

func productRouter() chi.Router {
	handler := NewProductHandlers(catalog.NewMemoryCatalog(catalog.Fixtures()...))
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)
	return router
}

func TestProductHandlersSearch(t *testing.T) {
	router := productRouter()

	req := httptest.NewRequest(http.MethodGet, "/products?query=grinder", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Products []struct {
			ID       string `json:"id"`
			Title    string `json:"title"`
			Price    int64  `json:"price"`
			Currency string `json:"currency"`
		} `json:"products"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if len(resp.Products) != 1 {
		t.Fatalf("expected one match, got %+v", resp.Products)
	}
	if resp.Products[0].ID != "prod_grinder" || resp.Products[0].Price != 6950 {
		t.Fatalf("unexpected product %+v", resp.Products[0])
	}
}

func TestProductHandlersSearchEmptyQueryListsAll(t *testing.T) {
	router := productRouter()

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp struct {
		Products []struct {
			ID string `json:"id"`
		} `json:"products"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if len(resp.Products) != len(catalog.Fixtures()) {
		t.Fatalf("expected full fixture set, got %d products", len(resp.Products))
	}
	for i := 1; i < len(resp.Products); i++ {
		if resp.Products[i-1].ID >= resp.Products[i].ID {
			t.Fatalf("expected products sorted by id, got %+v", resp.Products)
		}
	}
}

func TestProductHandlersGet(t *testing.T) {
	router := productRouter()

	req := httptest.NewRequest(http.MethodGet, "/products/prod_mug", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if resp.ID != "prod_mug" || resp.Title != "Stoneware Mug" {
		t.Fatalf("unexpected product %+v", resp)
	}
}

func TestProductHandlersGetUnknown(t *testing.T) {
	router := productRouter()

	req := httptest.NewRequest(http.MethodGet, "/products/prod_missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "product_unknown") {
		t.Fatalf("expected product_unknown code, got %s", rr.Body.String())
	}
}
