// Package catalog defines the product catalog collaborator the checkout
// service validates products against. Search ranking is out of scope; the
// in-memory implementation stands in for the merchant's real catalog backend.
package catalog

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrProductNotFound indicates the product id is unknown to the catalog.
var ErrProductNotFound = errors.New("catalog: product not found")

// Product is one purchasable catalog entry. Price is in minor currency units.
type Product struct {
	ID       string
	Title    string
	Price    int64
	Currency string
}

// Catalog exposes product lookup and search behind a narrow interface.
type Catalog interface {
	Lookup(ctx context.Context, productID string) (Product, error)
	Search(ctx context.Context, query string) ([]Product, error)
}

// MemoryCatalog is a fixture-backed catalog for local runs and tests.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[string]Product
}

// NewMemoryCatalog constructs a catalog over the supplied products.
func NewMemoryCatalog(products ...Product) *MemoryCatalog {
	c := &MemoryCatalog{products: make(map[string]Product, len(products))}
	for _, p := range products {
		if strings.TrimSpace(p.ID) == "" {
			continue
		}
		c.products[p.ID] = p
	}
	return c
}

// Lookup implements the Catalog interface.
func (c *MemoryCatalog) Lookup(_ context.Context, productID string) (Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[strings.TrimSpace(productID)]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

// Search implements the Catalog interface with case-insensitive substring
// matching over titles, sorted by product id for stable output.
func (c *MemoryCatalog) Search(_ context.Context, query string) ([]Product, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	c.mu.RLock()
	defer c.mu.RUnlock()

	matches := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		if query == "" || strings.Contains(strings.ToLower(p.Title), query) {
			matches = append(matches, p)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return matches, nil
}

// Fixtures returns the demo product set used by the reference deployment.
func Fixtures() []Product {
	return []Product{
		{ID: "prod_espresso", Title: "Espresso Blend Beans 250g", Price: 1499, Currency: "USD"},
		{ID: "prod_filter", Title: "Paper Filters (100 pack)", Price: 499, Currency: "USD"},
		{ID: "prod_grinder", Title: "Hand Grinder", Price: 6950, Currency: "USD"},
		{ID: "prod_mug", Title: "Stoneware Mug", Price: 1250, Currency: "USD"},
		{ID: "prod_kettle", Title: "Gooseneck Kettle 1L", Price: 5400, Currency: "USD"},
	}
}
