package cartd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"finitefield.org/storefront-cartsync/internal/cart"
)

// Product is a sellable catalog entry.
type Product struct {
	ID       cart.ID
	Slug     string
	Name     string
	ImageURL string
	Price    decimal.Decimal
}

// Catalog is an ordered, read-only product list.
type Catalog struct {
	products []Product
	byID     map[cart.ID]Product
}

// NewCatalog indexes products. Duplicate or blank ids are rejected.
func NewCatalog(products ...Product) (*Catalog, error) {
	c := &Catalog{byID: make(map[cart.ID]Product, len(products))}
	for _, p := range products {
		if p.ID.IsZero() {
			return nil, errors.New("cartd: product id is required")
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("cartd: duplicate product id %s", p.ID)
		}
		if p.Price.IsNegative() {
			return nil, fmt.Errorf("cartd: product %s has a negative price", p.ID)
		}
		p.Price = p.Price.Round(2)
		if p.Slug == "" {
			p.Slug = slugify(p.Name)
		}
		c.products = append(c.products, p)
		c.byID[p.ID] = p
	}
	return c, nil
}

// DefaultCatalog is the built-in grocery catalog used when no file is configured.
func DefaultCatalog() *Catalog {
	c, _ := NewCatalog(
		Product{ID: "1", Name: "Sukuma Wiki (bunch)", Price: decimal.RequireFromString("30.00")},
		Product{ID: "2", Name: "Fresh Milk 500ml", Price: decimal.RequireFromString("60.00")},
		Product{ID: "3", Name: "Brown Bread 400g", Price: decimal.RequireFromString("65.00")},
		Product{ID: "4", Name: "Eggs (tray of 30)", Price: decimal.RequireFromString("450.00")},
		Product{ID: "5", Name: "Maize Flour 2kg", Price: decimal.RequireFromString("189.50")},
	)
	return c
}

// Products lists the catalog in order.
func (c *Catalog) Products() []Product {
	return append([]Product(nil), c.products...)
}

// Lookup returns the product with id.
func (c *Catalog) Lookup(id cart.ID) (Product, bool) {
	p, ok := c.byID[id]
	return p, ok
}

type catalogFile struct {
	Products []struct {
		ID       string `yaml:"id"`
		Slug     string `yaml:"slug"`
		Name     string `yaml:"name"`
		ImageURL string `yaml:"image_url"`
		Price    string `yaml:"price"`
	} `yaml:"products"`
}

// LoadCatalog reads a YAML catalog of the form
//
//	products:
//	  - id: 1
//	    name: Fresh Milk 500ml
//	    price: "60.00"
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cartd: read catalog %s: %w", path, err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("cartd: parse catalog %s: %w", path, err)
	}
	products := make([]Product, 0, len(file.Products))
	for i, entry := range file.Products {
		price, err := decimal.NewFromString(strings.TrimSpace(entry.Price))
		if err != nil {
			return nil, fmt.Errorf("cartd: catalog entry %d: invalid price %q", i, entry.Price)
		}
		products = append(products, Product{
			ID:       cart.ID(strings.TrimSpace(entry.ID)),
			Slug:     strings.TrimSpace(entry.Slug),
			Name:     strings.TrimSpace(entry.Name),
			ImageURL: strings.TrimSpace(entry.ImageURL),
			Price:    price,
		})
	}
	return NewCatalog(products...)
}

func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
