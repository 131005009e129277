package product

import (
	"context"
	"fmt"

	"github.com/xenking/mothership-commerce/internal/domain/tax"
)

// Catalog loads units with their product's tax rates resolved at the store
// address.
type Catalog struct {
	repo  Repository
	store tax.Address
}

// NewCatalog returns a Catalog reading from repo.
func NewCatalog(repo Repository, store tax.Address) *Catalog {
	return &Catalog{repo: repo, store: store}
}

// Units returns the units for ids in request order, their product rates
// resolved by rates. Callers pricing an order pass the resolver the order is
// priced with. Every id must exist and carry its product.
func (c *Catalog) Units(ctx context.Context, rates tax.RateResolver, ids []string) ([]Unit, error) {
	fetched, err := c.repo.GetUnitsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get units: %w", err)
	}

	byID := make(map[string]Unit, len(fetched))
	for _, u := range fetched {
		byID[u.ID] = u
	}

	// Products shared between units are resolved once.
	resolved := make(map[string]*Product)
	units := make([]Unit, 0, len(ids))
	for _, id := range ids {
		u, ok := byID[id]
		if !ok {
			return nil, &UnitNotFoundError{UnitID: id}
		}
		if u.Product == nil {
			return nil, &ValidationError{UnitID: id, Reason: "no product attached"}
		}
		if p, ok := resolved[u.Product.ID]; ok {
			u.Product = p
			units = append(units, u)
			continue
		}

		p := *u.Product
		p.TaxRates, err = rates.Resolve(p.Type, c.store)
		if err != nil {
			return nil, fmt.Errorf("resolve tax for product %s: %w", p.ID, err)
		}
		resolved[p.ID] = &p
		u.Product = &p
		units = append(units, u)
	}
	return units, nil
}

// Store returns the merchant address product rates are resolved at.
func (c *Catalog) Store() tax.Address { return c.store }
