package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/mothership-commerce/internal/domain/product"
	"github.com/xenking/mothership-commerce/internal/domain/tax"
)

const (
	getUnitsByIDsSQL = `SELECT u.id, u.revision, u.sku, u.barcode, u.options, u.weight,
		p.id, p.name, p.display_name, p.brand, p.product_type, p.tax_strategy
		FROM units u JOIN products p ON p.id = u.product_id
		WHERE u.id = ANY($1) AND u.active = TRUE`

	getUnitPricesSQL = `SELECT unit_id, price_type, currency_id, price
		FROM unit_prices WHERE unit_id = ANY($1)`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetUnitsByIDs returns the active units matching ids with their products
// and prices attached. Units sharing a product share one *Product.
func (r *ProductRepository) GetUnitsByIDs(ctx context.Context, ids []string) ([]product.Unit, error) {
	rows, err := r.pool.Query(ctx, getUnitsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting units by ids: %w", err)
	}
	products := make(map[string]*product.Product)
	units, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (product.Unit, error) {
		return scanUnit(row, products)
	})
	if err != nil {
		return nil, fmt.Errorf("getting units by ids: %w", err)
	}
	if len(units) == 0 {
		return nil, nil
	}

	rows, err = r.pool.Query(ctx, getUnitPricesSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting unit prices: %w", err)
	}
	prices, err := pgx.CollectRows(rows, scanUnitPrice)
	if err != nil {
		return nil, fmt.Errorf("getting unit prices: %w", err)
	}

	byUnit := make(map[string]map[product.PriceKey]decimal.Decimal, len(units))
	for _, p := range prices {
		m, ok := byUnit[p.unitID]
		if !ok {
			m = make(map[product.PriceKey]decimal.Decimal)
			byUnit[p.unitID] = m
		}
		m[p.key] = p.price
	}
	for i := range units {
		units[i].Prices = byUnit[units[i].ID]
	}
	return units, nil
}

func scanUnit(row pgx.CollectableRow, products map[string]*product.Product) (product.Unit, error) {
	var (
		u        product.Unit
		p        product.Product
		strategy string
	)
	err := row.Scan(
		&u.ID, &u.Revision, &u.SKU, &u.Barcode, &u.Options, &u.Weight,
		&p.ID, &p.Name, &p.DisplayName, &p.Brand, &p.Type, &strategy,
	)
	if err != nil {
		return u, err
	}

	if shared, ok := products[p.ID]; ok {
		u.Product = shared
		return u, nil
	}
	if p.TaxStrategy, err = tax.ParseStrategy(strategy); err != nil {
		return u, fmt.Errorf("product %s: %w", p.ID, err)
	}
	products[p.ID] = &p
	u.Product = &p
	return u, nil
}

type unitPrice struct {
	unitID string
	key    product.PriceKey
	price  decimal.Decimal
}

func scanUnitPrice(row pgx.CollectableRow) (unitPrice, error) {
	var (
		p         unitPrice
		priceType string
	)
	err := row.Scan(&p.unitID, &priceType, &p.key.Currency, &p.price)
	p.key.Type = product.PriceType(priceType)
	return p, err
}

// ProductSeed describes one product and its units for Seed.
type ProductSeed struct {
	Product product.Product
	Units   []product.Unit
}

const (
	upsertProductSQL = `INSERT INTO products (id, name, display_name, brand, product_type, tax_strategy)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, display_name = EXCLUDED.display_name,
			brand = EXCLUDED.brand, product_type = EXCLUDED.product_type, tax_strategy = EXCLUDED.tax_strategy`

	upsertUnitSQL = `INSERT INTO units (id, product_id, revision, sku, barcode, options, weight)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET revision = EXCLUDED.revision, sku = EXCLUDED.sku,
			barcode = EXCLUDED.barcode, options = EXCLUDED.options, weight = EXCLUDED.weight`

	upsertUnitPriceSQL = `INSERT INTO unit_prices (unit_id, price_type, currency_id, price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (unit_id, price_type, currency_id) DO UPDATE SET price = EXCLUDED.price`
)

// Seed upserts products with their units and prices in one transaction.
func (r *ProductRepository) Seed(ctx context.Context, seeds []ProductSeed) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, s := range seeds {
			p := s.Product
			b.Queue(upsertProductSQL, p.ID, p.Name, p.DisplayName, p.Brand, p.Type, p.TaxStrategy.String())
			for _, u := range s.Units {
				opts := u.Options
				if opts == nil {
					opts = map[string]string{}
				}
				b.Queue(upsertUnitSQL, u.ID, p.ID, u.Revision, u.SKU, u.Barcode, opts, u.Weight)
				for k, price := range u.Prices {
					b.Queue(upsertUnitPriceSQL, u.ID, string(k.Type), k.Currency, price)
				}
			}
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("seeding products: %w", err)
		}
		return nil
	})
}
