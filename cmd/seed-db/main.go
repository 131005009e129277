// Command seed-db loads a catalog seed file (products, units, prices and
// discount rules) and a default API key into the database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/mothership-commerce/internal/domain/auth"
	"github.com/xenking/mothership-commerce/internal/domain/discount"
	"github.com/xenking/mothership-commerce/internal/domain/product"
	"github.com/xenking/mothership-commerce/internal/domain/tax"
	"github.com/xenking/mothership-commerce/internal/storage/postgres"
)

type seedFile struct {
	Products  []productJSON  `json:"products"`
	Discounts []discountJSON `json:"discounts"`
}

type productJSON struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	DisplayName string       `json:"display_name"`
	Brand       string       `json:"brand"`
	Type        string       `json:"type"`
	TaxStrategy tax.Strategy `json:"tax_strategy"`
	Units       []unitJSON   `json:"units"`
}

type unitJSON struct {
	ID       string            `json:"id"`
	Revision int               `json:"revision"`
	SKU      string            `json:"sku"`
	Barcode  string            `json:"barcode"`
	Options  map[string]string `json:"options"`
	Weight   int               `json:"weight"`
	Prices   []priceJSON       `json:"prices"`
}

type priceJSON struct {
	Type     product.PriceType `json:"type"`
	Currency string            `json:"currency"`
	Price    decimal.Decimal   `json:"price"`
}

type discountJSON struct {
	Code        string          `json:"code"`
	Type        discount.Type   `json:"type"`
	Value       decimal.Decimal `json:"value"`
	MinItems    int             `json:"min_items"`
	Description string          `json:"description"`
	ValidFrom   *time.Time      `json:"valid_from"`
	ValidUntil  *time.Time      `json:"valid_until"`
	MaxUses     int             `json:"max_uses"`
	MaxDiscount decimal.Decimal `json:"max_discount"`
}

func main() {
	var (
		databaseURL  string
		seedPath     string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/catalog.json", "path to catalog seed JSON file")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or COMMERCE_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or COMMERCE_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("COMMERCE_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("COMMERCE_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedPath, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedPath, apiKey, pepper string) error {
	slog.Info("reading seed file", slog.String("path", seedPath))

	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	products, rules, err := parseSeed(data)
	if err != nil {
		return err
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.Migrate(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := postgres.NewProductRepository(pool).Seed(ctx, products); err != nil {
		return errors.Wrap(err, "seed products")
	}
	slog.Info("upserted products", slog.Int("count", len(products)))

	if err := postgres.NewDiscountRepository(pool).Upsert(ctx, rules); err != nil {
		return errors.Wrap(err, "seed discounts")
	}
	slog.Info("upserted discount rules", slog.Int("count", len(rules)))

	if apiKey == "" {
		slog.Warn("no API key given, skipping API key seed")
		return nil
	}
	info := defaultAPIKey(apiKey, pepper)
	if err := postgres.NewAPIKeyRepository(pool).Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	slog.Info("upserted API key", slog.String("id", info.ID), slog.String("name", info.Name))

	return nil
}

// parseSeed decodes and checks a seed file.
func parseSeed(data []byte) ([]postgres.ProductSeed, []discount.Rule, error) {
	var f seedFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, nil, errors.Wrap(err, "parse seed JSON")
	}

	products := make([]postgres.ProductSeed, 0, len(f.Products))
	for _, p := range f.Products {
		if p.ID == "" || p.Type == "" {
			return nil, nil, errors.Errorf("product %q: id and type are required", p.Name)
		}
		if p.TaxStrategy == 0 {
			p.TaxStrategy = tax.Inclusive
		}
		seed := postgres.ProductSeed{
			Product: product.Product{
				ID:          p.ID,
				Name:        p.Name,
				DisplayName: p.DisplayName,
				Brand:       p.Brand,
				Type:        p.Type,
				TaxStrategy: p.TaxStrategy,
			},
		}
		for _, u := range p.Units {
			if len(u.Prices) == 0 {
				return nil, nil, errors.Errorf("unit %s: at least one price is required", u.ID)
			}
			unit := product.Unit{
				ID:       u.ID,
				Revision: max(u.Revision, 1),
				SKU:      u.SKU,
				Barcode:  u.Barcode,
				Options:  u.Options,
				Weight:   u.Weight,
				Prices:   make(map[product.PriceKey]decimal.Decimal, len(u.Prices)),
			}
			for _, pr := range u.Prices {
				if pr.Price.IsNegative() {
					return nil, nil, errors.Errorf("unit %s: negative %s price", u.ID, pr.Type)
				}
				key := product.PriceKey{Type: pr.Type, Currency: strings.ToUpper(pr.Currency)}
				unit.Prices[key] = pr.Price
			}
			seed.Units = append(seed.Units, unit)
		}
		products = append(products, seed)
	}

	rules := make([]discount.Rule, 0, len(f.Discounts))
	for _, d := range f.Discounts {
		switch d.Type {
		case discount.TypePercentage, discount.TypeFixed, discount.TypeFreeLowest:
		default:
			return nil, nil, errors.Errorf("discount %s: unknown type %q", d.Code, d.Type)
		}
		rules = append(rules, discount.Rule{
			Code:        strings.ToUpper(d.Code),
			Type:        d.Type,
			Value:       d.Value,
			MinItems:    d.MinItems,
			Description: d.Description,
			ValidFrom:   d.ValidFrom,
			ValidUntil:  d.ValidUntil,
			MaxUses:     d.MaxUses,
			MaxDiscount: d.MaxDiscount,
		})
	}
	return products, rules, nil
}

func defaultAPIKey(key, pepper string) auth.APIKeyInfo {
	return auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKey([]byte(pepper), key),
		Name:    "Default till key",
	}
}
