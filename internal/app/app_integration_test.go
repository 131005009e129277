//go:build integration

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/mothership-commerce/internal/domain/auth"
	"github.com/xenking/mothership-commerce/internal/domain/discount"
	"github.com/xenking/mothership-commerce/internal/domain/product"
	"github.com/xenking/mothership-commerce/internal/domain/tax"
	"github.com/xenking/mothership-commerce/internal/storage/postgres"
)

const (
	testAPIKey = "integration-test-key"
	testPepper = "test-pepper"
)

var baseURL string

type noopTelemetry struct{}

func (noopTelemetry) TracerProvider() trace.TracerProvider { return tracenoop.NewTracerProvider() }
func (noopTelemetry) MeterProvider() metric.MeterProvider  { return metricnoop.NewMeterProvider() }

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "commerce",
				"POSTGRES_PASSWORD": "commerce",
				"POSTGRES_DB":       "commerce",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := pg.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	endpoint, err := pg.PortEndpoint(ctx, "5432/tcp", "")
	if err != nil {
		log.Fatalf("endpoint: %v", err)
	}
	dsn := fmt.Sprintf("postgres://commerce:commerce@%s/commerce?sslmode=disable", endpoint)

	if err := seed(ctx, dsn); err != nil {
		log.Fatalf("seed: %v", err)
	}

	dir, err := os.MkdirTemp("", "commerce-rules")
	if err != nil {
		log.Fatalf("temp dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()
	rulesPath := filepath.Join(dir, "tax.yaml")
	if err := os.WriteFile(rulesPath, []byte(integrationRules), 0o600); err != nil {
		log.Fatalf("write rules: %v", err)
	}

	cfg := &Config{
		DatabaseURL:  dsn,
		APIKeyPepper: testPepper,
		Tax: TaxConfig{
			Rules:            []string{rulesPath},
			StoreCountry:     "GB",
			ShippingType:     "shipping",
			ShippingStrategy: "inclusive",
		},
		Discounts: DiscountConfig{FilterCapacity: 1000, FilterFPR: 0.001},
		Metrics:   MetricsConfig{Namespace: "mothership"},
		RateLimit: RateLimitConfig{Max: 10000, Window: time.Minute},
		CORS:      CORSConfig{Origins: []string{"*"}},
	}

	svc, err := newService(ctx, zap.NewNop(), noopTelemetry{}, cfg)
	if err != nil {
		log.Fatalf("build service: %v", err)
	}
	defer svc.close()
	svc.health.Start(ctx, time.Second)
	svc.health.SetReady(true)

	srv := httptest.NewServer(svc.handler)
	defer srv.Close()
	baseURL = srv.URL

	return m.Run()
}

const integrationRules = `
rates:
  GB:
    regions:
      default:
        default:
          vat: { type: VAT, rate: 20 }
        book: ~
        shipping:
          vat: { type: VAT, rate: 20 }
  US:
    defaultRegion: NY
    regions:
      NY:
        default:
          state: { type: SALES, rate: 4 }
          city: { type: SALES, rate: 4.5 }
`

func seed(ctx context.Context, dsn string) error {
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		return err
	}

	gbp := func(v string) map[product.PriceKey]decimal.Decimal {
		return map[product.PriceKey]decimal.Decimal{
			{Type: product.PriceRetail, Currency: "GBP"}: decimal.RequireFromString(v),
		}
	}
	if err := postgres.NewProductRepository(pool).Seed(ctx, []postgres.ProductSeed{
		{
			Product: product.Product{ID: "p-tee", Name: "Logo Tee", Type: "clothing", TaxStrategy: tax.Inclusive},
			Units:   []product.Unit{{ID: "u-tee", Revision: 1, SKU: "TEE", Prices: gbp("18.00")}},
		},
		{
			Product: product.Product{ID: "p-atlas", Name: "Atlas", Type: "book", TaxStrategy: tax.Inclusive},
			Units:   []product.Unit{{ID: "u-atlas", Revision: 1, SKU: "ATL", Prices: gbp("25.00")}},
		},
	}); err != nil {
		return err
	}

	if err := postgres.NewDiscountRepository(pool).Upsert(ctx, []discount.Rule{
		{Code: "WELCOME10", Type: discount.TypePercentage, Value: decimal.NewFromInt(10)},
	}); err != nil {
		return err
	}

	return postgres.NewAPIKeyRepository(pool).Upsert(ctx, auth.APIKeyInfo{
		ID:      "integration",
		KeyHash: auth.HashKey([]byte(testPepper), testAPIKey),
		Name:    "Integration tests",
	})
}

// HTTP helpers.

func do(t *testing.T, method, path string, body any, authed bool) *http.Response {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, baseURL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("api_key", testAPIKey)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type orderResponse struct {
	ID            string          `json:"id"`
	Status        int             `json:"status"`
	TotalGross    decimal.Decimal `json:"total_gross"`
	TotalTax      decimal.Decimal `json:"total_tax"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
	Items         []struct {
		UnitID string          `json:"unit_id"`
		Tax    decimal.Decimal `json:"tax"`
	} `json:"items"`
	Discounts []struct {
		Code string `json:"code"`
	} `json:"discounts"`
}

// Tests.

func TestProbes(t *testing.T) {
	resp := do(t, http.MethodGet, "/livez", nil, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		r, err := http.Get(baseURL + "/readyz")
		if err != nil {
			return false
		}
		_ = r.Body.Close()
		return r.StatusCode == http.StatusOK
	}, 10*time.Second, 200*time.Millisecond)
}

func TestAuthRequired(t *testing.T) {
	resp := do(t, http.MethodPost, "/api/tax/resolve", map[string]any{
		"requests": []map[string]string{{"product_type": "book", "country_id": "GB"}},
	}, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestResolveTax(t *testing.T) {
	resp := do(t, http.MethodPost, "/api/tax/resolve", map[string]any{
		"requests": []map[string]string{
			{"product_type": "book", "country_id": "GB"},
			{"product_type": "clothing", "country_id": "US", "region_id": "NY"},
		},
	}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON[struct {
		Results []struct {
			Exempt    bool   `json:"exempt"`
			TotalRate string `json:"total_rate"`
		} `json:"results"`
	}](t, resp)
	require.Len(t, body.Results, 2)
	assert.True(t, body.Results[0].Exempt)
	assert.Equal(t, "8.5", body.Results[1].TotalRate)
}

func TestOrderLifecycle(t *testing.T) {
	resp := do(t, http.MethodPost, "/api/order", map[string]any{
		"currency": "GBP",
		"items": []map[string]any{
			{"unit_id": "u-tee", "quantity": 2, "stock_location": "main"},
			{"unit_id": "u-atlas", "quantity": 1, "stock_location": "main"},
		},
		"addresses": []map[string]any{
			{"type": "delivery", "name": "A. Reader", "lines": []string{"1 High St"}, "town": "Leeds", "country_id": "GB"},
		},
		"shipping":      map[string]any{"name": "Courier", "price": "4.80"},
		"discount_code": "welcome10",
	}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	placed := decodeJSON[orderResponse](t, resp)

	require.Len(t, placed.Items, 3)
	require.Len(t, placed.Discounts, 1)
	assert.Equal(t, "WELCOME10", placed.Discounts[0].Code)
	assert.True(t, placed.TotalDiscount.IsPositive())
	assert.True(t, placed.TotalTax.IsPositive())
	for _, it := range placed.Items {
		if it.UnitID == "u-atlas" {
			assert.True(t, it.Tax.IsZero(), "books are exempt")
		}
	}

	resp = do(t, http.MethodGet, "/api/order/"+placed.ID, nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeJSON[orderResponse](t, resp)
	assert.True(t, placed.TotalGross.Equal(got.TotalGross))
	assert.Len(t, got.Items, 3)

	resp = do(t, http.MethodPost, "/api/order/"+placed.ID+"/payment", map[string]any{
		"method": "card", "amount": placed.TotalGross.String(),
	}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, decodeJSON[orderResponse](t, resp).Status)

	resp = do(t, http.MethodPost, "/api/order/"+placed.ID+"/complete", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2000, decodeJSON[orderResponse](t, resp).Status)

	resp = do(t, http.MethodGet, "/api/order/"+placed.ID, nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2000, decodeJSON[orderResponse](t, resp).Status)

	resp = do(t, http.MethodGet, "/metrics", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	metrics, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "mothership_commerce_orders_placed_total")
	assert.Contains(t, string(metrics), "mothership_commerce_orders_completed_total")
}

func TestPlaceOrder_Rejected(t *testing.T) {
	base := map[string]any{
		"currency":  "GBP",
		"items":     []map[string]any{{"unit_id": "u-tee", "quantity": 1, "stock_location": "main"}},
		"addresses": []map[string]any{{"type": "delivery", "name": "B", "town": "Leeds", "country_id": "GB"}},
	}

	t.Run("unknown discount", func(t *testing.T) {
		body := map[string]any{"discount_code": "NOSUCHCODE"}
		for k, v := range base {
			body[k] = v
		}
		resp := do(t, http.MethodPost, "/api/order", body, true)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})
	t.Run("unsupported jurisdiction", func(t *testing.T) {
		body := map[string]any{
			"currency":  "GBP",
			"items":     base["items"],
			"addresses": []map[string]any{{"type": "delivery", "name": "C", "town": "Paris", "country_id": "FR"}},
		}
		resp := do(t, http.MethodPost, "/api/order", body, true)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})
	t.Run("unknown order", func(t *testing.T) {
		resp := do(t, http.MethodGet, "/api/order/00000000-0000-0000-0000-000000000000", nil, true)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
