// Command api-server serves tax resolution and order placement for the
// store's tills.
package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	commerce "github.com/xenking/mothership-commerce/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := commerce.LoadConfig()
		if err != nil {
			return errors.Wrap(err, "load config")
		}
		lg.Info("Config loaded",
			zap.String("store_country", cfg.Tax.StoreCountry),
			zap.String("store_region", cfg.Tax.StoreRegion),
			zap.Strings("tax_rules", cfg.Tax.Rules),
			zap.Bool("order_cache", cfg.Redis.Addr != ""),
			zap.Bool("order_events", len(cfg.Kafka.Brokers) > 0),
		)
		return commerce.Run(ctx, lg, m, cfg)
	})
}
