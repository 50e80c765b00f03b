// Command seed-stock loads product stock levels from a JSON file into the
// product_stock table.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	"github.com/xenking/orderflow/internal/storage/postgres"
)

type level struct {
	ProductID string
	Quantity  int
}

func main() {
	var (
		databaseURL string
		stockFile   string
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&stockFile, "stock-file", "db/seed/stock.json", "path to stock levels JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}

	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		if databaseURL == "" {
			return errors.New("database URL is required: set --database-url or DATABASE_URL")
		}
		return run(ctx, lg, databaseURL, stockFile)
	})
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, stockFile string) error {
	data, err := os.ReadFile(stockFile)
	if err != nil {
		return errors.Wrap(err, "read stock file")
	}
	levels, err := parseLevels(data)
	if err != nil {
		return errors.Wrap(err, "parse stock file")
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	store := postgres.NewStockStore(pool)
	for _, l := range levels {
		if err := store.Upsert(ctx, l.ProductID, l.Quantity); err != nil {
			return err
		}
	}
	lg.Info("Stock seeded", zap.Int("products", len(levels)), zap.String("file", stockFile))
	return nil
}

// parseLevels reads [{"productId": "...", "stockQuantity": N}, ...]. The
// product service spellings "id" and "quantity" are accepted too.
func parseLevels(data []byte) ([]level, error) {
	var levels []level
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		l := level{Quantity: -1}
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "productId", "id":
				if d.Next() == jx.Number {
					var n jx.Num
					n, err = d.Num()
					l.ProductID = n.String()
				} else {
					l.ProductID, err = d.Str()
				}
			case "stockQuantity", "quantity":
				l.Quantity, err = d.Int()
			default:
				return d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		switch {
		case l.ProductID == "":
			return errors.New("entry without product id")
		case l.Quantity < 0:
			return errors.Errorf("product %s: stock quantity must be zero or more", l.ProductID)
		}
		levels = append(levels, l)
		return nil
	})
	return levels, err
}
