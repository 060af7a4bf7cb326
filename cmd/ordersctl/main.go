package main

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ariefcatur/go-order-fulfillment/internal/app"
	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/postgres"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"log"
	"os"
	"time"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ordersctl",
		Usage: "admin tasks for the order fulfillment service",
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "apply or roll back database migrations",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply all pending migrations",
						Action: func(c *cli.Context) error {
							cfg, err := config.Load()
							if err != nil {
								return err
							}
							return postgres.Migrate(cfg.PostgresDSN)
						},
					},
					{
						Name:  "down",
						Usage: "roll back migrations",
						Flags: []cli.Flag{&cli.IntFlag{Name: "steps", Value: 1}},
						Action: func(c *cli.Context) error {
							cfg, err := config.Load()
							if err != nil {
								return err
							}
							return postgres.MigrateDown(cfg.PostgresDSN, c.Int("steps"))
						},
					},
				},
			},
			{
				Name:  "product",
				Usage: "manage product stock settings",
				Subcommands: []*cli.Command{
					{
						Name:  "upsert",
						Usage: "create or update a product and resync its fast view",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "id", Required: true},
							&cli.StringFlag{Name: "name"},
							&cli.IntFlag{Name: "stock", Required: true},
							&cli.BoolFlag{Name: "unmanaged", Usage: "treat stock as unbounded"},
						},
						Action: withApp(func(ctx context.Context, c *cli.Context, a *app.App) error {
							st, err := a.UpsertProduct(ctx, orders.Product{
								ID:           c.String("id"),
								Name:         c.String("name"),
								TotalStock:   c.Int("stock"),
								StockManaged: !c.Bool("unmanaged"),
							})
							if err != nil {
								return err
							}
							return printJSON(st)
						}),
					},
				},
			},
			{
				Name:  "inventory",
				Usage: "inspect and repair the fast-view ledger",
				Subcommands: []*cli.Command{
					{
						Name:  "status",
						Flags: []cli.Flag{&cli.StringFlag{Name: "product", Required: true}},
						Action: withApp(func(ctx context.Context, c *cli.Context, a *app.App) error {
							st, err := a.Ledger.Status(ctx, c.String("product"))
							if err != nil {
								return err
							}
							return printJSON(st)
						}),
					},
					{
						Name:  "sync",
						Usage: "overwrite the fast view from durable stock",
						Flags: []cli.Flag{&cli.StringFlag{Name: "product", Required: true}},
						Action: withApp(func(ctx context.Context, c *cli.Context, a *app.App) error {
							id := c.String("product")
							if err := a.Ledger.Sync(ctx, id); err != nil {
								return err
							}
							st, err := a.Ledger.Status(ctx, id)
							if err != nil {
								return err
							}
							return printJSON(st)
						}),
					},
					{
						Name:  "reconcile",
						Usage: "sync every product flagged after a failed confirmation",
						Action: withApp(func(ctx context.Context, c *cli.Context, a *app.App) error {
							if a.Reconciler == nil {
								return errors.New("reconcile needs INVENTORY_BACKEND=redis")
							}
							n, err := a.Reconciler.ReconcileAll(ctx)
							fmt.Printf("synced %d product(s)\n", n)
							return err
						}),
					},
				},
			},
			{
				Name:  "deliveries",
				Usage: "delivery maintenance",
				Subcommands: []*cli.Command{
					{
						Name:  "advance",
						Usage: "run one pass of time-based delivery advancement",
						Action: withApp(func(ctx context.Context, c *cli.Context, a *app.App) error {
							rep, err := a.Advancer.AdvanceDue(ctx, time.Now().UTC())
							if err != nil {
								return err
							}
							return printJSON(rep)
						}),
					},
				},
			},
		},
	}
}

// withApp loads configuration, wires the app for one command and tears it down.
func withApp(fn func(ctx context.Context, c *cli.Context, a *app.App) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogDevelopment)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, cancel := context.WithTimeout(c.Context, time.Minute)
		defer cancel()
		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, c, a)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
