package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nikhilbhutani/docingest/internal/app"
	"github.com/nikhilbhutani/docingest/internal/config"
	"github.com/nikhilbhutani/docingest/internal/ingest"
	"github.com/nikhilbhutani/docingest/internal/models"
	"github.com/urfave/cli/v2"
)

// opener builds the service for one command. The returned func releases it.
type opener func(ctx context.Context, logger *slog.Logger) (*app.App, func() error, error)

func openFromEnv(ctx context.Context, logger *slog.Logger) (*app.App, func() error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return a, a.Close, nil
}

func main() {
	if err := newCLI(openFromEnv).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newCLI(open opener) *cli.App {
	var logger *slog.Logger

	// withApp opens the service around a command action.
	withApp := func(fn func(c *cli.Context, a *app.App) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			a, release, err := open(c.Context, logger)
			if err != nil {
				return err
			}
			defer release()
			return fn(c, a)
		}
	}

	idArg := func(c *cli.Context) (string, error) {
		id := c.Args().First()
		if id == "" {
			return "", fmt.Errorf("tenant id is required")
		}
		return id, nil
	}

	return &cli.App{
		Name:  "tenantctl",
		Usage: "Administer tenants, quotas and documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
		},
		Before: func(c *cli.Context) error {
			var level slog.Level
			if err := level.UnmarshalText([]byte(c.String("log-level"))); err != nil {
				return fmt.Errorf("invalid log level %q", c.String("log-level"))
			}
			logger = slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: level}))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Register a tenant",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true, Usage: "Display name"},
					&cli.StringFlag{Name: "contact", Usage: "Contact email"},
					&cli.Int64Flag{Name: "quota-mib", Usage: "Storage quota in MiB (0 uses the default)"},
				},
				Action: withApp(func(c *cli.Context, a *app.App) error {
					t, err := a.Tenants.Create(c.Context, c.String("name"), c.String("contact"), c.Int64("quota-mib")<<20)
					if err != nil {
						return err
					}
					return printJSON(c, t)
				}),
			},
			{
				Name:  "list",
				Usage: "List tenants",
				Action: withApp(func(c *cli.Context, a *app.App) error {
					tenants, err := a.Tenants.List(c.Context)
					if err != nil {
						return err
					}
					return printJSON(c, tenants)
				}),
			},
			{
				Name:      "get",
				Usage:     "Show one tenant",
				ArgsUsage: "TENANT_ID",
				Action: withApp(func(c *cli.Context, a *app.App) error {
					id, err := idArg(c)
					if err != nil {
						return err
					}
					t, err := a.Tenants.Get(c.Context, id)
					if err != nil {
						return err
					}
					return printJSON(c, t)
				}),
			},
			{
				Name:      "update",
				Usage:     "Change a tenant's name, contact, quota or active flag",
				ArgsUsage: "TENANT_ID",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name"},
					&cli.StringFlag{Name: "contact"},
					&cli.Int64Flag{Name: "quota-mib"},
					&cli.BoolFlag{Name: "active"},
				},
				Action: withApp(func(c *cli.Context, a *app.App) error {
					id, err := idArg(c)
					if err != nil {
						return err
					}
					var u models.TenantUpdate
					if c.IsSet("name") {
						v := c.String("name")
						u.Name = &v
					}
					if c.IsSet("contact") {
						v := c.String("contact")
						u.Contact = &v
					}
					if c.IsSet("quota-mib") {
						v := c.Int64("quota-mib") << 20
						u.QuotaBytes = &v
					}
					if c.IsSet("active") {
						v := c.Bool("active")
						u.Active = &v
					}
					t, err := a.Tenants.Update(c.Context, id, u)
					if err != nil {
						return err
					}
					return printJSON(c, t)
				}),
			},
			{
				Name:      "delete",
				Usage:     "Delete a tenant and its vector namespace",
				ArgsUsage: "TENANT_ID",
				Action: withApp(func(c *cli.Context, a *app.App) error {
					id, err := idArg(c)
					if err != nil {
						return err
					}
					res, err := a.Tenants.Delete(c.Context, id)
					if err != nil {
						return err
					}
					return printJSON(c, res)
				}),
			},
			{
				Name:  "stats",
				Usage: "Show usage across all tenants",
				Action: withApp(func(c *cli.Context, a *app.App) error {
					stats, err := a.Tenants.Stats(c.Context)
					if err != nil {
						return err
					}
					return printJSON(c, stats)
				}),
			},
			{
				Name:      "reconcile",
				Usage:     "Recount documents from stored vectors (all tenants when no id is given)",
				ArgsUsage: "[TENANT_ID]",
				Action: withApp(func(c *cli.Context, a *app.App) error {
					if id := c.Args().First(); id != "" {
						report, err := a.Reconciler.Reconcile(c.Context, id)
						if err != nil {
							return err
						}
						return printJSON(c, report)
					}
					reports, err := a.Reconciler.ReconcileAll(c.Context)
					if err != nil {
						return err
					}
					return printJSON(c, reports)
				}),
			},
			{
				Name:      "ingest",
				Usage:     "Upload a local file for a tenant",
				ArgsUsage: "TENANT_ID FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}},
				},
				Action: withApp(func(c *cli.Context, a *app.App) error {
					if c.NArg() != 2 {
						return fmt.Errorf("usage: tenantctl ingest TENANT_ID FILE")
					}
					path := c.Args().Get(1)
					data, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("read %s: %w", path, err)
					}
					res, err := a.Orchestrator.Ingest(c.Context, ingest.Request{
						TenantID:    c.Args().First(),
						Filename:    filepath.Base(path),
						Description: c.String("description"),
						Data:        data,
					})
					if err != nil {
						return describeIngestError(err)
					}
					return printJSON(c, res)
				}),
			},
			{
				Name:      "documents",
				Usage:     "List a tenant's documents",
				ArgsUsage: "TENANT_ID",
				Action: withApp(func(c *cli.Context, a *app.App) error {
					id, err := idArg(c)
					if err != nil {
						return err
					}
					listing, err := a.Lister.List(c.Context, id)
					if err != nil {
						return err
					}
					return printJSON(c, listing)
				}),
			},
		},
	}
}

// describeIngestError keeps the downstream cause visible to the operator.
func describeIngestError(err error) error {
	var failed *ingest.FailedError
	if errors.As(err, &failed) {
		return fmt.Errorf("%s: %w", failed.Error(), failed.Err)
	}
	return err
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
