package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-recurring/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-recurring/internal/app"
	"github.com/odyssey-erp/odyssey-recurring/internal/numbering"
	"github.com/odyssey-erp/odyssey-recurring/internal/platform/db"
	"github.com/odyssey-erp/odyssey-recurring/internal/platform/migrate"
	"github.com/odyssey-erp/odyssey-recurring/internal/recurring"
	"github.com/odyssey-erp/odyssey-recurring/jobs"
)

// env is resolved once per invocation by the root command.
type env struct {
	cfg    *app.Config
	logger *slog.Logger
	out    io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	e := &env{out: out}
	root := &cobra.Command{
		Use:           "recurringctl",
		Short:         "Operate the recurring invoice engine",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			e.cfg = cfg
			e.logger = app.NewLogger(cfg)
			return nil
		},
	}
	root.SetOut(out)
	root.AddCommand(newMigrateCmd(e), newSweepCmd(e), newQueueCmd(e), newGenerateCmd(e), newNumberingCmd(e))
	return root
}

func newMigrateCmd(e *env) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withPool(cmd.Context(), func(pool *pgxpool.Pool) error {
				if err := migrate.Up(pool); err != nil {
					return err
				}
				version, dirty, err := migrate.Version(pool)
				if err != nil {
					return err
				}
				return e.print(map[string]any{"version": version, "dirty": dirty})
			})
		},
	})
	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withPool(cmd.Context(), func(pool *pgxpool.Pool) error {
				version, dirty, err := migrate.Version(pool)
				if err != nil {
					return err
				}
				return e.print(map[string]any{"version": version, "dirty": dirty})
			})
		},
	})
	return migrateCmd
}

func newSweepCmd(e *env) *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Enqueue a due-template sweep now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var at time.Time
			if asOf != "" {
				parsed, err := time.Parse("2006-01-02", asOf)
				if err != nil {
					return fmt.Errorf("--as-of must be YYYY-MM-DD: %w", err)
				}
				at = parsed
			}
			return e.withJobs(func(c *cli.JobsCLI) error {
				info, err := c.Trigger(cmd.Context(), jobs.TaskRecurringSweep, at)
				if err != nil {
					return err
				}
				return e.print(map[string]any{"task_id": info.ID, "queue": info.Queue, "type": info.Type})
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "sweep as of this date (YYYY-MM-DD), defaults to today")
	return cmd
}

func newQueueCmd(e *env) *cobra.Command {
	var archived, scheduled int
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the default job queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withJobs(func(c *cli.JobsCLI) error {
				stats, err := c.InspectQueue(cmd.Context())
				if err != nil {
					return err
				}
				out := map[string]any{"stats": stats}
				if archived > 0 {
					tasks, err := c.ListArchived(cmd.Context(), archived)
					if err != nil {
						return err
					}
					failed := make([]map[string]any, 0, len(tasks))
					for _, t := range tasks {
						failed = append(failed, map[string]any{"id": t.ID, "type": t.Type, "last_error": t.LastErr})
					}
					out["archived"] = failed
				}
				if scheduled > 0 {
					tasks, err := c.ListScheduled(cmd.Context(), scheduled)
					if err != nil {
						return err
					}
					pending := make([]map[string]any, 0, len(tasks))
					for _, t := range tasks {
						pending = append(pending, map[string]any{"id": t.ID, "type": t.Type, "next_process_at": t.NextProcessAt})
					}
					out["scheduled"] = pending
				}
				return e.print(out)
			})
		},
	}
	cmd.Flags().IntVar(&archived, "archived", 0, "also list up to N archived (failed) tasks")
	cmd.Flags().IntVar(&scheduled, "scheduled", 0, "also list up to N scheduled (retrying) tasks")
	return cmd
}

func newGenerateCmd(e *env) *cobra.Command {
	var companyID, templateID int64
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the next invoice of a template immediately",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if companyID <= 0 || templateID <= 0 {
				return fmt.Errorf("--company and --template must be positive")
			}
			return e.withService(cmd.Context(), func(svc *recurring.Service) error {
				res, err := svc.GenerateNow(cmd.Context(), companyID, templateID)
				if err != nil {
					return err
				}
				return e.print(res)
			})
		},
	}
	cmd.Flags().Int64Var(&companyID, "company", 0, "company id")
	cmd.Flags().Int64Var(&templateID, "template", 0, "template id")
	_ = cmd.MarkFlagRequired("company")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

func newNumberingCmd(e *env) *cobra.Command {
	var companyID int64
	cmd := &cobra.Command{
		Use:   "numbering",
		Short: "Show a company's invoice numbering state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if companyID <= 0 {
				return fmt.Errorf("--company must be positive")
			}
			return e.withService(cmd.Context(), func(svc *recurring.Service) error {
				state, err := svc.Numbering(cmd.Context(), companyID)
				if err != nil {
					return err
				}
				return e.print(state)
			})
		},
	}
	cmd.Flags().Int64Var(&companyID, "company", 0, "company id")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}

func (e *env) withPool(ctx context.Context, fn func(*pgxpool.Pool) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := db.New(ctx, e.cfg.PGDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(pool)
}

func (e *env) withService(ctx context.Context, fn func(*recurring.Service) error) error {
	return e.withPool(ctx, func(pool *pgxpool.Pool) error {
		numbers := numbering.NewAuthority(
			numbering.WithDefaultPrefix(e.cfg.Recurring.NumberPrefix),
			numbering.WithWidth(e.cfg.Recurring.NumberWidth),
		)
		svc := recurring.NewService(recurring.NewRepository(pool, numbers),
			recurring.WithLogger(e.logger),
			recurring.WithDefaultPaymentTerms(e.cfg.Recurring.DefaultPaymentTerms),
		)
		return fn(svc)
	})
}

func (e *env) withJobs(fn func(*cli.JobsCLI) error) error {
	c, err := cli.NewJobsCLI(e.cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			e.logger.Warn("jobs cli close", slog.Any("error", err))
		}
	}()
	return fn(c)
}

func (e *env) print(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
