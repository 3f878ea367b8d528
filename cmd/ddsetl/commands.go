package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rpattn/ddsetl/internal/api"
	"github.com/rpattn/ddsetl/internal/db"
	"github.com/rpattn/ddsetl/internal/domain"
	"github.com/rpattn/ddsetl/internal/ingestion"
	"github.com/rpattn/ddsetl/internal/pipeline"
	"github.com/rpattn/ddsetl/internal/repository"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type rangeFlags struct {
	start string
	end   string
}

func (f *rangeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.start, "start", "", "Range start date (YYYY-MM-DD); defaults to the configured start")
	cmd.Flags().StringVar(&f.end, "end", "", "Range end date (YYYY-MM-DD); defaults to the configured end")
}

// resolve prefers flags, then configuration, then the default year.
func (f *rangeFlags) resolve(a *app) (domain.DateRange, error) {
	start, end := f.start, f.end
	if start == "" {
		start = a.cfg.Pipeline.StartDate
	}
	if end == "" {
		end = a.cfg.Pipeline.EndDate
	}
	return domain.ParseDateRange(start, end)
}

// withStack loads configuration, connects and hands a wired stack to fn.
func withStack(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app, conn *db.Connection, s *stack) error) error {
	a, err := loadApp(opts)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	conn, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	s, err := a.buildStack(conn)
	if err != nil {
		return err
	}
	return fn(ctx, a, conn, s)
}

func printJSON(cmd *cobra.Command, payload any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func newInitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the s_sql_dds and s_sql_dm schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.waitForDatabase(cmd.Context(), 0, 0); err != nil {
				return err
			}
			return db.RunMigrations(a.cfg.Database, a.logger.Named("migrate"))
		},
	}
}

func newWaitCmd(opts *rootOptions) *cobra.Command {
	var retries int
	var delay time.Duration
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Block until the database accepts connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer a.close()
			return a.waitForDatabase(cmd.Context(), retries, delay)
		},
	}
	cmd.Flags().IntVar(&retries, "retries", 0, "Maximum attempts (defaults to readiness.max_retries)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Delay between attempts (defaults to readiness.delay)")
	return cmd
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var headerRow int
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Load a CSV or XLSX extract into the landing table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			return withStack(cmd, opts, func(ctx context.Context, a *app, conn *db.Connection, s *stack) error {
				service := ingestion.NewService(repository.NewRawRepository(conn.Pool), a.logger.Named("ingestion"))
				req := ingestion.Request{
					FileName: filepath.Base(args[0]),
					Data:     bytes.NewReader(payload),
				}
				if headerRow >= 0 {
					req.HeaderRowIndex = &headerRow
				}
				summary, err := service.Load(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			})
		},
	}
	cmd.Flags().IntVar(&headerRow, "header-row", -1, "Zero-based header row; detected when negative")
	return cmd
}

func newTransformCmd(opts *rootOptions) *cobra.Command {
	flags := &rangeFlags{}
	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Rebuild structured rows for a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, opts, func(ctx context.Context, a *app, conn *db.Connection, s *stack) error {
				r, err := flags.resolve(a)
				if err != nil {
					return err
				}
				count, err := s.engine.Transform(ctx, r)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d structured rows written for %s\n", count, r)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newCopyCmd(opts *rootOptions) *cobra.Command {
	flags := &rangeFlags{}
	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Refresh the verification copy for a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, opts, func(ctx context.Context, a *app, conn *db.Connection, s *stack) error {
				r, err := flags.resolve(a)
				if err != nil {
					return err
				}
				count, err := s.engine.Copy(ctx, r)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d rows copied for %s\n", count, r)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newPipelineCmd(opts *rootOptions) *cobra.Command {
	flags := &rangeFlags{}
	var skipSecondary bool
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Transform, load the mart and migrate to the secondary store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, opts, func(ctx context.Context, a *app, conn *db.Connection, s *stack) error {
				r, err := flags.resolve(a)
				if err != nil {
					return err
				}
				runOpts := pipeline.Options{
					SkipSecondaryMigration: skipSecondary || a.cfg.Pipeline.SkipSecondaryMigration,
				}
				report, runErr := s.orchestrator.Run(ctx, r, runOpts)
				if err := printJSON(cmd, report); err != nil {
					return err
				}
				return runErr
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&skipSecondary, "skip-secondary-migration", false, "Skip the SQLite migration stage")
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the pipeline over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd, opts, func(ctx context.Context, a *app, conn *db.Connection, s *stack) error {
				if addr == "" {
					addr = a.cfg.HTTP.Addr
				}
				ingest := ingestion.NewHTTPHandler(
					ingestion.NewService(repository.NewRawRepository(conn.Pool), a.logger.Named("ingestion")),
				)
				srv := api.NewServer(api.Deps{
					Operations:     s.engine,
					Pipeline:       s.orchestrator,
					Runs:           s.runs,
					Mart:           s.mart,
					Ingest:         ingest,
					Health:         conn,
					DefaultOptions: pipeline.Options{SkipSecondaryMigration: a.cfg.Pipeline.SkipSecondaryMigration},
					AllowedOrigins: a.cfg.HTTP.AllowedOrigins,
					Logger:         a.logger.Named("http"),
				})

				server := &http.Server{
					Addr:         addr,
					Handler:      srv.Handler(),
					ReadTimeout:  15 * time.Second,
					WriteTimeout: 5 * time.Minute,
					IdleTimeout:  60 * time.Second,
				}

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					a.logger.Info("http server listening", zap.String("addr", addr))
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return fmt.Errorf("failed to start server: %w", err)
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					a.logger.Info("shutting down http server")
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					defer cancel()
					return server.Shutdown(shutdownCtx)
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to http.addr)")
	return cmd
}
