package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	gateway "github.com/adonese/bizpilot/apigateway"
	"github.com/adonese/bizpilot/cache"
	"github.com/adonese/bizpilot/fields"
	"github.com/adonese/bizpilot/store"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var logrusLogger = logrus.New()

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logrusLogger.WithError(err).Error("exiting")
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg fields.AppConfig
	var sampling gateway.LogSamplingConfig
	root := &cobra.Command{
		Use:           "bizpilot",
		Short:         "Business operations server: csv analytics, customers, campaigns, automation and reports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = loadConfig()
			if err != nil {
				return err
			}
			sampling = configureLogger(logrusLogger, cfg)
			return nil
		},
	}
	serve := func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context(), cfg, sampling)
	}
	root.RunE = serve
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server (default port 5000)",
			RunE:  serve,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply migrations and seed lookup tables",
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := openStore(cmd.Context(), cfg, logrusLogger)
				if err != nil {
					return err
				}
				return st.DB.Close()
			},
		},
		&cobra.Command{
			Use:   "verify-db",
			Short: "Check connectivity to the postgres database",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return verifyDB(cmd.Context(), cmd.OutOrStdout(), cfg.DatabaseURL)
			},
		},
		&cobra.Command{
			Use:   "config",
			Short: "Print the effective configuration without secrets",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return renderConfig(cmd.OutOrStdout(), cfg)
			},
		},
		&cobra.Command{
			Use:   "routes",
			Short: "List the HTTP routes",
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := openStore(cmd.Context(), cfg, logrusLogger)
				if err != nil {
					return err
				}
				defer st.DB.Close()
				app, _, err := buildApp(cfg, st, cache.Noop{}, logrusLogger, sampling)
				if err != nil {
					return err
				}
				return printRoutes(cmd.OutOrStdout(), app)
			},
		},
	)
	return root
}

func runServe(ctx context.Context, cfg fields.AppConfig, sampling gateway.LogSamplingConfig) error {
	shutdownOTel := initOTel(ctx, cfg, logrusLogger)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), otelShutdownTimeout)
		defer cancel()
		if err := shutdownOTel(flushCtx); err != nil {
			logrusLogger.WithError(err).Warn("otel shutdown failed")
		}
	}()

	srv, err := newServer(ctx, cfg, logrusLogger, sampling)
	if err != nil {
		return err
	}
	return srv.run(ctx, cfg.Port, logrusLogger)
}

func verifyDB(ctx context.Context, w io.Writer, dbURL string) error {
	if dbURL == "" {
		return errors.New("SUPABASE_DATABASE_URL or DATABASE_URL is not set")
	}
	fmt.Fprintf(w, "Connecting to %s\n", store.MaskPassword(dbURL))
	report, err := store.Verify(ctx, dbURL)
	if err != nil {
		title, steps := store.Remedies(store.ClassifyError(err))
		fmt.Fprintf(w, "Connection failed: %v\n\n%s\n", err, title)
		for i, s := range steps {
			fmt.Fprintf(w, "  %d. %s\n", i+1, s)
		}
		return err
	}
	fmt.Fprintf(w, "Connected\n  version:  %s\n  database: %s\n  user:     %s\n", report.Version, report.Database, report.User)
	fmt.Fprintf(w, "  tables:   %d\n", len(report.Tables))
	for _, t := range report.Tables {
		fmt.Fprintf(w, "    - %s\n", t)
	}
	return nil
}

type route struct {
	Method string
	Path   string
}

func getAllRoutes(app *fiber.App) []route {
	seen := map[route]bool{}
	var out []route
	for _, r := range app.GetRoutes(true) {
		// GET routes are mirrored under HEAD
		if r.Method == fiber.MethodHead {
			continue
		}
		k := route{Method: r.Method, Path: r.Path}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

func printRoutes(w io.Writer, app *fiber.App) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range getAllRoutes(app) {
		fmt.Fprintf(tw, "%s\t%s\n", r.Method, r.Path)
	}
	return tw.Flush()
}
