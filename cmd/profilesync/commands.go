package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/profilesync/internal/pipeline"
	"github.com/ajitpratap0/profilesync/internal/runlock"
	"github.com/ajitpratap0/profilesync/internal/source"
	"github.com/ajitpratap0/profilesync/internal/table"
	"github.com/ajitpratap0/profilesync/internal/table/csvtable"
	"github.com/ajitpratap0/profilesync/internal/table/memtable"
	"github.com/ajitpratap0/profilesync/internal/table/sheets"
	"github.com/ajitpratap0/profilesync/internal/upsert"
	"github.com/ajitpratap0/profilesync/pkg/config"
	"github.com/ajitpratap0/profilesync/pkg/observability"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("profilesync v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func runCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process the pending worklist once",
		Long: `Run fetches every pending worklist entry once and upserts it into the
profile tab. It refuses to start while another run holds the run lock.

Example:
  profilesync run --config profilesync.yaml --max-profiles 100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.serveMetrics()
			sess, err := a.session(ctx, true)
			if err != nil {
				return err
			}
			sum, err := sess.Run(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sum)
			}
			printSummary(cmd, sum)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run summary as JSON")
	return cmd
}

func serveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run on a fixed interval and serve metrics",
		Long: `Serve starts a run immediately and then every run.interval. Ticks that
find a run in progress are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.serveMetrics()
			sched := pipeline.NewScheduler(pipeline.RunnerFunc(func(ctx context.Context) (pipeline.Summary, error) {
				sess, err := a.session(ctx, true)
				if err != nil {
					return pipeline.Summary{}, err
				}
				return sess.Run(ctx)
			}), a.cfg.Run, a.log)
			return sched.Start(ctx)
		},
	}
}

func pendingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List the worklist entries the next run will process",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session(cmd.Context(), false)
			if err != nil {
				return err
			}
			keys, err := sess.Worklist().PendingKeys(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ROW\tNICKNAME\tSOURCE")
			for _, k := range keys {
				fmt.Fprintf(w, "%d\t%s\t%s\n", k.Row, k.Nickname, k.Source)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d pending\n", len(keys))
			return nil
		},
	}
}

func sortCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sort",
		Short: "Sort the profile tab by last post time, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			lock, err := runlock.Acquire(a.cfg.Run.LockPath, a.cfg.Run.LockTTL)
			if err != nil {
				return err
			}
			defer func() { _ = lock.Release() }()

			sess, err := a.session(cmd.Context(), false)
			if err != nil {
				return err
			}
			if err := sess.Engine().SortByRecency(cmd.Context()); err != nil {
				return err
			}
			a.log.Info("profile tab sorted", zap.String("tab", a.cfg.Tabs.Profiles))
			return nil
		},
	}
}

func configCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			masked := *a.cfg
			if masked.Sheets.CredentialsJSON != "" {
				masked.Sheets.CredentialsJSON = "***"
			}
			if masked.Source.Token != "" {
				masked.Source.Token = "***"
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(&masked); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

// session opens the configured backend and wires a new session around it.
// Commands that never fetch pass withSource false and need no source URL.
func (a *app) session(ctx context.Context, withSource bool) (*pipeline.Session, error) {
	backend, err := openBackend(ctx, a.cfg, a.log)
	if err != nil {
		return nil, err
	}
	var fetcher source.Fetcher
	if withSource {
		f, err := source.NewHTTPFetcher(a.cfg.Source, a.log)
		if err != nil {
			return nil, err
		}
		fetcher = f
	}
	return pipeline.NewSession(a.cfg, backend, fetcher, a.log), nil
}

func openBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (table.Backend, error) {
	switch cfg.Backend {
	case config.BackendSheets:
		c, err := sheets.New(ctx, cfg.Sheets, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.BackendCSV:
		t, err := csvtable.Open(cfg.CSV.Dir, log)
		if err != nil {
			return nil, err
		}
		return t, nil
	case config.BackendMemory:
		log.Warn("memory backend selected, nothing will be persisted")
		return memtable.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// serveMetrics exposes /metrics on metrics.addr until the command exits. It
// is a no-op when no address is configured.
func (a *app) serveMetrics() {
	addr := a.cfg.Metrics.Addr
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if runlock.Held(a.cfg.Run.LockPath, a.cfg.Run.LockTTL) {
			_, _ = w.Write([]byte("running\n"))
			return
		}
		_, _ = w.Write([]byte("idle\n"))
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           observability.TracingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("metrics server failed", zap.Error(err))
		}
	}()
	a.closers = append(a.closers, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
	a.log.Info("serving metrics", zap.String("addr", addr))
}

func printSummary(cmd *cobra.Command, sum pipeline.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: %d of %d processed in %s\n",
		sum.RunID, sum.Processed, sum.Pending, sum.Duration.Round(time.Millisecond))
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, status := range upsert.Statuses() {
		if n := sum.Counts[status]; n > 0 {
			fmt.Fprintf(w, "  %s\t%d\n", status, n)
		}
	}
	_ = w.Flush()
	if sum.Stopped != "" {
		fmt.Fprintf(out, "stopped early: %s\n", sum.Stopped)
	}
	for _, e := range sum.Errors {
		fmt.Fprintf(out, "  error %s: %s\n", e.Key, e.Error)
	}
}
