package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/profilesync/pkg/config"
	"github.com/ajitpratap0/profilesync/pkg/logger"
	"github.com/ajitpratap0/profilesync/pkg/observability"
)

var version = "0.1.0"

// overrides maps viper keys to the flag that sets them. Each key can also be
// set through PROFILESYNC_<KEY> with dots replaced by underscores.
var overrides = []struct {
	key, flag, usage string
}{
	{"backend", "backend", "Table backend: sheets, csv or memory"},
	{"sheets.spreadsheet_id", "spreadsheet-id", "Google Sheets spreadsheet id"},
	{"sheets.credentials_file", "credentials", "Service-account key file"},
	{"csv.dir", "csv-dir", "Directory of the csv backend"},
	{"source.base_url", "source-url", "Profile source base URL"},
	{"metrics.addr", "metrics-addr", "Serve Prometheus metrics on this address"},
	{"run.interval", "interval", "Scheduler interval (serve only)"},
	{"run.max_profiles", "max-profiles", "Stop a run after this many profiles"},
	{"log.level", "log-level", "Log level (debug, info, warn, error)"},
	{"tracing.enabled", "tracing", "Export traces to stderr"},
}

// app carries what every subcommand needs once the root has loaded the
// configuration.
type app struct {
	v       *viper.Viper
	cfg     *config.Config
	log     *zap.Logger
	closers []func(context.Context) error
}

func main() {
	_ = godotenv.Load() // .env is optional

	a := &app{v: viper.New()}
	a.v.SetEnvPrefix("PROFILESYNC")
	a.v.SetEnvKeyReplacer(newEnvReplacer())
	a.v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "profilesync",
		Short: "Keep a profile table in sync with a profile source",
		Long: `profilesync fetches every pending profile on the worklist tab, writes
new and changed profiles to the top of the profile tab and records
each change in the audit tab.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close(context.Background())
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "Path to YAML configuration file")
	_ = a.v.BindPFlag("config", flags.Lookup("config"))
	for _, o := range overrides {
		flags.String(o.flag, "", o.usage)
		_ = a.v.BindPFlag(o.key, flags.Lookup(o.flag))
	}

	root.AddCommand(
		versionCmd(),
		runCmd(a),
		serveCmd(a),
		pendingCmd(a),
		sortCmd(a),
		configCmd(a),
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		_ = a.close(context.Background())
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration, applies flag and environment overrides and
// initializes logging and tracing.
func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(a.v.GetString("config"))
	if err != nil {
		return err
	}
	if err := a.applyOverrides(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		Encoding:    cfg.Log.Encoding,
		OutputPaths: cfg.Log.OutputPaths,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.log = logger.Get()

	shutdown, err := observability.Init(ctx, observability.FromConfig(cfg.Tracing, version), a.log)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func(ctx context.Context) error { return shutdown(ctx) })
	return nil
}

func (a *app) applyOverrides(cfg *config.Config) error {
	set := func(key string) bool { return a.v.IsSet(key) && a.v.GetString(key) != "" }

	if set("backend") {
		cfg.Backend = a.v.GetString("backend")
	}
	if set("sheets.spreadsheet_id") {
		cfg.Sheets.SpreadsheetID = a.v.GetString("sheets.spreadsheet_id")
	}
	if set("sheets.credentials_file") {
		cfg.Sheets.CredentialsFile = a.v.GetString("sheets.credentials_file")
	}
	if set("csv.dir") {
		cfg.CSV.Dir = a.v.GetString("csv.dir")
	}
	if set("source.base_url") {
		cfg.Source.BaseURL = a.v.GetString("source.base_url")
	}
	if set("metrics.addr") {
		cfg.Metrics.Addr = a.v.GetString("metrics.addr")
	}
	if set("log.level") {
		cfg.Log.Level = a.v.GetString("log.level")
	}
	if set("run.interval") {
		d := a.v.GetDuration("run.interval")
		if d <= 0 {
			return fmt.Errorf("invalid run.interval %q", a.v.GetString("run.interval"))
		}
		cfg.Run.Interval = d
	}
	if set("run.max_profiles") {
		n := a.v.GetInt("run.max_profiles")
		if n < 0 {
			return fmt.Errorf("run.max_profiles cannot be negative")
		}
		cfg.Run.MaxProfiles = n
	}
	if set("tracing.enabled") {
		cfg.Tracing.Enabled = a.v.GetBool("tracing.enabled")
	}
	return nil
}

func newEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}

func (a *app) close(ctx context.Context) error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	if a.log != nil {
		_ = logger.Sync()
	}
	return first
}
