// Package config provides the unified configuration for profilesync.
// A single Config structure drives every component of a run, organized into
// logical sections:
//   - Backend / Sheets / CSV: where the profile table lives
//   - Writer: retry and backoff discipline for mutating backend calls
//   - Pacer: adaptive delay between source fetches
//   - Batch: optional write coalescing
//   - Upsert: row promotion and change-detection policy
//   - Worklist / Source / Run: orchestration of a single run
//   - Metrics / Tracing / Log: observability
//
// Example usage:
//
//	cfg := config.Default()
//	cfg.Sheets.SpreadsheetID = "1AbC..."
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"
)

// Backend kinds.
const (
	BackendSheets = "sheets"
	BackendCSV    = "csv"
	BackendMemory = "memory"
)

// Blank policies for incoming blank values.
const (
	// BlankPreserve keeps the stored value when the incoming one is blank.
	BlankPreserve = "preserve"
	// BlankToken writes the literal BLANK token instead of an empty cell.
	BlankToken = "token"
)

// Config is the single configuration structure for a profilesync run.
type Config struct {
	// Backend selects the table backend: sheets, csv or memory
	Backend string `yaml:"backend" json:"backend"`

	Sheets   SheetsConfig   `yaml:"sheets" json:"sheets"`
	CSV      CSVConfig      `yaml:"csv" json:"csv"`
	Tabs     TabsConfig     `yaml:"tabs" json:"tabs"`
	Writer   WriterConfig   `yaml:"writer" json:"writer"`
	Pacer    PacerConfig    `yaml:"pacer" json:"pacer"`
	Batch    BatchConfig    `yaml:"batch" json:"batch"`
	Upsert   UpsertConfig   `yaml:"upsert" json:"upsert"`
	Source   SourceConfig   `yaml:"source" json:"source"`
	Run      RunConfig      `yaml:"run" json:"run"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing" json:"tracing"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

// SheetsConfig configures the Google Sheets backend.
type SheetsConfig struct {
	// SpreadsheetID is the id segment of the spreadsheet URL
	SpreadsheetID string `yaml:"spreadsheet_id" json:"spreadsheet_id"`
	// CredentialsFile is a service-account JSON key
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
	// CredentialsJSON is an inline service-account key (takes precedence)
	CredentialsJSON string `yaml:"credentials_json" json:"credentials_json"`
	// RequestTimeout bounds a single API call
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// CSVConfig configures the local CSV-directory backend.
type CSVConfig struct {
	// Dir holds one <tab>.csv file per tab
	Dir string `yaml:"dir" json:"dir"`
}

// TabsConfig names the tabs the run touches.
type TabsConfig struct {
	Profiles string `yaml:"profiles" json:"profiles"`
	Worklist string `yaml:"worklist" json:"worklist"`
	Audit    string `yaml:"audit" json:"audit"`
	// Tags is optional; empty disables tag lookup
	Tags string `yaml:"tags" json:"tags"`
}

// WriterConfig controls the rate-limited writer.
type WriterConfig struct {
	// MaxAttempts caps the attempts per backend operation
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	// OperationDelay is slept after every successful write
	OperationDelay time.Duration `yaml:"operation_delay" json:"operation_delay"`
	// QuotaBackoff is multiplied by the attempt number after a quota rejection
	QuotaBackoff time.Duration `yaml:"quota_backoff" json:"quota_backoff"`
	// TransientDelay is the first delay of the exponential transient backoff
	TransientDelay time.Duration `yaml:"transient_delay" json:"transient_delay"`
	// TransientMaxDelay caps the transient backoff
	TransientMaxDelay time.Duration `yaml:"transient_max_delay" json:"transient_max_delay"`
}

// PacerConfig controls the adaptive fetch pacer.
type PacerConfig struct {
	// MinDelay and MaxDelay are the floor of the delay window
	MinDelay time.Duration `yaml:"min_delay" json:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`
	// MinDelayCap and MaxDelayCap are the absolute maxima of the window
	MinDelayCap time.Duration `yaml:"min_delay_cap" json:"min_delay_cap"`
	MaxDelayCap time.Duration `yaml:"max_delay_cap" json:"max_delay_cap"`
	// QuietPeriod must elapse since the last adjustment before relaxing
	QuietPeriod time.Duration `yaml:"quiet_period" json:"quiet_period"`
	// Decay multiplies both bounds when relaxing
	Decay float64 `yaml:"decay" json:"decay"`
	// RateLimitStep and RateLimitCap shape the widening factor 1+min(hits*step, cap)
	RateLimitStep float64 `yaml:"rate_limit_step" json:"rate_limit_step"`
	RateLimitCap  float64 `yaml:"rate_limit_cap" json:"rate_limit_cap"`
	// BatchEvery applies the batch-boundary nudge every N processed items (0 disables)
	BatchEvery int `yaml:"batch_every" json:"batch_every"`
	// BatchFactor multiplies both bounds at a batch boundary
	BatchFactor float64 `yaml:"batch_factor" json:"batch_factor"`
}

// BatchConfig controls the optional write coalescer.
type BatchConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// InitialSize, MinSize and MaxSize bound the adaptive batch size
	InitialSize int `yaml:"initial_size" json:"initial_size"`
	MinSize     int `yaml:"min_size" json:"min_size"`
	MaxSize     int `yaml:"max_size" json:"max_size"`
	// FlushInterval triggers a flush on Add once elapsed since the last flush
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
	// ItemPause is slept between items inside a flush
	ItemPause time.Duration `yaml:"item_pause" json:"item_pause"`
	// FastItem and SlowItem classify the mean per-item flush latency
	FastItem time.Duration `yaml:"fast_item" json:"fast_item"`
	SlowItem time.Duration `yaml:"slow_item" json:"slow_item"`
}

// UpsertConfig controls row placement and change detection.
type UpsertConfig struct {
	// TopRow is the row promoted records land on (row 1 is the header)
	TopRow int `yaml:"top_row" json:"top_row"`
	// AuditArrows formats changed cells as "old → new"
	AuditArrows bool `yaml:"audit_arrows" json:"audit_arrows"`
	// BlankPolicy is preserve or token
	BlankPolicy string `yaml:"blank_policy" json:"blank_policy"`
	// SkippedToMainTable also writes skipped profiles into the profile tab
	SkippedToMainTable bool `yaml:"skipped_to_main_table" json:"skipped_to_main_table"`
	// ProfileURLBase is prefixed to the nickname for the generated profile link
	ProfileURLBase string `yaml:"profile_url_base" json:"profile_url_base"`
	// SortAfterRun runs a full recency sort at the end of each run
	SortAfterRun bool `yaml:"sort_after_run" json:"sort_after_run"`
}

// SourceConfig configures the profile fetcher.
type SourceConfig struct {
	// BaseURL serves GET {base}/{nickname} as JSON
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Token is sent as a bearer token when set
	Token          string        `yaml:"token" json:"token"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	// MaxAttempts bounds fetch retries after rate-limit signals
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	EnableHTTP2 bool `yaml:"enable_http2" json:"enable_http2"`
}

// RunConfig controls a single run and the scheduler.
type RunConfig struct {
	// LockPath is the run-in-progress marker
	LockPath string `yaml:"lock_path" json:"lock_path"`
	// LockTTL is the age after which a leftover marker is considered stale
	LockTTL time.Duration `yaml:"lock_ttl" json:"lock_ttl"`
	// Interval is the scheduler tick
	Interval time.Duration `yaml:"interval" json:"interval"`
	// MaxProfiles stops a run after N processed items (0 = no limit)
	MaxProfiles int `yaml:"max_profiles" json:"max_profiles"`
	// SummaryPath writes the run summary as JSON when set
	SummaryPath string `yaml:"summary_path" json:"summary_path"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9102"
	Addr string `yaml:"addr" json:"addr"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string   `yaml:"level" json:"level"`
	Encoding    string   `yaml:"encoding" json:"encoding"`
	Development bool     `yaml:"development" json:"development"`
	OutputPaths []string `yaml:"output_paths" json:"output_paths"`
}

// Default returns a Config with production defaults sized for the
// Google Sheets write quota (60 writes per minute per user).
func Default() *Config {
	return &Config{
		Backend: BackendSheets,
		Sheets: SheetsConfig{
			RequestTimeout: 30 * time.Second,
		},
		CSV: CSVConfig{
			Dir: "data",
		},
		Tabs: TabsConfig{
			Profiles: "Profiles",
			Worklist: "RunList",
			Audit:    "Audit",
			Tags:     "Tags",
		},
		Writer: WriterConfig{
			MaxAttempts:       3,
			OperationDelay:    time.Second,
			QuotaBackoff:      60 * time.Second,
			TransientDelay:    time.Second,
			TransientMaxDelay: 8 * time.Second,
		},
		Pacer: PacerConfig{
			MinDelay:      300 * time.Millisecond,
			MaxDelay:      3 * time.Second,
			MinDelayCap:   3 * time.Second,
			MaxDelayCap:   6 * time.Second,
			QuietPeriod:   10 * time.Second,
			Decay:         0.95,
			RateLimitStep: 0.25,
			RateLimitCap:  1.0,
			BatchEvery:    50,
			BatchFactor:   1.1,
		},
		Batch: BatchConfig{
			Enabled:       false,
			InitialSize:   10,
			MinSize:       2,
			MaxSize:       25,
			FlushInterval: 2 * time.Minute,
			ItemPause:     500 * time.Millisecond,
			FastItem:      2 * time.Second,
			SlowItem:      10 * time.Second,
		},
		Upsert: UpsertConfig{
			TopRow:       2,
			AuditArrows:  false,
			BlankPolicy:  BlankPreserve,
			SortAfterRun: true,
		},
		Source: SourceConfig{
			RequestTimeout: 20 * time.Second,
			MaxAttempts:    3,
			EnableHTTP2:    true,
		},
		Run: RunConfig{
			LockPath: "profilesync.lock",
			LockTTL:  2 * time.Hour,
			Interval: 30 * time.Minute,
		},
		Tracing: TracingConfig{
			SamplingRate: 0.1,
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSheets:
		if c.Sheets.SpreadsheetID == "" {
			return fmt.Errorf("sheets.spreadsheet_id is required")
		}
		if c.Sheets.CredentialsFile == "" && c.Sheets.CredentialsJSON == "" {
			return fmt.Errorf("sheets.credentials_file or sheets.credentials_json is required")
		}
	case BackendCSV:
		if c.CSV.Dir == "" {
			return fmt.Errorf("csv.dir is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Tabs.Profiles == "" || c.Tabs.Worklist == "" || c.Tabs.Audit == "" {
		return fmt.Errorf("tabs.profiles, tabs.worklist and tabs.audit are required")
	}
	if c.Writer.MaxAttempts <= 0 {
		return fmt.Errorf("writer.max_attempts must be positive")
	}
	if c.Writer.QuotaBackoff < 0 || c.Writer.OperationDelay < 0 || c.Writer.TransientDelay < 0 {
		return fmt.Errorf("writer delays cannot be negative")
	}
	if err := c.Pacer.validate(); err != nil {
		return err
	}
	if c.Batch.Enabled {
		if c.Batch.MinSize <= 0 || c.Batch.MaxSize < c.Batch.MinSize {
			return fmt.Errorf("batch sizes must satisfy 0 < min_size <= max_size")
		}
	}
	if c.Upsert.TopRow < 2 {
		return fmt.Errorf("upsert.top_row must be at least 2 (row 1 is the header)")
	}
	if c.Upsert.BlankPolicy != BlankPreserve && c.Upsert.BlankPolicy != BlankToken {
		return fmt.Errorf("upsert.blank_policy must be %q or %q", BlankPreserve, BlankToken)
	}
	if c.Source.MaxAttempts <= 0 {
		return fmt.Errorf("source.max_attempts must be positive")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate must be within [0,1]")
	}
	return nil
}

func (p *PacerConfig) validate() error {
	if p.MinDelay <= 0 || p.MaxDelay < p.MinDelay {
		return fmt.Errorf("pacer delays must satisfy 0 < min_delay <= max_delay")
	}
	if p.MinDelayCap < p.MinDelay || p.MaxDelayCap < p.MaxDelay {
		return fmt.Errorf("pacer caps must not be below their floors")
	}
	if p.Decay <= 0 || p.Decay > 1 {
		return fmt.Errorf("pacer.decay must be within (0,1]")
	}
	if p.RateLimitStep < 0 || p.RateLimitCap < 0 {
		return fmt.Errorf("pacer rate limit step and cap cannot be negative")
	}
	if p.BatchFactor < 1 {
		return fmt.Errorf("pacer.batch_factor must be at least 1")
	}
	return nil
}
