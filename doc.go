// Package profilesync keeps a single profile table, held in a quota-limited
// spreadsheet backend, in sync with an external profile source.
//
// Every run reads the worklist tab, fetches each pending profile, and upserts
// it into the profile tab so that the most recently touched profiles sit at the
// top. Each nickname owns exactly one row. Changes are detected field by field
// and only changed profiles cost a write.
//
// # Architecture
//
// The synchronization core is built from small components, leaves first:
//
//  1. Rate-limited writer (internal/writer): every backend call goes through
//     bounded retry with quota-aware linear backoff and a short exponential
//     backoff for transient failures.
//
//  2. Adaptive pacer (internal/pacer): a randomized delay between source
//     fetches that widens on rate-limit signals and relaxes when quiet.
//
//  3. Record index (internal/index): nickname to row and last-known values,
//     kept consistent through every structural mutation.
//
//  4. Change detector (internal/diff): field-level diff with ignored volatile
//     fields and keep-old-if-blank rules.
//
//  5. Upsert engine (internal/upsert): insert, promote or update, and one
//     outcome per call (new, updated, unchanged, skipped, error).
//
//  6. Batch coalescer (internal/batch): optional write coalescing with an
//     adaptive batch size.
//
// # Quick Start
//
// Process the worklist once against a local CSV directory:
//
//	cfg := config.Default()
//	cfg.Backend = config.BackendCSV
//	cfg.CSV.Dir = "data"
//	cfg.Source.BaseURL = "https://profiles.example/api"
//
//	backend, _ := csvtable.Open(cfg.CSV.Dir, log)
//	fetcher, _ := source.NewHTTPFetcher(cfg.Source, log)
//
//	summary, err := pipeline.NewSession(cfg, backend, fetcher, log).Run(ctx)
//
// # Key Packages
//
//	pkg/profile          - Fixed record schema and field normalization
//	pkg/config           - Unified configuration (YAML, ${VAR} substitution)
//	pkg/errors           - Typed errors driving retry decisions
//	pkg/logger           - Structured logging
//	pkg/metrics          - Prometheus collectors
//	pkg/observability    - OpenTelemetry tracing
//	internal/table/...   - Backends: sheets, csv, memory
//	internal/pipeline    - Sessions and the scheduler
//
// # Command Line
//
//	profilesync run --config profilesync.yaml
//	profilesync serve --interval 30m --metrics-addr :9102
//	profilesync pending
//	profilesync sort
//
// Environment variables with the PROFILESYNC_ prefix override the same keys,
// and a .env file in the working directory is loaded first.
package profilesync
