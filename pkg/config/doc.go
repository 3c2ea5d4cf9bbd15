// Package config provides the configuration model for profilesync.
//
// Configuration is a single YAML document loaded on top of Default(), with
// ${VAR_NAME} environment substitution applied before parsing:
//
//	backend: sheets
//	sheets:
//	  spreadsheet_id: ${PROFILESYNC_SHEET_ID}
//	  credentials_file: /etc/profilesync/sa.json
//	writer:
//	  max_attempts: 3
//	  quota_backoff: 60s
//	pacer:
//	  min_delay: 300ms
//	  max_delay: 3s
//
// Durations use Go syntax (300ms, 1m30s). Validate rejects unknown backends,
// inverted delay windows, and a top row that would overwrite the header.
package config
