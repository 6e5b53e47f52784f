// Package domain holds the statebridge entities and error taxonomy.
// It has no dependencies on other packages.
package domain

import (
	"encoding/json"
	"time"
)

// StateRowID is the fixed id of the single primary-table row. The backend
// upserts by this id, so there is never more than one current state.
const StateRowID = "global_state"

// Credentials identify a backend project: its REST endpoint and the public
// API key (a JWT, validated for shape only — we never verify the signature).
type Credentials struct {
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// StateRecord is the single row of the primary table (app_data). Data is the
// application state, opaque to statebridge.
type StateRecord struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// BackupRecord is one row of the append-only backup table (app_backups).
// Backups are immutable once written.
type BackupRecord struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}
