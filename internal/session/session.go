// Package session implements the statebridge use cases over one backend
// connection: load/save of the primary state row, backup snapshots, and the
// auto-backup timer. A Session is the explicit owner of the client handle,
// the last-known-state cache, and the timer; callers construct one and pass
// it around instead of relying on package globals.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jaakkos/statebridge/internal/domain"
	"github.com/jaakkos/statebridge/internal/localstore"
	"github.com/jaakkos/statebridge/internal/policy"
	"github.com/jaakkos/statebridge/internal/restapi"
)

// TableClient is the backend surface the session needs. Implementation:
// internal/restapi.
type TableClient interface {
	SelectState(ctx context.Context) (*domain.StateRecord, error)
	UpsertState(ctx context.Context, rec domain.StateRecord) error
	InsertBackup(ctx context.Context, rec domain.BackupRecord) error
	SelectBackups(ctx context.Context) ([]domain.BackupRecord, error)
	SelectBackup(ctx context.Context, id string) (*domain.BackupRecord, error)
}

// Session runs statebridge operations. Zero value is not usable; construct
// with New, then Connect before any other call.
type Session struct {
	store  *localstore.Store
	cfg    *policy.Config
	logger *log.Logger

	// newClient builds the table client from validated credentials.
	// Replaced in tests.
	newClient func(domain.Credentials) TableClient

	mu     sync.Mutex
	client TableClient
	creds  domain.Credentials
	cached json.RawMessage
	ab     *autoBackup
}

// New returns an unconnected session.
func New(store *localstore.Store, cfg *policy.Config, logger *log.Logger) *Session {
	return &Session{
		store:  store,
		cfg:    cfg,
		logger: logger,
		newClient: func(creds domain.Credentials) TableClient {
			return restapi.New(creds, restapi.WithTimeout(time.Duration(cfg.HTTPTimeoutSeconds)*time.Second))
		},
	}
}

// Connect resolves credentials, validates them, persists them to the local
// store, and builds the backend client. Resolution order: the explicit
// argument, then the local store, then config/env fallback. Calling Connect
// again replaces the client handle.
func (s *Session) Connect(ctx context.Context, explicit *domain.Credentials) error {
	creds, err := s.resolveCredentials(explicit)
	if err != nil {
		return err
	}
	if err := policy.ValidateCredentials(creds); err != nil {
		return err
	}

	// Persist so the next run can connect without arguments.
	if err := s.store.Put(localstore.KeyEndpoint, creds.Endpoint); err != nil {
		return fmt.Errorf("persist endpoint: %w", err)
	}
	if err := s.store.Put(localstore.KeyAPIKey, creds.APIKey); err != nil {
		return fmt.Errorf("persist api key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
	s.client = s.newClient(creds)
	if s.cached == nil {
		if v, ok, _ := s.store.Get(localstore.KeyLastState); ok {
			s.cached = json.RawMessage(v)
		}
	}
	s.logger.Printf("Session: connected to %s", creds.Endpoint)
	return nil
}

func (s *Session) resolveCredentials(explicit *domain.Credentials) (domain.Credentials, error) {
	if explicit != nil {
		return *explicit, nil
	}
	var creds domain.Credentials
	endpoint, okE, err := s.store.Get(localstore.KeyEndpoint)
	if err != nil {
		return creds, fmt.Errorf("read stored endpoint: %w", err)
	}
	key, okK, err := s.store.Get(localstore.KeyAPIKey)
	if err != nil {
		return creds, fmt.Errorf("read stored api key: %w", err)
	}
	if okE && okK {
		return domain.Credentials{Endpoint: endpoint, APIKey: key}, nil
	}
	return s.cfg.Fallback(), nil
}

// Connected reports whether Connect has succeeded.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// Credentials returns the active credentials (zero value before Connect).
func (s *Session) Credentials() domain.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

func (s *Session) tableClient() (TableClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, domain.ErrNotConnected
	}
	return s.client, nil
}

// Load fetches the current state from the primary table. An empty table
// yields (nil, nil), never an error. On success the cache is refreshed.
func (s *Session) Load(ctx context.Context) (json.RawMessage, error) {
	client, err := s.tableClient()
	if err != nil {
		return nil, err
	}
	rec, err := client.SelectState(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.updateCache(rec.Data)
	return rec.Data, nil
}

// Save writes state to the primary table. A best-effort backup snapshot is
// taken first; its failure is logged and ignored, and never blocks the
// primary write. Only the primary upsert can fail the call. On success the
// cache is refreshed.
func (s *Session) Save(ctx context.Context, state json.RawMessage) error {
	client, err := s.tableClient()
	if err != nil {
		return err
	}

	// Advisory pre-save snapshot. CreateBackup swallows its own failures.
	s.CreateBackup(ctx, state)

	rec := domain.StateRecord{ID: domain.StateRowID, Data: state}
	if err := client.UpsertState(ctx, rec); err != nil {
		return err
	}
	s.updateCache(state)
	return nil
}

// Cached returns the last-known state: the in-memory copy from the most
// recent Load/Save/Restore, falling back to the persisted copy from a
// previous run. Nil when nothing is known.
func (s *Session) Cached() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return s.cached
	}
	if v, ok, _ := s.store.Get(localstore.KeyLastState); ok {
		s.cached = json.RawMessage(v)
		return s.cached
	}
	return nil
}

// updateCache refreshes the in-memory cache and, best-effort, the persisted
// copy in the local store.
func (s *Session) updateCache(state json.RawMessage) {
	s.mu.Lock()
	s.cached = state
	s.mu.Unlock()
	if err := s.store.Put(localstore.KeyLastState, string(state)); err != nil {
		s.logger.Printf("Warning: persist state cache failed: %v", err)
	}
}

// Close stops the auto-backup timer. It does not close the local store;
// the store's owner does that.
func (s *Session) Close() {
	s.StopAutoBackup()
}
