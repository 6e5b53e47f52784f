// Package restapi is the PostgREST table client for the hosted backend.
// It speaks to exactly two tables: app_data (the single-row primary table)
// and app_backups (the append-only snapshot table).
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jaakkos/statebridge/internal/domain"
)

const (
	// restPrefix is the PostgREST mount point on the backend endpoint.
	restPrefix = "/rest/v1"

	tableState   = "app_data"
	tableBackups = "app_backups"
)

// Client executes table operations against one backend project.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (used by tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout (default 15s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New returns a client for the given endpoint and API key. The credentials
// are assumed to be validated already (policy.ValidateCredentials).
func New(creds domain.Credentials, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(creds.Endpoint, "/"),
		apiKey:  creds.APIKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SelectState fetches the single primary row. Returns domain.ErrNotFound
// when the table has no row yet.
func (c *Client) SelectState(ctx context.Context) (*domain.StateRecord, error) {
	q := url.Values{}
	q.Set("id", "eq."+domain.StateRowID)
	q.Set("select", "*")

	var rows []domain.StateRecord
	if err := c.get(ctx, "select "+tableState, tableState, q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.ErrNotFound
	}
	return &rows[0], nil
}

// UpsertState writes the primary row, inserting or replacing by id. The
// backend's merge-duplicates resolution makes this last-writer-wins.
func (c *Client) UpsertState(ctx context.Context, rec domain.StateRecord) error {
	return c.post(ctx, "upsert "+tableState, tableState, rec, true)
}

// InsertBackup appends one immutable snapshot row.
func (c *Client) InsertBackup(ctx context.Context, rec domain.BackupRecord) error {
	return c.post(ctx, "insert "+tableBackups, tableBackups, rec, false)
}

// SelectBackups fetches all backup rows, newest first.
func (c *Client) SelectBackups(ctx context.Context) ([]domain.BackupRecord, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "created_at.desc")

	var rows []domain.BackupRecord
	if err := c.get(ctx, "select "+tableBackups, tableBackups, q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// SelectBackup fetches one backup by id. Returns domain.ErrNotFound when no
// such row exists.
func (c *Client) SelectBackup(ctx context.Context, id string) (*domain.BackupRecord, error) {
	q := url.Values{}
	q.Set("id", "eq."+id)
	q.Set("select", "*")

	var rows []domain.BackupRecord
	if err := c.get(ctx, "select "+tableBackups, tableBackups, q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.ErrNotFound
	}
	return &rows[0], nil
}

func (c *Client) get(ctx context.Context, op, table string, q url.Values, out any) error {
	u := fmt.Sprintf("%s%s/%s?%s", c.baseURL, restPrefix, table, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &domain.RemoteError{Op: op, Err: err}
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.RemoteError{Op: op, Status: resp.StatusCode, Err: readErrBody(resp.Body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.RemoteError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) post(ctx context.Context, op, table string, row any, upsert bool) error {
	body, err := json.Marshal(row)
	if err != nil {
		return &domain.RemoteError{Op: op, Err: fmt.Errorf("encode row: %w", err)}
	}
	u := fmt.Sprintf("%s%s/%s", c.baseURL, restPrefix, table)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return &domain.RemoteError{Op: op, Err: err}
	}
	c.setHeaders(req)
	if upsert {
		req.Header.Set("Prefer", "resolution=merge-duplicates")
	} else {
		req.Header.Set("Prefer", "return=minimal")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.RemoteError{Op: op, Status: resp.StatusCode}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// readErrBody captures a short error body for diagnostics. PostgREST error
// payloads are small JSON objects; anything longer is truncated.
func readErrBody(r io.Reader) error {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(b) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.TrimSpace(string(b)))
}
