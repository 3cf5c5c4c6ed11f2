package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"corpvpn/internal/storage"
	"corpvpn/internal/storage/models"
)

// dbHandle is the common interface between *sql.DB and *sql.Tx.
type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB implements the Storage interface using SQLite
type DB struct {
	db *sql.DB
}

// New creates a new SQLite storage instance
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer keeps the journal and the cache refresh from contending.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	storage := &DB{db: db}
	if err := runMigrations(storage); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) handle() dbHandle { return d.db }

// BeginTx starts a new transaction
func (d *DB) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx implements the Transaction interface
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error    { return t.tx.Commit() }
func (t *Tx) Rollback() error  { return t.tx.Rollback() }
func (t *Tx) handle() dbHandle { return t.tx }

func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *Tx) Close() error { return nil }

// ─── Node operations ────────────────────────────────────────────────────────

func (d *DB) UpsertNode(ctx context.Context, node *models.Node) error {
	return upsertNode(ctx, d.handle(), node)
}
func (t *Tx) UpsertNode(ctx context.Context, node *models.Node) error {
	return upsertNode(ctx, t.handle(), node)
}

// upsertNode inserts node, or refreshes the row that already has its URI.
// Existing rows keep their id so probe history stays attached.
func upsertNode(ctx context.Context, h dbHandle, node *models.Node) error {
	query := `
		INSERT INTO nodes (name, address, port, network, uri, source)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET
			name = excluded.name, address = excluded.address, port = excluded.port,
			network = excluded.network, source = excluded.source
		RETURNING id
	`
	err := h.QueryRowContext(ctx, query,
		node.Name, node.Address, node.Port, node.Network, node.URI, node.Source,
	).Scan(&node.ID)
	if err != nil {
		return fmt.Errorf("failed to save node: %w", err)
	}
	return nil
}

const nodeColumns = `id, name, address, port, network, uri, source, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(s rowScanner) (*models.Node, error) {
	node := &models.Node{}
	err := s.Scan(
		&node.ID, &node.Name, &node.Address, &node.Port, &node.Network,
		&node.URI, &node.Source, &node.CreatedAt, &node.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return node, nil
}

func (d *DB) GetNode(ctx context.Context, id int64) (*models.Node, error) {
	return getNode(ctx, d.handle(), id)
}
func (t *Tx) GetNode(ctx context.Context, id int64) (*models.Node, error) {
	return getNode(ctx, t.handle(), id)
}

func getNode(ctx context.Context, h dbHandle, id int64) (*models.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE id = ?`
	return scanNode(h.QueryRowContext(ctx, query, id))
}

func (d *DB) GetNodeByURI(ctx context.Context, uri string) (*models.Node, error) {
	return getNodeByURI(ctx, d.handle(), uri)
}
func (t *Tx) GetNodeByURI(ctx context.Context, uri string) (*models.Node, error) {
	return getNodeByURI(ctx, t.handle(), uri)
}

func getNodeByURI(ctx context.Context, h dbHandle, uri string) (*models.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE uri = ?`
	return scanNode(h.QueryRowContext(ctx, query, uri))
}

func (d *DB) GetAllNodes(ctx context.Context, filter storage.NodeFilter) ([]*models.Node, error) {
	return getAllNodes(ctx, d.handle(), filter)
}
func (t *Tx) GetAllNodes(ctx context.Context, filter storage.NodeFilter) ([]*models.Node, error) {
	return getAllNodes(ctx, t.handle(), filter)
}

func getAllNodes(ctx context.Context, h dbHandle, filter storage.NodeFilter) ([]*models.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE 1=1`
	var args []interface{}

	if filter.Source != nil {
		query += " AND source = ?"
		args = append(args, *filter.Source)
	}
	if filter.Network != nil {
		query += " AND network = ?"
		args = append(args, *filter.Network)
	}
	if filter.SearchTerm != "" {
		query += " AND (name LIKE ? OR address LIKE ?)"
		term := "%" + filter.SearchTerm + "%"
		args = append(args, term, term)
	}
	query += " ORDER BY id ASC"

	rows, err := h.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*models.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

func (d *DB) DeleteNodesBySource(ctx context.Context, source string, keep []string) (int, error) {
	return deleteNodesBySource(ctx, d.handle(), source, keep)
}
func (t *Tx) DeleteNodesBySource(ctx context.Context, source string, keep []string) (int, error) {
	return deleteNodesBySource(ctx, t.handle(), source, keep)
}

// deleteNodesBySource removes the source's nodes whose URI is not in keep.
func deleteNodesBySource(ctx context.Context, h dbHandle, source string, keep []string) (int, error) {
	query := "DELETE FROM nodes WHERE source = ?"
	args := []interface{}{source}
	if len(keep) > 0 {
		query += " AND uri NOT IN (" + strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",") + ")"
		for _, uri := range keep {
			args = append(args, uri)
		}
	}

	result, err := h.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete nodes: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ─── Latency operations ─────────────────────────────────────────────────────

func (d *DB) RecordLatency(ctx context.Context, latency *models.LatencyTest) error {
	return recordLatency(ctx, d.handle(), latency)
}
func (t *Tx) RecordLatency(ctx context.Context, latency *models.LatencyTest) error {
	return recordLatency(ctx, t.handle(), latency)
}

func recordLatency(ctx context.Context, h dbHandle, latency *models.LatencyTest) error {
	if latency.TestedAt.IsZero() {
		latency.TestedAt = time.Now()
	}
	query := `
		INSERT INTO latency_tests (node_id, latency_ms, success, error_message, test_strategy, tested_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := h.ExecContext(ctx, query,
		latency.NodeID, latency.LatencyMS, latency.Success, latency.ErrorMessage,
		latency.TestStrategy, latency.TestedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record latency: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	latency.ID = id
	return nil
}

func scanLatency(s rowScanner) (*models.LatencyTest, error) {
	latency := &models.LatencyTest{}
	err := s.Scan(
		&latency.ID, &latency.NodeID, &latency.LatencyMS, &latency.Success,
		&latency.ErrorMessage, &latency.TestStrategy, &latency.TestedAt,
	)
	return latency, err
}

func (d *DB) GetLatestLatency(ctx context.Context, nodeID int64) (*models.LatencyTest, error) {
	return getLatestLatency(ctx, d.handle(), nodeID)
}
func (t *Tx) GetLatestLatency(ctx context.Context, nodeID int64) (*models.LatencyTest, error) {
	return getLatestLatency(ctx, t.handle(), nodeID)
}

func getLatestLatency(ctx context.Context, h dbHandle, nodeID int64) (*models.LatencyTest, error) {
	query := `
		SELECT id, node_id, latency_ms, success, error_message, test_strategy, tested_at
		FROM latency_tests
		WHERE node_id = ?
		ORDER BY tested_at DESC, id DESC
		LIMIT 1
	`
	latency, err := scanLatency(h.QueryRowContext(ctx, query, nodeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return latency, nil
}

func (d *DB) GetLatencyHistory(ctx context.Context, nodeID int64, limit int) ([]*models.LatencyTest, error) {
	return getLatencyHistory(ctx, d.handle(), nodeID, limit)
}
func (t *Tx) GetLatencyHistory(ctx context.Context, nodeID int64, limit int) ([]*models.LatencyTest, error) {
	return getLatencyHistory(ctx, t.handle(), nodeID, limit)
}

func getLatencyHistory(ctx context.Context, h dbHandle, nodeID int64, limit int) ([]*models.LatencyTest, error) {
	query := `
		SELECT id, node_id, latency_ms, success, error_message, test_strategy, tested_at
		FROM latency_tests
		WHERE node_id = ?
		ORDER BY tested_at DESC, id DESC
		LIMIT ?
	`
	rows, err := h.QueryContext(ctx, query, nodeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*models.LatencyTest
	for rows.Next() {
		latency, err := scanLatency(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, latency)
	}
	return history, rows.Err()
}

// ─── Settings operations ────────────────────────────────────────────────────

func (d *DB) GetSetting(ctx context.Context, key string) (string, error) {
	return getSetting(ctx, d.handle(), key)
}
func (t *Tx) GetSetting(ctx context.Context, key string) (string, error) {
	return getSetting(ctx, t.handle(), key)
}

// getSetting returns "" for an unset key.
func getSetting(ctx context.Context, h dbHandle, key string) (string, error) {
	var value string
	err := h.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (d *DB) SetSetting(ctx context.Context, key, value string) error {
	return setSetting(ctx, d.handle(), key, value)
}
func (t *Tx) SetSetting(ctx context.Context, key, value string) error {
	return setSetting(ctx, t.handle(), key, value)
}

func setSetting(ctx context.Context, h dbHandle, key, value string) error {
	query := `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	_, err := h.ExecContext(ctx, query, key, value)
	return err
}

// ─── Session journal ────────────────────────────────────────────────────────

func (d *DB) OpenSession(ctx context.Context, session *models.Session) error {
	return openSession(ctx, d.handle(), session)
}
func (t *Tx) OpenSession(ctx context.Context, session *models.Session) error {
	return openSession(ctx, t.handle(), session)
}

func openSession(ctx context.Context, h dbHandle, session *models.Session) error {
	query := `
		INSERT INTO sessions (id, server, tun_enabled, pid, started_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := h.ExecContext(ctx, query,
		session.ID, session.Server, session.TunEnabled, session.PID, session.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	return nil
}

func (d *DB) CloseSession(ctx context.Context, id string, endedAt time.Time, totalBytes uint64, reason string) error {
	return closeSession(ctx, d.handle(), id, endedAt, totalBytes, reason)
}
func (t *Tx) CloseSession(ctx context.Context, id string, endedAt time.Time, totalBytes uint64, reason string) error {
	return closeSession(ctx, t.handle(), id, endedAt, totalBytes, reason)
}

func closeSession(ctx context.Context, h dbHandle, id string, endedAt time.Time, totalBytes uint64, reason string) error {
	query := `
		UPDATE sessions SET ended_at = ?, total_bytes = ?, reason = ?
		WHERE id = ? AND ended_at IS NULL
	`
	result, err := h.ExecContext(ctx, query, endedAt.UTC(), int64(totalBytes), reason, id)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("open session %s %w", id, storage.ErrNotFound)
	}
	return nil
}

func (d *DB) GetSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	return getSessions(ctx, d.handle(), limit)
}
func (t *Tx) GetSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	return getSessions(ctx, t.handle(), limit)
}

// getSessions returns the newest sessions first.
func getSessions(ctx context.Context, h dbHandle, limit int) ([]*models.Session, error) {
	query := `
		SELECT id, server, tun_enabled, pid, started_at, ended_at, total_bytes, reason
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := h.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s := &models.Session{}
		var total int64
		if err := rows.Scan(
			&s.ID, &s.Server, &s.TunEnabled, &s.PID, &s.StartedAt, &s.EndedAt, &total, &s.Reason,
		); err != nil {
			return nil, err
		}
		s.TotalBytes = uint64(total)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
