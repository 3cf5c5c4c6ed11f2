package storage

import (
	"context"
	"errors"
	"time"

	"corpvpn/internal/storage/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Storage defines the interface for data persistence
type Storage interface {
	// Node operations
	UpsertNode(ctx context.Context, node *models.Node) error
	GetNode(ctx context.Context, id int64) (*models.Node, error)
	GetNodeByURI(ctx context.Context, uri string) (*models.Node, error)
	GetAllNodes(ctx context.Context, filter NodeFilter) ([]*models.Node, error)
	DeleteNodesBySource(ctx context.Context, source string, keep []string) (int, error)

	// Latency operations
	RecordLatency(ctx context.Context, latency *models.LatencyTest) error
	GetLatestLatency(ctx context.Context, nodeID int64) (*models.LatencyTest, error)
	GetLatencyHistory(ctx context.Context, nodeID int64, limit int) ([]*models.LatencyTest, error)

	// Settings operations
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	// Session journal
	OpenSession(ctx context.Context, session *models.Session) error
	CloseSession(ctx context.Context, id string, endedAt time.Time, totalBytes uint64, reason string) error
	GetSessions(ctx context.Context, limit int) ([]*models.Session, error)

	// Transactions
	BeginTx(ctx context.Context) (Transaction, error)

	// Close closes the storage connection
	Close() error
}

// NodeFilter represents filters for querying nodes
type NodeFilter struct {
	Source     *string
	Network    *string
	SearchTerm string // Search in name and address
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Storage
}

// Setting keys.
const (
	SettingSelectedNode = "selected_node_uri"
	SettingLastRefresh  = "subscriptions_last_refresh"
)
