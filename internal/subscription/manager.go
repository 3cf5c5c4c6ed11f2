package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"corpvpn/internal/storage"
	"corpvpn/internal/storage/models"
	pkgerrors "corpvpn/pkg/errors"
)

// Sources lists where subscriptions come from.
type Sources struct {
	URLs []string
	// EncryptedList is a file of further URLs, decrypted with Key.
	EncryptedList string
	Key           string
}

// Configured reports whether any source is set.
func (s Sources) Configured() bool {
	return len(s.URLs) > 0 || s.EncryptedList != ""
}

// Resolve returns the distinct subscription URLs of both kinds.
func (s Sources) Resolve() ([]string, error) {
	urls := append([]string(nil), s.URLs...)
	if s.EncryptedList != "" {
		listed, err := LoadEncryptedList(s.EncryptedList, s.Key)
		if err != nil {
			return nil, err
		}
		urls = append(urls, listed...)
	}
	return parseList(strings.Join(urls, "\n")), nil
}

// Manager refreshes the node cache from the subscription sources.
type Manager struct {
	storage storage.Storage
	fetcher *Fetcher
	decoder *Decoder
	sources Sources
	log     *slog.Logger
}

// NewManager creates a new subscription manager
func NewManager(store storage.Storage, sources Sources, fetcher *Fetcher, log *slog.Logger) *Manager {
	if fetcher == nil {
		fetcher = NewFetcher(DefaultFetcherConfig())
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		storage: store,
		fetcher: fetcher,
		decoder: NewDecoder(),
		sources: sources,
		log:     log.With("component", "subscription"),
	}
}

// Configured reports whether the manager has any source.
func (m *Manager) Configured() bool { return m.sources.Configured() }

// SourceResult is the outcome for one subscription URL.
type SourceResult struct {
	URL     string
	Nodes   int
	Skipped int
	Removed int
	Err     error
}

// UpdateResult represents the result of a refresh
type UpdateResult struct {
	Sources   []*SourceResult
	Nodes     int
	Failed    int
	UpdatedAt time.Time
}

// Update fetches every source and replaces each successfully fetched
// source's cached nodes. Sources that fail keep their previous nodes. A
// node listed by several sources belongs to the first.
func (m *Manager) Update(ctx context.Context) (*UpdateResult, error) {
	urls, err := m.sources.Resolve()
	if err != nil {
		return nil, err
	}

	result := &UpdateResult{UpdatedAt: time.Now()}
	fetched := make(map[string][]*models.Node)
	seen := make(map[string]bool)

	for _, url := range urls {
		sr := &SourceResult{URL: url}
		result.Sources = append(result.Sources, sr)

		nodes, skipped, err := m.fetchSource(ctx, url)
		if err != nil {
			sr.Err = err
			result.Failed++
			m.log.Warn("subscription fetch failed", "url", url, "error", err)
			continue
		}
		sr.Skipped = skipped

		var unique []*models.Node
		for _, n := range nodes {
			if seen[n.URI] {
				continue
			}
			seen[n.URI] = true
			unique = append(unique, n)
		}
		sr.Nodes = len(unique)
		fetched[url] = unique
	}

	if len(fetched) == 0 && len(urls) > 0 {
		return result, fmt.Errorf("%w: all %d sources failed", pkgerrors.ErrSubscriptionFetchFailed, len(urls))
	}

	tx, err := m.storage.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	for _, sr := range result.Sources {
		nodes, ok := fetched[sr.URL]
		if !ok {
			continue
		}
		keep := make([]string, 0, len(nodes))
		for _, n := range nodes {
			if err := tx.UpsertNode(ctx, n); err != nil {
				return nil, err
			}
			keep = append(keep, n.URI)
		}
		removed, err := tx.DeleteNodesBySource(ctx, sr.URL, keep)
		if err != nil {
			return nil, err
		}
		sr.Removed = removed
		result.Nodes += len(nodes)
	}

	if err := tx.SetSetting(ctx, storage.SettingLastRefresh, result.UpdatedAt.UTC().Format(time.RFC3339)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	m.log.Info("subscriptions refreshed", "sources", len(urls), "failed", result.Failed, "nodes", result.Nodes)
	return result, nil
}

func (m *Manager) fetchSource(ctx context.Context, url string) ([]*models.Node, int, error) {
	content, err := m.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, 0, err
	}
	uris, err := m.decoder.Decode(content)
	if err != nil {
		return nil, 0, &pkgerrors.SubscriptionError{URL: url, Err: err}
	}
	nodes, skipped := m.decoder.Nodes(uris, url)
	return nodes, skipped, nil
}

// Nodes returns the cached nodes usable for connecting.
func (m *Manager) Nodes(ctx context.Context) ([]*models.Node, error) {
	filter := storage.NodeFilter{}
	if m.decoder.Network != "" {
		filter.Network = &m.decoder.Network
	}
	return m.storage.GetAllNodes(ctx, filter)
}

// EnsureNodes returns the cached nodes, refreshing first when the cache is
// empty.
func (m *Manager) EnsureNodes(ctx context.Context) ([]*models.Node, error) {
	nodes, err := m.Nodes(ctx)
	if err != nil || len(nodes) > 0 {
		return nodes, err
	}
	if _, err := m.Update(ctx); err != nil {
		return nil, err
	}
	nodes, err = m.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, pkgerrors.ErrSubscriptionEmpty
	}
	return nodes, nil
}

// LastRefresh returns when the cache was last refreshed, zero if never.
func (m *Manager) LastRefresh(ctx context.Context) (time.Time, error) {
	v, err := m.storage.GetSetting(ctx, storage.SettingLastRefresh)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad refresh timestamp %q: %w", v, err)
	}
	return t, nil
}
