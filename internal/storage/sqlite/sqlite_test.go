package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"corpvpn/internal/storage"
	"corpvpn/internal/storage/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "corpvpn.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUpsertNodeKeepsID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	node := &models.Node{Name: "de-1", Address: "de.example", Port: 443, Network: "tcp", URI: "vless://a@de.example:443", Source: "https://sub.example/a"}
	if err := db.UpsertNode(ctx, node); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}
	if node.ID == 0 {
		t.Fatal("id not assigned")
	}

	renamed := &models.Node{Name: "de-1 renamed", Address: "de.example", Port: 443, Network: "tcp", URI: node.URI, Source: node.Source}
	if err := db.UpsertNode(ctx, renamed); err != nil {
		t.Fatalf("UpsertNode again: %v", err)
	}
	if renamed.ID != node.ID {
		t.Fatalf("id changed on upsert: %d -> %d", node.ID, renamed.ID)
	}

	got, err := db.GetNodeByURI(ctx, node.URI)
	if err != nil {
		t.Fatalf("GetNodeByURI: %v", err)
	}
	if got.Name != "de-1 renamed" {
		t.Fatalf("name = %q", got.Name)
	}

	if _, err := db.GetNode(ctx, 999); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetNode(999) error = %v", err)
	}
}

func TestDeleteNodesBySource(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, n := range []*models.Node{
		{Name: "a", Address: "a.example", Port: 443, Network: "tcp", URI: "vless://1@a.example:443", Source: "s1"},
		{Name: "b", Address: "b.example", Port: 443, Network: "tcp", URI: "vless://1@b.example:443", Source: "s1"},
		{Name: "c", Address: "c.example", Port: 443, Network: "tcp", URI: "vless://1@c.example:443", Source: "s2"},
	} {
		if err := db.UpsertNode(ctx, n); err != nil {
			t.Fatalf("UpsertNode: %v", err)
		}
	}

	removed, err := db.DeleteNodesBySource(ctx, "s1", []string{"vless://1@a.example:443"})
	if err != nil {
		t.Fatalf("DeleteNodesBySource: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	nodes, err := db.GetAllNodes(ctx, storage.NodeFilter{})
	if err != nil {
		t.Fatalf("GetAllNodes: %v", err)
	}
	if len(nodes) != 2 || nodes[0].Name != "a" || nodes[1].Name != "c" {
		t.Fatalf("nodes = %+v", nodes)
	}

	src := "s2"
	nodes, _ = db.GetAllNodes(ctx, storage.NodeFilter{Source: &src})
	if len(nodes) != 1 || nodes[0].Name != "c" {
		t.Fatalf("filtered nodes = %+v", nodes)
	}
	nodes, _ = db.GetAllNodes(ctx, storage.NodeFilter{SearchTerm: "a.exa"})
	if len(nodes) != 1 {
		t.Fatalf("search nodes = %+v", nodes)
	}
}

func TestLatencyHistory(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	node := &models.Node{Name: "a", Address: "a.example", Port: 443, Network: "tcp", URI: "vless://1@a.example:443", Source: "s"}
	if err := db.UpsertNode(ctx, node); err != nil {
		t.Fatal(err)
	}

	if latest, err := db.GetLatestLatency(ctx, node.ID); err != nil || latest != nil {
		t.Fatalf("GetLatestLatency on empty = %v, %v", latest, err)
	}

	base := time.Now().Add(-time.Minute)
	ms := 42
	tests := []*models.LatencyTest{
		{NodeID: node.ID, Success: false, ErrorMessage: "timeout", TestStrategy: "tcp", TestedAt: base},
		{NodeID: node.ID, LatencyMS: &ms, Success: true, TestStrategy: "tcp", TestedAt: base.Add(time.Second)},
	}
	for _, lt := range tests {
		if err := db.RecordLatency(ctx, lt); err != nil {
			t.Fatalf("RecordLatency: %v", err)
		}
	}

	latest, err := db.GetLatestLatency(ctx, node.ID)
	if err != nil {
		t.Fatalf("GetLatestLatency: %v", err)
	}
	if !latest.Success || latest.LatencyMS == nil || *latest.LatencyMS != 42 {
		t.Fatalf("latest = %+v", latest)
	}

	history, err := db.GetLatencyHistory(ctx, node.ID, 10)
	if err != nil {
		t.Fatalf("GetLatencyHistory: %v", err)
	}
	if len(history) != 2 || history[1].LatencyMS != nil || history[1].ErrorMessage != "timeout" {
		t.Fatalf("history = %+v", history)
	}

	// Removing the node drops its history.
	if _, err := db.DeleteNodesBySource(ctx, "s", nil); err != nil {
		t.Fatal(err)
	}
	history, _ = db.GetLatencyHistory(ctx, node.ID, 10)
	if len(history) != 0 {
		t.Fatalf("history survived node deletion: %d rows", len(history))
	}
}

func TestSessionJournal(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	started := time.Now().Add(-time.Hour).Truncate(time.Second)
	session := &models.Session{ID: "3f0c6c3e-1", Server: "vpn.example:443", TunEnabled: true, PID: 4242, StartedAt: started}
	if err := db.OpenSession(ctx, session); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	sessions, err := db.GetSessions(ctx, 10)
	if err != nil {
		t.Fatalf("GetSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].EndedAt != nil || !sessions[0].TunEnabled {
		t.Fatalf("open session = %+v", sessions)
	}

	ended := started.Add(30 * time.Minute)
	if err := db.CloseSession(ctx, session.ID, ended, 123456, "disconnect"); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if err := db.CloseSession(ctx, session.ID, ended, 1, "again"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("closing twice error = %v", err)
	}

	sessions, _ = db.GetSessions(ctx, 10)
	got := sessions[0]
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Fatalf("ended_at = %v, want %v", got.EndedAt, ended)
	}
	if got.TotalBytes != 123456 || got.Reason != "disconnect" {
		t.Fatalf("session = %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Fatalf("started_at = %v, want %v", got.StartedAt, started)
	}
}

func TestSettings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if v, err := db.GetSetting(ctx, storage.SettingSelectedNode); err != nil || v != "" {
		t.Fatalf("unset setting = %q, %v", v, err)
	}
	for _, v := range []string{"vless://1@a", "vless://1@b"} {
		if err := db.SetSetting(ctx, storage.SettingSelectedNode, v); err != nil {
			t.Fatalf("SetSetting: %v", err)
		}
	}
	if v, _ := db.GetSetting(ctx, storage.SettingSelectedNode); v != "vless://1@b" {
		t.Fatalf("setting = %q", v)
	}
}

func TestTransactionRollback(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	if err := tx.UpsertNode(ctx, &models.Node{Name: "a", Address: "a", Port: 1, Network: "tcp", URI: "vless://1@a:1", Source: "s"}); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	nodes, err := db.GetAllNodes(ctx, storage.NodeFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 0 {
		t.Fatalf("rolled back node persisted: %+v", nodes)
	}
}
