package profile

import (
	"context"
	"os"
	"testing"
	"time"

	"corpvpn/internal/storage/models"
)

func TestWatcherFiresOnProfileChange(t *testing.T) {
	s := NewStore(t.TempDir(), nil)
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}

	changed := make(chan struct{}, 4)
	w := NewWatcher(s, func(context.Context) { changed <- struct{}{} }, nil)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	// Unrelated files in the directory are ignored.
	if err := os.WriteFile(s.StatePath(), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-changed:
		t.Fatal("state.json write triggered the profile watcher")
	case <-time.After(150 * time.Millisecond):
	}

	if err := s.SaveProfile(&models.Profile{VLESSURI: "vless://id@new.example:443"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("profile change not observed")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
