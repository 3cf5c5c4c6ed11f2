// Package profile persists the connection profile and the app state as two
// flat JSON documents in the config directory.
package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"corpvpn/internal/paths"
	"corpvpn/internal/storage/models"
)

// File names inside the config directory.
const (
	ProfileFile = "profile.json"
	StateFile   = "state.json"
)

// templateURI is written on first run so the user has something to edit.
const templateURI = "vless://UUID@server:443?encryption=none&security=reality&sni=example.com&fp=chrome&pbk=PUBLIC_KEY&type=tcp#MyServer"

// Store reads and writes profile.json and state.json. Unreadable or
// malformed documents load as their defaults.
type Store struct {
	dir string
	log *slog.Logger

	mu sync.Mutex
}

// NewStore returns a store rooted at dir.
func NewStore(dir string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Store{dir: dir, log: log.With("component", "profile")}
}

// ProfilePath returns the profile document's path.
func (s *Store) ProfilePath() string { return filepath.Join(s.dir, ProfileFile) }

// StatePath returns the app state document's path.
func (s *Store) StatePath() string { return filepath.Join(s.dir, StateFile) }

// Init creates the directory and writes the template profile when none
// exists yet.
func (s *Store) Init() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	paths.ChownToRealUser(s.dir)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.ProfilePath()); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return writeJSON(s.ProfilePath(), &models.Profile{VLESSURI: templateURI})
}

// Profile loads the connection profile. A missing or malformed file yields
// an empty profile.
func (s *Store) Profile(context.Context) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p models.Profile
	if err := readJSON(s.ProfilePath(), &p); err != nil {
		s.log.Warn("profile unreadable, using empty profile", "path", s.ProfilePath(), "error", err)
		return &models.Profile{}, nil
	}
	return &p, nil
}

// SaveProfile overwrites the profile.
func (s *Store) SaveProfile(p *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.ProfilePath(), p)
}

// LoadState loads the app state, defaulting every flag to false.
func (s *Store) LoadState() (models.AppState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadStateLocked(), nil
}

func (s *Store) loadStateLocked() models.AppState {
	var st models.AppState
	if err := readJSON(s.StatePath(), &st); err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("state unreadable, using defaults", "path", s.StatePath(), "error", err)
		}
		return models.AppState{}
	}
	return st
}

// UpdateState applies fn to the current state and persists the result.
func (s *Store) UpdateState(fn func(*models.AppState)) (models.AppState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.loadStateLocked()
	fn(&st)
	if err := writeJSON(s.StatePath(), &st); err != nil {
		return st, err
	}
	return st, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// writeJSON replaces path with v encoded with a 2-space indent. The write
// goes through a temp file so readers never see a partial document.
func writeJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	paths.ChownToRealUser(path)
	return nil
}
