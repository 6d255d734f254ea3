package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qualys/piiflow/internal/models"
	"github.com/qualys/piiflow/internal/store"
)

const DefaultTTL = 2 * time.Hour

// Manager loads, mutates and saves sessions. Updates to one session are
// serialized; different sessions proceed independently.
type Manager struct {
	store    store.Store
	ttl      time.Duration
	spoolDir string
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

type ManagerOption func(*Manager)

func WithTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithSpoolDir sets where uploaded files are kept until analysis.
func WithSpoolDir(dir string) ManagerOption {
	return func(m *Manager) {
		m.spoolDir = dir
	}
}

func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

func NewManager(st store.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    st,
		ttl:      DefaultTTL,
		spoolDir: filepath.Join(os.TempDir(), "piiflow"),
		logger:   slog.Default(),
		locks:    make(map[string]*sessionLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sessionLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}

// Create starts a new session with default selections.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	s := New()
	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	m.logger.Info("session created", "session_id", s.ID)
	return s, nil
}

// Get returns a snapshot of the session.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.load(ctx, id)
}

// Update applies fn to the session under its lock and saves the result.
// The session is saved even when fn fails, so that redirects fn records are
// kept; fn must leave the session consistent on error.
func (m *Manager) Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	unlock := m.lock(id)
	defer unlock()

	s, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}

	fnErr := fn(s)
	s.UpdatedAt = time.Now().UTC()
	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	return s, fnErr
}

// Delete removes the session and its spooled uploads.
func (m *Manager) Delete(ctx context.Context, id string) error {
	unlock := m.lock(id)
	defer unlock()

	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if err := os.RemoveAll(m.sessionDir(id)); err != nil {
		m.logger.Warn("failed to remove spooled uploads", "session_id", id, "error", err)
	}
	m.logger.Info("session deleted", "session_id", id)
	return nil
}

func (m *Manager) load(ctx context.Context, id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrSessionNotFound
	}
	data, err := m.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if s.Selected == nil {
		s.Selected = make(map[string]bool)
	}
	if s.Overrides == nil {
		s.Overrides = make(map[string]models.Category)
	}
	return &s, nil
}

func (m *Manager) save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := m.store.Set(ctx, s.ID, data, m.ttl); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (m *Manager) sessionDir(id string) string {
	return filepath.Join(m.spoolDir, id)
}

// Spool copies an uploaded file into the session's spool directory.
func (m *Manager) Spool(id, name string, r io.Reader) (models.LocalFile, error) {
	dir := m.sessionDir(id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return models.LocalFile{}, fmt.Errorf("creating spool dir: %w", err)
	}

	path := filepath.Join(dir, uuid.NewString())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return models.LocalFile{}, fmt.Errorf("creating spool file: %w", err)
	}
	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return models.LocalFile{}, fmt.Errorf("spooling %s: %w", name, err)
	}

	return models.LocalFile{
		Name:       filepath.Base(name),
		Size:       n,
		Path:       path,
		UploadedAt: time.Now().UTC(),
	}, nil
}

// Discard removes spooled files that are no longer referenced.
func (m *Manager) Discard(files []models.LocalFile) {
	for _, f := range files {
		if f.Path == "" {
			continue
		}
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("failed to remove spooled file", "file", f.Name, "error", err)
		}
	}
}

// SweepSpool removes spool directories whose session has expired.
func (m *Manager) SweepSpool(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(m.spoolDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading spool dir: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		_, err := m.store.Get(ctx, e.Name())
		if !errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.spoolDir, e.Name())); err != nil {
			m.logger.Warn("failed to remove spool dir", "session_id", e.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
