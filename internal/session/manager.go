package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/abramin/flowseq/internal/sequence"
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("session not found")

// Manager keeps the open sessions of one code model.
type Manager struct {
	model    sequence.CodeModel
	params   sequence.Params
	seed     []sequence.Rule
	logger   *slog.Logger
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager. Every new session starts with params and
// the seed rules; a malformed seed rule is rejected here.
func NewManager(model sequence.CodeModel, params sequence.Params, seed ...sequence.Rule) (*Manager, error) {
	if _, err := sequence.NewFilterChain(seed...); err != nil {
		return nil, fmt.Errorf("seed filters: %w", err)
	}
	return &Manager{
		model:    model,
		params:   params,
		seed:     seed,
		logger:   slog.Default().With("component", "session.Manager"),
		sessions: make(map[string]*Session),
	}, nil
}

// Create opens a session rooted at handle. The handle is checked against
// the code model before the session is registered.
func (m *Manager) Create(handle sequence.Handle) (*Session, error) {
	if !m.model.IsStillValid(handle) {
		return nil, fmt.Errorf("%w: %s", sequence.ErrInvalidHandle, handle)
	}
	fc, err := sequence.NewFilterChain(m.seed...)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	s := New(handle, m.params, fc, m.model, WithID(id), WithLogger(m.logger))

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Info("session opened", "session_id", id, "handle", string(handle))
	return s, nil
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Delete closes and forgets a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.Close()
	m.logger.Info("session closed", "session_id", id)
	return nil
}

// List returns the open sessions ordered by id.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
