package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"archetype-quiz/internal/domain"
)

// ErrConflict reports that a session changed between read and write.
var ErrConflict = errors.New("session: concurrent update conflict")

// Store holds per-conversation quiz state.
//
// Update must be atomic for one conversation id: mutate sees the latest stored
// session and its result is stored before any other Update of the same id runs.
// If mutate returns an error nothing is stored. Different ids never block each other.
type Store interface {
	GetOrCreate(ctx context.Context, conversationID string) (domain.Session, error)
	Update(ctx context.Context, conversationID string, mutate func(*domain.Session) error) (domain.Session, error)
	Clear(ctx context.Context, conversationID string) error
}

type slot struct {
	mu      sync.Mutex
	session domain.Session
	exists  bool
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[string]*slot
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore. A nil now uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{slots: make(map[string]*slot), now: now}
}

// slotFor returns the slot for id, creating it. The registry lock is held only
// for the map access.
func (m *MemoryStore) slotFor(id string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		s = &slot{}
		m.slots[id] = s
	}
	return s
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, conversationID string) (domain.Session, error) {
	if err := validID(ctx, conversationID); err != nil {
		return domain.Session{}, err
	}
	s := m.slotFor(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists {
		s.session = domain.NewSession(conversationID)
		s.session.UpdatedAt = m.now().UTC()
		s.exists = true
	}
	return s.session.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, conversationID string, mutate func(*domain.Session) error) (domain.Session, error) {
	if err := validID(ctx, conversationID); err != nil {
		return domain.Session{}, err
	}
	if mutate == nil {
		return domain.Session{}, errors.New("session: mutator must not be nil")
	}
	s := m.slotFor(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	working := domain.NewSession(conversationID)
	if s.exists {
		working = s.session.Clone()
	}
	if err := mutate(&working); err != nil {
		return domain.Session{}, err
	}
	working.ConversationID = conversationID
	working.Version++
	working.UpdatedAt = m.now().UTC()
	s.session = working
	s.exists = true
	return working.Clone(), nil
}

// Clear resets the conversation to an idle session. The version keeps counting
// so snapshots taken before the clear cannot be written back.
func (m *MemoryStore) Clear(ctx context.Context, conversationID string) error {
	if err := validID(ctx, conversationID); err != nil {
		return err
	}
	s := m.slotFor(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()
	version := s.session.Version
	s.session = domain.NewSession(conversationID)
	s.session.Version = version + 1
	s.session.UpdatedAt = m.now().UTC()
	s.exists = true
	return nil
}

// Len returns the number of conversations seen.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

func validID(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return errors.New("session: conversation id is required")
	}
	return nil
}
