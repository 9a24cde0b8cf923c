package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. Used when no redis address is
// configured, and by tests.
type MemoryStore struct {
	mu         sync.Mutex
	ttl        time.Duration
	pendingTTL time.Duration
	sessions   map[string]memoryEntry
	pendings   map[string]pendingEntry
}

type memoryEntry struct {
	sess      Session
	expiresAt time.Time
}

type pendingEntry struct {
	pending   PendingSignup
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:        ttl,
		pendingTTL: pendingTTL,
		sessions:   make(map[string]memoryEntry),
		pendings:   make(map[string]pendingEntry),
	}
}

func (s *MemoryStore) Get(_ context.Context, sid string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[sid]
	if !ok {
		return nil, nil
	}
	if s.ttl > 0 && time.Now().After(entry.expiresAt) {
		delete(s.sessions, sid)
		return nil, nil
	}
	sess := entry.sess
	return &sess, nil
}

func (s *MemoryStore) Put(_ context.Context, sid string, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sid] = memoryEntry{sess: sess, expiresAt: time.Now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sid)
	return nil
}

func (s *MemoryStore) GetPending(_ context.Context, sid string) (*PendingSignup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.pendings[sid]
	if !ok {
		return nil, nil
	}
	if s.pendingTTL > 0 && time.Now().After(entry.expiresAt) {
		delete(s.pendings, sid)
		return nil, nil
	}
	pending := entry.pending
	return &pending, nil
}

func (s *MemoryStore) PutPending(_ context.Context, sid string, pending PendingSignup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendings[sid] = pendingEntry{pending: pending, expiresAt: time.Now().Add(s.pendingTTL)}
	return nil
}

func (s *MemoryStore) DeletePending(_ context.Context, sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pendings, sid)
	return nil
}

func (s *MemoryStore) SessionIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for sid := range s.sessions {
		ids = append(ids, sid)
	}
	return ids, nil
}
