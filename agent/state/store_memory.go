package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

type memoryEntry struct {
	payload   []byte
	turns     [][]byte // oldest first
	expiresAt time.Time
	turnsExp  time.Time
}

// MemoryStore is an in-process fast tier with the same expiry and capacity
// semantics as the Redis-backed stores. State is lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	opts    storeOptions
	closed  bool

	lastSweep time.Time
}

func NewMemoryStore(opts ...StoreOption) (*MemoryStore, error) {
	o, err := applyStoreOptions(opts)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{
		entries: make(map[string]*memoryEntry, 64),
		opts:    o,
	}, nil
}

func (s *MemoryStore) Load(ctx context.Context, sessionID string) (*SessionState, error) {
	if _, err := s.opts.sessionKey(sessionID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	e := s.liveEntry(sessionID)
	if e == nil || e.payload == nil {
		return nil, ErrStateNotFound
	}
	return decodeSessionState(e.payload)
}

func (s *MemoryStore) Create(ctx context.Context, st *SessionState) (bool, error) {
	payload, err := prepareSave(st)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStoreClosed
	}

	e := s.liveEntry(st.SessionID)
	if e != nil && e.payload != nil {
		return false, nil
	}
	s.put(st.SessionID, payload)
	return true, nil
}

func (s *MemoryStore) Save(ctx context.Context, st *SessionState) error {
	payload, err := prepareSave(st)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.put(st.SessionID, payload)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.opts.sessionKey(sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.entries, sessionID)
	return nil
}

func (s *MemoryStore) PushTurn(ctx context.Context, turn Turn) error {
	payload, err := encodeTurn(turn)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	s.sweep()
	e := s.liveEntry(turn.SessionID)
	if e == nil {
		e = &memoryEntry{}
		s.entries[turn.SessionID] = e
	}
	e.turns = append(e.turns, payload)
	if over := len(e.turns) - s.opts.capacity; over > 0 {
		e.turns = append([][]byte(nil), e.turns[over:]...)
	}
	e.turnsExp = s.deadline()
	return nil
}

func (s *MemoryStore) RecentTurns(ctx context.Context, sessionID string) ([]Turn, error) {
	if _, err := s.opts.sessionKey(sessionID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	e := s.liveEntry(sessionID)
	if e == nil || len(e.turns) == 0 {
		return []Turn{}, nil
	}
	turns := make([]Turn, 0, len(e.turns))
	for _, raw := range e.turns {
		var t Turn
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("unmarshal cached turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}

// liveEntry returns the entry for id with expired parts dropped. An entry
// with nothing left is removed from the map.
func (s *MemoryStore) liveEntry(sessionID string) *memoryEntry {
	e := s.entries[sessionID]
	if e == nil {
		return nil
	}
	return s.prune(sessionID, e)
}

func (s *MemoryStore) prune(sessionID string, e *memoryEntry) *memoryEntry {
	if e.payload != nil && s.expired(e.expiresAt) {
		e.payload = nil
	}
	if e.turns != nil && s.expired(e.turnsExp) {
		e.turns = nil
	}
	if e.payload == nil && len(e.turns) == 0 {
		delete(s.entries, sessionID)
		return nil
	}
	return e
}

// sweep drops expired entries of idle sessions that are never read again.
// It runs on writes, at most once per TTL.
func (s *MemoryStore) sweep() {
	if s.opts.ttl <= 0 {
		return
	}
	now := s.opts.now()
	if !s.lastSweep.IsZero() && now.Sub(s.lastSweep) < s.opts.ttl {
		return
	}
	s.lastSweep = now
	for id, e := range s.entries {
		s.prune(id, e)
	}
}

func (s *MemoryStore) put(sessionID string, payload []byte) {
	s.sweep()
	e := s.liveEntry(sessionID)
	if e == nil {
		e = &memoryEntry{}
		s.entries[sessionID] = e
	}
	e.payload = payload
	e.expiresAt = s.deadline()
}

func (s *MemoryStore) deadline() time.Time {
	if s.opts.ttl <= 0 {
		return time.Time{}
	}
	return s.opts.now().Add(s.opts.ttl)
}

func (s *MemoryStore) expired(at time.Time) bool {
	return !at.IsZero() && !s.opts.now().Before(at)
}
