// Package memory combines the expiring fast tier with the durable turn log.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	contractx "github.com/tanpawarit/chative-router/agent/contract"
	statex "github.com/tanpawarit/chative-router/agent/state"
)

const (
	DefaultHistoryLimit = 50
	DefaultMaxHistory   = 100
)

var _ contractx.SessionMemory = (*Manager)(nil)

// DurableLog is the append-only tier. history.Log satisfies it.
type DurableLog interface {
	Append(ctx context.Context, turn statex.Turn) error
	List(ctx context.Context, sessionID string, limit int) ([]statex.Turn, error)
	Ping(ctx context.Context) error
}

type Config struct {
	HistoryLimit int `envconfig:"HISTORY_LIMIT" default:"50"`
	MaxHistory   int `envconfig:"MAX_HISTORY" default:"100"`
}

type Manager struct {
	fast    statex.Store
	durable DurableLog
	cfg     Config
	now     func() time.Time
	group   singleflight.Group
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(fast statex.Store, durable DurableLog, cfg Config, opts ...Option) (*Manager, error) {
	if fast == nil {
		return nil, errors.New("fast tier store is required")
	}
	if durable == nil {
		return nil, errors.New("durable log is required")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	if cfg.HistoryLimit > cfg.MaxHistory {
		cfg.HistoryLimit = cfg.MaxHistory
	}

	m := &Manager{
		fast:    fast,
		durable: durable,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// GetOrCreateSessionState returns the live fast-tier record or creates one.
// Concurrent calls for the same id in this process share one round trip, and
// the store's create-if-absent keeps other processes from clobbering it.
// Caller hints are merged into the returned copy only.
func (m *Manager) GetOrCreateSessionState(ctx context.Context, sessionID, userID string, hints map[string]any) (*statex.SessionState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, statex.ErrInvalidSession
	}

	v, err, _ := m.group.Do(sessionID, func() (any, error) {
		return m.loadOrCreate(ctx, sessionID, userID)
	})
	if err != nil {
		return nil, err
	}

	st := v.(*statex.SessionState).Clone()
	st.MergeContext(hints)
	if st.UserID == "" {
		st.UserID = strings.TrimSpace(userID)
	}
	return st, nil
}

func (m *Manager) loadOrCreate(ctx context.Context, sessionID, userID string) (*statex.SessionState, error) {
	st, err := m.fast.Load(ctx, sessionID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, statex.ErrStateNotFound) {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	fresh := statex.NewSessionState(sessionID, userID, nil, m.now())
	created, err := m.fast.Create(ctx, fresh)
	if err != nil {
		return nil, fmt.Errorf("create session %s: %w", sessionID, err)
	}
	if created {
		log.Debug().Str("session_id", sessionID).Msg("session created")
		return fresh, nil
	}

	// Another writer won the create; use its record.
	st, err = m.fast.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reload session %s: %w", sessionID, err)
	}
	return st, nil
}

// UpdateSessionState writes st back to the fast tier, refreshing its expiry.
func (m *Manager) UpdateSessionState(ctx context.Context, st *statex.SessionState) error {
	if st == nil {
		return statex.ErrNilSessionState
	}
	return m.fast.Save(ctx, st)
}

// AppendTurn writes the durable log first. The recent-turns cache update is
// best-effort: its failure is logged and never undoes the durable write.
func (m *Manager) AppendTurn(ctx context.Context, turn statex.Turn) error {
	turn = turn.Clone()
	if err := m.durable.Append(ctx, turn); err != nil {
		return fmt.Errorf("append durable turn: %w", err)
	}
	if err := m.fast.PushTurn(ctx, turn); err != nil {
		log.Warn().
			Err(err).
			Str("session_id", turn.SessionID).
			Str("turn_id", turn.TurnID).
			Msg("recent turns cache update failed")
	}
	return nil
}

// RecentTurns returns the fast-tier cache, oldest first.
func (m *Manager) RecentTurns(ctx context.Context, sessionID string) ([]statex.Turn, error) {
	return m.fast.RecentTurns(ctx, sessionID)
}

// GetHistory reads the durable log. History is advisory: any failure yields
// an empty slice.
func (m *Manager) GetHistory(ctx context.Context, sessionID string, limit int) []statex.Turn {
	limit = m.clampLimit(limit)
	turns, err := m.durable.List(ctx, sessionID, limit)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("history read failed")
		return []statex.Turn{}
	}
	if turns == nil {
		return []statex.Turn{}
	}
	return turns
}

func (m *Manager) clampLimit(limit int) int {
	if limit <= 0 {
		return m.cfg.HistoryLimit
	}
	if limit > m.cfg.MaxHistory {
		return m.cfg.MaxHistory
	}
	return limit
}

// ClearSession drops the fast-tier record and cache. The durable log keeps
// every turn.
func (m *Manager) ClearSession(ctx context.Context, sessionID string) error {
	if err := m.fast.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	return nil
}

func (m *Manager) PingFast(ctx context.Context) error {
	return m.fast.Ping(ctx)
}

func (m *Manager) PingDurable(ctx context.Context) error {
	return m.durable.Ping(ctx)
}
