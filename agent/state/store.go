package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"
)

var (
	ErrStateNotFound   = errors.New("session state not found")
	ErrNilSessionState = errors.New("session state is nil")
	ErrInvalidSession  = errors.New("session id is empty")
	ErrStoreClosed     = errors.New("store is closed")
)

const (
	DefaultKeyPrefix      = "chative:session:"
	DefaultTTL            = 60 * time.Minute
	DefaultRecentCapacity = 20

	turnsKeySuffix = ":turns"
)

// Store is the fast tier: an expiring per-session record plus a bounded
// FIFO cache of the most recent turns. Single-key operations are atomic;
// every write refreshes the key's expiry.
type Store interface {
	Load(ctx context.Context, sessionID string) (*SessionState, error)
	// Create stores st only if no record exists. It reports whether st was written.
	Create(ctx context.Context, st *SessionState) (bool, error)
	Save(ctx context.Context, st *SessionState) error
	Delete(ctx context.Context, sessionID string) error
	PushTurn(ctx context.Context, turn Turn) error
	// RecentTurns returns the cached turns oldest first.
	RecentTurns(ctx context.Context, sessionID string) ([]Turn, error)
	Ping(ctx context.Context) error
	Close() error
}

type storeOptions struct {
	keyPrefix  string
	ttl        time.Duration
	capacity   int
	httpClient *http.Client
	now        func() time.Time
}

func defaultStoreOptions() storeOptions {
	return storeOptions{
		keyPrefix: DefaultKeyPrefix,
		ttl:       DefaultTTL,
		capacity:  DefaultRecentCapacity,
		now:       time.Now,
	}
}

// StoreOption customizes any Store implementation in this package.
type StoreOption func(*storeOptions)

func WithKeyPrefix(prefix string) StoreOption {
	return func(o *storeOptions) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			o.keyPrefix = trimmed
		}
	}
}

// WithTTL sets the idle timeout. Zero disables expiry.
func WithTTL(ttl time.Duration) StoreOption {
	return func(o *storeOptions) {
		o.ttl = ttl
	}
}

// WithCapacity bounds the recent-turns cache.
func WithCapacity(n int) StoreOption {
	return func(o *storeOptions) {
		if n > 0 {
			o.capacity = n
		}
	}
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(o *storeOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithClock replaces time.Now; only the in-process store consults it.
func WithClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func applyStoreOptions(opts []StoreOption) (storeOptions, error) {
	o := defaultStoreOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.ttl < 0 {
		return o, errors.New("ttl must be >= 0")
	}
	return o, nil
}

func (o storeOptions) sessionKey(sessionID string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", ErrInvalidSession
	}
	return strings.TrimSpace(o.keyPrefix) + sessionID, nil
}

func (o storeOptions) turnsKey(sessionID string) (string, error) {
	key, err := o.sessionKey(sessionID)
	if err != nil {
		return "", err
	}
	return key + turnsKeySuffix, nil
}

// prepareSave validates st and returns its encoded payload.
func prepareSave(st *SessionState) ([]byte, error) {
	if st == nil {
		return nil, ErrNilSessionState
	}
	if strings.TrimSpace(st.SessionID) == "" {
		return nil, ErrInvalidSession
	}
	if st.LastActivity.IsZero() {
		st.LastActivity = time.Now().UTC()
	} else {
		st.LastActivity = st.LastActivity.UTC()
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = st.LastActivity
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal session state: %w", err)
	}
	return payload, nil
}

func decodeSessionState(raw []byte) (*SessionState, error) {
	var st SessionState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session state loaded from store: %w", err)
	}
	return &st, nil
}

func encodeTurn(turn Turn) ([]byte, error) {
	if err := turn.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(turn)
	if err != nil {
		return nil, fmt.Errorf("marshal turn: %w", err)
	}
	return payload, nil
}

// decodeTurnsNewestFirst decodes an LRANGE result and flips it to chronological order.
func decodeTurnsNewestFirst(items []string) ([]Turn, error) {
	turns := make([]Turn, 0, len(items))
	for _, item := range items {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("unmarshal cached turn: %w", err)
		}
		turns = append(turns, t)
	}
	slices.Reverse(turns)
	return turns, nil
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
