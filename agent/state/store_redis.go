package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

type RedisConfig struct {
	Addr     string `envconfig:"ADDR" default:"localhost:6379"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
}

// RedisStore keeps the fast tier in Redis through a native connection.
type RedisStore struct {
	rdb  *redis.Client
	opts storeOptions
}

// NewRedisStore dials Redis and verifies the connection before returning.
func NewRedisStore(cfg RedisConfig, opts ...StoreOption) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStoreFromClient(rdb, opts...)
}

func NewRedisStoreFromClient(rdb *redis.Client, opts ...StoreOption) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	o, err := applyStoreOptions(opts)
	if err != nil {
		return nil, err
	}
	return &RedisStore{rdb: rdb, opts: o}, nil
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*SessionState, error) {
	key, err := s.opts.sessionKey(sessionID)
	if err != nil {
		return nil, err
	}
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decodeSessionState(raw)
}

func (s *RedisStore) Create(ctx context.Context, st *SessionState) (bool, error) {
	payload, err := prepareSave(st)
	if err != nil {
		return false, err
	}
	key, err := s.opts.sessionKey(st.SessionID)
	if err != nil {
		return false, err
	}
	ok, err := s.rdb.SetNX(ctx, key, payload, s.opts.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Save(ctx context.Context, st *SessionState) error {
	payload, err := prepareSave(st)
	if err != nil {
		return err
	}
	key, err := s.opts.sessionKey(st.SessionID)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, key, payload, s.opts.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	key, err := s.opts.sessionKey(sessionID)
	if err != nil {
		return err
	}
	turnsKey, err := s.opts.turnsKey(sessionID)
	if err != nil {
		return err
	}
	if err := s.rdb.Del(ctx, key, turnsKey).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *RedisStore) PushTurn(ctx context.Context, turn Turn) error {
	payload, err := encodeTurn(turn)
	if err != nil {
		return err
	}
	key, err := s.opts.turnsKey(turn.SessionID)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, int64(s.opts.capacity-1))
		if s.opts.ttl > 0 {
			pipe.Expire(ctx, key, s.opts.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis push turn: %w", err)
	}
	return nil
}

func (s *RedisStore) RecentTurns(ctx context.Context, sessionID string) ([]Turn, error) {
	key, err := s.opts.turnsKey(sessionID)
	if err != nil {
		return nil, err
	}
	items, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	return decodeTurnsNewestFirst(items)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
