package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxResponseSizeBytes = 2 << 20

var _ Store = (*UpstashRedisStore)(nil)

// UpstashRedisStore keeps the fast tier in Upstash Redis via its REST API.
type UpstashRedisStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	opts       storeOptions
}

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL" split_words:"true" required:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	o, err := applyStoreOptions(opts)
	if err != nil {
		return nil, err
	}
	client := o.httpClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	return &UpstashRedisStore{
		baseURL:    baseURL,
		token:      token,
		httpClient: client,
		opts:       o,
	}, nil
}

func (s *UpstashRedisStore) Load(ctx context.Context, sessionID string) (*SessionState, error) {
	key, err := s.opts.sessionKey(sessionID)
	if err != nil {
		return nil, err
	}

	resp, err := s.exec(ctx, []any{"GET", key})
	if err != nil {
		return nil, err
	}

	encoded, ok, err := resultString(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("decode session payload: %w", err)
	}
	if !ok {
		return nil, ErrStateNotFound
	}
	return decodeSessionState([]byte(encoded))
}

func (s *UpstashRedisStore) Create(ctx context.Context, st *SessionState) (bool, error) {
	payload, err := prepareSave(st)
	if err != nil {
		return false, err
	}
	key, err := s.opts.sessionKey(st.SessionID)
	if err != nil {
		return false, err
	}

	cmd := []any{"SET", key, string(payload), "NX"}
	if s.opts.ttl > 0 {
		cmd = append(cmd, "EX", ttlSeconds(s.opts.ttl))
	}
	resp, err := s.exec(ctx, cmd)
	if err != nil {
		return false, err
	}
	_, written, err := resultString(resp.Result)
	if err != nil {
		return false, fmt.Errorf("decode set nx result: %w", err)
	}
	return written, nil
}

func (s *UpstashRedisStore) Save(ctx context.Context, st *SessionState) error {
	payload, err := prepareSave(st)
	if err != nil {
		return err
	}
	key, err := s.opts.sessionKey(st.SessionID)
	if err != nil {
		return err
	}

	cmd := []any{"SET", key, string(payload)}
	if s.opts.ttl > 0 {
		cmd = append(cmd, "EX", ttlSeconds(s.opts.ttl))
	}
	_, err = s.exec(ctx, cmd)
	return err
}

func (s *UpstashRedisStore) Delete(ctx context.Context, sessionID string) error {
	key, err := s.opts.sessionKey(sessionID)
	if err != nil {
		return err
	}
	turnsKey, err := s.opts.turnsKey(sessionID)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, []any{"DEL", key, turnsKey})
	return err
}

// PushTurn runs LPUSH, LTRIM and EXPIRE in one MULTI/EXEC transaction.
func (s *UpstashRedisStore) PushTurn(ctx context.Context, turn Turn) error {
	payload, err := encodeTurn(turn)
	if err != nil {
		return err
	}
	key, err := s.opts.turnsKey(turn.SessionID)
	if err != nil {
		return err
	}

	cmds := [][]any{
		{"LPUSH", key, string(payload)},
		{"LTRIM", key, 0, s.opts.capacity - 1},
	}
	if s.opts.ttl > 0 {
		cmds = append(cmds, []any{"EXPIRE", key, ttlSeconds(s.opts.ttl)})
	}
	results, err := s.execTransaction(ctx, cmds)
	if err != nil {
		return err
	}
	for i, r := range results {
		if r.Error != "" {
			return fmt.Errorf("redis command %v: %s", cmds[i][0], r.Error)
		}
	}
	return nil
}

func (s *UpstashRedisStore) RecentTurns(ctx context.Context, sessionID string) ([]Turn, error) {
	key, err := s.opts.turnsKey(sessionID)
	if err != nil {
		return nil, err
	}
	resp, err := s.exec(ctx, []any{"LRANGE", key, 0, -1})
	if err != nil {
		return nil, err
	}

	var items []string
	result := bytes.TrimSpace(resp.Result)
	if len(result) > 0 && !bytes.Equal(result, []byte("null")) {
		if err := json.Unmarshal(result, &items); err != nil {
			return nil, fmt.Errorf("decode lrange result: %w", err)
		}
	}
	return decodeTurnsNewestFirst(items)
}

func (s *UpstashRedisStore) Ping(ctx context.Context) error {
	_, err := s.exec(ctx, []any{"PING"})
	return err
}

func (s *UpstashRedisStore) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

func (s *UpstashRedisStore) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}
	var parsed redisRESTResponse
	if err := s.post(ctx, s.baseURL, command, &parsed); err != nil {
		return nil, err
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}

func (s *UpstashRedisStore) execTransaction(ctx context.Context, commands [][]any) ([]redisRESTResponse, error) {
	if len(commands) == 0 {
		return nil, errors.New("empty redis transaction")
	}
	var parsed []redisRESTResponse
	if err := s.post(ctx, s.baseURL+"/multi-exec", commands, &parsed); err != nil {
		return nil, err
	}
	if len(parsed) != len(commands) {
		return nil, fmt.Errorf("redis transaction returned %d results for %d commands", len(parsed), len(commands))
	}
	return parsed, nil
}

func (s *UpstashRedisStore) post(ctx context.Context, endpoint string, payload any, out any) error {
	if s == nil {
		return errors.New("nil store")
	}
	if strings.TrimSpace(s.baseURL) == "" {
		return errors.New("empty redis url")
	}
	if strings.TrimSpace(s.token) == "" {
		return errors.New("empty redis token")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return fmt.Errorf("read redis response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode redis response: %w", err)
	}
	return nil
}

// resultString decodes a bulk-string result; ok is false for a nil reply.
func resultString(raw json.RawMessage) (string, bool, error) {
	result := bytes.TrimSpace(raw)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return "", false, nil
	}
	var out string
	if err := json.Unmarshal(result, &out); err != nil {
		return "", false, err
	}
	return out, true, nil
}
