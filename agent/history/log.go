// Package history is the durable tier: an append-only log of conversation
// turns. Rows are never updated or deleted by this package.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite"

	statex "github.com/tanpawarit/chative-router/agent/state"
)

const (
	DefaultLimit = 50
	tableName    = "conversation_turns"
)

type PostgresConfig struct {
	DSN     string        `envconfig:"DSN" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s"`
}

type SQLiteConfig struct {
	Path string `envconfig:"PATH" default:"chative.db"`
}

type turnRecord struct {
	bun.BaseModel `bun:"table:conversation_turns,alias:ct"`

	Seq           int64          `bun:"seq,pk,autoincrement"`
	TurnID        string         `bun:"turn_id,notnull,unique"`
	SessionID     string         `bun:"session_id,notnull"`
	UserID        string         `bun:"user_id"`
	UserMessage   string         `bun:"user_message,notnull"`
	AgentResponse string         `bun:"agent_response,notnull"`
	AgentUsed     string         `bun:"agent_used,notnull"`
	ToolsUsed     []string       `bun:"tools_used"`
	Metadata      map[string]any `bun:"metadata"`
	CreatedAt     time.Time      `bun:"created_at,notnull"`
}

func recordFromTurn(t statex.Turn) *turnRecord {
	tools := t.ToolsUsed
	if tools == nil {
		tools = []string{}
	}
	return &turnRecord{
		TurnID:        t.TurnID,
		SessionID:     t.SessionID,
		UserID:        t.UserID,
		UserMessage:   t.UserMessage,
		AgentResponse: t.AgentResponse,
		AgentUsed:     t.AgentUsed,
		ToolsUsed:     tools,
		Metadata:      t.Metadata,
		CreatedAt:     t.Timestamp.UTC(),
	}
}

func (r turnRecord) turn() statex.Turn {
	tools := r.ToolsUsed
	if tools == nil {
		tools = []string{}
	}
	return statex.Turn{
		TurnID:        r.TurnID,
		SessionID:     r.SessionID,
		UserID:        r.UserID,
		UserMessage:   r.UserMessage,
		AgentResponse: r.AgentResponse,
		AgentUsed:     r.AgentUsed,
		ToolsUsed:     tools,
		Metadata:      r.Metadata,
		Timestamp:     r.CreatedAt.UTC(),
	}
}

// Log appends and lists turns through bun; the dialect decides the backend.
type Log struct {
	db *bun.DB
}

func New(db *bun.DB) (*Log, error) {
	if db == nil {
		return nil, errors.New("bun db is required")
	}
	return &Log{db: db}, nil
}

// OpenPostgres connects through pgdriver and verifies the connection.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*Log, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
	if cfg.Timeout > 0 {
		opts = append(opts, pgdriver.WithTimeout(cfg.Timeout))
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(opts...))
	return open(ctx, bun.NewDB(sqldb, pgdialect.New()))
}

// OpenSQLite opens (or creates) a SQLite file through the pure-Go driver.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig) (*Log, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer.
	sqldb.SetMaxOpenConns(1)
	return open(ctx, bun.NewDB(sqldb, sqlitedialect.New()))
}

func open(ctx context.Context, db *bun.DB) (*Log, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Log{db: db}, nil
}

// CreateSchema creates the turns table and its session index if missing.
func (l *Log) CreateSchema(ctx context.Context) error {
	if _, err := l.db.NewCreateTable().
		Model((*turnRecord)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create %s: %w", tableName, err)
	}
	if _, err := l.db.NewCreateIndex().
		Model((*turnRecord)(nil)).
		Index("idx_conversation_turns_session_created").
		Column("session_id", "created_at").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create %s index: %w", tableName, err)
	}
	return nil
}

// Append writes one turn. A turn id that already exists is rejected by the
// unique constraint, so a turn is never rewritten.
func (l *Log) Append(ctx context.Context, turn statex.Turn) error {
	if err := turn.Validate(); err != nil {
		return err
	}
	if _, err := l.db.NewInsert().Model(recordFromTurn(turn)).Exec(ctx); err != nil {
		return fmt.Errorf("insert turn %s: %w", turn.TurnID, err)
	}
	return nil
}

// List returns up to limit of the session's most recent turns, oldest first.
func (l *Log) List(ctx context.Context, sessionID string, limit int) ([]statex.Turn, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, statex.ErrInvalidSession
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	var rows []turnRecord
	err := l.db.NewSelect().
		Model(&rows).
		Where("session_id = ?", sessionID).
		OrderExpr("created_at DESC, seq DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("select turns: %w", err)
	}

	slices.Reverse(rows)
	turns := make([]statex.Turn, 0, len(rows))
	for _, r := range rows {
		turns = append(turns, r.turn())
	}
	return turns, nil
}

// Count reports how many turns the session has logged.
func (l *Log) Count(ctx context.Context, sessionID string) (int, error) {
	n, err := l.db.NewSelect().
		Model((*turnRecord)(nil)).
		Where("session_id = ?", sessionID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return n, nil
}

func (l *Log) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

func (l *Log) Close() error {
	return l.db.Close()
}
