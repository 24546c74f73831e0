package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	statex "github.com/tanpawarit/chative-router/agent/state"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()

	ctx := context.Background()
	l, err := OpenSQLite(ctx, SQLiteConfig{Path: filepath.Join(t.TempDir(), "history.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	require.NoError(t, l.CreateSchema(ctx))
	return l
}

func turnAt(sessionID string, i int, at time.Time) statex.Turn {
	return statex.Turn{
		TurnID:        fmt.Sprintf("%s-turn-%02d", sessionID, i),
		SessionID:     sessionID,
		UserMessage:   fmt.Sprintf("question %d", i),
		AgentResponse: fmt.Sprintf("answer %d", i),
		AgentUsed:     "main",
		ToolsUsed:     []string{},
		Metadata:      map[string]any{"index": i},
		Timestamp:     at,
	}
}

func TestLog_AppendAndListChronological(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		require.NoError(t, l.Append(ctx, turnAt("s1", i, base.Add(time.Duration(i)*time.Millisecond))))
	}
	require.NoError(t, l.Append(ctx, turnAt("s2", 1, base)))

	turns, err := l.List(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 5)
	for i := 1; i < len(turns); i++ {
		assert.False(t, turns[i].Timestamp.Before(turns[i-1].Timestamp), "turns out of order at %d", i)
	}
	assert.Equal(t, "s1-turn-01", turns[0].TurnID)
	assert.Equal(t, "s1-turn-05", turns[4].TurnID)
	assert.Equal(t, float64(3), turns[2].Metadata["index"])
	assert.NotNil(t, turns[0].ToolsUsed)
}

func TestLog_ListLimitKeepsMostRecent(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 1; i <= 8; i++ {
		require.NoError(t, l.Append(ctx, turnAt("s1", i, base.Add(time.Duration(i)*time.Second))))
	}

	turns, err := l.List(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, []string{"s1-turn-06", "s1-turn-07", "s1-turn-08"},
		[]string{turns[0].TurnID, turns[1].TurnID, turns[2].TurnID})
}

func TestLog_SameTimestampKeepsInsertOrder(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		require.NoError(t, l.Append(ctx, turnAt("s1", i, at)))
	}

	turns, err := l.List(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "s1-turn-01", turns[0].TurnID)
	assert.Equal(t, "s1-turn-03", turns[2].TurnID)
}

func TestLog_DuplicateTurnRejected(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	turn := turnAt("s1", 1, time.Now())

	require.NoError(t, l.Append(ctx, turn))
	assert.Error(t, l.Append(ctx, turn))

	n, err := l.Count(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLog_RejectsInvalidInput(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	assert.ErrorIs(t, l.Append(ctx, statex.Turn{SessionID: "s1"}), statex.ErrInvalidTurn)

	_, err := l.List(ctx, "  ", 10)
	assert.ErrorIs(t, err, statex.ErrInvalidSession)
}

func TestLog_EmptySession(t *testing.T) {
	l := newTestLog(t)

	turns, err := l.List(context.Background(), "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestLog_CreateSchemaIsRepeatable(t *testing.T) {
	l := newTestLog(t)
	require.NoError(t, l.CreateSchema(context.Background()))
	require.NoError(t, l.Ping(context.Background()))
}
