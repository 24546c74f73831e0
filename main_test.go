package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchestratorx "github.com/tanpawarit/chative-router/agent/agents/orchestrator"
	"github.com/tanpawarit/chative-router/agent/agents/specialist"
	contractx "github.com/tanpawarit/chative-router/agent/contract"
	historyx "github.com/tanpawarit/chative-router/agent/history"
	memoryx "github.com/tanpawarit/chative-router/agent/memory"
	statex "github.com/tanpawarit/chative-router/agent/state"
)

type scriptedHandler struct {
	name   string
	chunks []string
}

func (h *scriptedHandler) Name() string { return h.name }

func (h *scriptedHandler) Process(ctx context.Context, req contractx.SpecialistRequest) (contractx.SpecialistResponse, error) {
	return contractx.SpecialistResponse{Content: strings.Join(h.chunks, ""), ToolsUsed: []string{}}, nil
}

func (h *scriptedHandler) ProcessStream(ctx context.Context, req contractx.SpecialistRequest, emit contractx.Emit) (contractx.SpecialistResponse, error) {
	for _, c := range h.chunks {
		if err := emit(c); err != nil {
			return contractx.SpecialistResponse{}, err
		}
	}
	return contractx.SpecialistResponse{Content: strings.Join(h.chunks, ""), ToolsUsed: []string{}}, nil
}

func (h *scriptedHandler) HealthCheck(context.Context) error { return nil }

func (h *scriptedHandler) Status(context.Context) contractx.SpecialistStatus {
	return contractx.SpecialistStatus{Name: h.name, State: "active"}
}

type mainOnly struct{}

func (mainOnly) Classify(context.Context, contractx.ClassifyRequest) (contractx.RoutingDecision, error) {
	return contractx.FallbackDecision("small talk"), nil
}

func TestChatLoopPrintsStreamedChunks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fast, err := statex.NewMemoryStore()
	require.NoError(t, err)
	durable, err := historyx.OpenSQLite(ctx, historyx.SQLiteConfig{Path: filepath.Join(t.TempDir(), "chat.db")})
	require.NoError(t, err)
	require.NoError(t, durable.CreateSchema(ctx))
	t.Cleanup(func() { _ = durable.Close() })

	mem, err := memoryx.NewManager(fast, durable, memoryx.Config{})
	require.NoError(t, err)
	registry, err := specialist.NewStaticRegistry(&scriptedHandler{name: "billing", chunks: []string{"paid"}})
	require.NoError(t, err)

	orch, err := orchestratorx.New(mem, registry, &scriptedHandler{name: contractx.AgentMain, chunks: []string{"Hi ", "there"}}, mainOnly{}, orchestratorx.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Close(context.Background()) })

	var out bytes.Buffer
	in := strings.NewReader("hello\n\nignored\n")
	require.NoError(t, chatLoop(ctx, orch, in, &out, contractx.Request{SessionID: "cli-1"}))

	assert.Contains(t, out.String(), "[main] Hi there\n")
	assert.NotContains(t, out.String(), "ignored")

	res, err := orch.History(ctx, "cli-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
}

func TestOpenFastTierRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	_, err := openFastTier(MemoryConfig{FastTier: "memcached"})
	require.Error(t, err)

	store, err := openFastTier(MemoryConfig{FastTier: "Memory", RecentTurns: 5})
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}

func TestLoadMemoryConfigFeedsManagerLimits(t *testing.T) {
	t.Setenv("MEMORY_FAST_TIER", "memory")
	t.Setenv("MEMORY_HISTORY_LIMIT", "7")
	t.Setenv("MEMORY_MAX_HISTORY", "30")

	memCfg, managerCfg, err := loadMemoryConfig()
	require.NoError(t, err)
	assert.Equal(t, "memory", memCfg.FastTier)
	assert.Equal(t, memoryx.Config{HistoryLimit: 7, MaxHistory: 30}, *managerCfg)
}
