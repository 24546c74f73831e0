package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchestratorx "github.com/tanpawarit/chative-router/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/chative-router/agent/contract"
	historyx "github.com/tanpawarit/chative-router/agent/history"
	memoryx "github.com/tanpawarit/chative-router/agent/memory"
	statex "github.com/tanpawarit/chative-router/agent/state"
)

type echoSpecialist struct {
	name   string
	chunks []string
}

func (e *echoSpecialist) Name() string { return e.name }

func (e *echoSpecialist) Process(ctx context.Context, req contractx.SpecialistRequest) (contractx.SpecialistResponse, error) {
	return contractx.SpecialistResponse{Content: e.name + ": " + req.Message, ToolsUsed: []string{}}, nil
}

func (e *echoSpecialist) ProcessStream(ctx context.Context, req contractx.SpecialistRequest, emit contractx.Emit) (contractx.SpecialistResponse, error) {
	for _, c := range e.chunks {
		if err := emit(c); err != nil {
			return contractx.SpecialistResponse{}, err
		}
	}
	return contractx.SpecialistResponse{Content: strings.Join(e.chunks, "")}, nil
}

func (e *echoSpecialist) HealthCheck(context.Context) error { return nil }

func (e *echoSpecialist) Status(context.Context) contractx.SpecialistStatus {
	return contractx.SpecialistStatus{Name: e.name, State: "active"}
}

type oneRegistry struct{ spec contractx.Specialist }

func (r oneRegistry) Lookup(name string) (contractx.Specialist, bool) {
	return r.spec, name == r.spec.Name()
}

func (r oneRegistry) Names() []string { return []string{r.spec.Name()} }

func (r oneRegistry) Specialists() []contractx.Specialist { return []contractx.Specialist{r.spec} }

type keywordClassifier struct{}

func (keywordClassifier) Classify(ctx context.Context, req contractx.ClassifyRequest) (contractx.RoutingDecision, error) {
	if strings.Contains(strings.ToLower(req.Message), "invoice") {
		return contractx.RoutingDecision{RequiresSpecialist: true, SpecialistName: "billing", Confidence: 0.8}, nil
	}
	return contractx.FallbackDecision("general"), nil
}

func newTestServer(t *testing.T) (*httptest.Server, *orchestratorx.Orchestrator) {
	t.Helper()
	ctx := context.Background()

	fast, err := statex.NewMemoryStore()
	require.NoError(t, err)
	durable, err := historyx.OpenSQLite(ctx, historyx.SQLiteConfig{Path: filepath.Join(t.TempDir(), "turns.db")})
	require.NoError(t, err)
	require.NoError(t, durable.CreateSchema(ctx))
	t.Cleanup(func() { _ = durable.Close() })

	mem, err := memoryx.NewManager(fast, durable, memoryx.Config{})
	require.NoError(t, err)

	main := &echoSpecialist{name: contractx.AgentMain, chunks: []string{"Hel", "lo"}}
	orch, err := orchestratorx.New(mem, oneRegistry{spec: &echoSpecialist{name: "billing"}}, main, keywordClassifier{}, orchestratorx.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Close(context.Background()) })

	srv := httptest.NewServer(NewServer(orch, Config{}).Handler())
	t.Cleanup(srv.Close)
	return srv, orch
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestChatRoundTrip(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/chat", `{"message":"Where is my invoice?","session_id":"s-1","user_id":"u-1"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out contractx.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "s-1", out.SessionID)
	assert.Equal(t, "billing", out.AgentUsed)
	assert.Equal(t, "billing: Where is my invoice?", out.Content)
	assert.NotNil(t, out.ToolsUsed)
	assert.NotEmpty(t, out.MessageID)
}

func TestChatValidationIsBadRequest(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	for _, body := range []string{`{"message":""}`, `{"message":"hi","specialist":"weather"}`, `not json`} {
		resp := postJSON(t, srv.URL+"/chat", body)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestChatStreamSSE(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/chat/stream", `{"message":"hello","session_id":"s-sse"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var types []contractx.FrameType
	var content strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var f contractx.Frame
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f))
		types = append(types, f.Type)
		content.WriteString(f.Content)
	}
	require.NoError(t, scanner.Err())

	assert.Equal(t, []contractx.FrameType{contractx.FrameStart, contractx.FrameChunk, contractx.FrameChunk, contractx.FrameEnd}, types)
	assert.Equal(t, "Hello", content.String())
}

func TestHistoryAndClear(t *testing.T) {
	t.Parallel()
	srv, orch := newTestServer(t)

	for _, msg := range []string{"one", "two", "three"} {
		resp := postJSON(t, srv.URL+"/chat", `{"message":"`+msg+`","session_id":"s-h"}`)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, orch.Flush(ctx))

	resp, err := http.Get(srv.URL + "/sessions/s-h/history?limit=2")
	require.NoError(t, err)
	var hist orchestratorx.HistoryResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hist))
	resp.Body.Close()
	require.Equal(t, 2, hist.Count)
	assert.Equal(t, "two", hist.History[0].UserMessage)
	assert.Equal(t, "three", hist.History[1].UserMessage)

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/sessions/s-h", nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/sessions/s-h/history")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hist))
	resp.Body.Close()
	assert.Equal(t, 3, hist.Count)

	resp, err = http.Get(srv.URL + "/sessions/s-h/history?limit=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusHealthAndRoot(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/agents/status")
	require.NoError(t, err)
	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.Equal(t, "active", status["main_agent"])
	assert.Contains(t, status["sub_agents"], "billing")

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", health["status"])
	services, _ := health["services"].(map[string]any)
	for _, name := range []string{"responder", "agent_billing", "fast_tier", "durable_tier"} {
		assert.Contains(t, services, name)
	}

	resp, err = http.Get(srv.URL + "/")
	require.NoError(t, err)
	var root map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&root))
	resp.Body.Close()
	assert.Equal(t, "running", root["status"])
	assert.Equal(t, "1.0.0", root["version"])
}

func TestClosedOrchestratorIsInternalError(t *testing.T) {
	t.Parallel()
	srv, orch := newTestServer(t)
	require.NoError(t, orch.Close(context.Background()))

	resp := postJSON(t, srv.URL+"/chat", `{"message":"hello"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
