package specialist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-router/agent/contract"
	toolx "github.com/tanpawarit/chative-router/agent/tool"
)

const (
	stateActive = "active"

	// maxToolRounds bounds the tool-call loop before a final answer is forced.
	maxToolRounds = 2
)

var _ contractx.Specialist = (*specialistImpl)(nil)

// specialistImpl answers with one responder and an optional tool set. All
// fields are set at construction; concurrent calls share nothing mutable
// except the last-used timestamp.
type specialistImpl struct {
	name         string
	description  string
	modelName    string
	systemPrompt string
	chatModel    einomodel.ToolCallingChatModel
	toolModel    einomodel.ToolCallingChatModel
	tools        []*schema.ToolInfo
	allowedTools map[string]struct{}
	executor     toolx.Executor
	prober       contractx.HealthChecker
	runner       compose.Runnable[contractx.SpecialistRequest, contractx.SpecialistResponse]
	lastUsed     atomic.Pointer[time.Time]
}

type config struct {
	name         string
	description  string
	modelName    string
	systemPrompt string
	chatModel    einomodel.ToolCallingChatModel
	tools        []*schema.ToolInfo
	executor     toolx.Executor
	prober       contractx.HealthChecker
}

func newSpecialist(ctx context.Context, cfg config) (*specialistImpl, error) {
	if strings.TrimSpace(cfg.name) == "" {
		return nil, fmt.Errorf("%w: specialist name is required", contractx.ErrValidation)
	}
	if cfg.chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is required for %s", contractx.ErrValidation, cfg.name)
	}
	if strings.TrimSpace(cfg.systemPrompt) == "" {
		return nil, fmt.Errorf("%w: %s", contractx.ErrPromptMissing, cfg.name)
	}

	spec := &specialistImpl{
		name:         cfg.name,
		description:  cfg.description,
		modelName:    cfg.modelName,
		systemPrompt: cfg.systemPrompt,
		chatModel:    cfg.chatModel,
		tools:        cfg.tools,
		executor:     cfg.executor,
		prober:       cfg.prober,
		allowedTools: make(map[string]struct{}, len(cfg.tools)),
	}

	if len(cfg.tools) > 0 {
		if cfg.executor == nil {
			return nil, fmt.Errorf("%w: tool executor is required for %s", contractx.ErrValidation, cfg.name)
		}
		toolModel, err := cfg.chatModel.WithTools(cfg.tools)
		if err != nil {
			return nil, fmt.Errorf("%w: bind tools for specialist=%s: %v", contractx.ErrModelInvoke, cfg.name, err)
		}
		spec.toolModel = toolModel
		for _, t := range cfg.tools {
			if t == nil || strings.TrimSpace(t.Name) == "" {
				continue
			}
			spec.allowedTools[t.Name] = struct{}{}
		}
	}

	runner, err := compileSpecialistRuntimeGraph(ctx, spec.prepareMessages, spec.toolModel != nil, spec.runWithTools, spec.runDirect)
	if err != nil {
		return nil, fmt.Errorf("%w: compile specialist runtime graph: %v", contractx.ErrModelInvoke, err)
	}
	spec.runner = runner
	return spec, nil
}

func (s *specialistImpl) Name() string {
	return s.name
}

func (s *specialistImpl) Process(ctx context.Context, req contractx.SpecialistRequest) (contractx.SpecialistResponse, error) {
	s.touch()
	out, err := s.runner.Invoke(ctx, req)
	if err != nil {
		return contractx.SpecialistResponse{}, err
	}
	return out, nil
}

// ProcessStream runs the tool phase (if any) to completion, then streams the
// final answer through emit chunk by chunk.
func (s *specialistImpl) ProcessStream(ctx context.Context, req contractx.SpecialistRequest, emit contractx.Emit) (contractx.SpecialistResponse, error) {
	s.touch()
	msgs, err := s.prepareMessages(req)
	if err != nil {
		return contractx.SpecialistResponse{}, err
	}

	var toolsUsed []string
	var results []contractx.ToolResult
	if s.toolModel != nil {
		answer, next, used, res, err := s.toolRounds(ctx, msgs)
		if err != nil {
			return contractx.SpecialistResponse{}, err
		}
		if answer != "" {
			if err := emit(answer); err != nil {
				return contractx.SpecialistResponse{}, err
			}
			return s.response(answer, used, res), nil
		}
		msgs, toolsUsed, results = next, used, res
	}

	streamModel := s.chatModel
	if s.toolModel != nil {
		streamModel = s.toolModel
	}
	sr, err := streamModel.Stream(ctx, msgs)
	if err != nil {
		return contractx.SpecialistResponse{}, fmt.Errorf("%w: %s stream: %v", contractx.ErrModelInvoke, s.name, err)
	}
	defer sr.Close()

	var content strings.Builder
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return contractx.SpecialistResponse{}, fmt.Errorf("%w: %s stream recv: %v", contractx.ErrModelInvoke, s.name, err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		content.WriteString(chunk.Content)
		if err := emit(chunk.Content); err != nil {
			return contractx.SpecialistResponse{}, err
		}
	}

	if strings.TrimSpace(content.String()) == "" {
		return contractx.SpecialistResponse{}, fmt.Errorf("%w: %s streamed an empty answer", contractx.ErrSchemaViolation, s.name)
	}
	return s.response(content.String(), toolsUsed, results), nil
}

func (s *specialistImpl) HealthCheck(ctx context.Context) error {
	if s.prober == nil {
		return nil
	}
	return s.prober.HealthCheck(ctx)
}

func (s *specialistImpl) Status(ctx context.Context) contractx.SpecialistStatus {
	st := contractx.SpecialistStatus{
		Name:        s.name,
		State:       stateActive,
		Description: s.description,
		Tools:       toolx.Names(s.tools),
		Detail:      s.modelName,
		LastUsed:    s.lastUsed.Load(),
	}
	return st
}

func (s *specialistImpl) touch() {
	now := time.Now().UTC()
	s.lastUsed.Store(&now)
}

func (s *specialistImpl) prepareMessages(req contractx.SpecialistRequest) ([]*schema.Message, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", contractx.ErrValidation)
	}

	system := s.systemPrompt
	if len(req.Context) > 0 {
		hints, err := json.Marshal(req.Context)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal context: %v", contractx.ErrValidation, err)
		}
		system += "\n\nConversation context: " + string(hints)
	}

	msgs := make([]*schema.Message, 0, 2*len(req.History)+2)
	msgs = append(msgs, schema.SystemMessage(system))
	for _, t := range req.History {
		if t.UserMessage != "" {
			msgs = append(msgs, schema.UserMessage(t.UserMessage))
		}
		if t.AgentResponse != "" {
			msgs = append(msgs, schema.AssistantMessage(t.AgentResponse, nil))
		}
	}
	msgs = append(msgs, schema.UserMessage(req.Message))
	return msgs, nil
}

func (s *specialistImpl) runDirect(ctx context.Context, msgs []*schema.Message) (contractx.SpecialistResponse, error) {
	msg, err := s.chatModel.Generate(ctx, msgs)
	if err != nil {
		return contractx.SpecialistResponse{}, fmt.Errorf("%w: %s generate: %v", contractx.ErrModelInvoke, s.name, err)
	}
	content := ""
	if msg != nil {
		content = strings.TrimSpace(msg.Content)
	}
	if content == "" {
		return contractx.SpecialistResponse{}, fmt.Errorf("%w: %s returned an empty answer", contractx.ErrSchemaViolation, s.name)
	}
	return s.response(content, nil, nil), nil
}

func (s *specialistImpl) runWithTools(ctx context.Context, msgs []*schema.Message) (contractx.SpecialistResponse, error) {
	answer, next, used, results, err := s.toolRounds(ctx, msgs)
	if err != nil {
		return contractx.SpecialistResponse{}, err
	}
	if answer != "" {
		return s.response(answer, used, results), nil
	}

	msg, err := s.toolModel.Generate(ctx, next)
	if err != nil {
		return contractx.SpecialistResponse{}, fmt.Errorf("%w: %s final answer: %v", contractx.ErrModelInvoke, s.name, err)
	}
	content := ""
	if msg != nil {
		content = strings.TrimSpace(msg.Content)
	}
	if content == "" {
		return contractx.SpecialistResponse{}, fmt.Errorf("%w: %s returned no answer after tool use", contractx.ErrSchemaViolation, s.name)
	}
	return s.response(content, used, results), nil
}

// toolRounds lets the model call tools. It returns a non-empty answer when
// the model replied without calling a tool; otherwise the extended message
// list that a final generation should continue from.
func (s *specialistImpl) toolRounds(ctx context.Context, msgs []*schema.Message) (string, []*schema.Message, []string, []contractx.ToolResult, error) {
	var used []string
	var results []contractx.ToolResult

	for round := 0; round < maxToolRounds; round++ {
		plan, err := s.toolModel.Generate(ctx, msgs)
		if err != nil {
			return "", nil, nil, nil, fmt.Errorf("%w: %s tool planning: %v", contractx.ErrModelInvoke, s.name, err)
		}
		if plan == nil {
			return "", nil, nil, nil, fmt.Errorf("%w: %s empty tool planning response", contractx.ErrSchemaViolation, s.name)
		}

		calls, err := toToolRequests(plan.ToolCalls)
		if err != nil {
			return "", nil, nil, nil, err
		}
		if len(calls) == 0 {
			content := strings.TrimSpace(plan.Content)
			if content == "" {
				return "", nil, nil, nil, fmt.Errorf("%w: %s returned neither tool calls nor content", contractx.ErrSchemaViolation, s.name)
			}
			return content, nil, used, results, nil
		}

		msgs = append(msgs, plan)
		for _, call := range calls {
			res, err := s.executor(ctx, call.Tool, call.Args)
			if err != nil {
				return "", nil, nil, nil, fmt.Errorf("execute tool %s: %w", call.Tool, err)
			}
			if _, ok := s.allowedTools[call.Tool]; ok {
				used = append(used, call.Tool)
			} else {
				log.Warn().Str("agent", s.name).Str("tool", call.Tool).Msg("model requested a tool outside its set")
			}
			results = append(results, res)

			payload, err := json.Marshal(res)
			if err != nil {
				return "", nil, nil, nil, fmt.Errorf("marshal tool result %s: %w", call.Tool, err)
			}
			msgs = append(msgs, schema.ToolMessage(string(payload), call.ID))
		}
	}
	return "", msgs, used, results, nil
}

func (s *specialistImpl) response(content string, toolsUsed []string, results []contractx.ToolResult) contractx.SpecialistResponse {
	if toolsUsed == nil {
		toolsUsed = []string{}
	}
	meta := map[string]any{
		"agent": s.name,
	}
	if s.modelName != "" {
		meta["model"] = s.modelName
	}
	if len(results) > 0 {
		meta["tool_results"] = results
	}
	return contractx.SpecialistResponse{
		Content:   content,
		ToolsUsed: toolsUsed,
		Metadata:  meta,
	}
}

type toolRequest struct {
	ID   string
	Tool string
	Args map[string]any
}

func toToolRequests(calls []schema.ToolCall) ([]toolRequest, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	reqs := make([]toolRequest, 0, len(calls))
	for _, call := range calls {
		tool := strings.TrimSpace(call.Function.Name)
		if tool == "" {
			return nil, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}

		args := map[string]any{}
		rawArgs := strings.TrimSpace(call.Function.Arguments)
		if rawArgs != "" {
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				return nil, fmt.Errorf("%w: invalid tool args for tool=%s: %v", contractx.ErrSchemaViolation, tool, err)
			}
		}

		reqs = append(reqs, toolRequest{
			ID:   call.ID,
			Tool: tool,
			Args: args,
		})
	}
	return reqs, nil
}
