package contract

import (
	"strings"
	"time"

	statex "github.com/tanpawarit/chative-router/agent/state"
)

// AgentMain is the agent_used value of the generic handler.
const AgentMain = "main"

const (
	SpecialistProduct   = "product"
	SpecialistBilling   = "billing"
	SpecialistPlatform  = "platform"
	SpecialistAnalytics = "analytics"
	SpecialistCampaign  = "campaign"
)

type Request struct {
	Message   string         `json:"message"`
	SessionID string         `json:"session_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	// Specialist forces dispatch to a named specialist and skips classification.
	Specialist string `json:"specialist,omitempty"`
}

type Response struct {
	SessionID string         `json:"session_id"`
	MessageID string         `json:"message_id"`
	Content   string         `json:"content"`
	AgentUsed string         `json:"agent_used"`
	ToolsUsed []string       `json:"tools_used"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp time.Time      `json:"timestamp"`
}

type FrameType string

const (
	FrameStart FrameType = "start"
	FrameChunk FrameType = "chunk"
	FrameEnd   FrameType = "end"
	FrameError FrameType = "error"
)

// Frame is one unit of a streamed response.
type Frame struct {
	Type      FrameType      `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	AgentUsed string         `json:"agent_used,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (f Frame) Terminal() bool {
	return f.Type == FrameEnd || f.Type == FrameError
}

type RoutingDecision struct {
	RequiresSpecialist bool    `json:"requires_specialist"`
	SpecialistName     string  `json:"specialist_name,omitempty"`
	Confidence         float64 `json:"confidence"`
	Reasoning          string  `json:"reasoning"`
}

// FallbackDecision routes to the generic handler.
func FallbackDecision(reason string) RoutingDecision {
	return RoutingDecision{
		RequiresSpecialist: false,
		Confidence:         0,
		Reasoning:          reason,
	}
}

func (d RoutingDecision) Normalized() RoutingDecision {
	d.SpecialistName = strings.ToLower(strings.TrimSpace(d.SpecialistName))
	switch {
	case d.Confidence < 0:
		d.Confidence = 0
	case d.Confidence > 1:
		d.Confidence = 1
	}
	if !d.RequiresSpecialist {
		d.SpecialistName = ""
	}
	return d
}

func (d RoutingDecision) AsMetadata() map[string]any {
	out := map[string]any{
		"requires_specialist": d.RequiresSpecialist,
		"confidence":          d.Confidence,
		"reasoning":           d.Reasoning,
	}
	if d.SpecialistName != "" {
		out["specialist_name"] = d.SpecialistName
	}
	return out
}

type ClassifyRequest struct {
	Message     string            `json:"message"`
	Specialists map[string]string `json:"specialists"`
	History     []statex.Turn     `json:"history,omitempty"`
	Context     map[string]any    `json:"context,omitempty"`
}

type SpecialistRequest struct {
	Message   string         `json:"message"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	History   []statex.Turn  `json:"history,omitempty"`
}

type SpecialistResponse struct {
	Content   string         `json:"content"`
	ToolsUsed []string       `json:"tools_used,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type SpecialistStatus struct {
	Name        string     `json:"name"`
	State       string     `json:"status"`
	Description string     `json:"description,omitempty"`
	Tools       []string   `json:"tools_available,omitempty"`
	Detail      string     `json:"detail,omitempty"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
}

type ToolResult struct {
	Tool   string `json:"tool"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}
