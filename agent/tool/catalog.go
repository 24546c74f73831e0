package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/chative-router/agent/contract"
)

const (
	ToolCampaignCreate   = "campaign.create"
	ToolCampaignOptimize = "campaign.optimize"
	ToolMetricsCompute   = "metrics.compute"
)

// Executor runs one named tool. Bad arguments come back as ToolResult.Error so
// the model can read them; only infrastructure failures return an error.
type Executor func(ctx context.Context, tool string, args map[string]any) (contractx.ToolResult, error)

type options struct {
	now func() time.Time
}

type Option func(*options)

// WithClock fixes the time used for generated campaign ids.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// BuildForSpecialist returns the tool schemas offered to the model and the
// executor that serves them. Specialists without tools get nil infos.
func BuildForSpecialist(name string, opts ...Option) ([]*schema.ToolInfo, Executor) {
	return infosForSpecialist(name), NewExecutor(name, opts...)
}

func NewExecutor(name string, opts ...Option) Executor {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	fallback := DefaultExecutor(name)
	allowed := make(map[string]struct{}, 3)
	for _, info := range infosForSpecialist(name) {
		allowed[info.Name] = struct{}{}
	}

	return func(ctx context.Context, tool string, args map[string]any) (contractx.ToolResult, error) {
		if _, ok := allowed[tool]; !ok {
			return fallback(ctx, tool, args)
		}
		switch tool {
		case ToolCampaignCreate:
			return executeCampaignCreate(tool, args, o.now())
		case ToolCampaignOptimize:
			return executeCampaignOptimize(tool, args)
		case ToolMetricsCompute:
			return executeMetricsTool(tool, args)
		default:
			return fallback(ctx, tool, args)
		}
	}
}

func DefaultExecutor(name string) Executor {
	return func(ctx context.Context, tool string, _ map[string]any) (contractx.ToolResult, error) {
		return contractx.ToolResult{
			Tool:  tool,
			Error: fmt.Sprintf("tool=%s is unavailable for specialist=%s", tool, name),
		}, nil
	}
}

// Names lists the tool names in infos, in order.
func Names(infos []*schema.ToolInfo) []string {
	out := make([]string, 0, len(infos))
	for _, info := range infos {
		if info != nil {
			out = append(out, info.Name)
		}
	}
	return out
}

func infosForSpecialist(name string) []*schema.ToolInfo {
	switch name {
	case contractx.SpecialistCampaign:
		return []*schema.ToolInfo{
			{
				Name: ToolCampaignCreate,
				Desc: "Create a new advertising campaign and return its id.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"name":      {Type: schema.String, Desc: "Campaign name", Required: true},
					"objective": {Type: schema.String, Desc: "Campaign objective, e.g. awareness or conversions"},
					"budget":    {Type: schema.Number, Desc: "Total budget"},
					"channel":   {Type: schema.String, Desc: "Channel the campaign runs on"},
				}),
			},
			{
				Name: ToolCampaignOptimize,
				Desc: "Optimize an existing campaign and report the expected improvement.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"campaign_id": {Type: schema.String, Desc: "Campaign id to optimize", Required: true},
					"goal":        {Type: schema.String, Desc: "Metric to improve, e.g. ctr or cpa"},
				}),
			},
		}
	case contractx.SpecialistAnalytics:
		return []*schema.ToolInfo{
			{
				Name: ToolMetricsCompute,
				Desc: "Evaluate a KPI formula over named metric values, e.g. clicks / impressions * 100.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"expression": {Type: schema.String, Desc: "Arithmetic formula; identifiers refer to variables", Required: true},
					"variables": {
						Type:     schema.Object,
						Desc:     "Metric values keyed by identifier",
						Required: false,
					},
				}),
			},
		}
	default:
		return nil
	}
}
