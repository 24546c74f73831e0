package orchestratornode

import (
	"context"
	"strings"

	contractx "github.com/tanpawarit/chative-router/agent/contract"
)

// resolveRoute maps a decision onto the closed registry. An unknown name
// falls back to the generic handler instead of failing.
func resolveRoute(d contractx.RoutingDecision, registry contractx.Registry) (route string, fallback bool) {
	if !d.RequiresSpecialist {
		return contractx.AgentMain, false
	}
	name := strings.ToLower(strings.TrimSpace(d.SpecialistName))
	if name == "" || name == contractx.AgentMain {
		return contractx.AgentMain, false
	}
	if _, ok := registry.Lookup(name); !ok {
		return contractx.AgentMain, true
	}
	return name, false
}

// SpecialistCatalog lists name to description for the classifier prompt.
func SpecialistCatalog(ctx context.Context, registry contractx.Registry) map[string]string {
	specs := registry.Specialists()
	out := make(map[string]string, len(specs))
	for _, spec := range specs {
		out[spec.Name()] = spec.Status(ctx).Description
	}
	return out
}
