package specialist

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"

	contractx "github.com/tanpawarit/chative-router/agent/contract"
	llmx "github.com/tanpawarit/chative-router/agent/llm"
	promptx "github.com/tanpawarit/chative-router/agent/prompt"
	toolx "github.com/tanpawarit/chative-router/agent/tool"
	openrouterx "github.com/tanpawarit/chative-router/pkg/openrouter"
)

// Definition names one specialist and the topic the classifier routes to it.
type Definition struct {
	Name        string
	Description string
}

// Definitions is the closed specialist set, in registry order.
var Definitions = []Definition{
	{Name: contractx.SpecialistProduct, Description: "product features, plans, pricing and comparisons"},
	{Name: contractx.SpecialistBilling, Description: "account settings, invoices, payments and subscriptions"},
	{Name: contractx.SpecialistPlatform, Description: "integrations, API usage, webhooks and technical configuration"},
	{Name: contractx.SpecialistAnalytics, Description: "metrics, KPIs, insights and performance reports"},
	{Name: contractx.SpecialistCampaign, Description: "creating, optimizing and analyzing advertising campaigns"},
}

const mainDescription = "general questions about the platform and small talk"

type registryImpl struct {
	byName map[string]contractx.Specialist
	order  []string
}

// NewStaticRegistry builds a registry from specs. Names must be unique,
// non-empty and distinct from the generic handler's name.
func NewStaticRegistry(specs ...contractx.Specialist) (contractx.Registry, error) {
	r := &registryImpl{
		byName: make(map[string]contractx.Specialist, len(specs)),
		order:  make([]string, 0, len(specs)),
	}
	for _, s := range specs {
		if s == nil {
			return nil, fmt.Errorf("%w: nil specialist", contractx.ErrValidation)
		}
		name := strings.ToLower(strings.TrimSpace(s.Name()))
		switch {
		case name == "":
			return nil, fmt.Errorf("%w: specialist name is empty", contractx.ErrValidation)
		case name == contractx.AgentMain:
			return nil, fmt.Errorf("%w: %q is reserved for the generic handler", contractx.ErrValidation, name)
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("%w: duplicate specialist %q", contractx.ErrValidation, name)
		}
		r.byName[name] = s
		r.order = append(r.order, name)
	}
	return r, nil
}

func (r *registryImpl) Lookup(name string) (contractx.Specialist, bool) {
	s, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return s, ok
}

func (r *registryImpl) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *registryImpl) Specialists() []contractx.Specialist {
	out := make([]contractx.Specialist, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// ModelFactory builds a responder from resolved settings.
type ModelFactory func(ctx context.Context, cfg openrouterx.Config) (einomodel.ToolCallingChatModel, error)

func defaultModelFactory(ctx context.Context, cfg openrouterx.Config) (einomodel.ToolCallingChatModel, error) {
	return cfg.New(ctx)
}

// Set is everything the orchestrator dispatches to.
type Set struct {
	Registry   contractx.Registry
	Main       contractx.Specialist
	Classifier contractx.Classifier
}

type buildOptions struct {
	factory     ModelFactory
	prober      contractx.HealthChecker
	toolOptions []toolx.Option
}

type BuildOption func(*buildOptions)

func WithModelFactory(f ModelFactory) BuildOption {
	return func(o *buildOptions) {
		if f != nil {
			o.factory = f
		}
	}
}

// WithHealthChecker sets the responder probe every handler reports through.
func WithHealthChecker(h contractx.HealthChecker) BuildOption {
	return func(o *buildOptions) {
		o.prober = h
	}
}

func WithToolOptions(opts ...toolx.Option) BuildOption {
	return func(o *buildOptions) {
		o.toolOptions = append(o.toolOptions, opts...)
	}
}

// Build creates the classifier, the generic handler and every specialist in
// Definitions, each with its own responder settings.
func Build(ctx context.Context, cfg llmx.Config, opts ...BuildOption) (Set, error) {
	if err := cfg.Validate(); err != nil {
		return Set{}, err
	}
	o := buildOptions{factory: defaultModelFactory}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	prompts, err := promptx.LoadPromptSet()
	if err != nil {
		return Set{}, err
	}

	classifierCfg := cfg.OpenRouterFor(llmx.RoleClassifier)
	classifierModel, err := o.factory(ctx, classifierCfg)
	if err != nil {
		return Set{}, fmt.Errorf("%w: create classifier model: %v", contractx.ErrModelInvoke, err)
	}
	classifier, err := NewClassifier(ctx, classifierModel, prompts.Classifier)
	if err != nil {
		return Set{}, err
	}

	main, err := buildOne(ctx, cfg, o, prompts, Definition{Name: contractx.AgentMain, Description: mainDescription})
	if err != nil {
		return Set{}, err
	}

	specs := make([]contractx.Specialist, 0, len(Definitions))
	for _, def := range Definitions {
		spec, err := buildOne(ctx, cfg, o, prompts, def)
		if err != nil {
			return Set{}, err
		}
		specs = append(specs, spec)
	}
	registry, err := NewStaticRegistry(specs...)
	if err != nil {
		return Set{}, err
	}

	return Set{
		Registry:   registry,
		Main:       main,
		Classifier: classifier,
	}, nil
}

func buildOne(ctx context.Context, cfg llmx.Config, o buildOptions, prompts promptx.PromptSet, def Definition) (*specialistImpl, error) {
	systemPrompt, err := prompts.For(def.Name)
	if err != nil {
		return nil, err
	}
	modelCfg := cfg.OpenRouterFor(def.Name)
	chatModel, err := o.factory(ctx, modelCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s model: %v", contractx.ErrModelInvoke, def.Name, err)
	}
	tools, executor := toolx.BuildForSpecialist(def.Name, o.toolOptions...)

	return newSpecialist(ctx, config{
		name:         def.Name,
		description:  def.Description,
		modelName:    modelCfg.Model,
		systemPrompt: systemPrompt,
		chatModel:    chatModel,
		tools:        tools,
		executor:     executor,
		prober:       o.prober,
	})
}
