package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	orchestratorx "github.com/tanpawarit/chative-router/agent/agents/orchestrator"
	"github.com/tanpawarit/chative-router/agent/agents/specialist"
	historyx "github.com/tanpawarit/chative-router/agent/history"
	llmx "github.com/tanpawarit/chative-router/agent/llm"
	memoryx "github.com/tanpawarit/chative-router/agent/memory"
	statex "github.com/tanpawarit/chative-router/agent/state"
	configx "github.com/tanpawarit/chative-router/pkg/config"
	openrouterx "github.com/tanpawarit/chative-router/pkg/openrouter"
)

type MemoryConfig struct {
	FastTier       string        `envconfig:"FAST_TIER" split_words:"true" default:"memory"`
	DurableTier    string        `envconfig:"DURABLE_TIER" split_words:"true" default:"sqlite"`
	SessionTimeout time.Duration `envconfig:"SESSION_TIMEOUT" split_words:"true" default:"60m"`
	RecentTurns    int           `envconfig:"RECENT_TURNS" split_words:"true" default:"20"`
	KeyPrefix      string        `envconfig:"KEY_PREFIX" split_words:"true" default:"chative:session:"`
}

// app owns every long-lived resource behind the orchestrator.
type app struct {
	orch    *orchestratorx.Orchestrator
	fast    statex.Store
	durable *historyx.Log
}

func (a *app) Close(ctx context.Context) error {
	var errs []error
	if err := a.orch.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close orchestrator: %w", err))
	}
	if err := a.fast.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close fast tier: %w", err))
	}
	if err := a.durable.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close durable tier: %w", err))
	}
	return errors.Join(errs...)
}

func buildApp(ctx context.Context) (*app, error) {
	memCfg, managerCfg, err := loadMemoryConfig()
	if err != nil {
		return nil, err
	}

	fast, err := openFastTier(*memCfg)
	if err != nil {
		return nil, err
	}
	durable, err := openDurableTier(ctx, memCfg.DurableTier)
	if err != nil {
		_ = fast.Close()
		return nil, err
	}

	closeTiers := func() {
		_ = fast.Close()
		_ = durable.Close()
	}

	mem, err := memoryx.NewManager(fast, durable, *managerCfg)
	if err != nil {
		closeTiers()
		return nil, err
	}

	llmCfg, err := configx.New[llmx.Config]("LLM")
	if err != nil {
		closeTiers()
		return nil, fmt.Errorf("llm config: %w", err)
	}
	prober, err := openrouterx.NewProber(llmCfg.OpenRouterFor(llmx.RoleClassifier))
	if err != nil {
		closeTiers()
		return nil, err
	}
	set, err := specialist.Build(ctx, *llmCfg, specialist.WithHealthChecker(prober))
	if err != nil {
		closeTiers()
		return nil, err
	}

	orchCfg, err := configx.New[orchestratorx.Config]("ORCHESTRATOR")
	if err != nil {
		closeTiers()
		return nil, fmt.Errorf("orchestrator config: %w", err)
	}
	orch, err := orchestratorx.New(mem, set.Registry, set.Main, set.Classifier, *orchCfg,
		orchestratorx.WithResponderProbe(prober),
	)
	if err != nil {
		closeTiers()
		return nil, err
	}

	log.Info().
		Str("fast_tier", memCfg.FastTier).
		Str("durable_tier", memCfg.DurableTier).
		Strs("specialists", set.Registry.Names()).
		Msg("orchestrator ready")

	return &app{orch: orch, fast: fast, durable: durable}, nil
}

// loadMemoryConfig reads the MEMORY_ prefix twice: tier selection for the
// wiring, history limits for the manager.
func loadMemoryConfig() (*MemoryConfig, *memoryx.Config, error) {
	memCfg, err := configx.New[MemoryConfig]("MEMORY")
	if err != nil {
		return nil, nil, fmt.Errorf("memory config: %w", err)
	}
	managerCfg, err := configx.New[memoryx.Config]("MEMORY")
	if err != nil {
		return nil, nil, fmt.Errorf("memory manager config: %w", err)
	}
	return memCfg, managerCfg, nil
}

func openFastTier(cfg MemoryConfig) (statex.Store, error) {
	opts := []statex.StoreOption{
		statex.WithKeyPrefix(cfg.KeyPrefix),
		statex.WithTTL(cfg.SessionTimeout),
		statex.WithCapacity(cfg.RecentTurns),
	}

	switch strings.ToLower(strings.TrimSpace(cfg.FastTier)) {
	case "", "memory":
		return statex.NewMemoryStore(opts...)
	case "redis":
		redisCfg, err := configx.New[statex.RedisConfig]("REDIS")
		if err != nil {
			return nil, fmt.Errorf("redis config: %w", err)
		}
		return statex.NewRedisStore(*redisCfg, opts...)
	case "upstash":
		upstashCfg, err := configx.New[statex.UpstashRedisConfig]("UPSTASH_REDIS")
		if err != nil {
			return nil, fmt.Errorf("upstash redis config: %w", err)
		}
		return statex.NewUpstashRedisStore(*upstashCfg, opts...)
	default:
		return nil, fmt.Errorf("unknown fast tier %q", cfg.FastTier)
	}
}

func openDurableTier(ctx context.Context, kind string) (*historyx.Log, error) {
	var (
		durable *historyx.Log
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "sqlite":
		cfg, cfgErr := configx.New[historyx.SQLiteConfig]("SQLITE")
		if cfgErr != nil {
			return nil, fmt.Errorf("sqlite config: %w", cfgErr)
		}
		durable, err = historyx.OpenSQLite(ctx, *cfg)
	case "postgres":
		cfg, cfgErr := configx.New[historyx.PostgresConfig]("POSTGRES")
		if cfgErr != nil {
			return nil, fmt.Errorf("postgres config: %w", cfgErr)
		}
		durable, err = historyx.OpenPostgres(ctx, *cfg)
	default:
		return nil, fmt.Errorf("unknown durable tier %q", kind)
	}
	if err != nil {
		return nil, err
	}
	if err := durable.CreateSchema(ctx); err != nil {
		_ = durable.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return durable, nil
}
