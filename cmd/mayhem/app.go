package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rarehotdog/pjt.mayhem/internal/assistant"
	"github.com/rarehotdog/pjt.mayhem/internal/config"
	promptctx "github.com/rarehotdog/pjt.mayhem/internal/context"
	"github.com/rarehotdog/pjt.mayhem/internal/delivery"
	"github.com/rarehotdog/pjt.mayhem/internal/fallback"
	"github.com/rarehotdog/pjt.mayhem/internal/jobs"
	"github.com/rarehotdog/pjt.mayhem/internal/ledger"
	"github.com/rarehotdog/pjt.mayhem/internal/ratelimit"
	"github.com/rarehotdog/pjt.mayhem/internal/scheduler"
	"github.com/rarehotdog/pjt.mayhem/internal/state"
	"github.com/rarehotdog/pjt.mayhem/internal/telegram"
	"github.com/rarehotdog/pjt.mayhem/internal/ttlcache"
	"github.com/rarehotdog/pjt.mayhem/pkg/llm"
	"github.com/rarehotdog/pjt.mayhem/pkg/llm/anthropic"
	"github.com/rarehotdog/pjt.mayhem/pkg/llm/openai"
)

// app is the wired object graph shared by serve and the one-shot commands.
type app struct {
	holder    *config.Holder
	db        *sql.DB
	store     *state.Store
	sender    *telegram.Sender
	queue     *jobs.Queue
	limits    *ttlcache.Cache[int64, int]
	assistant *assistant.Service
	batches   *scheduler.Coordinator
}

func newApp(cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := state.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	store := state.NewStore(db)
	holder := newHolder(cfg)

	// Provider clients are built once; a config reload needs a restart to
	// pick up new keys or models.
	primary := openai.New(&llm.Config{
		BaseURL:   cfg.OpenAI.BaseURL,
		APIKey:    cfg.OpenAI.APIKey,
		Model:     cfg.OpenAI.Model,
		MaxTokens: cfg.OpenAI.MaxTokens,
		Timeout:   cfg.LLMTimeout(),
	})
	secondary := anthropic.New(&llm.Config{
		BaseURL:   cfg.Anthropic.BaseURL,
		APIKey:    cfg.Anthropic.APIKey,
		Model:     cfg.Anthropic.Model,
		MaxTokens: cfg.Anthropic.MaxTokens,
		Timeout:   cfg.LLMTimeout(),
	})
	prompts, err := promptctx.New(cfg.OpenAI.Model, cfg.Assistant.MaxContextTokens)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create context engine: %w", err)
	}
	generator := fallback.New(primary, secondary, prompts, fallback.Config{
		Candidates:     cfg.OpenAI.Candidates,
		PrimaryRates:   fallback.Rates{Input: cfg.OpenAI.InputCostPer1K, Output: cfg.OpenAI.OutputCostPer1K},
		SecondaryRates: fallback.Rates{Input: cfg.Anthropic.InputCostPer1K, Output: cfg.Anthropic.OutputCostPer1K},
		Timeout:        cfg.LLMTimeout(),
	})

	sender := telegram.NewSender(holder)
	queue := jobs.NewQueue(store)
	ldg := ledger.New(store)
	limits := ratelimit.NewStore()

	svc := assistant.New(assistant.Deps{
		Config:    holder,
		Store:     store,
		Ledger:    ldg,
		Jobs:      queue,
		Generator: generator,
		Messenger: sender,
		Limiter:   ratelimit.New(limits),
	})
	batches := scheduler.NewCoordinator(scheduler.Deps{
		Config:    holder,
		Store:     store,
		Composer:  svc,
		Messenger: sender,
		Ledger:    ldg,
		Jobs:      queue,
		Router:    delivery.NewRouter(sender),
	})

	return &app{
		holder:    holder,
		db:        db,
		store:     store,
		sender:    sender,
		queue:     queue,
		limits:    limits,
		assistant: svc,
		batches:   batches,
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func scheduleStore(cfg *config.Config) *state.ScheduleStore {
	return state.NewScheduleStore(filepath.Join(cfg.DataDir, "schedules.json"))
}
