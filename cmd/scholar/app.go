package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/scholar/config"
	"github.com/mohammad-safakhou/scholar/internal/blackboard"
	"github.com/mohammad-safakhou/scholar/internal/budget"
	"github.com/mohammad-safakhou/scholar/internal/engagement"
	"github.com/mohammad-safakhou/scholar/internal/events"
	"github.com/mohammad-safakhou/scholar/internal/executor"
	"github.com/mohammad-safakhou/scholar/internal/federation"
	"github.com/mohammad-safakhou/scholar/internal/httpclient"
	"github.com/mohammad-safakhou/scholar/internal/llm"
	"github.com/mohammad-safakhou/scholar/internal/oracle"
	"github.com/mohammad-safakhou/scholar/internal/orchestrator"
	"github.com/mohammad-safakhou/scholar/internal/planner"
	"github.com/mohammad-safakhou/scholar/internal/records"
	"github.com/mohammad-safakhou/scholar/internal/store"
	"github.com/mohammad-safakhou/scholar/internal/telemetry"
)

var version = "dev"

// app holds the wired coordinator and the resources it depends on.
type app struct {
	coord  *federation.Coordinator
	store  *store.Store
	rdb    *redis.Client
	reader *events.Reader
	tel    *telemetry.Telemetry
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	a.tel, err = telemetry.Setup(ctx, cfg.Telemetry, telemetry.Options{ServiceName: "scholar", ServiceVersion: version, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}
	metrics, err := telemetry.ExecutorMetrics(a.tel.Meter())
	if err != nil {
		return nil, err
	}
	transitions, err := telemetry.NewTransitionCounter(a.tel.Meter())
	if err != nil {
		return nil, err
	}

	if cfg.Storage.Postgres.Enabled() {
		a.store, err = store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
		if err != nil {
			return nil, fmt.Errorf("postgres connection failed: %w", err)
		}
	}
	if cfg.Storage.Redis.Enabled() {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:        cfg.Storage.Redis.Addr(),
			Password:    cfg.Storage.Redis.Password,
			DB:          cfg.Storage.Redis.DB,
			DialTimeout: cfg.Storage.Redis.Timeout,
		})
		if err = a.rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
		a.reader = events.NewReader(a.rdb, cfg.Storage.Redis.Stream)
	}

	routing := cfg.LLM.Routing
	var client llm.Client = budget.NewMeteredClient(llm.NewOpenAI(llm.OpenAIConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       routing.Fallback,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
		Temperature: cfg.LLM.Temperature,
	}, logger), logger)

	pl := planner.New(planner.NewLLMOracle(client, routing.Model("planning")),
		planner.WithTimeout(cfg.Planner.Timeout),
		planner.WithLogger(logger),
	)

	domainOpts := func(name string) []orchestrator.Option {
		execOpts := []executor.Option{
			executor.WithStepTimeout(cfg.Executor.StepTimeout),
			executor.WithRetryDelay(cfg.Executor.RetryDelay),
			executor.WithMetrics(metrics),
		}
		if a.store != nil && cfg.Executor.Checkpoints {
			execOpts = append(execOpts, executor.WithCheckpointManager(executor.NewStoreCheckpointManager(a.store, name)))
		}
		opts := []orchestrator.Option{
			orchestrator.WithExecutorOptions(execOpts...),
			orchestrator.WithLogger(logger),
		}
		if a.rdb != nil {
			opts = append(opts, orchestrator.WithSnapshots(blackboard.NewSnapshotter(a.rdb, "scholar", cfg.Storage.Redis.SnapshotTTL)))
		}
		return opts
	}

	var runners []federation.DomainRunner
	if cfg.Engagement.Enabled {
		dom, err := buildEngagement(cfg, client, logger)
		if err != nil {
			return nil, err
		}
		runners = append(runners, orchestrator.New(dom, pl, domainOpts(dom.Name())...))
	}
	if cfg.Records.Enabled {
		dom, err := records.NewDomain(records.Config{
			RecordsDir:       cfg.Records.RecordsDir,
			WorkDir:          filepath.Join(cfg.General.WorkDir, records.Name),
			AccumulateFields: cfg.Records.AccumulateFields,
			NumericMerge:     cfg.Records.NumericMerge,
			MaxAssessed:      cfg.Records.MaxAssessed,
		}, records.NewLLMAssessor(client, routing.Model("analysis")), logger)
		if err != nil {
			return nil, fmt.Errorf("records domain: %w", err)
		}
		runners = append(runners, orchestrator.New(dom, pl, domainOpts(dom.Name())...))
	}
	if len(runners) == 0 {
		return nil, errors.New("no domain is enabled (engagement.enabled, records.enabled)")
	}

	observers := federation.Observers{transitions}
	if a.rdb != nil {
		registry, err := events.NewSchemaRegistry()
		if err != nil {
			return nil, err
		}
		observers = append(observers, events.NewPublisher(a.rdb, registry,
			events.WithStream(cfg.Storage.Redis.Stream),
			events.WithLogger(logger),
		))
	}

	coordOpts := []federation.Option{
		federation.WithClassifyTimeout(cfg.Federation.ClassifyTimeout),
		federation.WithDomainTimeout(cfg.Federation.DomainTimeout),
		federation.WithSynthesisTimeout(cfg.Federation.SynthesisTimeout),
		federation.WithObserver(observers),
		federation.WithBudget(budget.Config{MaxTokens: cfg.LLM.Budget.MaxTokens, MaxCalls: cfg.LLM.Budget.MaxCalls}),
		federation.WithLogger(logger),
	}
	if a.store != nil {
		coordOpts = append(coordOpts, federation.WithRunStore(a.store))
	}
	a.coord, err = federation.New(runners,
		oracle.NewClassifier(client, routing.Model("classification"), logger),
		oracle.NewSynthesizer(client, routing.Model("synthesis"), cfg.Federation.SynthesisMaxTokens, logger),
		coordOpts...,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func buildEngagement(cfg *config.Config, client llm.Client, logger *zap.Logger) (*engagement.Domain, error) {
	ec := cfg.Engagement
	httpc := httpclient.New(ec.HTTPTimeout, ec.HTTPRetries, 0)
	svc := engagement.Services{Analyst: engagement.NewLLMAnalyst(client, cfg.LLM.Routing.Model("analysis"))}
	if ec.DetectorURL != "" {
		svc.Detector = engagement.NewHTTPDetector(httpc, ec.DetectorURL, ec.DetectorAPIKey, ec.MinScore)
	} else {
		logger.Warn("engagement.detector_url not set; detect_students is unavailable")
	}
	if ec.EmotionURL != "" {
		svc.Emotions = engagement.NewHTTPEmotion(httpc, ec.EmotionURL, ec.EmotionToken)
	}
	dom, err := engagement.NewDomain(engagement.Config{
		WorkDir:     filepath.Join(cfg.General.WorkDir, engagement.Name),
		StudentsDir: ec.StudentsDir,
	}, svc, logger)
	if err != nil {
		return nil, fmt.Errorf("engagement domain: %w", err)
	}
	return dom, nil
}

// Close releases every resource that was opened.
func (a *app) Close(ctx context.Context) {
	if a == nil {
		return
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.tel.Shutdown(ctx)
}
