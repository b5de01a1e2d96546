package cli

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rcliao/agriplan/internal/chain"
	"github.com/rcliao/agriplan/internal/collector"
	"github.com/rcliao/agriplan/internal/config"
	"github.com/rcliao/agriplan/internal/llm"
	"github.com/rcliao/agriplan/internal/logger"
	"github.com/rcliao/agriplan/internal/metrics"
	"github.com/rcliao/agriplan/internal/orchestrator"
	"github.com/rcliao/agriplan/internal/prompt"
	"github.com/rcliao/agriplan/internal/store"
	"github.com/rcliao/agriplan/internal/tracing"
	"github.com/rcliao/agriplan/internal/vision"
)

// app holds the collaborators shared by every session of one process.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	metrics  *metrics.Metrics
	store    store.Store
	backend  string
	gatherer *collector.Gatherer
	invoker  *llm.Invoker
	analyzer *vision.Analyzer
	composer *prompt.Composer
	policy   orchestrator.Policy

	shutdownTracing func(context.Context) error
	closeOnce       sync.Once
}

// newApp wires the pipeline. backend overrides cfg.Memory.Backend when set.
func newApp(ctx context.Context, cfg *config.Config, backend string) (*app, error) {
	log, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &app{cfg: cfg, log: log, metrics: metrics.New()}

	a.shutdownTracing, err = tracing.Init(ctx, log, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	if backend == "" {
		backend = cfg.Memory.Backend
	}
	a.backend = backend
	a.store, err = openStore(ctx, cfg, backend)
	if err != nil {
		return nil, err
	}

	a.policy, err = cfg.Policy()
	if err != nil {
		return nil, err
	}
	a.composer = prompt.NewComposer(cfg.Prompt.FieldBudget)

	text := llm.NewOpenAIBackend(cfg.LLM.Text.BaseURL, cfg.LLM.Text.APIKey, cfg.LLM.Text.Model)
	text.MaxTokens = cfg.LLM.Text.MaxTokens
	vis := llm.NewOpenAIBackend(cfg.LLM.Vision.BaseURL, cfg.LLM.Vision.APIKey, cfg.LLM.Vision.Model)
	vis.MaxTokens = cfg.LLM.Vision.MaxTokens
	a.invoker = llm.NewInvoker(llm.Router{Text: text, Image: vis},
		llm.WithRetryConfig(cfg.Retry()),
		llm.WithLogger(log),
		llm.WithMetrics(a.metrics),
	)
	if cfg.Vision.PreAnalysis {
		a.analyzer = vision.NewAnalyzer(a.invoker, cfg.LLM.Vision.Model, log)
	}

	a.gatherer = collector.NewGatherer(log, a.metrics,
		collector.GeoCollector{},
		collector.NewWeatherCollector(cfg.Weather.Host, cfg.Weather.APIKey, cfg.Weather.HorizonDays, cfg.Weather.Timeout),
		collector.CropCollector{},
		collector.NewImageCollector(cfg.Vision.MaxSide, cfg.Vision.JPEGQuality),
		collector.GoalCollector{},
	)
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config, backend string) (store.Store, error) {
	switch backend {
	case "memory":
		return store.NewMemStore(), nil
	case "redis":
		r := cfg.Memory.Redis
		s, err := store.NewRedisStore(ctx, store.RedisOptions{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Prefix:   r.Prefix,
			TTL:      r.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return s, nil
	default:
		s, err := store.NewSQLiteStore(cfg.Memory.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	}
}

// orchestrator builds the orchestrator of one session.
func (a *app) orchestrator(session string) *orchestrator.Orchestrator {
	d := orchestrator.Deps{
		Chain:    chain.New(a.store, session),
		Gatherer: a.gatherer,
		Composer: a.composer,
		Invoker:  a.invoker,
		Policy:   a.policy,
		Log:      a.log,
		Metrics:  a.metrics,
	}
	if a.analyzer != nil {
		d.Vision = a.analyzer
	}
	return orchestrator.New(d)
}

// restore builds the session's orchestrator with its state derived from
// stored entries.
func (a *app) restore(ctx context.Context, session string) (*orchestrator.Orchestrator, error) {
	o := a.orchestrator(session)
	if err := o.Restore(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// Close flushes tracing and closes the store. It is safe to call twice,
// once deferred and once from exitErr.
func (a *app) Close() {
	a.closeOnce.Do(func() {
		if a.shutdownTracing != nil {
			if err := a.shutdownTracing(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "warning: tracing shutdown: %v\n", err)
			}
		}
		if a.store != nil {
			a.store.Close()
		}
		a.log.Sync()
	})
}

// mustApp opens the CLI's app. One-shot commands need a store that
// outlives the process, so the memory backend falls back to SQLite.
func mustApp(ctx context.Context) *app {
	cfg := loadConfig()
	backend := cfg.Memory.Backend
	if backend == "memory" {
		backend = "sqlite"
	}
	a, err := newApp(ctx, cfg, backend)
	if err != nil {
		exitErr("init", err)
	}
	onExit(a.Close)
	return a
}
