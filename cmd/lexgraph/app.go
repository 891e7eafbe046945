package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dshills/lexgraph/config"
	"github.com/dshills/lexgraph/graph"
	"github.com/dshills/lexgraph/graph/emit"
	"github.com/dshills/lexgraph/graph/model"
	"github.com/dshills/lexgraph/graph/model/anthropic"
	"github.com/dshills/lexgraph/graph/model/google"
	"github.com/dshills/lexgraph/graph/model/openai"
	"github.com/dshills/lexgraph/graph/store"
	"github.com/dshills/lexgraph/legal"
	"github.com/dshills/lexgraph/logger"
	"github.com/dshills/lexgraph/memory"
	"github.com/dshills/lexgraph/retrieval"
	"github.com/dshills/lexgraph/security"
)

// app holds everything a command needs. close releases it in reverse order.
type app struct {
	cfg       *config.Config
	log       *logger.ZapLogger
	assistant *legal.Assistant
	events    *emit.BufferedEmitter
	registry  *prometheus.Registry
	closers   []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("main", "shutdown step failed", map[string]interface{}{"error": err.Error()})
		}
	}
	_ = a.log.Sync()
}

func loadConfig() (*config.Config, *logger.ZapLogger, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, logger.NewZapLogger(cfg.App.LogFile, cfg.IsProduction()), nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		events:   emit.NewBufferedEmitter(),
		registry: prometheus.NewRegistry(),
	}
	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	st, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, st.Close)

	llm, err := a.openModel(ctx)
	if err != nil {
		return err
	}

	collab, err := a.collaborators(llm)
	if err != nil {
		return err
	}

	emitters := []emit.Emitter{a.events, emit.NewLogEmitter(a.log.Zap())}
	if cfg.Tracing.Enabled {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })
		emitters = append(emitters, emit.NewOTelEmitter(tp))
	}

	opts := []legal.Option{
		legal.WithEmitter(emit.NewMultiEmitter(emitters...)),
		legal.WithLogger(a.log),
		legal.WithMetrics(graph.NewPrometheusMetrics(a.registry)),
		legal.WithHistoryBudget(cfg.Workflow.HistoryBudget),
		legal.WithMaxSteps(cfg.Workflow.MaxSteps),
		legal.WithNodeTimeout(cfg.Workflow.NodeTimeout),
	}

	if cfg.Redis.URL != "" {
		q, err := memory.NewRedisQueue(ctx, cfg.Redis.URL, cfg.Redis.Queue, a.log)
		if err != nil {
			a.log.Warn("main", "memory queue disabled", map[string]interface{}{"error": err.Error()})
		} else {
			a.closers = append(a.closers, q.Close)
			opts = append(opts, legal.WithQueue(q))
		}
	}

	a.assistant, err = legal.New(collab, st, opts...)
	return err
}

func openStore(cfg config.StoreConfig) (store.Store[legal.State], error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemStore[legal.State](), nil
	case "sqlite":
		return store.NewSQLiteStore[legal.State](cfg.DSN)
	case "mysql":
		return store.NewMySQLStore[legal.State](cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func (a *app) openModel(ctx context.Context) (model.StructuredModel, error) {
	cfg := a.cfg.LLM

	var (
		m   model.StructuredModel
		err error
	)
	switch cfg.Provider {
	case "anthropic":
		m, err = anthropic.New(cfg.APIKey, cfg.Model)
	case "openai":
		m, err = openai.New(cfg.APIKey, cfg.Model)
	case "google":
		var g *google.Model
		g, err = google.New(ctx, cfg.APIKey, cfg.Model)
		if err == nil {
			a.closers = append(a.closers, g.Close)
			m = g
		}
	case "mock":
		return offlineModel(), nil
	default:
		err = fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	p := model.DefaultPolicy
	p.Timeout = cfg.Timeout
	p.MaxAttempts = cfg.MaxAttempts
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return model.WithPolicy(m, p), nil
}

func (a *app) collaborators(llm model.StructuredModel) (legal.Collaborators, error) {
	cfg := a.cfg
	offline := cfg.LLM.Provider == "mock"

	var guard security.PromptGuard = security.StaticGuard{Secured: true}
	if cfg.Security.GuardKey != "" && !offline {
		guard = security.NewLakeraGuard(cfg.Security.GuardURL, cfg.Security.GuardKey, nil, a.log)
	} else {
		a.log.Warn("main", "prompt guard disabled: LAKERA_GUARD_API_KEY not set", nil)
	}

	var grounded security.GroundednessOracle = security.StaticGroundedness{Grounded: true}
	if cfg.Security.GroundednessKey != "" && !offline {
		grounded = security.NewGroundednessChecker(cfg.Security.GroundednessKey, cfg.Security.GroundednessURL, cfg.Security.GroundednessModel, a.log)
	} else {
		a.log.Warn("main", "groundedness check disabled: UPSTAGE_API_KEY not set", nil)
	}

	var (
		pii *security.PatternScanner
		err error
	)
	if cfg.Security.PIIPatternsFile != "" {
		pii, err = security.NewPatternScannerFromFile(cfg.Security.PIIPatternsFile, a.log)
	} else {
		pii, err = security.NewPatternScanner(a.log)
	}
	if err != nil {
		return legal.Collaborators{}, err
	}

	c := legal.Collaborators{
		LLM:          llm,
		Guard:        guard,
		Groundedness: grounded,
		PII:          pii,
	}
	if offline {
		c.LawSearch, c.DocSearch = offlineTools()
		return c, nil
	}

	if cfg.Law.OC == "" {
		return legal.Collaborators{}, errors.New("LAW_API_OC is required for the legal interpretation search")
	}
	c.LawSearch = retrieval.NewLawSearch(cfg.Law.BaseURL, cfg.Law.OC, nil)

	wc, err := retrieval.NewWeaviateClient(cfg.Weaviate.Host, cfg.Weaviate.Scheme)
	if err != nil {
		return legal.Collaborators{}, err
	}
	c.DocSearch = retrieval.NewDocumentSearch(wc, cfg.Weaviate.Class, cfg.Weaviate.Limit)
	return c, nil
}
