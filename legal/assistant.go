package legal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/lexgraph/graph"
	"github.com/dshills/lexgraph/graph/emit"
	"github.com/dshills/lexgraph/graph/model"
	"github.com/dshills/lexgraph/graph/store"
	"github.com/dshills/lexgraph/graph/tool"
	"github.com/dshills/lexgraph/logger"
	"github.com/dshills/lexgraph/memory"
	"github.com/dshills/lexgraph/security"
)

var (
	// ErrEmptyQuery is returned by Run for a blank query.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrEmptyFeedback is returned by Resume for blank feedback.
	ErrEmptyFeedback = errors.New("feedback is empty")
)

// Collaborators are the external services the workflow depends on. All are
// required.
type Collaborators struct {
	LLM          model.StructuredModel
	LawSearch    tool.Tool
	DocSearch    tool.Tool
	Guard        security.PromptGuard
	Groundedness security.GroundednessOracle
	PII          security.PIIScanner
}

func (c Collaborators) validate() error {
	switch {
	case c.LLM == nil:
		return errors.New("legal: LLM collaborator is required")
	case c.LawSearch == nil:
		return errors.New("legal: law search tool is required")
	case c.DocSearch == nil:
		return errors.New("legal: document search tool is required")
	case c.Guard == nil:
		return errors.New("legal: prompt guard is required")
	case c.Groundedness == nil:
		return errors.New("legal: groundedness oracle is required")
	case c.PII == nil:
		return errors.New("legal: PII scanner is required")
	}
	return nil
}

type settings struct {
	emitter       emit.Emitter
	log           logger.Logger
	metrics       *graph.PrometheusMetrics
	queue         memory.Queue
	prompts       *Prompts
	historyBudget int
	maxSteps      int
	nodeTimeout   time.Duration
	nodeModels    map[string]model.StructuredModel
}

// Option configures an Assistant.
type Option func(*settings) error

// WithEmitter sets the engine event receiver.
func WithEmitter(e emit.Emitter) Option {
	return func(s *settings) error {
		s.emitter = e
		return nil
	}
}

// WithLogger sets the logger nodes report failures to.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) error {
		s.log = l
		return nil
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *graph.PrometheusMetrics) Option {
	return func(s *settings) error {
		s.metrics = m
		return nil
	}
}

// WithQueue enqueues a memory task after every completed cycle.
func WithQueue(q memory.Queue) Option {
	return func(s *settings) error {
		s.queue = q
		return nil
	}
}

// WithPrompts replaces the built-in prompt catalogue.
func WithPrompts(p *Prompts) Option {
	return func(s *settings) error {
		if p == nil {
			return errors.New("prompts cannot be nil")
		}
		s.prompts = p
		return nil
	}
}

// WithHistoryBudget sets the generator's history window in characters.
func WithHistoryBudget(n int) Option {
	return func(s *settings) error {
		if n <= 0 {
			return fmt.Errorf("history budget must be positive, got %d", n)
		}
		s.historyBudget = n
		return nil
	}
}

// WithMaxSteps bounds the nodes executed by one Run or Resume call.
func WithMaxSteps(n int) Option {
	return func(s *settings) error {
		if n <= 0 {
			return fmt.Errorf("max steps must be positive, got %d", n)
		}
		s.maxSteps = n
		return nil
	}
}

// WithNodeTimeout bounds every node execution. A node that overruns records
// the deadline error in state like any other collaborator failure.
func WithNodeTimeout(d time.Duration) Option {
	return func(s *settings) error {
		if d < 0 {
			return fmt.Errorf("node timeout cannot be negative, got %v", d)
		}
		s.nodeTimeout = d
		return nil
	}
}

// WithNodeModel routes one node's LLM calls to a different model.
func WithNodeModel(nodeID string, m model.StructuredModel) Option {
	return func(s *settings) error {
		switch nodeID {
		case Planner, LegalRetriever, DocRetriever, Generator, HumanReviewer:
		default:
			return fmt.Errorf("node %q does not call an LLM", nodeID)
		}
		if m == nil {
			return errors.New("model cannot be nil")
		}
		s.nodeModels[nodeID] = m
		return nil
	}
}

// Assistant is the public entry point of the legal-research workflow.
type Assistant struct {
	engine *graph.Engine[State, Update]
	queue  memory.Queue
	log    logger.Logger
}

// Result is what Run and Resume return.
type Result struct {
	ThreadID string `json:"thread_id"`
	RunID    string `json:"run_id"`
	PausedAt string `json:"paused_at,omitempty"`
	Steps    int    `json:"steps"`
	State    State  `json:"state"`
}

// Paused reports whether the session is waiting for human review.
func (r Result) Paused() bool {
	return r.PausedAt != ""
}

// Snapshot is a session's persisted state.
type Snapshot struct {
	State     State     `json:"state"`
	PausedAt  string    `json:"paused_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New assembles the workflow over st.
func New(c Collaborators, st store.Store[State], opts ...Option) (*Assistant, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	cfg := &settings{
		historyBudget: DefaultHistoryBudget,
		maxSteps:      graph.DefaultMaxSteps,
		nodeModels:    make(map[string]model.StructuredModel),
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("legal: %w", err)
		}
	}
	if cfg.log == nil {
		cfg.log = logger.NewNop()
	}
	if cfg.prompts == nil {
		cfg.prompts = DefaultPrompts()
	}

	engine, err := graph.New[State, Update](Reduce, st, cfg.emitter,
		graph.WithMaxSteps(cfg.maxSteps),
		graph.WithDefaultNodeTimeout(cfg.nodeTimeout),
		graph.WithMetrics(cfg.metrics),
	)
	if err != nil {
		return nil, err
	}
	if err := build(engine, c, cfg); err != nil {
		return nil, err
	}

	return &Assistant{engine: engine, queue: cfg.queue, log: cfg.log}, nil
}

func build(e *graph.Engine[State, Update], c Collaborators, cfg *settings) error {
	llm := func(id string) model.StructuredModel {
		if m, ok := cfg.nodeModels[id]; ok {
			return m
		}
		return c.LLM
	}
	v := newValidator()
	log := cfg.log

	finalizer := capture(Finalizer, finalizerStep(), log)
	finalizer.stop = true

	nodes := []struct {
		id   string
		node graph.Node[State, Update]
	}{
		{Initializer, capture(Initializer, initializerStep(cfg.prompts, c.Guard, log), log)},
		{Planner, capture(Planner, plannerStep(llm(Planner), cfg.prompts), log)},
		{Dispatcher, capture(Dispatcher, dispatcherStep(cfg.metrics, log), log)},
		{LegalRetriever, capture(LegalRetriever, legalRetrieverStep(llm(LegalRetriever), c.LawSearch, cfg.prompts, v, c.Guard), log)},
		{DocRetriever, capture(DocRetriever, docRetrieverStep(llm(DocRetriever), c.DocSearch, cfg.prompts, v, c.Guard), log)},
		{Verifier, capture(Verifier, verifierStep(c.Guard), log)},
		{Generator, capture(Generator, generatorStep(llm(Generator), cfg.prompts, cfg.historyBudget), log)},
		{Evaluator, capture(Evaluator, evaluatorStep(c.Guard, c.Groundedness, c.PII), log)},
		{HumanReviewer, capture(HumanReviewer, humanReviewerStep(llm(HumanReviewer), cfg.prompts, c.Guard, log), log)},
		{Finalizer, finalizer},
	}
	for _, n := range nodes {
		if err := e.Add(n.id, n.node); err != nil {
			return err
		}
	}

	if err := e.StartAt(Initializer); err != nil {
		return err
	}

	edges := [][2]string{
		{Initializer, Planner},
		{Planner, Dispatcher},
		{LegalRetriever, Verifier},
		{DocRetriever, Verifier},
		{Generator, Evaluator},
	}
	for _, edge := range edges {
		if err := e.Connect(edge[0], edge[1], nil); err != nil {
			return err
		}
	}

	routers := map[string]graph.Router[State]{
		Dispatcher:    routeAfterDispatcher,
		Verifier:      routeAfterVerifier,
		Evaluator:     routeAfterEvaluator,
		HumanReviewer: routeAfterHumanReview,
	}
	for from, r := range routers {
		if err := e.Branch(from, r); err != nil {
			return err
		}
	}

	return e.InterruptBefore(HumanReviewer)
}

// Run starts a new answer cycle for the session, creating it if needed.
// The call returns when the cycle completes or parks for human review.
func (a *Assistant) Run(ctx context.Context, userID, threadID, query string) (Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{ThreadID: threadID}, ErrEmptyQuery
	}

	key := store.Key{UserID: userID, ThreadID: threadID}
	res, err := a.engine.Run(withSession(ctx, key), key, Update{Query: &query})
	out := resultFrom(threadID, res)
	if err != nil {
		return out, err
	}
	a.remember(ctx, key, out)
	return out, nil
}

// Resume hands reviewer feedback to a session parked for human review.
func (a *Assistant) Resume(ctx context.Context, userID, threadID, feedback string) (Result, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return Result{ThreadID: threadID}, ErrEmptyFeedback
	}

	key := store.Key{UserID: userID, ThreadID: threadID}
	res, err := a.engine.Resume(withSession(ctx, key), key, Update{
		HumanFeedback: &HumanFeedback{Content: feedback},
	})
	out := resultFrom(threadID, res)
	if err != nil {
		return out, err
	}
	a.remember(ctx, key, out)
	return out, nil
}

// GetState returns the session's persisted state. Unknown sessions return an
// error wrapping graph.ErrNoCheckpoint.
func (a *Assistant) GetState(ctx context.Context, userID, threadID string) (Snapshot, error) {
	cp, err := a.engine.State(ctx, store.Key{UserID: userID, ThreadID: threadID})
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{State: cp.State, PausedAt: cp.PausedAt, UpdatedAt: cp.UpdatedAt}, nil
}

// Steps returns the session's step log.
func (a *Assistant) Steps(ctx context.Context, userID, threadID string) ([]store.StepRecord[State], error) {
	return a.engine.Steps(ctx, store.Key{UserID: userID, ThreadID: threadID})
}

func (a *Assistant) remember(ctx context.Context, key store.Key, res Result) {
	if a.queue == nil || res.Paused() {
		return
	}
	task := memory.Task{
		UserID:   key.UserID,
		ThreadID: key.ThreadID,
		Query:    res.State.Query,
		Answer:   res.State.Answer,
	}
	if err := a.queue.Push(context.WithoutCancel(ctx), task); err != nil {
		a.log.Warn("assistant", "failed to enqueue memory task", map[string]interface{}{
			"user_id":   key.UserID,
			"thread_id": key.ThreadID,
			"error":     err.Error(),
		})
	}
}

func resultFrom(threadID string, res graph.Result[State]) Result {
	return Result{
		ThreadID: threadID,
		RunID:    res.RunID,
		PausedAt: res.PausedAt,
		Steps:    res.Steps,
		State:    res.State,
	}
}
