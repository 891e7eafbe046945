// Package legal assembles the legal-research workflow: the session state,
// its reducer, the ten workflow nodes and the routers between them.
package legal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/lexgraph/graph"
	"github.com/dshills/lexgraph/graph/model"
)

// Node identifiers.
const (
	Initializer    = "initializer"
	Planner        = "planner"
	Dispatcher     = "dispatcher"
	LegalRetriever = "legal_retriever"
	DocRetriever   = "doc_retriever"
	Verifier       = "verifier"
	Generator      = "generator"
	Evaluator      = "evaluator"
	HumanReviewer  = "human_reviewer"
	Finalizer      = "finalizer"
)

// Executors lists the nodes a plan may schedule.
var Executors = []string{LegalRetriever, DocRetriever}

// IsExecutor reports whether id may appear in a plan.
func IsExecutor(id string) bool {
	for _, e := range Executors {
		if e == id {
			return true
		}
	}
	return false
}

// Human review actions.
const (
	ActionReplan  = "REPLAN"
	ActionRewrite = "REWRITE"
	ActionApprove = "APPROVE"
)

// ErrSecurityViolation marks content a guard flagged at a point that blocks
// rather than warns.
var ErrSecurityViolation = errors.New("security violation")

// ErrEmptyPlan is returned when popping a plan with nothing pending.
var ErrEmptyPlan = fmt.Errorf("%w: pop on empty plan", graph.ErrContractViolation)

func contractViolation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", graph.ErrContractViolation, fmt.Sprintf(format, args...))
}

// Plan is the planner's decomposition of a request.
type Plan struct {
	RefinedQuery string   `json:"refined_query,omitempty"`
	Intention    string   `json:"intention,omitempty"`
	Pending      []string `json:"pending"`
}

// Exhausted reports whether nothing is left to dispatch.
func (p Plan) Exhausted() bool {
	return len(p.Pending) == 0
}

// Pop removes the front of the queue. The receiver is not modified.
func (p Plan) Pop() (string, Plan, error) {
	if p.Exhausted() {
		return "", p, ErrEmptyPlan
	}
	head := p.Pending[0]
	rest := make([]string, len(p.Pending)-1)
	copy(rest, p.Pending[1:])
	p.Pending = rest
	return head, p, nil
}

// HumanFeedback is the reviewer's free-form answer and its classification.
type HumanFeedback struct {
	Content string `json:"content"`
	Action  string `json:"action,omitempty"`
}

// Safety aggregates the three oracle verdicts on an answer.
type Safety struct {
	Secured  bool `json:"secured"`
	Grounded bool `json:"grounded"`
	HasPII   bool `json:"has_pii"`
}

// Safe reports secured AND grounded AND NOT hasPII.
func (s Safety) Safe() bool {
	return s.Secured && s.Grounded && !s.HasPII
}

// State is the per-session record threaded through every step.
//
// History survives across answer cycles. Everything else except Query and
// Answer is per-cycle scratch, cleared by the Finalizer.
type State struct {
	History       []model.Message                   `json:"history"`
	Query         string                            `json:"query"`
	Plan          Plan                              `json:"plan"`
	NextNode      string                            `json:"next_node,omitempty"`
	VerifyTarget  string                            `json:"verify_target,omitempty"`
	Circuit       Circuit                           `json:"circuit,omitempty"`
	HumanFeedback HumanFeedback                     `json:"human_feedback"`
	Verified      bool                              `json:"verified"`
	Safety        *Safety                           `json:"safety,omitempty"`
	Answer        string                            `json:"answer"`
	RetrievedDocs map[string]interface{}            `json:"retrieved_docs,omitempty"`
	ToolArgs      map[string]map[string]interface{} `json:"tool_args,omitempty"`
	Abandoned     []string                          `json:"abandoned,omitempty"`
	Errors        string                            `json:"errors,omitempty"`
}

// SearchQuery is the refined query when the planner produced one.
func (s State) SearchQuery() string {
	if strings.TrimSpace(s.Plan.RefinedQuery) != "" {
		return s.Plan.RefinedQuery
	}
	return s.Query
}

// Update is a sparse change to State. Nil fields are left alone.
//
// Reset runs first and clears the per-cycle scratch. Messages are appended
// to History. RetrievedDocs and ToolArgs merge key by key. Every other
// non-nil field overwrites.
type Update struct {
	Reset bool

	Messages      []model.Message
	Query         *string
	Plan          *Plan
	NextNode      *string
	VerifyTarget  *string
	Circuit       Circuit
	HumanFeedback *HumanFeedback
	Verified      *bool
	Safety        *Safety
	Answer        *string
	RetrievedDocs map[string]interface{}
	ToolArgs      map[string]map[string]interface{}
	Abandoned     []string
	Errors        *string
}

// Reduce merges u into prev without touching prev's maps or slices.
func Reduce(prev State, u Update) State {
	next := prev

	if u.Reset {
		next.Plan = Plan{}
		next.NextNode = ""
		next.VerifyTarget = ""
		next.Circuit = NewCircuit()
		next.HumanFeedback = HumanFeedback{}
		next.Verified = false
		next.Safety = nil
		next.RetrievedDocs = nil
		next.ToolArgs = nil
		next.Abandoned = nil
		next.Errors = ""
	}

	if len(u.Messages) > 0 {
		history := make([]model.Message, 0, len(prev.History)+len(u.Messages))
		history = append(history, prev.History...)
		history = append(history, u.Messages...)
		next.History = history
	}
	if u.Query != nil {
		next.Query = *u.Query
	}
	if u.Plan != nil {
		p := *u.Plan
		p.Pending = append([]string{}, u.Plan.Pending...)
		next.Plan = p
	}
	if u.NextNode != nil {
		next.NextNode = *u.NextNode
	}
	if u.VerifyTarget != nil {
		next.VerifyTarget = *u.VerifyTarget
	}
	if u.Circuit != nil {
		next.Circuit = u.Circuit.clone()
	}
	if u.HumanFeedback != nil {
		next.HumanFeedback = *u.HumanFeedback
	}
	if u.Verified != nil {
		next.Verified = *u.Verified
	}
	if u.Safety != nil {
		s := *u.Safety
		next.Safety = &s
	}
	if u.Answer != nil {
		next.Answer = *u.Answer
	}
	if len(u.RetrievedDocs) > 0 {
		docs := make(map[string]interface{}, len(next.RetrievedDocs)+len(u.RetrievedDocs))
		for k, v := range next.RetrievedDocs {
			docs[k] = v
		}
		for k, v := range u.RetrievedDocs {
			docs[k] = v
		}
		next.RetrievedDocs = docs
	}
	if len(u.ToolArgs) > 0 {
		args := make(map[string]map[string]interface{}, len(next.ToolArgs)+len(u.ToolArgs))
		for k, v := range next.ToolArgs {
			args[k] = v
		}
		for k, v := range u.ToolArgs {
			args[k] = v
		}
		next.ToolArgs = args
	}
	if u.Abandoned != nil {
		next.Abandoned = append([]string{}, u.Abandoned...)
	}
	if u.Errors != nil {
		next.Errors = *u.Errors
	}

	return next
}

func ptr[T any](v T) *T {
	return &v
}
