package legal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dshills/lexgraph/graph"
	"github.com/dshills/lexgraph/graph/model"
	"github.com/dshills/lexgraph/logger"
	"github.com/dshills/lexgraph/security"
)

// DefaultHistoryBudget is the character budget of the history window the
// generator sees.
const DefaultHistoryBudget = 2000

// MaxPlanLength bounds the planner's pending list so one cycle, retries
// included, stays well inside graph.DefaultMaxSteps.
const MaxPlanLength = 8

func initializerStep(prompts *Prompts, guard security.PromptGuard, log logger.Logger) stepFunc {
	return func(ctx context.Context, s State) (Update, error) {
		query := strings.TrimSpace(s.Query)
		if query == "" {
			return Update{}, contractViolation("%s: query is empty", Initializer)
		}

		// Warn only; the blocking check happens on tool arguments.
		if !guard.IsSecured(ctx, []model.Message{model.User(query)}) {
			log.Warn(Initializer, "prompt guard alert: potential prompt injection", map[string]interface{}{"query_len": len(query)})
		}

		var msgs []model.Message
		if len(s.History) == 0 {
			msgs = append(msgs, model.System(prompts.System()))
		}
		msgs = append(msgs, model.User(query))

		return Update{
			Reset:    true,
			Query:    &query,
			Answer:   ptr(""),
			Messages: msgs,
		}, nil
	}
}

func plannerStep(llm model.StructuredModel, prompts *Prompts) stepFunc {
	return func(ctx context.Context, s State) (Update, error) {
		if strings.TrimSpace(s.Query) == "" {
			return Update{}, contractViolation("%s: query is empty", Planner)
		}

		prompt, err := prompts.Render(Planner, struct {
			Query     string
			Feedback  string
			Executors []string
		}{s.Query, s.HumanFeedback.Content, Executors})
		if err != nil {
			return Update{}, err
		}

		res, err := model.GenerateAs[planResult](ctx, llm, prompt, planShape)
		if err != nil {
			return Update{}, fmt.Errorf("%s: %w", Planner, err)
		}

		if len(res.Pending) > MaxPlanLength {
			return Update{}, fmt.Errorf("%w: %s: plan has %d steps, at most %d allowed", model.ErrTypeMismatch, Planner, len(res.Pending), MaxPlanLength)
		}

		pending := make([]string, 0, len(res.Pending))
		for _, p := range res.Pending {
			id := strings.ToLower(strings.TrimSpace(p))
			if !IsExecutor(id) {
				return Update{}, fmt.Errorf("%w: %s: unknown step %q", model.ErrTypeMismatch, Planner, p)
			}
			pending = append(pending, id)
		}

		// A new plan invalidates any answer produced under the previous one.
		return Update{
			Plan: &Plan{
				RefinedQuery: strings.TrimSpace(res.RefinedQuery),
				Intention:    strings.TrimSpace(res.Intention),
				Pending:      pending,
			},
			Answer:       ptr(""),
			VerifyTarget: ptr(""),
			Verified:     ptr(false),
		}, nil
	}
}

func dispatcherStep(metrics *graph.PrometheusMetrics, log logger.Logger) stepFunc {
	return func(ctx context.Context, s State) (Update, error) {
		var u Update

		if t := s.VerifyTarget; t != "" && !s.Verified && s.Circuit.IsOverLimit(t) && !contains(s.Abandoned, t) {
			u.Abandoned = append(append([]string{}, s.Abandoned...), t)
			metrics.IncrementCircuitTrips(t)
			log.Warn(Dispatcher, "sub-task abandoned after repeated verification failures", map[string]interface{}{
				"target":   t,
				"attempts": s.Circuit.Count(t),
			})
		}

		if s.Plan.Exhausted() {
			next := Generator
			if s.Answer != "" {
				next = Finalizer
			}
			u.NextNode = &next
			return u, nil
		}

		head, rest, err := s.Plan.Pop()
		if err != nil {
			return u, err
		}
		u.NextNode = &head
		u.Plan = &rest
		return u, nil
	}
}

// payloadCheck decides whether an executor's stored result is usable.
type payloadCheck func(doc interface{}) bool

var payloadChecks = map[string]payloadCheck{
	LegalRetriever: hasInterpretations,
	DocRetriever:   hasDocuments,
}

func verifierStep(guard security.PromptGuard) stepFunc {
	return func(ctx context.Context, s State) (Update, error) {
		target := s.VerifyTarget
		if target == "" {
			return Update{}, contractViolation("%s: verify target is not set", Verifier)
		}
		check, ok := payloadChecks[target]
		if !ok {
			return Update{}, contractViolation("%s: cannot verify %q", Verifier, target)
		}

		doc := s.RetrievedDocs[target]
		verified := check(doc) && s.Errors == ""
		if verified {
			verified = guard.IsSecured(ctx, []model.Message{{
				Role:    model.RoleTool,
				Content: "retrieved documents: " + evidenceText(doc),
			}})
		}

		u := Update{Verified: &verified}
		if !verified {
			u.Circuit = s.Circuit.Increase(target)
		}
		return u, nil
	}
}

// hasInterpretations checks a legal interpretation search response for at
// least one case. The API returns the list under Expc.expc, or a single
// object there when only one case matches.
func hasInterpretations(doc interface{}) bool {
	m, ok := doc.(map[string]interface{})
	if !ok {
		return false
	}
	switch section := m["Expc"].(type) {
	case []interface{}:
		return len(section) > 0
	case map[string]interface{}:
		switch items := section["expc"].(type) {
		case []interface{}:
			return len(items) > 0
		case map[string]interface{}:
			return len(items) > 0
		}
		return toInt(section["totalCnt"]) > 0
	}
	return false
}

func hasDocuments(doc interface{}) bool {
	m, ok := doc.(map[string]interface{})
	if !ok {
		return false
	}
	docs, ok := m["documents"].([]interface{})
	return ok && len(docs) > 0
}

func generatorStep(llm model.StructuredModel, prompts *Prompts, budget int) stepFunc {
	return func(ctx context.Context, s State) (Update, error) {
		prompt, err := prompts.Render(Generator, struct {
			History   []model.Message
			Query     string
			Feedback  string
			Evidence  string
			Abandoned []string
		}{
			History:   trimHistory(s.History, budget),
			Query:     s.SearchQuery(),
			Feedback:  s.HumanFeedback.Content,
			Evidence:  evidenceText(s.RetrievedDocs),
			Abandoned: s.Abandoned,
		})
		if err != nil {
			return Update{}, err
		}

		res, err := model.GenerateAs[answerResult](ctx, llm, prompt, answerShape)
		if err != nil {
			return Update{}, fmt.Errorf("%s: %w", Generator, err)
		}
		answer := strings.TrimSpace(res.Answer)
		if answer == "" {
			return Update{}, fmt.Errorf("%w: %s: empty answer", model.ErrTypeMismatch, Generator)
		}

		return Update{
			Answer:   &answer,
			Messages: []model.Message{model.Assistant(answer)},
		}, nil
	}
}

// trimHistory keeps the most recent messages whose combined length fits in
// budget characters. A leading system message is always kept and counts
// against the budget. The kept tail starts on a user message.
func trimHistory(history []model.Message, budget int) []model.Message {
	if len(history) == 0 {
		return nil
	}

	var system *model.Message
	rest := history
	if history[0].Role == model.RoleSystem {
		system = &history[0]
		rest = history[1:]
		budget -= utf8.RuneCountInString(system.Content)
	}

	start := len(rest)
	used := 0
	for i := len(rest) - 1; i >= 0; i-- {
		n := utf8.RuneCountInString(rest[i].Content)
		if used+n > budget {
			break
		}
		used += n
		start = i
	}
	for start < len(rest) && rest[start].Role != model.RoleUser {
		start++
	}

	out := make([]model.Message, 0, len(rest)-start+1)
	if system != nil {
		out = append(out, *system)
	}
	return append(out, rest[start:]...)
}

func humanReviewerStep(llm model.StructuredModel, prompts *Prompts, guard security.PromptGuard, log logger.Logger) stepFunc {
	return func(ctx context.Context, s State) (Update, error) {
		content := strings.TrimSpace(s.HumanFeedback.Content)
		if content == "" {
			return Update{}, contractViolation("%s: no feedback to classify", HumanReviewer)
		}

		if !guard.IsSecured(ctx, []model.Message{model.User(content)}) {
			log.Warn(HumanReviewer, "prompt guard alert: potential prompt injection in feedback", nil)
		}

		prompt, err := prompts.Render(HumanReviewer, struct{ Feedback string }{content})
		if err != nil {
			return Update{}, err
		}
		res, err := model.GenerateAs[actionResult](ctx, llm, prompt, actionShape)
		if err != nil {
			return Update{}, fmt.Errorf("%s: %w", HumanReviewer, err)
		}

		fb := s.HumanFeedback
		fb.Action = strings.ToUpper(strings.TrimSpace(res.Action))
		return Update{HumanFeedback: &fb}, nil
	}
}

func finalizerStep() stepFunc {
	return func(context.Context, State) (Update, error) {
		return Update{Reset: true}, nil
	}
}

// evidenceText renders retrieved results for prompts and guards.
func evidenceText(docs interface{}) string {
	switch d := docs.(type) {
	case nil:
		return "(none)"
	case map[string]interface{}:
		if len(d) == 0 {
			return "(none)"
		}
	}
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Sprint(docs)
	}
	return string(data)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		var i int
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%d", &i); err == nil {
			return i
		}
	}
	return 0
}
