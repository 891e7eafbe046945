package legal

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/dshills/lexgraph/graph/model"
	"github.com/dshills/lexgraph/graph/tool"
	"github.com/dshills/lexgraph/security"
)

// LegalSearchQuery is the argument object for the legal interpretation search.
type LegalSearchQuery struct {
	Keyword string `json:"keyword" validate:"required,max=100"`
	Search  int    `json:"search,omitempty" validate:"oneof=1 2"`
	Inq     string `json:"inq,omitempty"`
	Rpl     string `json:"rpl,omitempty"`
	Gana    string `json:"gana,omitempty" validate:"omitempty,alpha"`
	ItmNo   string `json:"itmno,omitempty" validate:"omitempty,numeric"`
	RegYd   string `json:"regYd,omitempty" validate:"omitempty,ymdrange"`
	ExplYd  string `json:"explYd,omitempty" validate:"omitempty,ymdrange"`
}

// DocumentSearchQuery is the argument object for the document search.
type DocumentSearchQuery struct {
	Query string `json:"query" validate:"required,max=500"`
}

var ymdRange = regexp.MustCompile(`^\d{8}~\d{8}$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("ymdrange", func(fl validator.FieldLevel) bool {
		return ymdRange.MatchString(fl.Field().String())
	})
	return v
}

// toolStep is the shared body of the executor nodes: generate typed
// arguments, validate them, screen them, call the tool and record both the
// arguments and the result under the node's own key.
type toolStep[A any] struct {
	id       string
	llm      model.StructuredModel
	tool     tool.Tool
	shape    model.TypeDescriptor
	prompts  *Prompts
	validate *validator.Validate
	guard    security.PromptGuard
	defaults func(*A)
}

func (t *toolStep[A]) run(ctx context.Context, s State) (Update, error) {
	// Set even on failure so the verifier always has a target.
	u := Update{VerifyTarget: ptr(t.id)}

	previous := ""
	if args, ok := s.ToolArgs[t.id]; ok {
		if data, err := json.Marshal(args); err == nil {
			previous = string(data)
		}
	}

	prompt, err := t.prompts.Render(t.id, struct {
		Query        string
		Feedback     string
		PreviousArgs string
	}{s.SearchQuery(), s.HumanFeedback.Content, previous})
	if err != nil {
		return u, err
	}

	args, err := model.GenerateAs[A](ctx, t.llm, prompt, t.shape)
	if err != nil {
		return u, fmt.Errorf("%s: generate arguments: %w", t.id, err)
	}
	if t.defaults != nil {
		t.defaults(&args)
	}
	if err := t.validate.StructCtx(ctx, args); err != nil {
		return u, fmt.Errorf("%w: %s arguments: %v", model.ErrTypeMismatch, t.id, err)
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return u, fmt.Errorf("%s: encode arguments: %w", t.id, err)
	}
	var argMap map[string]interface{}
	if err := json.Unmarshal(raw, &argMap); err != nil {
		return u, fmt.Errorf("%s: encode arguments: %w", t.id, err)
	}
	u.ToolArgs = map[string]map[string]interface{}{t.id: argMap}

	if !t.guard.IsSecured(ctx, []model.Message{{Role: model.RoleTool, Content: string(raw)}}) {
		return u, fmt.Errorf("%w: %s arguments flagged by prompt guard", ErrSecurityViolation, t.id)
	}

	result, err := t.tool.Call(ctx, argMap)
	if err != nil {
		return u, fmt.Errorf("%s: %w", t.id, err)
	}
	u.RetrievedDocs = map[string]interface{}{t.id: result}
	return u, nil
}

func legalRetrieverStep(llm model.StructuredModel, search tool.Tool, prompts *Prompts, v *validator.Validate, guard security.PromptGuard) stepFunc {
	t := &toolStep[LegalSearchQuery]{
		id:       LegalRetriever,
		llm:      llm,
		tool:     search,
		shape:    legalSearchShape,
		prompts:  prompts,
		validate: v,
		guard:    guard,
		defaults: func(q *LegalSearchQuery) {
			if q.Search == 0 {
				q.Search = 1
			}
		},
	}
	return t.run
}

func docRetrieverStep(llm model.StructuredModel, search tool.Tool, prompts *Prompts, v *validator.Validate, guard security.PromptGuard) stepFunc {
	t := &toolStep[DocumentSearchQuery]{
		id:       DocRetriever,
		llm:      llm,
		tool:     search,
		shape:    documentSearchShape,
		prompts:  prompts,
		validate: v,
		guard:    guard,
	}
	return t.run
}
