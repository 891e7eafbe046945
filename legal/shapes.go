package legal

import "github.com/dshills/lexgraph/graph/model"

// Names of the structured results requested from the LLM, one per calling
// node. Scripted models key their responses by these.
const (
	ShapePlan           = "plan"
	ShapeLegalSearch    = "legal_search_query"
	ShapeDocumentSearch = "document_search_query"
	ShapeAnswer         = "answer"
	ShapeHumanAction    = "human_action"
)

var planShape = model.TypeDescriptor{
	Name:        ShapePlan,
	Description: "Decomposition of a legal question into retrieval steps.",
	Fields: []model.Field{
		{Name: "refined_query", Type: model.TypeString, Description: "The question restated for search."},
		{Name: "intention", Type: model.TypeString, Description: "One-sentence summary of what the user wants."},
		{Name: "pending", Type: model.TypeArray, Items: model.TypeString, Required: true, Description: "Retrieval steps in execution order, at most 8."},
	},
}

var legalSearchShape = model.TypeDescriptor{
	Name:        ShapeLegalSearch,
	Description: "Arguments for the legal interpretation case search.",
	Fields: []model.Field{
		{Name: "keyword", Type: model.TypeString, Required: true, Description: "Search keyword."},
		{Name: "search", Type: model.TypeInteger, Enum: []string{"1", "2"}, Description: "1 searches case titles, 2 searches full text."},
		{Name: "inq", Type: model.TypeString, Description: "Inquiring agency."},
		{Name: "rpl", Type: model.TypeString, Description: "Replying agency."},
		{Name: "gana", Type: model.TypeString, Description: "Dictionary-order search (ga, na, da...)."},
		{Name: "itmno", Type: model.TypeString, Description: "Case number without dashes, 13-0217 becomes 130217."},
		{Name: "regYd", Type: model.TypeString, Description: "Registration date range YYYYMMDD~YYYYMMDD."},
		{Name: "explYd", Type: model.TypeString, Description: "Interpretation date range YYYYMMDD~YYYYMMDD."},
	},
}

var documentSearchShape = model.TypeDescriptor{
	Name:        ShapeDocumentSearch,
	Description: "Similarity query for the document collection.",
	Fields: []model.Field{
		{Name: "query", Type: model.TypeString, Required: true},
	},
}

var answerShape = model.TypeDescriptor{
	Name:        ShapeAnswer,
	Description: "The final answer to the user's question.",
	Fields: []model.Field{
		{Name: "answer", Type: model.TypeString, Required: true},
	},
}

var actionShape = model.TypeDescriptor{
	Name:        ShapeHumanAction,
	Description: "Classification of reviewer feedback.",
	Fields: []model.Field{
		{Name: "action", Type: model.TypeString, Required: true, Description: "One of REPLAN, REWRITE, APPROVE."},
	},
}

type planResult struct {
	RefinedQuery string   `json:"refined_query"`
	Intention    string   `json:"intention"`
	Pending      []string `json:"pending"`
}

type answerResult struct {
	Answer string `json:"answer"`
}

type actionResult struct {
	Action string `json:"action"`
}
