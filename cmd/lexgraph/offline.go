package main

import (
	"github.com/dshills/lexgraph/graph/model"
	"github.com/dshills/lexgraph/graph/tool"
	"github.com/dshills/lexgraph/legal"
)

// offlineModel answers every structured call with a canned payload so the
// workflow can be exercised without provider credentials (LLM_PROVIDER=mock).
func offlineModel() model.StructuredModel {
	return model.NewMockModel().
		Script(legal.ShapePlan, map[string]interface{}{
			"refined_query": "jeonse deposit return after lease end",
			"intention":     "tenant wants to know when the deposit must be returned",
			"pending":       []interface{}{legal.LegalRetriever, legal.DocRetriever},
		}).
		Script(legal.ShapeLegalSearch, map[string]interface{}{"keyword": "전세 보증금 반환", "search": 2}).
		Script(legal.ShapeDocumentSearch, map[string]interface{}{"query": "return of jeonse deposit at lease termination"}).
		Script(legal.ShapeAnswer, map[string]interface{}{
			"answer": "Under the Housing Lease Protection Act the landlord must return the deposit when the lease ends, " +
				"and the tenant may keep possession until it is returned.",
		}).
		Script(legal.ShapeHumanAction, map[string]interface{}{"action": legal.ActionApprove})
}

func offlineTools() (law, docs tool.Tool) {
	law = &tool.MockTool{
		ToolName: "law_search",
		Responses: []map[string]interface{}{{
			"Expc": map[string]interface{}{
				"totalCnt": "1",
				"expc": []interface{}{
					map[string]interface{}{"안건명": "주택임대차보호법 제3조의2 관련", "법령해석례일련번호": "313107"},
				},
			},
		}},
	}
	docs = &tool.MockTool{
		ToolName: "document_search",
		Responses: []map[string]interface{}{{
			"documents": []interface{}{map[string]interface{}{
				"title":   "Housing Lease Protection Act, Article 3-2",
				"content": "The lessee may keep the leased house until the deposit is returned.",
				"source":  "statute",
			}},
		}},
	}
	return law, docs
}
