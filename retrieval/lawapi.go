// Package retrieval implements the search backends used by the executor nodes.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/lexgraph/graph/tool"
)

// DefaultLawSearchURL is the national law information center search endpoint.
const DefaultLawSearchURL = "http://www.law.go.kr/DRF/lawSearch.do"

// LawSearch queries legal interpretation cases ("expc" target).
//
// Input keys: keyword (required) plus the optional filters search, inq, rpl,
// gana, itmno, regYd and explYd, forwarded as query parameters. The output is
// the decoded JSON response.
type LawSearch struct {
	url  string
	oc   string
	http tool.Tool
}

// NewLawSearch creates the tool. oc is the caller's API identifier.
func NewLawSearch(baseURL, oc string, transport tool.Tool) *LawSearch {
	if baseURL == "" {
		baseURL = DefaultLawSearchURL
	}
	if transport == nil {
		transport = tool.NewHTTPTool(10 * time.Second)
	}
	return &LawSearch{url: baseURL, oc: oc, http: transport}
}

// Name implements tool.Tool.
func (s *LawSearch) Name() string { return "law_search" }

// Call implements tool.Tool.
func (s *LawSearch) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	keyword, _ := input["keyword"].(string)
	if keyword == "" {
		return nil, errors.New("law search: keyword is required")
	}

	params := map[string]interface{}{
		"OC":     s.oc,
		"target": "expc",
		"type":   "JSON",
		"query":  keyword,
	}
	for k, v := range input {
		if k == "keyword" || v == nil {
			continue
		}
		params[k] = v
	}

	out, err := s.http.Call(ctx, map[string]interface{}{
		"url":   s.url,
		"query": params,
	})
	if err != nil {
		return nil, fmt.Errorf("law search: %w", err)
	}

	decoded, ok := out["json"].(map[string]interface{})
	if !ok {
		return nil, errors.New("law search: response is not a JSON object")
	}
	return decoded, nil
}
