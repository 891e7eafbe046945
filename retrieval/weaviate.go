package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
)

// DefaultDocumentClass is the Weaviate class holding indexed legal documents.
const DefaultDocumentClass = "LegalDocument"

// NewWeaviateClient builds a client from a host that may carry an http:// or
// https:// prefix; scheme applies when it does not.
func NewWeaviateClient(host, scheme string) (*weaviate.Client, error) {
	cfg := weaviate.Config{Host: host, Scheme: scheme}
	switch {
	case strings.HasPrefix(host, "https://"):
		cfg.Scheme = "https"
		cfg.Host = strings.TrimPrefix(host, "https://")
	case strings.HasPrefix(host, "http://"):
		cfg.Scheme = "http"
		cfg.Host = strings.TrimPrefix(host, "http://")
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return client, nil
}

// DocumentSearch runs a nearText similarity search over indexed documents.
//
// Input keys: query (required), limit (optional). Output: {"documents": [...]}
// where each document carries title, content, source and its distance.
type DocumentSearch struct {
	client *weaviate.Client
	class  string
	limit  int
}

// NewDocumentSearch creates the tool. limit <= 0 means 5.
func NewDocumentSearch(client *weaviate.Client, class string, limit int) *DocumentSearch {
	if class == "" {
		class = DefaultDocumentClass
	}
	if limit <= 0 {
		limit = 5
	}
	return &DocumentSearch{client: client, class: class, limit: limit}
}

// Name implements tool.Tool.
func (s *DocumentSearch) Name() string { return "document_search" }

// Call implements tool.Tool.
func (s *DocumentSearch) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	query, _ := input["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("document search: query is required")
	}

	limit := s.limit
	switch n := input["limit"].(type) {
	case int:
		if n > 0 {
			limit = n
		}
	case float64:
		if n > 0 {
			limit = int(n)
		}
	}

	nearText := s.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "title"},
		{Name: "content"},
		{Name: "source"},
		{Name: "_additional { distance }"},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("document search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("document search: %s", result.Errors[0].Message)
	}

	documents := []interface{}{}
	if get, ok := result.Data["Get"].(map[string]interface{}); ok {
		if objects, ok := get[s.class].([]interface{}); ok {
			for _, obj := range objects {
				if doc, ok := obj.(map[string]interface{}); ok {
					documents = append(documents, flattenDocument(doc))
				}
			}
		}
	}

	return map[string]interface{}{"documents": documents}, nil
}

func flattenDocument(obj map[string]interface{}) map[string]interface{} {
	doc := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		if k == "_additional" {
			if extra, ok := v.(map[string]interface{}); ok {
				if d, ok := extra["distance"]; ok {
					doc["distance"] = d
				}
			}
			continue
		}
		doc[k] = v
	}
	return doc
}
