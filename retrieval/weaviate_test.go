package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weaviateServer(t *testing.T, reply string, seen *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/graphql" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Query string `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if seen != nil {
			*seen = body.Query
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDocumentSearch_ReturnsDocuments(t *testing.T) {
	var query string
	srv := weaviateServer(t, `{"data":{"Get":{"LegalDocument":[
		{"title":"주택임대차보호법","content":"제3조 대항력","source":"law","_additional":{"distance":0.12}}
	]}}}`, &query)

	client, err := NewWeaviateClient(srv.URL, "")
	require.NoError(t, err)

	s := NewDocumentSearch(client, "", 3)
	out, err := s.Call(context.Background(), map[string]interface{}{"query": "jeonse deposit"})
	require.NoError(t, err)

	docs, ok := out["documents"].([]interface{})
	require.True(t, ok)
	require.Len(t, docs, 1)
	doc := docs[0].(map[string]interface{})
	assert.Equal(t, "주택임대차보호법", doc["title"])
	assert.Equal(t, 0.12, doc["distance"])
	assert.NotContains(t, doc, "_additional")

	assert.Contains(t, query, "LegalDocument")
	assert.Contains(t, query, "nearText")
	assert.Contains(t, query, "jeonse deposit")
	assert.True(t, strings.Contains(query, "limit: 3") || strings.Contains(query, "limit:3"))
}

func TestDocumentSearch_EmptyResult(t *testing.T) {
	srv := weaviateServer(t, `{"data":{"Get":{"LegalDocument":[]}}}`, nil)
	client, err := NewWeaviateClient(srv.URL, "")
	require.NoError(t, err)

	out, err := NewDocumentSearch(client, "", 0).Call(context.Background(), map[string]interface{}{"query": "x"})
	require.NoError(t, err)
	assert.Empty(t, out["documents"])
}

func TestDocumentSearch_GraphQLError(t *testing.T) {
	srv := weaviateServer(t, `{"errors":[{"message":"class not found"}]}`, nil)
	client, err := NewWeaviateClient(srv.URL, "")
	require.NoError(t, err)

	_, err = NewDocumentSearch(client, "", 0).Call(context.Background(), map[string]interface{}{"query": "x"})
	assert.ErrorContains(t, err, "class not found")
}

func TestDocumentSearch_RequiresQuery(t *testing.T) {
	client, err := NewWeaviateClient("localhost:8080", "http")
	require.NoError(t, err)

	_, err = NewDocumentSearch(client, "", 0).Call(context.Background(), map[string]interface{}{"query": "  "})
	assert.ErrorContains(t, err, "query is required")
}
