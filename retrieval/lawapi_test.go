package retrieval

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/lexgraph/graph/tool"
)

func TestLawSearch_BuildsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "my-oc", q.Get("OC"))
		assert.Equal(t, "expc", q.Get("target"))
		assert.Equal(t, "JSON", q.Get("type"))
		assert.Equal(t, "임대차", q.Get("query"))
		assert.Equal(t, "2", q.Get("search"))
		assert.False(t, q.Has("keyword"))
		assert.False(t, q.Has("inq"), "empty filters are not sent")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Expc":{"totalCnt":"1","expc":[{"안건명":"임대차 해석"}]}}`))
	}))
	defer srv.Close()

	s := NewLawSearch(srv.URL, "my-oc", tool.NewHTTPTool(0))
	out, err := s.Call(context.Background(), map[string]interface{}{
		"keyword": "임대차",
		"search":  2,
		"inq":     "",
	})
	require.NoError(t, err)

	expc, ok := out["Expc"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "1", expc["totalCnt"])
	assert.Equal(t, "law_search", s.Name())
}

func TestLawSearch_Errors(t *testing.T) {
	s := NewLawSearch("", "oc", nil)
	_, err := s.Call(context.Background(), map[string]interface{}{})
	assert.ErrorContains(t, err, "keyword is required")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err = NewLawSearch(srv.URL, "oc", nil).Call(context.Background(), map[string]interface{}{"keyword": "x"})
	var statusErr *tool.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)

	html := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer html.Close()

	_, err = NewLawSearch(html.URL, "oc", nil).Call(context.Background(), map[string]interface{}{"keyword": "x"})
	assert.ErrorContains(t, err, "not a JSON object")
}
