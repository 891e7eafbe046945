package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/lexgraph/graph"
	"github.com/dshills/lexgraph/graph/emit"
	"github.com/dshills/lexgraph/graph/model"
	"github.com/dshills/lexgraph/graph/store"
	"github.com/dshills/lexgraph/graph/tool"
	"github.com/dshills/lexgraph/legal"
	"github.com/dshills/lexgraph/logger"
	"github.com/dshills/lexgraph/security"
)

var testSecret = []byte("test-secret")

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeWorkflow struct {
	err      error
	lastUser string
}

func (f *fakeWorkflow) Run(_ context.Context, userID, threadID, query string) (legal.Result, error) {
	f.lastUser = userID
	return legal.Result{ThreadID: threadID, RunID: "run-1", State: legal.State{Query: query, Answer: "ok"}}, f.err
}

func (f *fakeWorkflow) Resume(_ context.Context, userID, threadID, _ string) (legal.Result, error) {
	f.lastUser = userID
	return legal.Result{ThreadID: threadID, RunID: "run-2"}, f.err
}

func (f *fakeWorkflow) GetState(_ context.Context, userID, _ string) (legal.Snapshot, error) {
	f.lastUser = userID
	return legal.Snapshot{State: legal.State{Answer: "ok"}}, f.err
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := IssueToken(testSecret, userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func do(r http.Handler, method, path, tok string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	wf := &fakeWorkflow{}
	r := New(wf, testSecret).Router()

	w := do(r, http.MethodPost, "/chat", "", map[string]string{"query": "q"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/chat", "not-a-jwt", map[string]string{"query": "q"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other, err := IssueToken([]byte("other-secret"), "alice", time.Hour)
	require.NoError(t, err)
	w = do(r, http.MethodPost, "/chat", other, map[string]string{"query": "q"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired, err := IssueToken(testSecret, "alice", -time.Minute)
	require.NoError(t, err)
	w = do(r, http.MethodPost, "/chat", expired, map[string]string{"query": "q"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/chat", token(t, "alice"), map[string]string{"query": "q"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", wf.lastUser)
}

func TestParseToken_RequiresUserID(t *testing.T) {
	_, err := IssueToken(testSecret, "", time.Hour)
	assert.Error(t, err)

	_, err = ParseToken(testSecret, "")
	assert.Error(t, err)
}

func TestNewChatAssignsThread(t *testing.T) {
	r := New(&fakeWorkflow{}, testSecret).Router()

	w := do(r, http.MethodPost, "/chat", token(t, "alice"), map[string]string{"query": "q"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.ThreadID, 36)
	assert.Equal(t, "ok", resp.Answer)

	w = do(r, http.MethodPost, "/chat/t-42", token(t, "alice"), map[string]string{"query": "q"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "t-42", resp.ThreadID)
}

func TestBadRequest(t *testing.T) {
	r := New(&fakeWorkflow{}, testSecret).Router()

	w := do(r, http.MethodPost, "/chat", token(t, "alice"), map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/chat/t/resume", token(t, "alice"), map[string]string{"query": "wrong field"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"contract violation", fmt.Errorf("%w: unknown human action", graph.ErrContractViolation), http.StatusConflict},
		{"not paused", &graph.EngineError{Code: "NOT_PAUSED", Cause: graph.ErrNotPaused}, http.StatusConflict},
		{"no checkpoint", &graph.EngineError{Code: "NO_CHECKPOINT", Cause: graph.ErrNoCheckpoint}, http.StatusNotFound},
		{"session busy elsewhere", &graph.EngineError{Code: "LOCK_FAILED", Cause: store.ErrLockTimeout}, http.StatusConflict},
		{"empty feedback", legal.ErrEmptyFeedback, http.StatusBadRequest},
		{"store down", errors.New("database is locked"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(&fakeWorkflow{err: tt.err}, testSecret).Router()

			w := do(r, http.MethodPost, "/chat/t/resume", token(t, "alice"), map[string]string{"feedback": "f"})
			assert.Equal(t, tt.want, w.Code)

			w = do(r, http.MethodGet, "/chat/t/state", token(t, "alice"), nil)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "lexgraph_test_total"}))
	r := New(&fakeWorkflow{}, testSecret, WithGatherer(reg)).Router()

	w := do(r, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "lexgraph_test_total")
}

// TestReviewRoundTrip drives a real assistant through pause, state and resume.
func TestReviewRoundTrip(t *testing.T) {
	llm := model.NewMockModel().
		Script(legal.ShapePlan, map[string]interface{}{"pending": []interface{}{}}).
		Script(legal.ShapeAnswer, map[string]interface{}{"answer": "draft answer"}).
		Script(legal.ShapeHumanAction, map[string]interface{}{"action": legal.ActionApprove})
	pii, err := security.NewPatternScanner(logger.NewNop())
	require.NoError(t, err)

	events := emit.NewBufferedEmitter()
	a, err := legal.New(legal.Collaborators{
		LLM:          llm,
		LawSearch:    &tool.MockTool{ToolName: "law_search"},
		DocSearch:    &tool.MockTool{ToolName: "document_search"},
		Guard:        security.StaticGuard{Secured: true},
		Groundedness: security.StaticGroundedness{Grounded: false},
		PII:          pii,
	}, store.NewMemStore[legal.State](), legal.WithEmitter(events))
	require.NoError(t, err)

	r := New(a, testSecret, WithEvents(events)).Router()
	tok := token(t, "alice")

	w := do(r, http.MethodPost, "/chat/t-1", tok, map[string]string{"query": "Can my landlord keep the deposit?"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp chatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, legal.HumanReviewer, resp.PausedAt)
	assert.Equal(t, "draft answer", resp.Answer)
	require.NotEmpty(t, resp.Events)
	assert.Equal(t, emit.MsgInterrupted, resp.Events[len(resp.Events)-1].Msg)
	assert.Empty(t, events.GetHistory(resp.RunID), "delivered events are cleared")

	w = do(r, http.MethodGet, "/chat/t-1/state", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap legal.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, legal.HumanReviewer, snap.PausedAt)

	w = do(r, http.MethodGet, "/chat/t-1/state", token(t, "mallory"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/chat/t-1/resume", tok, map[string]string{"feedback": "Approved."})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.PausedAt)
	assert.Equal(t, "draft answer", resp.Answer)

	w = do(r, http.MethodPost, "/chat/t-1/resume", tok, map[string]string{"feedback": "again"})
	assert.Equal(t, http.StatusConflict, w.Code)
}
