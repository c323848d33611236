package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"hopper/pkg/tracker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T) (*httptest.Server, *tracker.Tracker) {
	t.Helper()
	tr, err := tracker.New(context.Background(), filepath.Join(t.TempDir(), "tracker"), tracker.Settings{
		Name: "Ada", Email: "ada@example.com", Autocommit: true, Mirror: true, LockTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	ts := httptest.NewServer(New(tr).Handler())
	t.Cleanup(ts.Close)
	return ts, tr
}

func do(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestAPI_IssueLifecycle(t *testing.T) {
	ts, _ := setupServer(t)

	// Create
	var created issueView
	code := do(t, http.MethodPost, ts.URL+"/api/issues", map[string]any{"title": "Fix crash", "content": "Details...", "labels": []string{"bug"}}, &created)
	require.Equal(t, http.StatusCreated, code)
	assert.Len(t, created.ID, 40)
	assert.Equal(t, "open", created.Status)
	assert.Equal(t, "Ada", created.Author.Name)

	// Comment via abbreviated id
	var comment commentView
	code = do(t, http.MethodPost, ts.URL+"/api/issues/"+created.ID[:7]+"/comments", map[string]string{"content": "Looking into it"}, &comment)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "Looking into it", comment.Content)

	// Close
	var closed issueView
	code = do(t, http.MethodPost, ts.URL+"/api/issues/"+created.ID+"/close", nil, &closed)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "closed", closed.Status)

	// Read back
	var detail struct {
		Issue    issueView     `json:"issue"`
		Comments []commentView `json:"comments"`
	}
	code = do(t, http.MethodGet, ts.URL+"/api/issues/"+created.ID, nil, &detail)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "closed", detail.Issue.Status)
	require.Len(t, detail.Comments, 2)
	assert.True(t, detail.Comments[1].Event)

	// Listing
	var list struct {
		Issues []issueView `json:"issues"`
		Total  int         `json:"total"`
	}
	code = do(t, http.MethodGet, ts.URL+"/api/issues?status=closed", nil, &list)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, list.Total)

	code = do(t, http.MethodGet, ts.URL+"/api/issues", nil, &list)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, list.Total)

	code = do(t, http.MethodGet, ts.URL+"/api/issues?status=all&prefix=FIX&domain=example.com", nil, &list)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, list.Total)
	code = do(t, http.MethodGet, ts.URL+"/api/issues?status=all&domain=elsewhere.org", nil, &list)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, list.Total)
	code = do(t, http.MethodGet, ts.URL+"/api/issues?status=all&created_before=2000-01-01", nil, &list)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, list.Total)
	code = do(t, http.MethodGet, ts.URL+"/api/issues?status=all&created_after=2000-01-01", nil, &list)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, list.Total)

	// Search and count
	var hits struct {
		Issues []issueView `json:"issues"`
	}
	code = do(t, http.MethodGet, ts.URL+"/api/search?q=looking", nil, &hits)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, hits.Issues, 1)

	var count map[string]int
	code = do(t, http.MethodGet, ts.URL+"/api/count?status=closed", nil, &count)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, count["count"])

	// History
	var history struct {
		Commits []commitView `json:"commits"`
	}
	code = do(t, http.MethodGet, ts.URL+"/api/history?n=2", nil, &history)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, history.Commits, 2)
	assert.Contains(t, history.Commits[0].Message, "Close issue")

	code = do(t, http.MethodGet, ts.URL+"/api/history?author=Hopper", nil, &history)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, history.Commits, 1)
	assert.Equal(t, "Initial Commit", history.Commits[0].Message)

	code = do(t, http.MethodGet, ts.URL+"/api/history?author=ada@example.com", nil, &history)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, history.Commits, 3)
}

func TestAPI_Errors(t *testing.T) {
	ts, _ := setupServer(t)
	var body map[string]string

	code := do(t, http.MethodGet, ts.URL+"/api/issues/0000000000000000000000000000000000000000", nil, &body)
	assert.Equal(t, http.StatusNotFound, code)
	assert.NotEmpty(t, body["error"])

	code = do(t, http.MethodPost, ts.URL+"/api/issues", map[string]string{"content": "no title"}, &body)
	assert.Equal(t, http.StatusBadRequest, code)

	code = do(t, http.MethodPost, ts.URL+"/api/issues", map[string]string{"title": "x", "bogus": "y"}, &body)
	assert.Equal(t, http.StatusBadRequest, code)

	code = do(t, http.MethodGet, ts.URL+"/api/issues?limit=-1", nil, &body)
	assert.Equal(t, http.StatusBadRequest, code)

	code = do(t, http.MethodGet, ts.URL+"/api/issues?since=zzz", nil, &body)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAPI_AmbiguousID(t *testing.T) {
	ts, tr := setupServer(t)

	// Plant two issue directories sharing a prefix
	for _, id := range []string{"abc1230000000000000000000000000000000000", "abc4560000000000000000000000000000000000"} {
		require.NoError(t, mkdirAll(filepath.Join(tr.Docs().IssuesPath(), id)))
	}
	var body map[string]string
	code := do(t, http.MethodGet, ts.URL+"/api/issues/abc", nil, &body)
	assert.Equal(t, http.StatusConflict, code)
}

func TestRecovery(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLogging_RecordsStatus(t *testing.T) {
	h := Logging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
