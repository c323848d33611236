package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"hopper/pkg/core"
	"hopper/pkg/document"
	"hopper/pkg/query"
	"hopper/pkg/tracker"
)

// Server exposes one tracker over a JSON API.
type Server struct {
	tracker *tracker.Tracker
	// mutations go one at a time; the repository stage is per handle
	mu  sync.RWMutex
	now func() time.Time
}

func New(tr *tracker.Tracker) *Server {
	return &Server{tracker: tr, now: time.Now}
}

// Handler returns the routed API wrapped in logging and recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/issues", s.listIssues)
	mux.HandleFunc("POST /api/issues", s.createIssue)
	mux.HandleFunc("GET /api/issues/{id}", s.getIssue)
	mux.HandleFunc("POST /api/issues/{id}/comments", s.addComment)
	mux.HandleFunc("POST /api/issues/{id}/close", s.setStatus(document.StatusClosed))
	mux.HandleFunc("POST /api/issues/{id}/reopen", s.setStatus(document.StatusOpen))
	mux.HandleFunc("GET /api/search", s.search)
	mux.HandleFunc("GET /api/count", s.count)
	mux.HandleFunc("GET /api/history", s.history)
	return Recovery(Logging(mux))
}

// ListenAndServe serves until ctx is cancelled, then drains requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------
// Views
// -----------------------------------------------------------------------------

type issueView struct {
	ID      string          `json:"id"`
	Title   string          `json:"title"`
	Status  string          `json:"status"`
	Labels  []string        `json:"labels"`
	Content string          `json:"content"`
	Created time.Time       `json:"created"`
	Updated time.Time       `json:"updated"`
	Author  document.Author `json:"author"`
}

type commentView struct {
	ID        string            `json:"id"`
	Author    document.Author   `json:"author"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Event     bool              `json:"event,omitempty"`
	EventData map[string]string `json:"event_data,omitempty"`
}

type commitView struct {
	ID      string    `json:"id"`
	Author  string    `json:"author"`
	Email   string    `json:"email"`
	When    time.Time `json:"when"`
	Message string    `json:"message"`
}

func viewIssue(i *document.Issue) issueView {
	labels := i.Labels
	if labels == nil {
		labels = []string{}
	}
	return issueView{
		ID: string(i.ID), Title: i.Title, Status: string(i.Status), Labels: labels,
		Content: i.Content, Created: i.Created, Updated: i.Updated, Author: i.Author,
	}
}

func viewIssues(issues []*document.Issue) []issueView {
	out := make([]issueView, len(issues))
	for n, i := range issues {
		out[n] = viewIssue(i)
	}
	return out
}

func viewComment(c *document.Comment) commentView {
	return commentView{
		ID: string(c.ID), Author: c.Author, Content: c.Content,
		Timestamp: c.Timestamp, Event: c.Event, EventData: c.EventData,
	}
}

func viewCommit(c *core.Commit) commitView {
	return commitView{
		ID: string(c.ID()), Author: c.Author.Name, Email: c.Author.Email,
		When: c.Author.When, Message: c.Message,
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := query.Options{
		OrderBy:     q.Get("sort"),
		Status:      q.Get("status"),
		Label:       q.Get("label"),
		Reverse:     q.Get("reverse") == "true",
		TitlePrefix: q.Get("prefix"),
		EmailDomain: q.Get("domain"),
	}
	var err error
	if opts.Limit, err = intParam(q.Get("limit"), 0); err != nil {
		fail(w, err)
		return
	}
	if opts.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		fail(w, err)
		return
	}
	for key, into := range map[string]*time.Time{
		"since":          &opts.UpdatedSince,
		"created_after":  &opts.CreatedAfter,
		"created_before": &opts.CreatedBefore,
	} {
		text := q.Get(key)
		if text == "" {
			continue
		}
		if *into, err = query.ParseSince(text, s.now()); err != nil {
			fail(w, err)
			return
		}
	}

	s.mu.RLock()
	res, err := s.tracker.Issues(r.Context(), opts)
	s.mu.RUnlock()
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"issues": viewIssues(res.Issues), "total": res.Total})
}

func (s *Server) getIssue(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	issue, err := s.tracker.Issue(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, err)
		return
	}
	comments, err := s.tracker.Comments(r.Context(), issue, 0)
	if err != nil {
		fail(w, err)
		return
	}
	views := make([]commentView, len(comments))
	for n, c := range comments {
		views[n] = viewComment(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"issue": viewIssue(issue), "comments": views})
}

type newIssue struct {
	Title   string          `json:"title"`
	Content string          `json:"content"`
	Labels  []string        `json:"labels"`
	Author  document.Author `json:"author"`
}

func (s *Server) createIssue(w http.ResponseWriter, r *http.Request) {
	var body newIssue
	if err := decode(w, r, &body); err != nil {
		fail(w, err)
		return
	}
	if strings.TrimSpace(body.Title) == "" {
		fail(w, fmt.Errorf("%w: title is required", errBadRequest))
		return
	}

	issue := &document.Issue{Title: body.Title, Content: body.Content, Labels: body.Labels, Author: body.Author}
	s.mu.Lock()
	err := s.tracker.CreateIssue(r.Context(), issue)
	s.mu.Unlock()
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewIssue(issue))
}

type newComment struct {
	Content string          `json:"content"`
	Author  document.Author `json:"author"`
}

func (s *Server) addComment(w http.ResponseWriter, r *http.Request) {
	var body newComment
	if err := decode(w, r, &body); err != nil {
		fail(w, err)
		return
	}
	if strings.TrimSpace(body.Content) == "" {
		fail(w, fmt.Errorf("%w: content is required", errBadRequest))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	issue, err := s.tracker.Issue(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, err)
		return
	}
	c := &document.Comment{Content: body.Content, Author: body.Author}
	if err := s.tracker.AddComment(r.Context(), issue, c); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewComment(c))
}

func (s *Server) setStatus(status document.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var by document.Author
		if r.ContentLength > 0 {
			if err := decode(w, r, &by); err != nil {
				fail(w, err)
				return
			}
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		issue, err := s.tracker.Issue(r.Context(), r.PathValue("id"))
		if err != nil {
			fail(w, err)
			return
		}
		if status == document.StatusClosed {
			err = s.tracker.CloseIssue(r.Context(), issue, by)
		} else {
			err = s.tracker.ReopenIssue(r.Context(), issue, by)
		}
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewIssue(issue))
	}
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, err := intParam(q.Get("n"), query.DefaultSearchLimit)
	if err != nil {
		fail(w, err)
		return
	}
	s.mu.RLock()
	hits, err := s.tracker.Search(r.Context(), q.Get("q"), q.Get("status"), n)
	s.mu.RUnlock()
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"issues": viewIssues(hits)})
}

func (s *Server) count(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	n, err := s.tracker.Count(r.Context(), r.URL.Query().Get("status"))
	s.mu.RUnlock()
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	n, err := intParam(r.URL.Query().Get("n"), 10)
	if err != nil {
		fail(w, err)
		return
	}
	s.mu.RLock()
	commits, err := s.tracker.History(r.Context(), r.URL.Query().Get("author"), n)
	s.mu.RUnlock()
	if err != nil {
		fail(w, err)
		return
	}
	views := make([]commitView, len(commits))
	for i, c := range commits {
		views[i] = viewCommit(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": views})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q is not a count", errBadRequest, s)
	}
	return n, nil
}
