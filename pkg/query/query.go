package query

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"hopper/pkg/document"
	"hopper/pkg/mirror"
	"hopper/pkg/types"
)

const (
	// StatusAll disables status filtering in Select.
	StatusAll = "all"
	// DefaultSearchLimit is the number of hits Search returns when n <= 0.
	DefaultSearchLimit = 20
	// DefaultOrder is the column Select sorts by when none is given.
	DefaultOrder = "updated"
)

// Options filters, sorts and pages a Select.
type Options struct {
	OrderBy      string // column, DefaultOrder when empty
	Status       string // "open" when empty, StatusAll for any
	Label        string // substring of the delimited labels
	Limit        int    // <= 0 for no limit
	Offset       int
	Reverse      bool // ascending instead of newest first
	UpdatedSince time.Time

	CreatedAfter  time.Time // exclusive
	CreatedBefore time.Time // exclusive
	TitlePrefix   string    // case-insensitive
	EmailDomain   string    // host part of the author's email, case-insensitive
}

// Result is a page of issues plus the size of the unpaged set.
type Result struct {
	Issues []*document.Issue
	Total  int
}

// Engine answers queries from the mirror when it is usable and from the
// issue directories otherwise.
type Engine struct {
	docs   *document.Store
	mirror *mirror.Synchronizer
}

// New builds an engine. sync may be nil to always enumerate directories.
func New(docs *document.Store, sync *mirror.Synchronizer) *Engine {
	return &Engine{docs: docs, mirror: sync}
}

func (o Options) status() string {
	switch o.Status {
	case "":
		return string(document.StatusOpen)
	case StatusAll:
		return ""
	default:
		return o.Status
	}
}

func (o Options) order() string {
	if o.OrderBy == "" || !mirror.SortableColumn(o.OrderBy) {
		return DefaultOrder
	}
	return o.OrderBy
}

// rows returns the mirror after its integrity check, or nil to fall back.
func (e *Engine) rows(ctx context.Context) *mirror.Repository {
	if e.mirror == nil {
		return nil
	}
	if err := e.mirror.Check(ctx); err != nil {
		slog.Warn("mirror unavailable, reading issue directories", "error", err)
		return nil
	}
	return e.mirror.Rows()
}

// Select returns issues matching opts.
func (e *Engine) Select(ctx context.Context, opts Options) (*Result, error) {
	if rows := e.rows(ctx); rows != nil {
		f := mirror.IssueFilter{
			Status:    opts.status(),
			Label:     opts.Label,
			OrderBy:   opts.order(),
			Ascending: opts.Reverse,
			Limit:     opts.Limit,
			Offset:    opts.Offset,
		}
		if !opts.UpdatedSince.IsZero() {
			f.UpdatedSince = seconds(opts.UpdatedSince)
		}
		if !opts.CreatedAfter.IsZero() {
			f.CreatedAfter = seconds(opts.CreatedAfter)
		}
		if !opts.CreatedBefore.IsZero() {
			f.CreatedBefore = seconds(opts.CreatedBefore)
		}
		f.TitlePrefix = strings.ToLower(opts.TitlePrefix)
		if opts.EmailDomain != "" {
			f.EmailSuffix = "@" + strings.ToLower(opts.EmailDomain)
		}
		found, total, err := rows.SelectIssues(ctx, f)
		if err == nil {
			return &Result{Issues: e.materialize(found), Total: int(total)}, nil
		}
		slog.Warn("mirror select failed", "error", err)
	}
	return e.selectFiles(opts)
}

func (e *Engine) selectFiles(opts Options) (*Result, error) {
	all, err := e.loadAll()
	if err != nil {
		return nil, err
	}

	status := opts.status()
	keep := []Filter{}
	if status != "" {
		keep = append(keep, EqualTo(Status, status))
	}
	if opts.Label != "" {
		keep = append(keep, Contains(Labels, opts.Label))
	}
	if !opts.UpdatedSince.IsZero() {
		since := opts.UpdatedSince
		keep = append(keep, func(i *document.Issue) bool { return !i.Updated.Before(since) })
	}
	if !opts.CreatedAfter.IsZero() {
		keep = append(keep, GreaterThan(Created, seconds(opts.CreatedAfter)))
	}
	if !opts.CreatedBefore.IsZero() {
		keep = append(keep, LessThan(Created, seconds(opts.CreatedBefore)))
	}
	if opts.TitlePrefix != "" {
		keep = append(keep, StartsWith(Lower(Title), strings.ToLower(opts.TitlePrefix)))
	}
	if opts.EmailDomain != "" {
		keep = append(keep, EndsWith(Lower(Email), "@"+strings.ToLower(opts.EmailDomain)))
	}
	issues := Apply(all, keep...)

	sortIssues(issues, opts.order(), opts.Reverse)
	total := len(issues)
	return &Result{Issues: page(issues, opts.Offset, opts.Limit), Total: total}, nil
}

// Search matches text against titles, bodies and comment text,
// case-insensitively. status "" searches every issue.
func (e *Engine) Search(ctx context.Context, text, status string, n int) ([]*document.Issue, error) {
	if n <= 0 {
		n = DefaultSearchLimit
	}
	if rows := e.rows(ctx); rows != nil {
		found, err := rows.SearchIssues(ctx, text, status, n)
		if err == nil {
			return e.materialize(found), nil
		}
		slog.Warn("mirror search failed", "error", err)
	}

	all, err := e.loadAll()
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(text)
	var hits []*document.Issue
	for _, i := range all {
		if status != "" && string(i.Status) != status {
			continue
		}
		ok, err := e.mentions(i, needle)
		if err != nil {
			return nil, err
		}
		if ok {
			hits = append(hits, i)
		}
	}
	sortIssues(hits, DefaultOrder, false)
	return page(hits, 0, n), nil
}

func (e *Engine) mentions(i *document.Issue, needle string) (bool, error) {
	if strings.Contains(strings.ToLower(i.Title), needle) || strings.Contains(strings.ToLower(i.Content), needle) {
		return true, nil
	}
	comments, err := e.docs.Comments(i, 0)
	if err != nil {
		return false, err
	}
	for _, c := range comments {
		if strings.Contains(strings.ToLower(c.Content), needle) {
			return true, nil
		}
	}
	return false, nil
}

// Count returns the number of issues, optionally with one status.
// Without a status the directory listing is authoritative.
func (e *Engine) Count(ctx context.Context, status string) (int, error) {
	if status == "" || status == StatusAll {
		ids, err := e.docs.IssueIDs()
		return len(ids), err
	}
	if rows := e.rows(ctx); rows != nil {
		n, err := rows.CountIssues(ctx, status)
		if err == nil {
			return int(n), nil
		}
		slog.Warn("mirror count failed", "error", err)
	}
	all, err := e.loadAll()
	if err != nil {
		return 0, err
	}
	return len(Apply(all, EqualTo(Status, status))), nil
}

// materialize loads the documents behind mirror rows. Rows whose directory
// is gone are stale and skipped.
func (e *Engine) materialize(found []mirror.IssueRow) []*document.Issue {
	out := make([]*document.Issue, 0, len(found))
	for _, r := range found {
		i, err := e.docs.Issue(types.Hash(r.ID))
		if err != nil {
			if !errors.Is(err, document.ErrBadReference) {
				slog.Warn("failed to load issue", "id", r.ID, "error", err)
			}
			continue
		}
		out = append(out, i)
	}
	return out
}

func (e *Engine) loadAll() ([]*document.Issue, error) {
	ids, err := e.docs.IssueIDs()
	if err != nil {
		return nil, err
	}
	out := make([]*document.Issue, 0, len(ids))
	for _, id := range ids {
		i, err := e.docs.Issue(id)
		if errors.Is(err, document.ErrBadReference) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, nil
}

// sortIssues orders by column, newest or largest first unless ascending.
// Ties break on id so pages are stable.
func sortIssues(issues []*document.Issue, column string, ascending bool) {
	key := sortKey(column)
	slices.SortStableFunc(issues, func(a, b *document.Issue) int {
		c := key(a, b)
		if !ascending {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func sortKey(column string) func(a, b *document.Issue) int {
	switch column {
	case "id":
		return func(a, b *document.Issue) int { return cmp.Compare(a.ID, b.ID) }
	case "title":
		return func(a, b *document.Issue) int { return cmp.Compare(a.Title, b.Title) }
	case "status":
		return func(a, b *document.Issue) int { return cmp.Compare(a.Status, b.Status) }
	case "labels":
		return func(a, b *document.Issue) int { return cmp.Compare(Labels(a), Labels(b)) }
	case "author_name":
		return func(a, b *document.Issue) int { return cmp.Compare(a.Author.Name, b.Author.Name) }
	case "author_email":
		return func(a, b *document.Issue) int { return cmp.Compare(a.Author.Email, b.Author.Email) }
	case "created":
		return func(a, b *document.Issue) int { return a.Created.Compare(b.Created) }
	default:
		return func(a, b *document.Issue) int { return a.Updated.Compare(b.Updated) }
	}
}

func page(issues []*document.Issue, offset, limit int) []*document.Issue {
	if offset >= len(issues) {
		return []*document.Issue{}
	}
	issues = issues[max(offset, 0):]
	if limit > 0 && limit < len(issues) {
		issues = issues[:limit]
	}
	return issues
}
