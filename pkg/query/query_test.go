package query

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"hopper/pkg/document"
	"hopper/pkg/mirror"
	"hopper/pkg/repo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Unix(1700000000, 0)

func tickingClock() *document.Clock {
	var mu sync.Mutex
	next := base
	return document.NewClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(time.Minute)
		return t
	})
}

type fixture struct {
	docs   *document.Store
	engine map[string]*Engine
}

// setup saves a small tracker and returns one engine per backend.
// Issues are saved a minute apart in the order listed.
func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()

	r, err := repo.Init(root, repo.InitOptions{})
	require.NoError(t, err)
	docs := document.NewStore(root, document.WithClock(tickingClock()))

	seed := []struct {
		title, content string
		status         document.Status
		labels         []string
	}{
		{"Crash on start", "segfault in main", document.StatusOpen, []string{"bug"}},
		{"Dark mode", "please", document.StatusOpen, []string{"feature", "ui"}},
		{"Typo in docs", "teh", document.StatusClosed, []string{"docs"}},
		{"Slow search", "takes 100% CPU", document.StatusOpen, []string{"bug", "perf"}},
	}
	for _, s := range seed {
		i := &document.Issue{Title: s.title, Content: s.content, Status: s.status, Labels: s.labels,
			Author: document.Author{Name: "Ann", Email: "ann@example.com"}}
		require.NoError(t, docs.Save(i))
	}
	first, err := docs.IssueIDs()
	require.NoError(t, err)
	for _, id := range first {
		i, err := docs.Issue(id)
		require.NoError(t, err)
		if i.Title == "Dark mode" {
			require.NoError(t, docs.AddComment(i, &document.Comment{Content: "it would crash my eyes less"}))
		}
	}

	db, err := mirror.Open(ctx, mirror.Config{Path: filepath.Join(root, ".hopper", "cache", "tracker.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sync := mirror.NewSynchronizer(mirror.NewRepository(db), r, docs, mirror.MarkerPath(filepath.Join(root, ".hopper", "cache")))

	return &fixture{
		docs: docs,
		engine: map[string]*Engine{
			"Files":  New(docs, nil),
			"Mirror": New(docs, sync),
		},
	}
}

func titles(issues []*document.Issue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Title
	}
	return out
}

func TestEngine_Select(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		opts      Options
		want      []string
		wantTotal int
	}{
		{"DefaultsToOpenNewestFirst", Options{}, []string{"Slow search", "Dark mode", "Crash on start"}, 3},
		{"Reverse", Options{Reverse: true}, []string{"Crash on start", "Dark mode", "Slow search"}, 3},
		{"Closed", Options{Status: "closed"}, []string{"Typo in docs"}, 1},
		{"All", Options{Status: StatusAll}, []string{"Slow search", "Typo in docs", "Dark mode", "Crash on start"}, 4},
		{"Label", Options{Label: "bug"}, []string{"Slow search", "Crash on start"}, 2},
		{"Page", Options{Status: StatusAll, Limit: 2, Offset: 1}, []string{"Typo in docs", "Dark mode"}, 4},
		{"OffsetPastEnd", Options{Offset: 10}, []string{}, 3},
		{"ByTitle", Options{OrderBy: "title", Reverse: true}, []string{"Crash on start", "Dark mode", "Slow search"}, 3},
		{"Since", Options{Status: StatusAll, UpdatedSince: base.Add(2 * time.Minute)}, []string{"Slow search", "Typo in docs"}, 2},
		{"CreatedAfter", Options{Status: StatusAll, CreatedAfter: base.Add(time.Minute)}, []string{"Slow search", "Typo in docs"}, 2},
		{"CreatedBefore", Options{Status: StatusAll, CreatedBefore: base.Add(2 * time.Minute)}, []string{"Dark mode", "Crash on start"}, 2},
		{"CreatedBetween", Options{Status: StatusAll, CreatedAfter: base, CreatedBefore: base.Add(3 * time.Minute)}, []string{"Typo in docs", "Dark mode"}, 2},
		{"TitlePrefix", Options{TitlePrefix: "sLoW"}, []string{"Slow search"}, 1},
		{"EmailDomain", Options{EmailDomain: "Example.com"}, []string{"Slow search", "Dark mode", "Crash on start"}, 3},
		{"EmailDomainWholeHost", Options{EmailDomain: "example"}, []string{}, 0},
	}
	for name, e := range f.engine {
		t.Run(name, func(t *testing.T) {
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					res, err := e.Select(ctx, tt.opts)
					require.NoError(t, err)
					assert.Equal(t, tt.want, titles(res.Issues))
					assert.Equal(t, tt.wantTotal, res.Total)
				})
			}
		})
	}
}

func TestEngine_Search(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for name, e := range f.engine {
		t.Run(name, func(t *testing.T) {
			got, err := e.Search(ctx, "crash", "", 0)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"Crash on start", "Dark mode"}, titles(got), "title and comment hits")

			got, err = e.Search(ctx, "100%", "", 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"Slow search"}, titles(got))

			got, err = e.Search(ctx, "teh", "open", 0)
			require.NoError(t, err)
			assert.Empty(t, got)

			got, err = e.Search(ctx, "", "", 2)
			require.NoError(t, err)
			assert.Len(t, got, 2)
		})
	}
}

func TestEngine_Count(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for name, e := range f.engine {
		t.Run(name, func(t *testing.T) {
			n, err := e.Count(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, 4, n)

			n, err = e.Count(ctx, "open")
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			n, err = e.Count(ctx, "closed")
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestEngine_SkipsStaleRows(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	e := f.engine["Mirror"]

	res, err := e.Select(ctx, Options{Status: StatusAll})
	require.NoError(t, err)
	require.Len(t, res.Issues, 4)

	// Directory removed behind the mirror's back
	require.NoError(t, os.RemoveAll(f.docs.IssueDir(res.Issues[0].ID)))

	res, err = e.Select(ctx, Options{Status: StatusAll})
	require.NoError(t, err)
	assert.Len(t, res.Issues, 3)
}
