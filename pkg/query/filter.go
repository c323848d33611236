package query

import (
	"cmp"
	"strings"
	"time"

	"hopper/pkg/document"
)

// Filter keeps the issues it returns true for.
type Filter func(*document.Issue) bool

// Field accessors for the helpers below.
var (
	Title   = func(i *document.Issue) string { return i.Title }
	Content = func(i *document.Issue) string { return i.Content }
	Status  = func(i *document.Issue) string { return string(i.Status) }
	Labels  = func(i *document.Issue) string { return strings.Join(i.Labels, ",") }
	Author  = func(i *document.Issue) string { return i.Author.Name }
	Email   = func(i *document.Issue) string { return i.Author.Email }
	Created = func(i *document.Issue) float64 { return seconds(i.Created) }
	Updated = func(i *document.Issue) float64 { return seconds(i.Updated) }
)

// Lower folds a string field for case-insensitive matching.
func Lower(field func(*document.Issue) string) func(*document.Issue) string {
	return func(i *document.Issue) string { return strings.ToLower(field(i)) }
}

// seconds matches the mirror's float timestamps.
func seconds(t time.Time) float64 { return float64(t.UnixMicro()) / 1e6 }

// Apply returns the issues every filter keeps, in their original order.
func Apply(issues []*document.Issue, filters ...Filter) []*document.Issue {
	out := make([]*document.Issue, 0, len(issues))
next:
	for _, i := range issues {
		for _, f := range filters {
			if !f(i) {
				continue next
			}
		}
		out = append(out, i)
	}
	return out
}

func GreaterThan[T cmp.Ordered](field func(*document.Issue) T, v T) Filter {
	return func(i *document.Issue) bool { return field(i) > v }
}

func LessThan[T cmp.Ordered](field func(*document.Issue) T, v T) Filter {
	return func(i *document.Issue) bool { return field(i) < v }
}

func EqualTo[T comparable](field func(*document.Issue) T, v T) Filter {
	return func(i *document.Issue) bool { return field(i) == v }
}

func Contains(field func(*document.Issue) string, s string) Filter {
	return func(i *document.Issue) bool { return strings.Contains(field(i), s) }
}

func StartsWith(field func(*document.Issue) string, s string) Filter {
	return func(i *document.Issue) bool { return strings.HasPrefix(field(i), s) }
}

func EndsWith(field func(*document.Issue) string, s string) Filter {
	return func(i *document.Issue) bool { return strings.HasSuffix(field(i), s) }
}
