package query

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var ErrBadDate = errors.New("unrecognized date")

var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"}

var parser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseSince reads an absolute date or a phrase like "2 days ago" or
// "last week", relative to now.
func ParseSince(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrBadDate)
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, text, now.Location()); err == nil {
			return t, nil
		}
	}
	r, err := parser.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrBadDate, text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadDate, text)
	}
	return r.Time, nil
}
