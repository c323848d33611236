// Package document maps issues and comments to canonical JSON files
// under issues/<id>/ and derives their identifiers from content hashes.
package document

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"hopper/pkg/refs"
	"hopper/pkg/types"
)

var (
	// Aliases so callers match one value across the repository and documents.
	ErrBadReference       = refs.ErrBadReference
	ErrAmbiguousReference = refs.ErrAmbiguousReference

	ErrUnsaved       = errors.New("issue has no identifier yet")
	ErrInvalidStatus = errors.New("invalid issue status")
)

// Status is the lifecycle state of an issue.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

func (s Status) Valid() bool { return s == StatusOpen || s == StatusClosed }

// Author identifies who wrote an issue or comment.
type Author struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar"`
}

// Issue is a tracked problem. Comments are stored beside it, not inside it.
type Issue struct {
	ID      types.Hash
	Title   string
	Status  Status
	Labels  []string
	Content string
	Created time.Time
	Updated time.Time
	Author  Author
}

// IsNew reports whether the issue was never saved.
func (i *Issue) IsNew() bool { return i.ID == "" }

// HasLabel reports whether label is attached to the issue.
func (i *Issue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Comment is a note, or an audit event when Event is set.
type Comment struct {
	ID        types.Hash
	Author    Author
	Content   string
	Timestamp time.Time
	Event     bool
	EventData map[string]string
}

// ---------------------------------------------------------------------------
// Canonical form
// ---------------------------------------------------------------------------

// The wire structs fix the field order of the serialized documents.
type issueWire struct {
	Title   string    `json:"title"`
	Status  Status    `json:"status"`
	Labels  []string  `json:"labels"`
	Content string    `json:"content"`
	Created timestamp `json:"created"`
	Updated timestamp `json:"updated"`
	Author  Author    `json:"author"`
}

type commentWire struct {
	Author    Author            `json:"author"`
	Content   string            `json:"content"`
	Timestamp timestamp         `json:"timestamp"`
	ID        types.Hash        `json:"id"`
	Event     bool              `json:"event"`
	EventData map[string]string `json:"event_data"`
}

// timestamp is serialized as float seconds with microsecond precision.
type timestamp time.Time

func (t timestamp) MarshalJSON() ([]byte, error) {
	tt := time.Time(t)
	if tt.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(float64(tt.UnixMicro())/1e6, 'f', 6, 64)), nil
}

func (t *timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = timestamp{}
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", b, err)
	}
	*t = timestamp(time.UnixMicro(int64(math.Round(f * 1e6))))
	return nil
}

// canonical renders v with 4-space indentation and no HTML escaping.
func canonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func hashOf(data []byte) types.Hash {
	sum := sha1.Sum(data)
	return types.Hash(hex.EncodeToString(sum[:]))
}

// MarshalIssue returns the canonical serialization of an issue.
func MarshalIssue(i *Issue) ([]byte, error) {
	labels := i.Labels
	if labels == nil {
		labels = []string{}
	}
	return canonical(issueWire{
		Title:   i.Title,
		Status:  i.Status,
		Labels:  labels,
		Content: i.Content,
		Created: timestamp(i.Created),
		Updated: timestamp(i.Updated),
		Author:  i.Author,
	})
}

// UnmarshalIssue parses a stored issue. The id comes from its directory.
func UnmarshalIssue(id types.Hash, data []byte) (*Issue, error) {
	var w issueWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("corrupted issue %s: %w", id.Short(), err)
	}
	if w.Labels == nil {
		w.Labels = []string{}
	}
	return &Issue{
		ID:      id,
		Title:   w.Title,
		Status:  w.Status,
		Labels:  w.Labels,
		Content: w.Content,
		Created: time.Time(w.Created),
		Updated: time.Time(w.Updated),
		Author:  w.Author,
	}, nil
}

// MarshalComment returns the canonical serialization of a comment.
func MarshalComment(c *Comment) ([]byte, error) {
	return canonical(commentWire{
		Author:    c.Author,
		Content:   c.Content,
		Timestamp: timestamp(c.Timestamp),
		ID:        c.ID,
		Event:     c.Event,
		EventData: c.EventData,
	})
}

func UnmarshalComment(data []byte) (*Comment, error) {
	var w commentWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("corrupted comment: %w", err)
	}
	return &Comment{
		ID:        w.ID,
		Author:    w.Author,
		Content:   w.Content,
		Timestamp: time.Time(w.Timestamp),
		Event:     w.Event,
		EventData: w.EventData,
	}, nil
}

// IssueID is the identifier an issue gets at first save: the hash of its
// canonical form.
func IssueID(i *Issue) (types.Hash, error) {
	data, err := MarshalIssue(i)
	if err != nil {
		return "", err
	}
	return hashOf(data), nil
}

// CommentID hashes the canonical comment with an empty id field.
func CommentID(c *Comment) (types.Hash, error) {
	cp := *c
	cp.ID = ""
	data, err := MarshalComment(&cp)
	if err != nil {
		return "", err
	}
	return hashOf(data), nil
}
