package mirror

import (
	"strings"

	"hopper/pkg/document"

	"gorm.io/datatypes"
)

// IssueRow is the flattened, searchable projection of an issue.
type IssueRow struct {
	ID       string `gorm:"primaryKey;type:char(40)"`
	Title    string `gorm:"type:text"`
	Status   string `gorm:"index;type:varchar(16)"`
	Labels   string `gorm:"type:text"` // comma delimited
	Content  string `gorm:"type:text"`
	Comments string `gorm:"type:text"` // concatenated comment text, search only

	// Float seconds, as in the documents
	Created float64 `gorm:"index"`
	Updated float64 `gorm:"index"`

	AuthorName   string `gorm:"type:varchar(255)"`
	AuthorEmail  string `gorm:"type:varchar(255)"`
	AuthorAvatar string `gorm:"type:text"`
}

func (IssueRow) TableName() string {
	return "issues"
}

// NewIssueRow projects an issue and its comments.
func NewIssueRow(i *document.Issue, comments []*document.Comment) IssueRow {
	texts := make([]string, 0, len(comments))
	for _, c := range comments {
		if c.Content != "" {
			texts = append(texts, c.Content)
		}
	}
	return IssueRow{
		ID:           string(i.ID),
		Title:        i.Title,
		Status:       string(i.Status),
		Labels:       strings.Join(i.Labels, ","),
		Content:      i.Content,
		Comments:     strings.Join(texts, "\n"),
		Created:      seconds(i.Created.UnixMicro()),
		Updated:      seconds(i.Updated.UnixMicro()),
		AuthorName:   i.Author.Name,
		AuthorEmail:  i.Author.Email,
		AuthorAvatar: i.Author.Avatar,
	}
}

func seconds(micros int64) float64 { return float64(micros) / 1e6 }

// CommitRow projects a commit for the activity feed.
type CommitRow struct {
	Hash        string `gorm:"primaryKey;type:char(40)"`
	AuthorName  string `gorm:"index;type:varchar(255)"`
	AuthorEmail string `gorm:"index;type:varchar(255)"`
	Message     string `gorm:"type:text"`
	Timestamp   int64  `gorm:"index"`
	TreeHash    string `gorm:"type:char(40);not null"`
	// Distance from the root commit, orders commits made within one second
	Generation int64 `gorm:"index"`

	// ["hash1", "hash2"]
	Parents datatypes.JSON
}

func (CommitRow) TableName() string {
	return "commits"
}
