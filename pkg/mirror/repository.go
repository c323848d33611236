package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"hopper/pkg/core"
	"hopper/pkg/types"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrIssueNotFound  = errors.New("issue not found in mirror")
	ErrCommitNotFound = errors.New("commit not found in mirror")
)

// Repository wraps every SQL statement run against the mirror.
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *DB { return r.db }

// -----------------------------------------------------------------------------
// 1. Issue rows
// -----------------------------------------------------------------------------

// UpsertIssues inserts or replaces rows keyed by id. Idempotent.
func (r *Repository) UpsertIssues(ctx context.Context, rows []IssueRow) error {
	return upsertIssues(r.db.Conn().WithContext(ctx), rows)
}

func upsertIssues(tx *gorm.DB, rows []IssueRow) error {
	if len(rows) == 0 {
		return nil
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to upsert %d issues: %w", len(rows), err)
	}
	return nil
}

// DeleteIssues removes rows by id.
func (r *Repository) DeleteIssues(ctx context.Context, ids ...types.Hash) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}
	return r.db.Conn().WithContext(ctx).Where("id IN ?", keys).Delete(&IssueRow{}).Error
}

// ReplaceIssues swaps the whole row set in one transaction. next is called
// until it returns an empty batch, so only one batch is in memory at a time.
func (r *Repository) ReplaceIssues(ctx context.Context, next func() ([]IssueRow, error)) error {
	return r.db.Conn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&IssueRow{}).Error; err != nil {
			return fmt.Errorf("failed to clear issues: %w", err)
		}
		for {
			batch, err := next()
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				return nil
			}
			if err := upsertIssues(tx, batch); err != nil {
				return err
			}
		}
	})
}

func (r *Repository) GetIssue(ctx context.Context, id types.Hash) (*IssueRow, error) {
	var row IssueRow
	err := r.db.Conn().WithContext(ctx).Where("id = ?", string(id)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrIssueNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// IssueFilter narrows SelectIssues.
type IssueFilter struct {
	Status        string  // exact, "" for any
	Label         string  // LIKE match on the delimited labels
	UpdatedSince  float64 // seconds, 0 for no bound
	CreatedAfter  float64 // seconds, exclusive, 0 for no bound
	CreatedBefore float64 // seconds, exclusive, 0 for no bound
	TitlePrefix   string  // lower case
	EmailSuffix   string  // lower case
	OrderBy       string  // column name
	Ascending     bool
	Limit         int
	Offset        int
}

var sortable = map[string]bool{
	"id": true, "title": true, "status": true, "created": true, "updated": true,
	"author_name": true, "author_email": true, "labels": true,
}

// SortableColumn reports whether rows can be ordered by name.
func SortableColumn(name string) bool { return sortable[name] }

func (f IssueFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Label != "" {
		q = q.Where("labels LIKE ?", "%"+f.Label+"%")
	}
	if f.UpdatedSince > 0 {
		q = q.Where("updated >= ?", f.UpdatedSince)
	}
	if f.CreatedAfter > 0 {
		q = q.Where("created > ?", f.CreatedAfter)
	}
	if f.CreatedBefore > 0 {
		q = q.Where("created < ?", f.CreatedBefore)
	}
	if f.TitlePrefix != "" {
		q = q.Where("LOWER(title) LIKE ? ESCAPE '\\'", escapeLike(f.TitlePrefix)+"%")
	}
	if f.EmailSuffix != "" {
		q = q.Where("LOWER(author_email) LIKE ? ESCAPE '\\'", "%"+escapeLike(f.EmailSuffix))
	}
	return q
}

// SelectIssues returns the matching page of rows and the unpaged total.
func (r *Repository) SelectIssues(ctx context.Context, f IssueFilter) ([]IssueRow, int64, error) {
	base := f.apply(r.db.Conn().WithContext(ctx).Model(&IssueRow{}))

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := f.OrderBy
	if !sortable[order] {
		order = "updated"
	}
	q := base.Session(&gorm.Session{}).Order(clause.OrderByColumn{
		Column: clause.Column{Name: order},
		Desc:   !f.Ascending,
	}).Order("id")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var rows []IssueRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// SearchIssues matches text against title, content and comment text.
func (r *Repository) SearchIssues(ctx context.Context, text, status string, n int) ([]IssueRow, error) {
	like := "%" + escapeLike(text) + "%"
	q := r.db.Conn().WithContext(ctx).
		Where("(title LIKE ? ESCAPE '\\' OR content LIKE ? ESCAPE '\\' OR comments LIKE ? ESCAPE '\\')", like, like, like)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if n > 0 {
		q = q.Limit(n)
	}
	var rows []IssueRow
	err := q.Order("updated DESC").Find(&rows).Error
	return rows, err
}

// CountIssues counts rows, optionally by status.
func (r *Repository) CountIssues(ctx context.Context, status string) (int64, error) {
	q := r.db.Conn().WithContext(ctx).Model(&IssueRow{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// -----------------------------------------------------------------------------
// 2. Commit rows
// -----------------------------------------------------------------------------

// IndexCommit projects a commit. Re-indexing the same hash is a no-op.
// It reports whether a new row was written. Parents should be indexed first
// so the generation is right.
func (r *Repository) IndexCommit(ctx context.Context, c *core.Commit) (bool, error) {
	parents := c.Parents
	if parents == nil {
		parents = []types.Hash{}
	}
	parentsJSON, err := json.Marshal(parents)
	if err != nil {
		return false, fmt.Errorf("failed to marshal parents: %w", err)
	}

	conn := r.db.Conn().WithContext(ctx)
	var generation int64
	if len(parents) > 0 {
		keys := make([]string, len(parents))
		for i, p := range parents {
			keys[i] = string(p)
		}
		var top sql.NullInt64
		err := conn.Model(&CommitRow{}).Where("hash IN ?", keys).Select("MAX(generation)").Row().Scan(&top)
		if err != nil {
			return false, fmt.Errorf("failed to read parent generation: %w", err)
		}
		generation = top.Int64
	}

	row := CommitRow{
		Hash:        string(c.ID()),
		AuthorName:  c.Author.Name,
		AuthorEmail: c.Author.Email,
		Message:     c.Message,
		Timestamp:   c.Author.When.Unix(),
		TreeHash:    string(c.TreeHash),
		Generation:  generation + 1,
		Parents:     datatypes.JSON(parentsJSON),
	}
	res := conn.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hash"}},
			DoNothing: true,
		}).
		Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("failed to index commit: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *Repository) GetCommit(ctx context.Context, hash types.Hash) (*CommitRow, error) {
	var row CommitRow
	err := r.db.Conn().WithContext(ctx).Where("hash = ?", string(hash)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCommitNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// FindCommitsByAuthor matches the author's name or email, newest first.
func (r *Repository) FindCommitsByAuthor(ctx context.Context, author string, limit int) ([]CommitRow, error) {
	var rows []CommitRow
	q := r.db.Conn().WithContext(ctx).
		Where("author_name = ? OR author_email = ?", author, author).
		Order("generation DESC").Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rows).Error
	return rows, err
}

// RecentCommits returns the newest indexed commits.
func (r *Repository) RecentCommits(ctx context.Context, limit int) ([]CommitRow, error) {
	var rows []CommitRow
	q := r.db.Conn().WithContext(ctx).Order("generation DESC").Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rows).Error
	return rows, err
}

// ClearCommits drops every commit row.
func (r *Repository) ClearCommits(ctx context.Context) error {
	return r.db.Conn().WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&CommitRow{}).Error
}
