package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/rs/zerolog/log"
)

var ErrWorkItemNotFound = errors.New("work item not found")

type WorkItemRepository interface {
	Create(ctx context.Context, item *models.WorkItem) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.WorkItem, error)
	List(ctx context.Context) ([]*models.WorkItem, error)
	FindEligible(ctx context.Context, now time.Time) ([]*models.WorkItem, error)
	Save(ctx context.Context, item *models.WorkItem) error
	Remove(ctx context.Context, id int64) error
	Stats(ctx context.Context, recent int) (*models.WorkItemStats, error)
}

type workItemRepository struct {
	db *DB
}

func NewWorkItemRepository(db *DB) WorkItemRepository {
	return &workItemRepository{db: db}
}

func platformColumns() []string {
	cols := make([]string, len(models.Platforms))
	for i, p := range models.Platforms {
		cols[i] = p.Column()
	}
	return cols
}

var selectColumns = "id, name, description, website, handle, media_ref, status, " +
	strings.Join(platformColumns(), ", ") +
	", scheduled_at, error_log, created_at, posted_at, updated_at"

func (r *workItemRepository) Create(ctx context.Context, item *models.WorkItem) (int64, error) {
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	if item.Status == "" {
		item.Status = models.ItemStatusDraft
	}
	if item.Platforms == nil {
		item.Platforms = models.NewPlatformStatuses()
	}

	cols := []string{"name", "description", "website", "handle", "media_ref", "status"}
	cols = append(cols, platformColumns()...)
	cols = append(cols, "scheduled_at", "created_at", "updated_at")

	args := []any{item.Name, nullString(item.Description), nullString(item.Website), nullString(item.Handle), item.MediaRef, string(item.Status)}
	for _, p := range models.Platforms {
		args = append(args, string(item.Platforms.Get(p)))
	}
	args = append(args, nullTime(item.ScheduledAt), item.CreatedAt.UTC(), item.UpdatedAt)

	query := fmt.Sprintf(
		`INSERT INTO work_items (%s) VALUES (%s) RETURNING id`,
		strings.Join(cols, ", "),
		placeholders(1, len(cols)),
	)

	var id int64
	if err := r.db.QueryRowContext(ctx, r.db.Rebind(query), args...).Scan(&id); err != nil {
		log.Error().Err(err).Msg("failed to insert work item")
		return 0, err
	}
	item.ID = id
	return id, nil
}

func (r *workItemRepository) GetByID(ctx context.Context, id int64) (*models.WorkItem, error) {
	query := `SELECT ` + selectColumns + ` FROM work_items WHERE id = $1`
	row := r.db.QueryRowContext(ctx, r.db.Rebind(query), id)

	item, err := scanWorkItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		log.Error().Err(err).Int64("item_id", id).Msg("failed to load work item")
		return nil, err
	}
	return item, nil
}

func (r *workItemRepository) List(ctx context.Context) ([]*models.WorkItem, error) {
	query := `SELECT ` + selectColumns + ` FROM work_items ORDER BY created_at DESC, id DESC`
	return r.query(ctx, query)
}

// FindEligible returns READY items whose schedule is unset or due, oldest first.
func (r *workItemRepository) FindEligible(ctx context.Context, now time.Time) ([]*models.WorkItem, error) {
	query := `SELECT ` + selectColumns + ` FROM work_items
		WHERE status = $1 AND (scheduled_at IS NULL OR scheduled_at <= $2)
		ORDER BY created_at ASC, id ASC`
	return r.query(ctx, query, string(models.ItemStatusReady), now.UTC())
}

// Save persists the fields the posting pipeline and retry reset mutate.
func (r *workItemRepository) Save(ctx context.Context, item *models.WorkItem) error {
	item.UpdatedAt = time.Now().UTC()

	sets := []string{"status = $1"}
	args := []any{string(item.Status)}
	for _, p := range models.Platforms {
		args = append(args, string(item.Platforms.Get(p)))
		sets = append(sets, fmt.Sprintf("%s = $%d", p.Column(), len(args)))
	}
	args = append(args, nullString(item.ErrorLog))
	sets = append(sets, fmt.Sprintf("error_log = $%d", len(args)))
	args = append(args, nullTime(item.PostedAt))
	sets = append(sets, fmt.Sprintf("posted_at = $%d", len(args)))
	args = append(args, item.UpdatedAt)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))
	args = append(args, item.ID)

	query := fmt.Sprintf(`UPDATE work_items SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))

	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		log.Error().Err(err).Int64("item_id", item.ID).Msg("failed to save work item")
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrWorkItemNotFound
	}
	return nil
}

func (r *workItemRepository) Remove(ctx context.Context, id int64) error {
	query := `DELETE FROM work_items WHERE id = $1`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), id)
	if err != nil {
		log.Error().Err(err).Int64("item_id", id).Msg("failed to delete work item")
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrWorkItemNotFound
	}
	return nil
}

// Stats counts items by status and each platform's outcomes, and loads up to
// recent of the latest POSTED items.
func (r *workItemRepository) Stats(ctx context.Context, recent int) (*models.WorkItemStats, error) {
	byStatus, err := r.countBy(ctx, "status")
	if err != nil {
		return nil, err
	}
	stats := &models.WorkItemStats{
		Posted:    byStatus[string(models.ItemStatusPosted)],
		Failed:    byStatus[string(models.ItemStatusFailed)],
		Ready:     byStatus[string(models.ItemStatusReady)],
		Draft:     byStatus[string(models.ItemStatusDraft)],
		Platforms: make(map[models.Platform]models.PlatformStats, len(models.Platforms)),
		Recent:    []*models.WorkItem{},
	}
	for _, n := range byStatus {
		stats.Total += n
	}
	stats.SuccessRate = models.Percent(stats.Posted, stats.Total)

	for _, p := range models.Platforms {
		counts, err := r.countBy(ctx, p.Column())
		if err != nil {
			return nil, err
		}
		ps := models.PlatformStats{
			Success: counts[string(models.PlatformStatusSuccess)],
			Failed:  counts[string(models.PlatformStatusFailed)],
			Skipped: counts[string(models.PlatformStatusSkipped)],
		}
		ps.SuccessRate = models.Percent(ps.Success, ps.Success+ps.Failed)
		stats.Platforms[p] = ps
	}

	if recent > 0 {
		query := `SELECT ` + selectColumns + ` FROM work_items
			WHERE status = $1
			ORDER BY posted_at DESC, id DESC
			LIMIT $2`
		items, err := r.query(ctx, query, string(models.ItemStatusPosted), recent)
		if err != nil {
			return nil, err
		}
		if items != nil {
			stats.Recent = items
		}
	}
	return stats, nil
}

// countBy groups every row by column, which must be a trusted column name.
func (r *workItemRepository) countBy(ctx context.Context, column string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+column+`, COUNT(*) FROM work_items GROUP BY `+column)
	if err != nil {
		log.Error().Err(err).Str("column", column).Msg("failed to count work items")
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			value string
			n     int
		)
		if err := rows.Scan(&value, &n); err != nil {
			return nil, err
		}
		counts[value] = n
	}
	return counts, rows.Err()
}

func (r *workItemRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkItem, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		log.Error().Err(err).Msg("failed to query work items")
		return nil, err
	}
	defer rows.Close()

	var items []*models.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			log.Error().Err(err).Msg("failed to scan work item")
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(s scanner) (*models.WorkItem, error) {
	var (
		item                         models.WorkItem
		status                       string
		description, website, handle sql.NullString
		errorLog                     sql.NullString
		scheduledAt, postedAt        sql.NullTime
	)
	platformStates := make([]string, len(models.Platforms))

	dest := []any{&item.ID, &item.Name, &description, &website, &handle, &item.MediaRef, &status}
	for i := range platformStates {
		dest = append(dest, &platformStates[i])
	}
	dest = append(dest, &scheduledAt, &errorLog, &item.CreatedAt, &postedAt, &item.UpdatedAt)

	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	item.Status = models.ItemStatus(status)
	item.Description = stringPtr(description)
	item.Website = stringPtr(website)
	item.Handle = stringPtr(handle)
	item.ErrorLog = stringPtr(errorLog)
	item.ScheduledAt = timePtr(scheduledAt)
	item.PostedAt = timePtr(postedAt)
	item.Platforms = make(models.PlatformStatuses, len(models.Platforms))
	for i, p := range models.Platforms {
		item.Platforms[p] = models.PlatformStatus(platformStates[i])
	}
	return &item, nil
}

func placeholders(start, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(ph, ", ")
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
