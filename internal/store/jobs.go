package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"kernelq/internal/job"
)

// Jobs is the Job Store: every mutation is a single-record
// read-modify-write scoped to one job. No multi-record transactions.
type Jobs struct {
	db *gorm.DB
}

func NewJobs(db *gorm.DB) *Jobs { return &Jobs{db: db} }

func (s *Jobs) Create(ctx context.Context, j *job.Job) error {
	return s.db.WithContext(ctx).Create(j).Error
}

// Get returns ErrNotFound for stale references (a queued id with no
// matching record); callers treat that as a benign skip.
func (s *Jobs) Get(ctx context.Context, id string) (*job.Job, error) {
	var j job.Job
	if err := s.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// Save is a full-record upsert.
func (s *Jobs) Save(ctx context.Context, j *job.Job) error {
	j.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Save(j).Error
}

// ListByStatus pages through jobs in one status, oldest first, so scan
// loops make progress even when the set is larger than one page.
func (s *Jobs) ListByStatus(ctx context.Context, status job.Status, limit, offset int) ([]job.Job, error) {
	if limit <= 0 {
		limit = 200
	}
	var out []job.Job
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at asc").
		Limit(limit).Offset(offset).
		Find(&out).Error
	return out, err
}

// ListDueByStatus pages through jobs in one status whose next_run_at has
// passed (the promoter's scan).
func (s *Jobs) ListDueByStatus(ctx context.Context, status job.Status, due time.Time, limit, offset int) ([]job.Job, error) {
	if limit <= 0 {
		limit = 200
	}
	var out []job.Job
	err := s.db.WithContext(ctx).
		Where("status = ? and next_run_at <= ?", status, due).
		Order("next_run_at asc").
		Limit(limit).Offset(offset).
		Find(&out).Error
	return out, err
}

// ListRecent returns jobs by creation time descending (dashboard listing).
func (s *Jobs) ListRecent(ctx context.Context, limit int) ([]job.Job, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []job.Job
	err := s.db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountByStatus returns job counts grouped by status.
func (s *Jobs) CountByStatus(ctx context.Context) (map[job.Status]int64, error) {
	type row struct {
		Status job.Status
		N      int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&job.Job{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[job.Status]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
