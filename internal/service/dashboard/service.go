package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/econsult/internal/model"
	"github.com/jwalitptl/econsult/internal/repository"
	apperrors "github.com/jwalitptl/econsult/pkg/errors"
)

// Query selects the recency order of each list independently.
type Query struct {
	ActiveSort    model.SortOrder
	CompletedSort model.SortOrder
}

// Service is the read side for the referring office. It never recomputes clinical
// values; records are shown as they were fixed at submission.
type Service struct {
	repo repository.ConsultRepository
	now  func() time.Time
}

func NewService(repo repository.ConsultRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Summarize counts records. Closed-this-month uses the creation timestamp, the only
// timestamp a record carries.
func Summarize(records []*model.Consult, now time.Time) model.ConsultStats {
	stats := model.ConsultStats{Total: len(records)}
	year, month, _ := now.Date()
	for _, r := range records {
		if r.Active() {
			stats.Active++
			continue
		}
		y, m, _ := r.CreatedAt.In(now.Location()).Date()
		if y == year && m == month {
			stats.ClosedThisMonth++
		}
	}
	return stats
}

// Partition splits records into active and completed, preserving input order.
func Partition(records []*model.Consult) (active, completed []*model.Consult) {
	active = []*model.Consult{}
	completed = []*model.Consult{}
	for _, r := range records {
		if r.Active() {
			active = append(active, r)
		} else {
			completed = append(completed, r)
		}
	}
	return active, completed
}

// SortByRecency orders records in place. Ties keep their relative order.
func SortByRecency(records []*model.Consult, order model.SortOrder) {
	sort.SliceStable(records, func(i, j int) bool {
		if order == model.SortOldest {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}

// Dashboard loads the owner's records and builds the summary and both lists.
func (s *Service) Dashboard(ctx context.Context, owner model.Owner, q Query) (*model.Dashboard, error) {
	records, err := s.repo.ListByOwner(ctx, owner.ID)
	if err != nil {
		return nil, apperrors.Unavailable("failed to load consults", err)
	}

	active, completed := Partition(records)
	SortByRecency(active, q.ActiveSort)
	SortByRecency(completed, q.CompletedSort)

	return &model.Dashboard{
		Stats:     Summarize(records, s.now()),
		Active:    active,
		Completed: completed,
	}, nil
}

// Get returns one record. A record of another owner is reported as not found.
func (s *Service) Get(ctx context.Context, owner model.Owner, id uuid.UUID) (*model.Consult, error) {
	consult, err := s.repo.GetByOwner(ctx, owner.ID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("consult", err)
		}
		return nil, apperrors.Unavailable("failed to load consult", fmt.Errorf("get consult %s: %w", id, err))
	}
	return consult, nil
}
