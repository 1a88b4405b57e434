package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/econsult/internal/intake"
	"github.com/jwalitptl/econsult/internal/model"
)

// ErrNotFound is returned when a lookup matches no row owned by the caller.
var ErrNotFound = errors.New("not found")

// All repository interfaces in one file
type (
	// ConsultRepository persists de-identified consult records. Every read is scoped to
	// one owner.
	ConsultRepository interface {
		// Create inserts the consult and any outbox events in one transaction. The caller
		// fixes the id so events can reference it; a nil id is filled in. The store assigns
		// created_at.
		Create(ctx context.Context, consult *model.Consult, events ...*model.OutboxEvent) error
		GetByOwner(ctx context.Context, ownerID, id uuid.UUID) (*model.Consult, error)
		// ListByOwner returns newest first.
		ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*model.Consult, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, maxRetries int) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	// DraftStore holds open intake sessions between requests.
	DraftStore interface {
		Save(ctx context.Context, s *intake.Session) error
		Get(ctx context.Context, id uuid.UUID) (*intake.Session, error)
		Delete(ctx context.Context, id uuid.UUID) error
		Count() int
	}
)
