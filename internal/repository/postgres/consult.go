package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/econsult/internal/model"
	"github.com/jwalitptl/econsult/internal/repository"
)

const consultColumns = `id, owner_id, patient_initials, patient_age, condition_category,
	status, created_at, clinical_question`

type consultRepository struct {
	BaseRepository
}

func NewConsultRepository(base BaseRepository) repository.ConsultRepository {
	return &consultRepository{base}
}

func (r *consultRepository) Create(ctx context.Context, consult *model.Consult, events ...*model.OutboxEvent) error {
	if consult == nil {
		return fmt.Errorf("consult cannot be nil")
	}
	if consult.ID == uuid.Nil {
		consult.ID = uuid.New()
	}

	query := `
		INSERT INTO consults (
			id, owner_id, patient_initials, patient_age, condition_category,
			status, clinical_question
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, query,
			consult.ID,
			consult.OwnerID,
			consult.PatientInitials,
			consult.PatientAge,
			consult.ConditionCategory,
			consult.Status,
			consult.ClinicalQuestion,
		).Scan(&consult.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create consult: %w", err)
		}

		for _, event := range events {
			if err := insertOutboxEvent(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *consultRepository) GetByOwner(ctx context.Context, ownerID, id uuid.UUID) (*model.Consult, error) {
	query := `SELECT ` + consultColumns + ` FROM consults WHERE id = $1 AND owner_id = $2`

	var consult model.Consult
	if err := r.db.GetContext(ctx, &consult, query, id, ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get consult: %w", err)
	}
	return &consult, nil
}

func (r *consultRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*model.Consult, error) {
	query := `SELECT ` + consultColumns + ` FROM consults WHERE owner_id = $1 ORDER BY created_at DESC`

	consults := []*model.Consult{}
	if err := r.db.SelectContext(ctx, &consults, query, ownerID); err != nil {
		return nil, fmt.Errorf("failed to list consults: %w", err)
	}
	return consults, nil
}
