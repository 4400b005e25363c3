package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/TGImagineBot/internal/models"
)

type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

// Create records a freshly dispatched job as queued.
func (r *GenerationRepository) Create(ctx context.Context, jobID string, userID int64, prompt string) error {
	const query = `
INSERT INTO generations (job_id, user_id, prompt, status)
VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, jobID, userID, prompt, models.StatusQueued); err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

// Transition moves a job from one status to another in a single conditional
// update. Reports whether the transition applied; a redelivered worker
// callback finds the row already terminal and gets false, which is what keeps
// refunds single-shot.
func (r *GenerationRepository) Transition(ctx context.Context, jobID string, from, to models.GenerationStatus) (bool, error) {
	const query = `
UPDATE generations SET status = ?, updated_at = NOW()
WHERE job_id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, query, to, jobID, from)
	if err != nil {
		return false, fmt.Errorf("transition generation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition rows affected: %w", err)
	}
	return affected > 0, nil
}
