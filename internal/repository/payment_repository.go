package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/TGImagineBot/internal/models"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// RecordAndCredit stores a processed payment event and applies its credits in
// a single transaction, so a crash can never leave the event recorded without
// the balance change. The unique key on (provider, provider_event_id) turns
// redeliveries into no-ops: the return value reports whether the credits were
// applied, false meaning the event had been processed before.
func (r *PaymentRepository) RecordAndCredit(ctx context.Context, payment *models.Payment) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin top-up: %w", err)
	}
	defer tx.Rollback()

	const insertEvent = `
INSERT IGNORE INTO payments (provider, provider_event_id, user_id, credits, raw_payload)
VALUES (?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, insertEvent, payment.Provider, payment.EventID, payment.UserID, payment.Credits, payment.RawPayload)
	if err != nil {
		return false, fmt.Errorf("insert payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("payment rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	const credit = `
INSERT INTO users (user_id, credits) VALUES (?, ?)
ON DUPLICATE KEY UPDATE credits = credits + VALUES(credits), updated_at = NOW()`
	if _, err := tx.ExecContext(ctx, credit, payment.UserID, payment.Credits); err != nil {
		return false, fmt.Errorf("credit user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit top-up: %w", err)
	}
	return true, nil
}
