package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// UserRepository is the credit ledger. Every mutation is a single atomic
// statement; the balance row is the only serialization point between
// concurrent webhook handlers.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// EnsureUser creates the ledger row if absent. Idempotent; reports whether a
// row was actually created.
func (r *UserRepository) EnsureUser(ctx context.Context, userID int64, firstName string, initialCredits int) (bool, error) {
	const query = `
INSERT IGNORE INTO users (user_id, first_name, credits)
VALUES (?, NULLIF(?, ''), ?)`
	res, err := r.db.ExecContext(ctx, query, userID, firstName, initialCredits)
	if err != nil {
		return false, fmt.Errorf("ensure user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ensure user rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetBalance returns the user's current credits, creating the row with the
// default starting balance on first contact. The insert-if-absent makes the
// read race-safe under concurrent first access.
func (r *UserRepository) GetBalance(ctx context.Context, userID int64, initialCredits int) (int, error) {
	if _, err := r.EnsureUser(ctx, userID, "", initialCredits); err != nil {
		return 0, err
	}
	const query = `SELECT credits FROM users WHERE user_id = ?`
	var credits int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&credits); err != nil {
		return 0, fmt.Errorf("select credits: %w", err)
	}
	return credits, nil
}

// AddCredits adds amount to the balance, inserting the row when the user has
// never been seen. An unseen user ends with exactly amount credits, so a
// payment for an unknown ID is never lost.
func (r *UserRepository) AddCredits(ctx context.Context, userID int64, amount int) error {
	const query = `
INSERT INTO users (user_id, credits) VALUES (?, ?)
ON DUPLICATE KEY UPDATE credits = credits + VALUES(credits), updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, userID, amount); err != nil {
		return fmt.Errorf("add credits: %w", err)
	}
	return nil
}

// ConsumeCredit decrements the balance by one iff it is strictly positive.
// The check and the write are one statement, so two concurrent admissions can
// never drive the balance negative.
func (r *UserRepository) ConsumeCredit(ctx context.Context, userID int64) (bool, error) {
	const query = `
UPDATE users SET credits = credits - 1, updated_at = NOW()
WHERE user_id = ? AND credits > 0`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return false, fmt.Errorf("consume credit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume credit rows affected: %w", err)
	}
	return affected > 0, nil
}
