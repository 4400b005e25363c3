package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/digkill/TGImagineBot/internal/models"
)

// ProviderStripe tags payment events arriving from the Stripe webhook.
const ProviderStripe = "stripe"

// UserStore is the ledger persistence contract.
type UserStore interface {
	EnsureUser(ctx context.Context, userID int64, firstName string, initialCredits int) (bool, error)
	GetBalance(ctx context.Context, userID int64, initialCredits int) (int, error)
	AddCredits(ctx context.Context, userID int64, amount int) error
	ConsumeCredit(ctx context.Context, userID int64) (bool, error)
}

// PaymentStore records a processed payment event and applies its credits as
// one atomic unit, reporting whether the credits were applied.
type PaymentStore interface {
	RecordAndCredit(ctx context.Context, payment *models.Payment) (bool, error)
}

// CreditService owns every balance transition: creation, top-up, admission
// and refund. All atomicity lives in the stores; this layer adds idempotence
// and the default-balance policy.
type CreditService struct {
	log            *slog.Logger
	users          UserStore
	payments       PaymentStore
	defaultCredits int
}

func NewCreditService(log *slog.Logger, users UserStore, payments PaymentStore, defaultCredits int) *CreditService {
	return &CreditService{
		log:            log,
		users:          users,
		payments:       payments,
		defaultCredits: defaultCredits,
	}
}

// EnsureUser creates the ledger row with the default starting balance.
// Idempotent; reports whether the user was new.
func (s *CreditService) EnsureUser(ctx context.Context, userID int64, firstName string) (bool, error) {
	created, err := s.users.EnsureUser(ctx, userID, firstName, s.defaultCredits)
	if err != nil {
		return false, fmt.Errorf("ensure user: %w", err)
	}
	return created, nil
}

// Balance returns current credits, creating the row on first contact.
func (s *CreditService) Balance(ctx context.Context, userID int64) (int, error) {
	return s.users.GetBalance(ctx, userID, s.defaultCredits)
}

// TopUp credits the user for one payment-provider event. The event marker and
// the balance change commit together; redelivery of an already processed event
// returns (false, nil) without touching the balance. Events without a provider
// ID get a generated one; they still credit, but replay protection is then
// best effort only.
func (s *CreditService) TopUp(ctx context.Context, userID int64, eventID string, credits int, rawPayload string) (bool, error) {
	if eventID == "" {
		eventID = uuid.NewString()
		s.log.Warn("payment event without provider id, dedupe disabled", "user", userID)
	}

	applied, err := s.payments.RecordAndCredit(ctx, &models.Payment{
		Provider:   ProviderStripe,
		EventID:    eventID,
		UserID:     userID,
		Credits:    credits,
		RawPayload: rawPayload,
	})
	if err != nil {
		return false, fmt.Errorf("record payment: %w", err)
	}
	return applied, nil
}

// Admit decides whether one generation may proceed, consuming one credit when
// it does. First contact is seeded with the default balance before the
// conditional decrement, so an unseen user gets their free allowance.
func (s *CreditService) Admit(ctx context.Context, userID int64) (bool, error) {
	if _, err := s.users.EnsureUser(ctx, userID, "", s.defaultCredits); err != nil {
		return false, fmt.Errorf("seed user: %w", err)
	}
	ok, err := s.users.ConsumeCredit(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("admit: %w", err)
	}
	return ok, nil
}

// Refund returns credits consumed by an admission whose job never ran.
func (s *CreditService) Refund(ctx context.Context, userID int64, credits int) error {
	if err := s.users.AddCredits(ctx, userID, credits); err != nil {
		return fmt.Errorf("refund: %w", err)
	}
	return nil
}
