package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/TGImagineBot/internal/models"
)

type fakeUserStore struct {
	ensureCalls    int
	ensureCreated  bool
	ensureErr      error
	balances       map[int64]int
	addCalls       []int
	addErr         error
	consumeCalls   int
	consumeResult  bool
	consumeErr     error
	lastEnsureInit int
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{balances: make(map[int64]int)}
}

func (f *fakeUserStore) EnsureUser(ctx context.Context, userID int64, firstName string, initialCredits int) (bool, error) {
	f.ensureCalls++
	f.lastEnsureInit = initialCredits
	if f.ensureErr != nil {
		return false, f.ensureErr
	}
	if _, ok := f.balances[userID]; !ok {
		f.balances[userID] = initialCredits
		return true, nil
	}
	return f.ensureCreated, nil
}

func (f *fakeUserStore) GetBalance(ctx context.Context, userID int64, initialCredits int) (int, error) {
	if _, ok := f.balances[userID]; !ok {
		f.balances[userID] = initialCredits
	}
	return f.balances[userID], nil
}

func (f *fakeUserStore) AddCredits(ctx context.Context, userID int64, amount int) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.addCalls = append(f.addCalls, amount)
	f.balances[userID] += amount
	return nil
}

func (f *fakeUserStore) ConsumeCredit(ctx context.Context, userID int64) (bool, error) {
	f.consumeCalls++
	if f.consumeErr != nil {
		return false, f.consumeErr
	}
	return f.consumeResult, nil
}

// fakePaymentStore mirrors the transactional contract: the event marker and
// the balance change land together or not at all.
type fakePaymentStore struct {
	users       *fakeUserStore
	seen        map[string]bool
	creditErr   error
	creditCalls int
	lastRecord  *models.Payment
}

func newFakePaymentStore(users *fakeUserStore) *fakePaymentStore {
	return &fakePaymentStore{users: users, seen: make(map[string]bool)}
}

func (f *fakePaymentStore) RecordAndCredit(ctx context.Context, payment *models.Payment) (bool, error) {
	f.lastRecord = payment
	if f.seen[payment.EventID] {
		return false, nil
	}
	if f.creditErr != nil {
		return false, f.creditErr
	}
	f.seen[payment.EventID] = true
	f.creditCalls++
	f.users.balances[payment.UserID] += payment.Credits
	return true, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTopUpCreditsOnce(t *testing.T) {
	users := newFakeUserStore()
	payments := newFakePaymentStore(users)
	svc := NewCreditService(discardLogger(), users, payments, 10)

	applied, err := svc.TopUp(context.Background(), 42, "evt_1", 50, "{}")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 50, users.balances[42], "unseen user ends with exactly the credited amount")
}

func TestTopUpIdempotentUnderRedelivery(t *testing.T) {
	users := newFakeUserStore()
	payments := newFakePaymentStore(users)
	svc := NewCreditService(discardLogger(), users, payments, 10)

	applied, err := svc.TopUp(context.Background(), 42, "evt_1", 50, "{}")
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = svc.TopUp(context.Background(), 42, "evt_1", 50, "{}")
	require.NoError(t, err)
	assert.False(t, applied, "redelivered event must not credit again")
	assert.Equal(t, 50, users.balances[42])
	assert.Equal(t, 1, payments.creditCalls)
}

func TestTopUpGeneratesEventIDWhenMissing(t *testing.T) {
	users := newFakeUserStore()
	payments := newFakePaymentStore(users)
	svc := NewCreditService(discardLogger(), users, payments, 10)

	applied, err := svc.TopUp(context.Background(), 42, "", 50, "{}")
	require.NoError(t, err)
	assert.True(t, applied)
	require.NotNil(t, payments.lastRecord)
	assert.NotEmpty(t, payments.lastRecord.EventID)
}

func TestTopUpFailureLeavesEventRetryable(t *testing.T) {
	users := newFakeUserStore()
	payments := newFakePaymentStore(users)
	payments.creditErr = errors.New("mysql down")
	svc := NewCreditService(discardLogger(), users, payments, 10)

	_, err := svc.TopUp(context.Background(), 42, "evt_1", 50, "{}")
	require.Error(t, err)
	assert.Zero(t, users.balances[42], "a failed top-up must not leave a partial credit")

	// Redelivery after the store recovers applies the whole top-up.
	payments.creditErr = nil
	applied, err := svc.TopUp(context.Background(), 42, "evt_1", 50, "{}")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 50, users.balances[42])
}

func TestAdmitSeedsDefaultBalanceFirst(t *testing.T) {
	users := newFakeUserStore()
	users.consumeResult = true
	payments := newFakePaymentStore(users)
	svc := NewCreditService(discardLogger(), users, payments, 10)

	ok, err := svc.Admit(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, users.ensureCalls, "row must exist before the conditional decrement")
	assert.Equal(t, 10, users.lastEnsureInit)
	assert.Equal(t, 1, users.consumeCalls)
}

func TestAdmitDeniesWhenLedgerUnavailable(t *testing.T) {
	users := newFakeUserStore()
	users.consumeErr = errors.New("mysql down")
	payments := newFakePaymentStore(users)
	svc := NewCreditService(discardLogger(), users, payments, 10)

	ok, err := svc.Admit(context.Background(), 42)
	require.Error(t, err)
	assert.False(t, ok, "persistence failure must fail closed")
}

func TestAdmitRejectsOnZeroBalance(t *testing.T) {
	users := newFakeUserStore()
	users.consumeResult = false
	payments := newFakePaymentStore(users)
	svc := NewCreditService(discardLogger(), users, payments, 10)

	ok, err := svc.Admit(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBalanceCreatesWithDefault(t *testing.T) {
	users := newFakeUserStore()
	payments := newFakePaymentStore(users)
	svc := NewCreditService(discardLogger(), users, payments, 10)

	balance, err := svc.Balance(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 10, balance)
}

func TestRefund(t *testing.T) {
	users := newFakeUserStore()
	users.balances[42] = 2
	payments := newFakePaymentStore(users)
	svc := NewCreditService(discardLogger(), users, payments, 10)

	require.NoError(t, svc.Refund(context.Background(), 42, 1))
	assert.Equal(t, 3, users.balances[42])
}
