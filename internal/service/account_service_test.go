package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cassiomorais/dualwrite/internal/domain/account"
	domainErrors "github.com/cassiomorais/dualwrite/internal/domain/errors"
	"github.com/cassiomorais/dualwrite/internal/events"
	"github.com/cassiomorais/dualwrite/internal/testutil"
	"github.com/cassiomorais/dualwrite/pkg/dualwrite"
	"github.com/cassiomorais/dualwrite/pkg/dualwrite/dualwritetest"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const topic = "accounts"

// --- Test Helpers ---

type fixture struct {
	svc      *AccountService
	store    *dualwritetest.Store
	repo     *testutil.MockAccountRepository
	producer *dualwritetest.Producer
	locker   *testutil.MockLocker
	ops      *prometheus.CounterVec
}

func setupAccountService(t *testing.T, script ...dualwritetest.Outcome) *fixture {
	t.Helper()
	store := dualwritetest.NewStore()
	producer := dualwritetest.NewProducer(script...)
	producer.Err = errors.New("broker rejected message")
	coord := dualwrite.New[events.Change, string, events.AccountEvent](
		store, producer, dualwrite.JSONCodec[events.AccountEvent]{},
		dualwrite.WithAckTimeout(20*time.Millisecond),
	)
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "account_operations_total"}, []string{"operation", "status"})

	f := &fixture{
		store:    store,
		repo:     testutil.NewMockAccountRepository(store),
		producer: producer,
		locker:   &testutil.MockLocker{},
		ops:      ops,
	}
	f.svc = NewAccountService(f.repo, coord, f.locker, topic, WithOperationsCounter(ops))
	return f
}

func validCreate() CreateAccountRequest {
	return CreateAccountRequest{UserID: "user123", InitialBalance: 100000, Currency: "USD"}
}

// --- CreateAccount Tests ---

func TestCreateAccount_Success(t *testing.T) {
	f := setupAccountService(t)

	acct, err := f.svc.CreateAccount(context.Background(), validCreate())
	require.NoError(t, err)
	assert.Equal(t, "user123", acct.UserID)
	assert.Equal(t, int64(100000), acct.Balance)
	assert.Equal(t, account.StatusActive, acct.Status)

	stored := f.repo.Committed(acct.ID)
	require.NotNil(t, stored)
	assert.Equal(t, acct.Balance, stored.Balance)

	msgs := f.producer.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, topic, msgs[0].Topic)
	assert.Equal(t, acct.ID.String(), string(msgs[0].Key))

	evs := testutil.DecodeEvents(t, f.producer)
	assert.Equal(t, events.AccountCreated, evs[0].Type)
	assert.Equal(t, int64(100000), evs[0].BalanceCents)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.ops.WithLabelValues("create", "success")))
}

func TestCreateAccount_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   CreateAccountRequest
		field string
	}{
		{"empty user", CreateAccountRequest{InitialBalance: 1, Currency: "USD"}, "user_id"},
		{"negative balance", CreateAccountRequest{UserID: "u", InitialBalance: -1000, Currency: "USD"}, "initial_balance"},
		{"empty currency", CreateAccountRequest{UserID: "u", InitialBalance: 1}, "currency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupAccountService(t)

			_, err := f.svc.CreateAccount(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, domainErrors.ErrValidationFailed)
			assert.Contains(t, err.Error(), tt.field)
			assert.Empty(t, f.store.Scopes, "no scope is opened for an invalid request")
			assert.Empty(t, f.producer.Messages())
			assert.Equal(t, 1.0, promtest.ToFloat64(f.ops.WithLabelValues("create", "failure")))
		})
	}
}

func TestCreateAccount_PersistFailurePublishesNothing(t *testing.T) {
	f := setupAccountService(t)
	f.repo.CreateFunc = func(context.Context, *account.Account) error {
		return domainErrors.ErrAccountExists
	}

	_, err := f.svc.CreateAccount(context.Background(), validCreate())
	assert.ErrorIs(t, err, domainErrors.ErrAccountExists)
	assert.Empty(t, f.producer.Messages())
}

func TestCreateAccount_ChannelFailureRollsBack(t *testing.T) {
	tests := []struct {
		name    string
		outcome dualwritetest.Outcome
	}{
		{"refused", dualwritetest.Refuse},
		{"nacked", dualwritetest.Nack},
		{"no ack in time", dualwritetest.Hang},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupAccountService(t, tt.outcome)

			acct, err := f.svc.CreateAccount(context.Background(), validCreate())
			require.Error(t, err)
			assert.Nil(t, acct)
			assert.True(t, dualwrite.IsChannelFailure(err))

			// Only the attempted message; the channel failing is not corrected.
			assert.Len(t, f.producer.Messages(), 1)
			evs := testutil.DecodeEvents(t, f.producer)
			id := uuid.MustParse(evs[0].AccountID)
			assert.Nil(t, f.repo.Committed(id), "account must not be committed")
		})
	}
}

func TestCreateAccount_CommitFailureAfterAckSendsVoidCorrection(t *testing.T) {
	f := setupAccountService(t)
	errCommit := errors.New("could not serialize access")
	f.store.FailNextCommit(errCommit)

	_, err := f.svc.CreateAccount(context.Background(), validCreate())
	assert.ErrorIs(t, err, errCommit)
	assert.False(t, dualwrite.IsChannelFailure(err))

	evs := testutil.DecodeEvents(t, f.producer)
	require.Len(t, evs, 2)
	assert.Equal(t, events.AccountCreated, evs[0].Type)
	assert.Equal(t, events.AccountCorrected, evs[1].Type)
	assert.Equal(t, evs[0].AccountID, evs[1].AccountID)
	assert.Equal(t, string(account.StatusVoid), evs[1].Status)
	assert.NotEqual(t, evs[0].EventID, evs[1].EventID)
}

// --- Deposit Tests ---

func seedAccount(t *testing.T, f *fixture, balance int64) *account.Account {
	t.Helper()
	acct := testutil.NewTestAccount("user123", balance, "USD")
	f.repo.AddAccount(acct)
	return acct
}

func TestDeposit_Success(t *testing.T) {
	f := setupAccountService(t)
	acct := seedAccount(t, f, 1000)

	updated, err := f.svc.Deposit(context.Background(), DepositRequest{AccountID: acct.ID, Amount: 250})
	require.NoError(t, err)
	assert.Equal(t, int64(1250), updated.Balance)
	assert.Equal(t, 1, updated.Version)

	assert.Equal(t, int64(1250), f.repo.Committed(acct.ID).Balance)
	assert.Equal(t, []string{"account:" + acct.ID.String()}, f.locker.Resources())

	evs := testutil.DecodeEvents(t, f.producer)
	require.Len(t, evs, 1)
	assert.Equal(t, events.AccountCredited, evs[0].Type)
	assert.Equal(t, int64(1250), evs[0].BalanceCents)
	assert.Equal(t, 1, evs[0].Version)
}

func TestDeposit_AckTimeoutLeavesBalance(t *testing.T) {
	f := setupAccountService(t, dualwritetest.Hang)
	acct := seedAccount(t, f, 1000)

	_, err := f.svc.Deposit(context.Background(), DepositRequest{AccountID: acct.ID, Amount: 250})
	assert.ErrorIs(t, err, dualwrite.ErrAckTimeout)
	assert.Equal(t, int64(1000), f.repo.Committed(acct.ID).Balance)
	assert.Len(t, f.producer.Messages(), 1)
}

func TestDeposit_CommitFailureAfterAckCorrectsToCommittedState(t *testing.T) {
	f := setupAccountService(t)
	acct := seedAccount(t, f, 1000)
	f.store.FailNextCommit(errors.New("connection reset"))

	_, err := f.svc.Deposit(context.Background(), DepositRequest{AccountID: acct.ID, Amount: 250})
	require.Error(t, err)

	evs := testutil.DecodeEvents(t, f.producer)
	require.Len(t, evs, 2)
	assert.Equal(t, int64(1250), evs[0].BalanceCents, "the announced credit")
	assert.Equal(t, events.AccountCorrected, evs[1].Type)
	assert.Equal(t, int64(1000), evs[1].BalanceCents, "the balance that actually committed")
	assert.Equal(t, string(account.StatusActive), evs[1].Status)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.ops.WithLabelValues("deposit", "failure")))
}

func TestDeposit_Rejected(t *testing.T) {
	errBusy := errors.New("lock not acquired")

	tests := []struct {
		name    string
		prepare func(f *fixture) DepositRequest
		wantErr error
	}{
		{
			name: "non-positive amount",
			prepare: func(f *fixture) DepositRequest {
				return DepositRequest{AccountID: seedAccount(t, f, 1000).ID, Amount: 0}
			},
			wantErr: domainErrors.ErrValidationFailed,
		},
		{
			name: "unknown account",
			prepare: func(*fixture) DepositRequest {
				return DepositRequest{AccountID: uuid.New(), Amount: 10}
			},
			wantErr: domainErrors.ErrAccountNotFound,
		},
		{
			name: "closed account",
			prepare: func(f *fixture) DepositRequest {
				acct := testutil.NewTestAccount("user123", 10, "USD")
				acct.Status = account.StatusClosed
				f.repo.AddAccount(acct)
				return DepositRequest{AccountID: acct.ID, Amount: 10}
			},
			wantErr: domainErrors.ErrAccountInactive,
		},
		{
			name: "lock held elsewhere",
			prepare: func(f *fixture) DepositRequest {
				f.locker.Err = errBusy
				return DepositRequest{AccountID: seedAccount(t, f, 1000).ID, Amount: 10}
			},
			wantErr: errBusy,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupAccountService(t)
			req := tt.prepare(f)

			_, err := f.svc.Deposit(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.producer.Messages())
		})
	}
}

// --- GetAccount Tests ---

func TestGetAccount(t *testing.T) {
	f := setupAccountService(t)
	acct := seedAccount(t, f, 42)

	got, err := f.svc.GetAccount(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)
	assert.Equal(t, int64(42), got.Balance)

	_, err = f.svc.GetAccount(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domainErrors.ErrAccountNotFound)
}
