package service

import (
	"context"
	"errors"

	"github.com/cassiomorais/dualwrite/internal/domain/account"
	domainErrors "github.com/cassiomorais/dualwrite/internal/domain/errors"
	"github.com/cassiomorais/dualwrite/internal/events"
	"github.com/cassiomorais/dualwrite/pkg/dualwrite"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// AccountCoordinator publishes account changes keyed by account ID.
type AccountCoordinator = dualwrite.Coordinator[events.Change, string, events.AccountEvent]

// Locker serializes work on one resource.
type Locker interface {
	WithLock(ctx context.Context, resource string, fn func(ctx context.Context) error) error
}

// AccountService writes accounts and announces every write on the account
// topic. Writes go through the coordinator, so a message is only left standing
// for a change that was committed, or is followed by a correction.
type AccountService struct {
	accountRepo account.Repository
	coordinator *AccountCoordinator
	locker      Locker
	topic       string
	operations  *prometheus.CounterVec
	logger      zerolog.Logger
}

type AccountServiceOption func(*AccountService)

// WithOperationsCounter counts operations by {operation, status}.
func WithOperationsCounter(c *prometheus.CounterVec) AccountServiceOption {
	return func(s *AccountService) { s.operations = c }
}

func WithServiceLogger(logger zerolog.Logger) AccountServiceOption {
	return func(s *AccountService) { s.logger = logger }
}

func NewAccountService(
	accountRepo account.Repository,
	coordinator *AccountCoordinator,
	locker Locker,
	topic string,
	opts ...AccountServiceOption,
) *AccountService {
	s := &AccountService{
		accountRepo: accountRepo,
		coordinator: coordinator,
		locker:      locker,
		topic:       topic,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *AccountService) CreateAccount(ctx context.Context, req CreateAccountRequest) (acct *account.Account, err error) {
	defer func() { s.record("create", err) }()

	acct, err = account.NewAccount(req.UserID, req.InitialBalance, req.Currency)
	if err != nil {
		return nil, err
	}

	r, err := s.request(acct.ID, func(ctx context.Context) (events.Change, error) {
		if err := s.accountRepo.Create(ctx, acct); err != nil {
			return events.Change{}, err
		}
		return events.Change{Type: events.AccountCreated, Account: acct}, nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.coordinator.Execute(ctx, r); err != nil {
		return nil, err
	}
	return acct, nil
}

// Deposit credits amount to the account. Concurrent deposits on one account
// are serialized by the locker so their messages keep commit order.
func (s *AccountService) Deposit(ctx context.Context, req DepositRequest) (updated *account.Account, err error) {
	defer func() { s.record("deposit", err) }()

	if req.Amount <= 0 {
		return nil, domainErrors.NewValidationError("amount", "must be greater than 0")
	}

	err = s.locker.WithLock(ctx, "account:"+req.AccountID.String(), func(ctx context.Context) error {
		r, err := s.request(req.AccountID, func(ctx context.Context) (events.Change, error) {
			acct, err := s.accountRepo.Lock(ctx, req.AccountID)
			if err != nil {
				return events.Change{}, err
			}
			if err := acct.Credit(req.Amount); err != nil {
				return events.Change{}, err
			}
			if err := s.accountRepo.Update(ctx, acct); err != nil {
				return events.Change{}, err
			}
			updated = acct
			return events.Change{Type: events.AccountCredited, Account: acct}, nil
		})
		if err != nil {
			return err
		}
		return s.coordinator.Execute(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *AccountService) GetAccount(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	return s.accountRepo.GetByID(ctx, id)
}

func (s *AccountService) request(id uuid.UUID, persist func(ctx context.Context) (events.Change, error)) (dualwrite.Request[events.Change, string, events.AccountEvent], error) {
	return dualwrite.NewRequest[events.Change, string, events.AccountEvent](s.topic, id.String()).
		PersistWith(persist).
		ValueMapper(events.FromChange).
		CorrectionRecord(s.correction(id)).
		Build()
}

// correction re-reads the account after a failed write. An account that never
// committed is announced as void.
func (s *AccountService) correction(id uuid.UUID) func(ctx context.Context) (events.Change, error) {
	return func(ctx context.Context) (events.Change, error) {
		acct, err := s.accountRepo.GetByID(ctx, id)
		if errors.Is(err, domainErrors.ErrAccountNotFound) {
			s.logger.Warn().Str("account_id", id.String()).Msg("correcting announcement of uncommitted account")
			return events.Change{Type: events.AccountCorrected, Account: account.Tombstone(id)}, nil
		}
		if err != nil {
			return events.Change{}, err
		}
		return events.Change{Type: events.AccountCorrected, Account: acct}, nil
	}
}

func (s *AccountService) record(operation string, err error) {
	if s.operations == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	s.operations.WithLabelValues(operation, status).Inc()
}
