package account

import (
	"time"

	"github.com/cassiomorais/dualwrite/internal/domain/errors"
	"github.com/google/uuid"
)

type AccountStatus string

const (
	StatusActive AccountStatus = "active"
	StatusClosed AccountStatus = "closed"
	// StatusVoid marks an account that was announced but never committed.
	// It only appears in correction events.
	StatusVoid AccountStatus = "void"
)

type Account struct {
	ID        uuid.UUID
	UserID    string
	Balance   int64 // in cents
	Currency  string
	Version   int // Optimistic locking
	Status    AccountStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewAccount(userID string, initialBalance int64, currency string) (*Account, error) {
	if userID == "" {
		return nil, errors.NewValidationError("user_id", "cannot be empty")
	}
	if initialBalance < 0 {
		return nil, errors.NewValidationError("initial_balance", "cannot be negative")
	}
	if len(currency) != 3 {
		return nil, errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}

	now := time.Now().UTC()
	return &Account{
		ID:        uuid.New(),
		UserID:    userID,
		Balance:   initialBalance,
		Currency:  currency,
		Version:   0,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Tombstone stands in for an account that does not exist in the store.
func Tombstone(id uuid.UUID) *Account {
	return &Account{ID: id, Status: StatusVoid, UpdatedAt: time.Now().UTC()}
}

func (a *Account) Debit(amount int64) error {
	if a.Status != StatusActive {
		return errors.ErrAccountInactive
	}
	if amount <= 0 {
		return errors.NewValidationError("amount", "must be greater than 0")
	}
	if a.Balance < amount {
		return errors.ErrInsufficientFunds
	}

	a.Balance -= amount
	a.touch()
	return nil
}

func (a *Account) Credit(amount int64) error {
	if a.Status != StatusActive {
		return errors.ErrAccountInactive
	}
	if amount <= 0 {
		return errors.NewValidationError("amount", "must be greater than 0")
	}

	a.Balance += amount
	a.touch()
	return nil
}

// Close deactivates the account. A closed account accepts no further movements.
func (a *Account) Close() error {
	if a.Status != StatusActive {
		return errors.ErrAccountInactive
	}
	a.Status = StatusClosed
	a.touch()
	return nil
}

func (a *Account) touch() {
	a.Version++
	a.UpdatedAt = time.Now().UTC()
}
