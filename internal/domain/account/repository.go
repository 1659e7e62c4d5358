package account

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the interface for account persistence. Implementations
// join the transactional scope carried by ctx when there is one.
type Repository interface {
	// Create creates a new account
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// Update updates an existing account with optimistic locking. The account's
	// Version must already be incremented.
	Update(ctx context.Context, account *Account) error

	// Lock locks an account for update (SELECT FOR UPDATE)
	Lock(ctx context.Context, id uuid.UUID) (*Account, error)
}
