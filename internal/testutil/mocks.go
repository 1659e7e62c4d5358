package testutil

import (
	"context"
	"sync"

	"github.com/cassiomorais/dualwrite/internal/domain/account"
	domainErrors "github.com/cassiomorais/dualwrite/internal/domain/errors"
	"github.com/cassiomorais/dualwrite/pkg/dualwrite"
	"github.com/cassiomorais/dualwrite/pkg/dualwrite/dualwritetest"
	"github.com/google/uuid"
)

// --- Account Repository Mock ---

// MockAccountRepository is an account.Repository kept in a dualwritetest.Store,
// so writes join the scope in ctx and disappear when it rolls back. The Func
// fields override individual methods.
type MockAccountRepository struct {
	Store *dualwritetest.Store

	CreateFunc  func(ctx context.Context, acct *account.Account) error
	GetByIDFunc func(ctx context.Context, id uuid.UUID) (*account.Account, error)
	UpdateFunc  func(ctx context.Context, acct *account.Account) error
	LockFunc    func(ctx context.Context, id uuid.UUID) (*account.Account, error)
}

func NewMockAccountRepository(store *dualwritetest.Store) *MockAccountRepository {
	return &MockAccountRepository{Store: store}
}

func accountKey(id uuid.UUID) string {
	return "account:" + id.String()
}

func clone(a *account.Account) *account.Account {
	cp := *a
	return &cp
}

// AddAccount commits acct directly, outside any caller scope.
func (m *MockAccountRepository) AddAccount(acct *account.Account) {
	_ = m.Store.WithScope(context.Background(), dualwrite.ScopeOptions{Propagation: dualwrite.PropagationRequiresNew},
		func(ctx context.Context, _ dualwrite.Scope) error {
			return m.Store.Put(ctx, accountKey(acct.ID), clone(acct))
		})
}

func (m *MockAccountRepository) Create(ctx context.Context, acct *account.Account) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, acct)
	}
	if _, ok := m.Store.Get(ctx, accountKey(acct.ID)); ok {
		return domainErrors.ErrAccountExists
	}
	return m.Store.Put(ctx, accountKey(acct.ID), clone(acct))
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	v, ok := m.Store.Get(ctx, accountKey(id))
	if !ok {
		return nil, domainErrors.ErrAccountNotFound
	}
	return clone(v.(*account.Account)), nil
}

func (m *MockAccountRepository) Update(ctx context.Context, acct *account.Account) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, acct)
	}
	v, ok := m.Store.Get(ctx, accountKey(acct.ID))
	if !ok {
		return domainErrors.ErrAccountNotFound
	}
	if v.(*account.Account).Version != acct.Version-1 {
		return domainErrors.ErrOptimisticLockFailed
	}
	return m.Store.Put(ctx, accountKey(acct.ID), clone(acct))
}

func (m *MockAccountRepository) Lock(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	if m.LockFunc != nil {
		return m.LockFunc(ctx, id)
	}
	return m.GetByID(ctx, id)
}

// Committed returns the account as committed, or nil.
func (m *MockAccountRepository) Committed(id uuid.UUID) *account.Account {
	v, ok := m.Store.Committed(accountKey(id))
	if !ok {
		return nil
	}
	return clone(v.(*account.Account))
}

// --- Locker Mock ---

// MockLocker records the resources it was asked to lock.
type MockLocker struct {
	mu        sync.Mutex
	resources []string

	// Err, if set, is returned instead of running fn.
	Err error
}

func (m *MockLocker) WithLock(ctx context.Context, resource string, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	m.resources = append(m.resources, resource)
	err := m.Err
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(ctx)
}

func (m *MockLocker) Resources() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.resources...)
}
