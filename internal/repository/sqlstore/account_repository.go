package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cassiomorais/dualwrite/internal/domain/account"
	domainErrors "github.com/cassiomorais/dualwrite/internal/domain/errors"
	"github.com/google/uuid"
)

const accountColumns = `id, user_id, balance_cents, currency, version, status, created_at, updated_at`

// AccountRepository implements account.Repository on database/sql. IDs are
// stored in their canonical text form so one schema shape serves both dialects.
type AccountRepository struct {
	db      Queryer
	dialect Dialect

	insertSQL string
	selectSQL string
	updateSQL string
	lockSQL   string
}

func NewAccountRepository(db Queryer, dialect Dialect) *AccountRepository {
	return &AccountRepository{
		db:      db,
		dialect: dialect,
		insertSQL: fmt.Sprintf(`INSERT INTO accounts (%s) VALUES (%s)`,
			accountColumns, placeholders(dialect, 1, 8)),
		selectSQL: fmt.Sprintf(`SELECT %s FROM accounts WHERE id = %s`,
			accountColumns, dialect.placeholder(1)),
		updateSQL: fmt.Sprintf(`UPDATE accounts SET balance_cents = %s, currency = %s, version = %s, status = %s, updated_at = %s WHERE id = %s AND version = %s`,
			dialect.placeholder(1), dialect.placeholder(2), dialect.placeholder(3), dialect.placeholder(4),
			dialect.placeholder(5), dialect.placeholder(6), dialect.placeholder(7)),
		lockSQL: fmt.Sprintf(`SELECT %s FROM accounts WHERE id = %s FOR UPDATE`,
			accountColumns, dialect.placeholder(1)),
	}
}

func placeholders(d Dialect, from, to int) string {
	ps := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		ps = append(ps, d.placeholder(i))
	}
	return strings.Join(ps, ", ")
}

func (r *AccountRepository) conn(ctx context.Context) Queryer {
	return ConnFromCtx(ctx, r.db)
}

func (r *AccountRepository) scanAccount(row Row) (*account.Account, error) {
	var (
		a      account.Account
		id     string
		status string
	)
	err := row.Scan(&id, &a.UserID, &a.Balance, &a.Currency, &a.Version, &status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainErrors.ErrAccountNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("scan account id: %w", err)
	}
	a.Status = account.AccountStatus(status)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func (r *AccountRepository) Create(ctx context.Context, a *account.Account) error {
	_, err := r.conn(ctx).ExecContext(ctx, r.insertSQL,
		a.ID.String(), a.UserID, a.Balance, a.Currency, a.Version, string(a.Status),
		a.CreatedAt.Truncate(time.Microsecond), a.UpdatedAt.Truncate(time.Microsecond),
	)
	if err != nil {
		if r.dialect.isUniqueViolation(err) {
			return domainErrors.ErrAccountExists
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	return r.scanAccount(r.conn(ctx).QueryRowContext(ctx, r.selectSQL, id.String()))
}

// Update writes a with optimistic locking on the previous version.
func (r *AccountRepository) Update(ctx context.Context, a *account.Account) error {
	res, err := r.conn(ctx).ExecContext(ctx, r.updateSQL,
		a.Balance, a.Currency, a.Version, string(a.Status), a.UpdatedAt.Truncate(time.Microsecond),
		a.ID.String(), a.Version-1,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account rows: %w", err)
	}
	if n == 0 {
		return domainErrors.ErrOptimisticLockFailed
	}
	return nil
}

func (r *AccountRepository) Lock(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	return r.scanAccount(r.conn(ctx).QueryRowContext(ctx, r.lockSQL, id.String()))
}
