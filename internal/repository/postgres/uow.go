package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/repository"
	"github.com/utafrali/storefront/pkg/database"
)

// UnitOfWork implements repository.Transactor on a pgx pool.
type UnitOfWork struct {
	pool   database.TxBeginner
	logger *slog.Logger
}

// NewUnitOfWork creates a transactor over pool.
func NewUnitOfWork(pool database.TxBeginner, logger *slog.Logger) *UnitOfWork {
	return &UnitOfWork{pool: pool, logger: logger}
}

// WithTransaction runs fn in a READ COMMITTED transaction. Stock rows are
// protected by explicit row locks, so a stronger isolation level is not
// needed. AfterCommit hooks get a context that outlives the request.
func (u *UnitOfWork) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx, err := u.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	t := &txRepository{tx: tx}
	if err := fn(ctx, t); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	hookCtx := context.WithoutCancel(ctx)
	for _, hook := range t.hooks {
		u.runHook(hookCtx, hook)
	}
	return nil
}

func (u *UnitOfWork) runHook(ctx context.Context, hook func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			u.logger.ErrorContext(ctx, "after-commit hook panicked", slog.Any("panic", r))
		}
	}()
	hook(ctx)
}

// txRepository is the repository.Tx bound to one pgx transaction.
type txRepository struct {
	tx    pgx.Tx
	hooks []func(context.Context)
}

func (t *txRepository) SaveOrder(ctx context.Context, order *domain.Order) error {
	return insertOrder(ctx, t.tx, order)
}

func (t *txRepository) DecrementStock(ctx context.Context, items []domain.OrderItem) error {
	return decrementStock(ctx, t.tx, items)
}

func (t *txRepository) IncrementCouponUsage(ctx context.Context, couponID string) error {
	return incrementCouponUsage(ctx, t.tx, couponID)
}

func (t *txRepository) ClearCart(ctx context.Context, id domain.Identity) error {
	return clearCart(ctx, t.tx, id)
}

func (t *txRepository) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	return lockOrder(ctx, t.tx, id)
}

func (t *txRepository) UpdateOrderStatus(ctx context.Context, orderID string, h *domain.StatusHistory) error {
	return updateOrderStatus(ctx, t.tx, orderID, h)
}

func (t *txRepository) AfterCommit(fn func(ctx context.Context)) {
	t.hooks = append(t.hooks, fn)
}
