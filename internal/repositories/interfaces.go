package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/tillpoint/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// IsNotFound reports whether err is a RepositoryError for a missing entity.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err is a RepositoryError for a conflicting write.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err is a RepositoryError for a transient outage.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

// OrderRepository persists checked out orders.
type OrderRepository interface {
	// Insert stores a new order. An existing ID yields a conflict RepositoryError.
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// List returns orders newest first.
	List(ctx context.Context, filter domain.OrderFilter) (domain.CursorPage[domain.Order], error)
	// MarkReconciled moves persisted orders to reconciled. Orders in any other state are left
	// untouched. It returns the number of orders updated.
	MarkReconciled(ctx context.Context, orderIDs []string, at time.Time) (int, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
