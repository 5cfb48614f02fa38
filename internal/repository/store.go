package repository

import (
	"context"
	"time"

	"transfersvc/internal/model"
)

// LockMode selects how an account row is read inside a transaction.
type LockMode int

const (
	// LockExclusive holds the row until the transaction ends.
	LockExclusive LockMode = iota
	// LockOptimistic takes no hold; the version read is checked again on save.
	LockOptimistic
)

func (m LockMode) String() string {
	if m == LockOptimistic {
		return "optimistic"
	}
	return "exclusive"
}

// AccountTx is the view of one account transaction.
type AccountTx interface {
	// Get reads an account. Fails with apperr.ErrAccountNotFound if absent.
	Get(ctx context.Context, accountID int64, mode LockMode) (*model.Account, error)
	// Save persists an account previously returned by Get. Fails with
	// apperr.ErrOptimisticConflict if the stored version moved since that Get.
	Save(ctx context.Context, account *model.Account) error
	// AddOutbox stages a message that commits atomically with the balances.
	AddOutbox(ctx context.Context, msg *model.OutboxMessage) error
}

// AccountStore owns balances and versions.
type AccountStore interface {
	// WithTx runs fn in one transaction: fn's error rolls everything back,
	// a nil return commits.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx AccountTx) error) error
	GetByID(ctx context.Context, accountID int64) (*model.Account, error)
	ListByCustomerID(ctx context.Context, customerID int64) ([]*model.Account, error)
}

// AuthStore owns credential state. It commits independently of AccountStore.
type AuthStore interface {
	// Modify loads the record with an exclusive hold, calls fn, and persists
	// whatever fn left in the record even when fn returns an error. fn's error
	// is returned after the commit.
	Modify(ctx context.Context, accountID int64, fn func(auth *model.AccountAuth) error) error
	// ListExpiredLocks returns LOCKED records whose lock has run out by now.
	ListExpiredLocks(ctx context.Context, now time.Time, limit int) ([]*model.AccountAuth, error)
}

// OutboxStore is what the relay job needs from the outbox table.
type OutboxStore interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	MarkSent(ctx context.Context, id int64) error
	// RecordFailure bumps the retry counter and moves the message to FAILED
	// once maxRetry sends have failed.
	RecordFailure(ctx context.Context, id int64, maxRetry int) error
}
