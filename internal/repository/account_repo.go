package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"transfersvc/internal/apperr"
	"transfersvc/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountRepository is the gorm-backed AccountStore. Exclusive reads become
// SELECT ... FOR UPDATE; saves are a version compare-and-swap.
type AccountRepository struct {
	db       *gorm.DB
	outbox   *OutboxRepository
	lockWait time.Duration
}

func NewAccountRepository(db *gorm.DB, lockWait time.Duration) *AccountRepository {
	return &AccountRepository{
		db:       db,
		outbox:   NewOutboxRepository(db),
		lockWait: lockWait,
	}
}

var _ AccountStore = (*AccountRepository)(nil)

func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *AccountRepository) GetByID(ctx context.Context, accountID int64) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("id = ?", accountID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.AccountNotFound(accountID)
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) ListByCustomerID(ctx context.Context, customerID int64) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("id ASC").
		Find(&accounts).Error
	return accounts, err
}

func (r *AccountRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx AccountTx) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.applyLockWait(tx); err != nil {
			return err
		}
		return fn(ctx, &gormAccountTx{repo: r, tx: tx, read: make(map[int64]int64, 2)})
	})
	return classifyDBError(err)
}

// applyLockWait bounds how long a FOR UPDATE may block before the engine
// reports a lock timeout.
func (r *AccountRepository) applyLockWait(tx *gorm.DB) error {
	if r.lockWait <= 0 {
		return nil
	}

	switch tx.Dialector.Name() {
	case "mysql":
		seconds := int(r.lockWait / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		return tx.Exec(fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", seconds)).Error
	case "postgres":
		return tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockWait.Milliseconds())).Error
	default:
		return nil
	}
}

func (r *AccountRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, accountID int64) (*model.Account, error) {
	return r.get(ctx, tx.Clauses(clause.Locking{Strength: "UPDATE"}), accountID)
}

func (r *AccountRepository) GetByIDOptimistic(ctx context.Context, tx *gorm.DB, accountID int64) (*model.Account, error) {
	return r.get(ctx, tx, accountID)
}

func (r *AccountRepository) get(ctx context.Context, q *gorm.DB, accountID int64) (*model.Account, error) {
	var account model.Account
	err := q.WithContext(ctx).Where("id = ?", accountID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.AccountNotFound(accountID)
		}
		return nil, classifyDBError(err)
	}
	return &account, nil
}

// UpdateWithVersion writes balance and version only if the stored version is
// still expectedVersion.
func (r *AccountRepository) UpdateWithVersion(ctx context.Context, tx *gorm.DB, account *model.Account, expectedVersion int64) error {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND version = ?", account.ID, expectedVersion).
		Updates(map[string]interface{}{
			"balance": account.Balance,
			"version": account.Version,
		})

	if result.Error != nil {
		return classifyDBError(result.Error)
	}

	if result.RowsAffected == 0 {
		return apperr.OptimisticConflict(fmt.Errorf("account %d: version %d no longer current", account.ID, expectedVersion))
	}

	return nil
}

type gormAccountTx struct {
	repo *AccountRepository
	tx   *gorm.DB
	read map[int64]int64
}

func (t *gormAccountTx) Get(ctx context.Context, accountID int64, mode LockMode) (*model.Account, error) {
	var (
		account *model.Account
		err     error
	)
	if mode == LockExclusive {
		account, err = t.repo.GetByIDForUpdate(ctx, t.tx, accountID)
	} else {
		account, err = t.repo.GetByIDOptimistic(ctx, t.tx, accountID)
	}
	if err != nil {
		return nil, err
	}

	t.read[account.ID] = account.Version
	return account, nil
}

func (t *gormAccountTx) Save(ctx context.Context, account *model.Account) error {
	expected, ok := t.read[account.ID]
	if !ok {
		return fmt.Errorf("account %d saved without being read in this transaction", account.ID)
	}

	if err := t.repo.UpdateWithVersion(ctx, t.tx, account, expected); err != nil {
		return err
	}

	t.read[account.ID] = account.Version
	return nil
}

func (t *gormAccountTx) AddOutbox(ctx context.Context, msg *model.OutboxMessage) error {
	return t.repo.outbox.Create(ctx, t.tx, msg)
}
