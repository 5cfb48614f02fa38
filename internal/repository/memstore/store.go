// Package memstore is an in-process implementation of the repository stores.
//
// Each account row carries a one-slot semaphore standing in for a database
// row lock. Exclusive reads take it for the rest of the transaction; the
// optimistic path takes it only at commit to compare versions and apply.
// Rows are always taken in ascending id order at commit.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"transfersvc/internal/apperr"
	"transfersvc/internal/model"
	"transfersvc/internal/repository"
)

type accountRow struct {
	sem chan struct{}
	mu  sync.Mutex
	acc model.Account
}

func (r *accountRow) snapshot() model.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acc
}

type authRow struct {
	mu   sync.Mutex
	auth model.AccountAuth
}

type Store struct {
	mu       sync.RWMutex
	accounts map[int64]*accountRow
	auths    map[int64]*authRow

	outboxMu sync.Mutex
	outbox   []*model.OutboxMessage
	outboxID int64

	lockWait time.Duration
}

var (
	_ repository.AccountStore = (*Store)(nil)
	_ repository.AuthStore    = (*Store)(nil)
	_ repository.OutboxStore  = (*Store)(nil)
)

// New returns an empty store. lockWait bounds how long an exclusive read
// waits for a held row before failing with LockTimeout.
func New(lockWait time.Duration) *Store {
	return &Store{
		accounts: make(map[int64]*accountRow),
		auths:    make(map[int64]*authRow),
		lockWait: lockWait,
	}
}

// PutAccount inserts or replaces an account.
func (s *Store) PutAccount(acc model.Account) {
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acc.ID] = &accountRow{sem: make(chan struct{}, 1), acc: acc}
}

// PutAuth inserts or replaces an auth record.
func (s *Store) PutAuth(auth model.AccountAuth) {
	if auth.Status == "" {
		auth.Status = model.AuthStatusActive
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auths[auth.AccountID] = &authRow{auth: auth}
}

// Auth returns a copy of the auth record, for inspection.
func (s *Store) Auth(accountID int64) (model.AccountAuth, bool) {
	s.mu.RLock()
	row, ok := s.auths[accountID]
	s.mu.RUnlock()
	if !ok {
		return model.AccountAuth{}, false
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	return row.auth, true
}

func (s *Store) row(accountID int64) (*accountRow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.accounts[accountID]
	return row, ok
}

func (s *Store) GetByID(_ context.Context, accountID int64) (*model.Account, error) {
	row, ok := s.row(accountID)
	if !ok {
		return nil, apperr.AccountNotFound(accountID)
	}
	acc := row.snapshot()
	return &acc, nil
}

func (s *Store) ListByCustomerID(_ context.Context, customerID int64) ([]*model.Account, error) {
	s.mu.RLock()
	rows := make([]*accountRow, 0, len(s.accounts))
	for _, row := range s.accounts {
		rows = append(rows, row)
	}
	s.mu.RUnlock()

	var out []*model.Account
	for _, row := range rows {
		acc := row.snapshot()
		if acc.CustomerID == customerID {
			out = append(out, &acc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) acquire(ctx context.Context, row *accountRow) error {
	select {
	case row.sem <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(s.lockWait)
	defer timer.Stop()

	select {
	case row.sem <- struct{}{}:
		return nil
	case <-timer.C:
		return apperr.LockTimeout(fmt.Errorf("row lock wait exceeded %s", s.lockWait))
	case <-ctx.Done():
		return ctx.Err()
	}
}

func release(row *accountRow) {
	<-row.sem
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx repository.AccountTx) error) error {
	tx := &memTx{
		store:  s,
		held:   make(map[int64]*accountRow, 2),
		read:   make(map[int64]int64, 2),
		writes: make(map[int64]model.Account, 2),
	}
	defer tx.releaseAll()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit(ctx)
}

type memTx struct {
	store  *Store
	held   map[int64]*accountRow
	read   map[int64]int64
	writes map[int64]model.Account
	outbox []*model.OutboxMessage
}

func (t *memTx) Get(ctx context.Context, accountID int64, mode repository.LockMode) (*model.Account, error) {
	row, ok := t.store.row(accountID)
	if !ok {
		return nil, apperr.AccountNotFound(accountID)
	}

	if mode == repository.LockExclusive {
		if _, held := t.held[accountID]; !held {
			if err := t.store.acquire(ctx, row); err != nil {
				return nil, err
			}
			t.held[accountID] = row
		}
	}

	acc := row.snapshot()
	t.read[accountID] = acc.Version
	return &acc, nil
}

func (t *memTx) Save(_ context.Context, account *model.Account) error {
	if _, ok := t.read[account.ID]; !ok {
		return fmt.Errorf("account %d saved without being read in this transaction", account.ID)
	}
	t.writes[account.ID] = *account
	return nil
}

func (t *memTx) AddOutbox(_ context.Context, msg *model.OutboxMessage) error {
	t.outbox = append(t.outbox, msg)
	return nil
}

func (t *memTx) commit(ctx context.Context) error {
	ids := make([]int64, 0, len(t.writes))
	for id := range t.writes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rows := make([]*accountRow, len(ids))
	for i, id := range ids {
		row, ok := t.held[id]
		if !ok {
			row, _ = t.store.row(id)
			if err := t.store.acquire(ctx, row); err != nil {
				return err
			}
			t.held[id] = row
		}
		rows[i] = row
	}

	for i, id := range ids {
		if current := rows[i].snapshot().Version; current != t.read[id] {
			return apperr.OptimisticConflict(fmt.Errorf("account %d: version %d no longer current", id, t.read[id]))
		}
	}

	now := time.Now()
	for i, id := range ids {
		acc := t.writes[id]
		acc.UpdatedAt = now
		rows[i].mu.Lock()
		rows[i].acc = acc
		rows[i].mu.Unlock()
	}

	if len(t.outbox) > 0 {
		t.store.appendOutbox(t.outbox, now)
	}
	return nil
}

func (t *memTx) releaseAll() {
	for id, row := range t.held {
		release(row)
		delete(t.held, id)
	}
}
