package memstore

import (
	"context"
	"sort"
	"time"

	"transfersvc/internal/apperr"
	"transfersvc/internal/model"
)

// Modify serialises writers per account through the row mutex. The mutated
// record is kept even when fn fails, matching a separately committed update.
func (s *Store) Modify(_ context.Context, accountID int64, fn func(auth *model.AccountAuth) error) error {
	s.mu.RLock()
	row, ok := s.auths[accountID]
	s.mu.RUnlock()
	if !ok {
		return apperr.AccountNotFound(accountID)
	}

	row.mu.Lock()
	defer row.mu.Unlock()

	auth := row.auth
	if auth.LockUntil != nil {
		until := *auth.LockUntil
		auth.LockUntil = &until
	}

	err := fn(&auth)
	auth.UpdatedAt = time.Now()
	row.auth = auth
	return err
}

func (s *Store) ListExpiredLocks(_ context.Context, now time.Time, limit int) ([]*model.AccountAuth, error) {
	s.mu.RLock()
	rows := make([]*authRow, 0, len(s.auths))
	for _, row := range s.auths {
		rows = append(rows, row)
	}
	s.mu.RUnlock()

	var out []*model.AccountAuth
	for _, row := range rows {
		row.mu.Lock()
		auth := row.auth
		row.mu.Unlock()

		if auth.Status != model.AuthStatusLocked {
			continue
		}
		if auth.LockUntil == nil || !auth.LockUntil.After(now) {
			out = append(out, &auth)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
