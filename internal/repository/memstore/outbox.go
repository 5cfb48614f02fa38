package memstore

import (
	"context"
	"time"

	"transfersvc/internal/model"
)

func (s *Store) appendOutbox(msgs []*model.OutboxMessage, now time.Time) {
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()

	for _, msg := range msgs {
		s.outboxID++
		stored := *msg
		stored.ID = s.outboxID
		if stored.Status == "" {
			stored.Status = model.OutboxStatusPending
		}
		stored.CreatedAt = now
		stored.UpdatedAt = now
		s.outbox = append(s.outbox, &stored)
	}
}

// Outbox returns a copy of every staged message in insertion order.
func (s *Store) Outbox() []model.OutboxMessage {
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()

	out := make([]model.OutboxMessage, len(s.outbox))
	for i, msg := range s.outbox {
		out[i] = *msg
	}
	return out
}

func (s *Store) GetPendingMessages(_ context.Context, limit int) ([]*model.OutboxMessage, error) {
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()

	var out []*model.OutboxMessage
	for _, msg := range s.outbox {
		if msg.Status != model.OutboxStatusPending {
			continue
		}
		cp := *msg
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkSent(_ context.Context, id int64) error {
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()

	for _, msg := range s.outbox {
		if msg.ID == id && msg.Status == model.OutboxStatusPending {
			msg.Status = model.OutboxStatusSent
			msg.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (s *Store) RecordFailure(_ context.Context, id int64, maxRetry int) error {
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()

	for _, msg := range s.outbox {
		if msg.ID != id {
			continue
		}
		msg.RetryCount++
		if msg.RetryCount >= maxRetry {
			msg.Status = model.OutboxStatusFailed
		}
		msg.UpdatedAt = time.Now()
	}
	return nil
}
