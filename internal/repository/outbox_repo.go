package repository

import (
	"context"
	"time"

	"transfersvc/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

var _ OutboxStore = (*OutboxRepository)(nil)

// Create inserts msg through tx so it commits with the caller's writes.
func (r *OutboxRepository) Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	if tx == nil {
		tx = r.db
	}
	if msg.Status == "" {
		msg.Status = model.OutboxStatusPending
	}
	return tx.WithContext(ctx).Create(msg).Error
}

func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ? AND status = ?", id, model.OutboxStatusPending).
		Update("status", model.OutboxStatusSent).Error
}

// RecordFailure assigns status before retry_count: MySQL evaluates SET
// clauses left to right, so the CASE must see the old counter.
func (r *OutboxRepository) RecordFailure(ctx context.Context, id int64, maxRetry int) error {
	return r.db.WithContext(ctx).Exec(
		"UPDATE outbox_message SET status = CASE WHEN retry_count + 1 >= ? THEN ? ELSE status END, "+
			"retry_count = retry_count + 1, updated_at = ? WHERE id = ?",
		maxRetry, model.OutboxStatusFailed, time.Now(), id,
	).Error
}
