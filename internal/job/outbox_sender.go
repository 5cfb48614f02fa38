package job

import (
	"context"
	"time"

	"transfersvc/internal/config"
	"transfersvc/internal/model"
	"transfersvc/internal/repository"

	"go.uber.org/zap"
)

// Publisher delivers one outbox message to the broker.
type Publisher interface {
	Publish(ctx context.Context, topic, key, value string) error
}

// OutboxSender relays committed transfer events. A message stays PENDING
// until the publisher accepts it, and becomes FAILED after maxRetry attempts.
type OutboxSender struct {
	store     repository.OutboxStore
	publisher Publisher
	logger    *zap.Logger
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
	maxRetry  int
}

func NewOutboxSender(store repository.OutboxStore, publisher Publisher, cfg config.JobConfig, logger *zap.Logger) *OutboxSender {
	return &OutboxSender{
		store:     store,
		publisher: publisher,
		logger:    logger.Named("outbox_sender"),
		stopCh:    make(chan struct{}),
		interval:  cfg.OutboxInterval,
		batchSize: cfg.OutboxBatch,
		maxRetry:  cfg.OutboxMaxRetry,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info("started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("context done, exiting")
			return
		case <-s.stopCh:
			s.logger.Info("stopped")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.store.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("load pending messages", zap.Error(err))
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := s.publisher.Publish(ctx, msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if err := s.store.MarkSent(ctx, msg.ID); err != nil {
			s.logger.Error("mark sent", zap.Int64("id", msg.ID), zap.Error(err))
			return
		}
		s.logger.Debug("message sent", zap.Int64("id", msg.ID), zap.String("topic", msg.Topic), zap.String("key", msg.MessageKey))
		return
	}

	s.logger.Warn("publish failed", zap.Int64("id", msg.ID), zap.Int("retry_count", msg.RetryCount), zap.Error(err))

	if err := s.store.RecordFailure(ctx, msg.ID, s.maxRetry); err != nil {
		s.logger.Error("record failure", zap.Int64("id", msg.ID), zap.Error(err))
		return
	}
	if msg.RetryCount+1 >= s.maxRetry {
		s.logger.Error("message exceeded max retries, marked failed", zap.Int64("id", msg.ID), zap.String("key", msg.MessageKey))
	}
}
