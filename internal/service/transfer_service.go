package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"transfersvc/internal/apperr"
	"transfersvc/internal/config"
	"transfersvc/internal/infrastructure/lock"
	"transfersvc/internal/model"
	"transfersvc/internal/repository"
	"transfersvc/internal/retry"
	"transfersvc/pkg/idgen"

	"go.uber.org/zap"
)

// TransferService moves funds between two accounts.
//
// One attempt is one account transaction:
//
//  1. read both accounts in ascending id order, exclusive or optimistic
//  2. verify the password (own commit scope)
//  3. debit from, credit to
//  4. save both in ascending id order, stage the outbox event, commit
//
// Taking rows in a fixed global order means two transfers running in
// opposite directions over the same pair cannot wait on each other.
// LockTimeout and OptimisticConflict make the retry policy run a fresh attempt.
type TransferService struct {
	accounts       repository.AccountStore
	auth           Verifier
	retry          *retry.Policy
	locks          *lock.Manager
	mode           repository.LockMode
	allowOverdraft bool
	topic          string
	logger         *zap.Logger
	now            func() time.Time
}

// TransferOptions carries the parts of the config the coordinator reads.
type TransferOptions struct {
	Strategy       string
	AllowOverdraft bool
	// OutboxTopic is the topic of the transfer event; empty disables the event.
	OutboxTopic string
}

func TransferOptionsFromConfig(cfg *config.Config) TransferOptions {
	return TransferOptions{
		Strategy:       cfg.Transfer.Strategy,
		AllowOverdraft: cfg.Transfer.AllowOverdraft,
		OutboxTopic:    cfg.Kafka.Topic.TransferResult,
	}
}

// NewTransferService wires the coordinator. locks may be nil, in which case
// TransferWithGlobalLock is unavailable.
func NewTransferService(
	accounts repository.AccountStore,
	auth Verifier,
	policy *retry.Policy,
	locks *lock.Manager,
	opts TransferOptions,
	logger *zap.Logger,
) *TransferService {
	if logger == nil {
		logger = zap.NewNop()
	}

	mode := repository.LockExclusive
	if opts.Strategy == config.StrategyOptimistic {
		mode = repository.LockOptimistic
	}

	return &TransferService{
		accounts:       accounts,
		auth:           auth,
		retry:          policy,
		locks:          locks,
		mode:           mode,
		allowOverdraft: opts.AllowOverdraft,
		topic:          opts.OutboxTopic,
		logger:         logger,
		now:            time.Now,
	}
}

// Transfer runs the transfer under the configured row strategy with retries.
func (s *TransferService) Transfer(ctx context.Context, req *model.TransferRequest) error {
	if err := validateTransfer(req); err != nil {
		return err
	}
	return s.retry.Do(ctx, func(ctx context.Context) error {
		return s.attempt(ctx, req)
	})
}

// TransferWithGlobalLock additionally serialises on the from account across
// processes before running Transfer's retry loop.
func (s *TransferService) TransferWithGlobalLock(ctx context.Context, req *model.TransferRequest) error {
	if err := validateTransfer(req); err != nil {
		return err
	}
	if s.locks == nil {
		return apperr.Validation("distributed lock strategy is not configured")
	}

	return s.locks.WithLock(ctx, lock.AccountKey(req.FromAccountID), func(ctx context.Context) error {
		return s.retry.Do(ctx, func(ctx context.Context) error {
			return s.attempt(ctx, req)
		})
	})
}

func validateTransfer(req *model.TransferRequest) error {
	switch {
	case req == nil:
		return apperr.Validation("transfer request is required")
	case req.FromAccountID <= 0 || req.ToAccountID <= 0:
		return apperr.Validation("account ids must be positive")
	case req.FromAccountID == req.ToAccountID:
		return apperr.Validation("cannot transfer to the same account")
	case req.Amount < 1:
		return apperr.Validation("amount must be at least 1")
	case req.RawPassword == "":
		return apperr.Validation("password is required")
	}
	return nil
}

func (s *TransferService) attempt(ctx context.Context, req *model.TransferRequest) error {
	var transferNo string

	err := s.accounts.WithTx(ctx, func(ctx context.Context, tx repository.AccountTx) error {
		order := ascending(req.FromAccountID, req.ToAccountID)

		accounts := make(map[int64]*model.Account, 2)
		for _, id := range order {
			acc, err := tx.Get(ctx, id, s.mode)
			if err != nil {
				return err
			}
			accounts[id] = acc
		}

		if err := s.auth.Verify(ctx, req.FromAccountID, req.RawPassword); err != nil {
			return err
		}

		from, to := accounts[req.FromAccountID], accounts[req.ToAccountID]
		if !s.allowOverdraft && from.Balance < req.Amount {
			return apperr.Validation("insufficient balance")
		}

		from.Debit(req.Amount)
		to.Credit(req.Amount)

		for _, id := range order {
			if err := tx.Save(ctx, accounts[id]); err != nil {
				return err
			}
		}

		if s.topic == "" {
			return nil
		}
		transferNo = idgen.GenerateTransferNo()
		msg, err := s.transferEvent(transferNo, req)
		if err != nil {
			return err
		}
		return tx.AddOutbox(ctx, msg)
	})
	if err != nil {
		return err
	}

	s.logger.Info("transfer committed",
		zap.String("transfer_no", transferNo),
		zap.Int64("from", req.FromAccountID),
		zap.Int64("to", req.ToAccountID),
		zap.Int64("amount", req.Amount),
		zap.Stringer("mode", s.mode),
	)
	return nil
}

func (s *TransferService) transferEvent(transferNo string, req *model.TransferRequest) (*model.OutboxMessage, error) {
	payload, err := json.Marshal(model.TransferEvent{
		TransferNo:    transferNo,
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        req.Amount,
		CompletedAt:   s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode transfer event: %w", err)
	}

	return &model.OutboxMessage{
		MessageKey: transferNo,
		Topic:      s.topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}, nil
}

func ascending(a, b int64) [2]int64 {
	if a < b {
		return [2]int64{a, b}
	}
	return [2]int64{b, a}
}
