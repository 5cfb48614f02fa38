package model

import (
	"time"
)

// TransferRequest is the transient input of one transfer. It is never stored.
type TransferRequest struct {
	FromAccountID int64
	ToAccountID   int64
	Amount        int64
	RawPassword   string
}

// TransferEvent is the outbox payload published after a committed transfer.
type TransferEvent struct {
	TransferNo    string    `json:"transfer_no"`
	FromAccountID int64     `json:"from_account_id"`
	ToAccountID   int64     `json:"to_account_id"`
	Amount        int64     `json:"amount"`
	CompletedAt   time.Time `json:"completed_at"`
}
