package model

import (
	"time"
)

// Account holds one ledger balance.
// Balance is in the smallest currency unit; Version is bumped on every mutation
// and is the compare-and-swap token of the optimistic strategy.
type Account struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"account_id"`
	CustomerID int64     `gorm:"index;not null" json:"customer_id"`
	Balance    int64     `gorm:"not null;default:0" json:"balance"`
	Version    int64     `gorm:"not null;default:0" json:"version"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}

// Debit lowers the balance. Overdraft policy is enforced by the caller.
func (a *Account) Debit(amount int64) {
	a.Balance -= amount
	a.Version++
}

func (a *Account) Credit(amount int64) {
	a.Balance += amount
	a.Version++
}
