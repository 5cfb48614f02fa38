package service

import (
	"context"

	"transfersvc/internal/model"
	"transfersvc/internal/repository"
)

// AccountService serves the read side: balances and account listings.
type AccountService struct {
	accounts repository.AccountStore
}

func NewAccountService(accounts repository.AccountStore) *AccountService {
	return &AccountService{accounts: accounts}
}

func (s *AccountService) GetBalance(ctx context.Context, accountID int64) (int64, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

func (s *AccountService) ListAccounts(ctx context.Context, customerID int64) ([]*model.Account, error) {
	accounts, err := s.accounts.ListByCustomerID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if accounts == nil {
		accounts = []*model.Account{}
	}
	return accounts, nil
}
