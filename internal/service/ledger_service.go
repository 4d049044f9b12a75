package service

import (
	"context"

	"ledgerpay/internal/model"
	"ledgerpay/internal/repository"

	"gorm.io/gorm"
)

// LedgerService 账本只读查询
type LedgerService struct {
	ledgerRepo *repository.LedgerRepository
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{
		ledgerRepo: repository.NewLedgerRepository(db),
	}
}

// Balances 一个账户三个维度的当前余额
type Balances struct {
	Balance     int64 `json:"balance"`
	BalanceGift int64 `json:"balance_gift"`
	Point       int64 `json:"point"`
}

func (s *LedgerService) GetBalances(ctx context.Context, userID int64) (*Balances, error) {
	balance, err := s.ledgerRepo.CurrentBalance(ctx, userID, model.LedgerKindBalance)
	if err != nil {
		return nil, err
	}
	gift, err := s.ledgerRepo.CurrentBalance(ctx, userID, model.LedgerKindBalanceGift)
	if err != nil {
		return nil, err
	}
	point, err := s.ledgerRepo.CurrentBalance(ctx, userID, model.LedgerKindPoint)
	if err != nil {
		return nil, err
	}
	return &Balances{Balance: balance, BalanceGift: gift, Point: point}, nil
}

func (s *LedgerService) ListEntries(ctx context.Context, userID int64, kind string, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	return s.ledgerRepo.ListByAccount(ctx, userID, kind, page, pageSize)
}
