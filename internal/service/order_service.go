package service

import (
	"context"
	"errors"
	"time"

	"ledgerpay/internal/config"
	"ledgerpay/internal/model"
	"ledgerpay/internal/repository"
	"ledgerpay/pkg/idgen"

	"gorm.io/gorm"
)

var (
	ErrBadSKU       = errors.New("充值档位不存在")
	ErrBadOrderKind = errors.New("充值种类不合法")
)

type OrderService struct {
	orderRepo *repository.OrderRepository
	db        *gorm.DB
	cfg       *config.Config
}

func NewOrderService(db *gorm.DB, cfg *config.Config) *OrderService {
	return &OrderService{
		orderRepo: repository.NewOrderRepository(db),
		db:        db,
		cfg:       cfg,
	}
}

// CreateOrder 创建充值单
// 只落一条 CREATED 记录并返回交易号，网关侧订单延迟到发起支付时才创建
func (s *OrderService) CreateOrder(ctx context.Context, userID int64, kind, sku, userIP string) (*model.RechargeOrder, error) {
	if kind != model.OrderKindBalance && kind != model.OrderKindPoint {
		return nil, ErrBadOrderKind
	}
	tier, ok := s.cfg.Recharge.FindTier(kind, sku)
	if !ok {
		return nil, ErrBadSKU
	}

	order := &model.RechargeOrder{
		TradeNo:         idgen.GenerateTradeNo(),
		UserID:          userID,
		Kind:            kind,
		SKU:             sku,
		RequestedAmount: tier.Amount,
		Price:           tier.Price,
		GiftAmount:      tier.GiftAmount,
		PaymentStatus:   model.PaymentStatusCreated,
		UserIP:          userIP,
	}

	if err := s.orderRepo.Create(ctx, nil, order); err != nil {
		return nil, err
	}
	return order, nil
}

// StatusResult 轮询应答，continue=true 表示客户端应继续轮询
type StatusResult struct {
	Continue bool   `json:"continue"`
	Status   string `json:"status"`
}

// CheckStatus 查询充值单支付进度（只读）
func (s *OrderService) CheckStatus(ctx context.Context, userID int64, tradeNo string) (*StatusResult, error) {
	order, err := s.orderRepo.GetByTradeNo(ctx, tradeNo)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, repository.ErrOrderNotOwned
	}

	return &StatusResult{
		Continue: order.PaymentStatus == model.PaymentStatusCreated,
		Status:   order.PaymentStatus.String(),
	}, nil
}

// ListTiers 充值档位列表
func (s *OrderService) ListTiers(kind string) []config.RechargeTier {
	tiers := make([]config.RechargeTier, 0)
	for _, t := range s.cfg.Recharge.Tiers {
		if kind == "" || t.Kind == kind {
			tiers = append(tiers, t)
		}
	}
	return tiers
}

func (s *OrderService) ListUserOrders(ctx context.Context, userID int64, kind string, page, pageSize int) ([]*model.RechargeOrder, int64, error) {
	return s.orderRepo.ListByUserID(ctx, userID, kind, page, pageSize)
}

// CloseExpiredOrders 关闭超时未支付的充值单
// 逐单条件更新 CREATED -> CLOSED，与回调落地的条件更新天然互斥：
// 回调先到则关单失败，关单先到则迟到回调仍可把 CLOSED 转成终态
func (s *OrderService) CloseExpiredOrders(ctx context.Context, limit int) (int, error) {
	cutoff := time.Now().Add(-time.Duration(s.cfg.Business.OrderTimeoutMinutes) * time.Minute)
	orders, err := s.orderRepo.GetExpiredOrders(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	closedCount := 0
	for _, order := range orders {
		err := s.orderRepo.TransitionStatus(ctx, nil, order.TradeNo,
			model.PaymentStatusCreated, model.PaymentStatusClosed, nil)
		if err == nil {
			closedCount++
		}
	}
	return closedCount, nil
}
