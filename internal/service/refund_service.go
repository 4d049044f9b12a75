package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"ledgerpay/internal/config"
	"ledgerpay/internal/gateway"
	"ledgerpay/internal/infrastructure/lock"
	"ledgerpay/internal/model"
	"ledgerpay/internal/repository"
	"ledgerpay/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

var (
	ErrBadRefundAmount = errors.New("退款数额不合法")
	ErrRefundExceeds   = errors.New("退款数额超过可退余量")
)

// RefundService 充值单退款（后台审核发起）
//
// 流转：SUCCESS/PARTIAL_REFUNDED -> REFUNDING -> PARTIAL_REFUNDED/FULL_REFUNDED
// 网关退款调用失败时停在 REFUNDING，允许原样重试
type RefundService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	factory     *gateway.ClientFactory
	orderRepo   *repository.OrderRepository
	outboxRepo  *repository.OutboxRepository
}

func NewRefundService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, factory *gateway.ClientFactory) *RefundService {
	return &RefundService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		factory:     factory,
		orderRepo:   repository.NewOrderRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
	}
}

// RefundRequest 退款入参
type RefundRequest struct {
	TradeNo     string `json:"trade_no" binding:"required"`
	Amount      int64  `json:"amount"`       // 退回本金数额
	GiftAmount  int64  `json:"gift_amount"`  // 扣回赠送数额
	AuditUserID int64  `json:"audit_user_id" binding:"required"`
	AuditReply  string `json:"audit_reply"`
}

// RefundResponse 退款应答
type RefundResponse struct {
	TradeNo string `json:"trade_no"`
	Status  string `json:"status"`
	Amount  int64  `json:"amount"`
}

// Refund 执行退款
func (s *RefundService) Refund(ctx context.Context, req *RefundRequest) (*RefundResponse, error) {
	// 退款数额永不为负，且至少退一项
	if req.Amount < 0 || req.GiftAmount < 0 || req.Amount+req.GiftAmount == 0 {
		return nil, ErrBadRefundAmount
	}

	// 同一单的退款串行执行
	refundLock := lock.NewRefundLock(s.redisClient, req.TradeNo, idgen.GenerateRefundNo())
	if err := refundLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer refundLock.Unlock(ctx)

	order, err := s.orderRepo.GetByTradeNo(ctx, req.TradeNo)
	if err != nil {
		return nil, err
	}

	if order.RefundAmount+req.Amount > order.RequestedAmount ||
		order.RefundGiftAmount+req.GiftAmount > order.GiftAmount {
		return nil, ErrRefundExceeds
	}

	// 先占住 REFUNDING，再发起阻塞的网关调用；已经在 REFUNDING 的是上次
	// 网关调用失败留下的，直接重试
	switch order.PaymentStatus {
	case model.PaymentStatusSuccess, model.PaymentStatusPartialRefunded:
		err = s.orderRepo.TransitionStatus(ctx, nil, req.TradeNo,
			order.PaymentStatus, model.PaymentStatusRefunding, nil)
		if err != nil {
			return nil, err
		}
	case model.PaymentStatusRefunding:
		// 重试路径
	default:
		return nil, repository.ErrOrderStateInvalid
	}

	// 退给网关的钱按本金比例折算
	refundFee := order.Price
	if order.RequestedAmount > 0 {
		refundFee = req.Amount * order.Price / order.RequestedAmount
	}

	if refundFee > 0 {
		client, err := s.factory.Get(order.PaymentChannel, order.PaymentAppID)
		if err != nil {
			return nil, err
		}

		timeout := time.Duration(s.cfg.Business.GatewayTimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		err = client.CreateRefund(callCtx, &gateway.RefundRequest{
			TradeNo:  order.TradeNo,
			RefundNo: idgen.GenerateRefundNo(),
			Amount:   refundFee,
			Total:    order.Price,
			Reason:   req.AuditReply,
		})
		if err != nil {
			// 停在 REFUNDING，等待重试
			return nil, fmt.Errorf("网关退款失败: %w", err)
		}
	}

	newRefund := order.RefundAmount + req.Amount
	newRefundGift := order.RefundGiftAmount + req.GiftAmount
	target := model.PaymentStatusPartialRefunded
	if newRefund >= order.RequestedAmount {
		target = model.PaymentStatusFullRefunded
	}

	now := time.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := s.orderRepo.TransitionStatus(ctx, tx, req.TradeNo,
			model.PaymentStatusRefunding, target, map[string]interface{}{
				"refund_amount":      newRefund,
				"refund_gift_amount": newRefundGift,
				"audit_user_id":      req.AuditUserID,
				"audit_reply":        req.AuditReply,
				"audit_time":         now,
			})
		if err != nil {
			return err
		}

		if req.Amount > 0 {
			job := &model.SettlementJob{
				MutationType: model.MutationRechargeRefund,
				LedgerKind:   order.LedgerKindFor(false),
				UserID:       order.UserID,
				RelatedID:    order.ID,
				Amount:       -req.Amount,
				Memo:         fmt.Sprintf("充值退款-%s", order.TradeNo),
			}
			if err := s.outboxRepo.EnqueueSettlement(ctx, tx, s.cfg.Kafka.Topic.Settlement, job); err != nil {
				return err
			}
		}
		if req.GiftAmount > 0 {
			job := &model.SettlementJob{
				MutationType: model.MutationRechargeRefund,
				LedgerKind:   order.LedgerKindFor(true),
				UserID:       order.UserID,
				RelatedID:    order.ID,
				Amount:       -req.GiftAmount,
				Memo:         fmt.Sprintf("充值退款扣回赠送-%s", order.TradeNo),
			}
			if err := s.outboxRepo.EnqueueSettlement(ctx, tx, s.cfg.Kafka.Topic.Settlement, job); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[RefundService] 退款成功: tradeNo=%s amount=%d gift=%d status=%s",
		req.TradeNo, req.Amount, req.GiftAmount, target)

	return &RefundResponse{
		TradeNo: req.TradeNo,
		Status:  target.String(),
		Amount:  req.Amount,
	}, nil
}
