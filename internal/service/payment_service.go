package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"ledgerpay/internal/config"
	"ledgerpay/internal/gateway"
	"ledgerpay/internal/model"
	"ledgerpay/internal/repository"

	"gorm.io/gorm"
)

// PaymentService 支付发起与回调对账
//
// 【关键点】支付是整个系统最核心的链路，需要保证：
// 1. 发起支付不改订单状态，CREATED 期间可以反复发起
// 2. 回调落地用条件更新，重复/并发回调只有一次生效
// 3. 成功流转与结算任务写入在同一个数据库事务里（outbox）
type PaymentService struct {
	db         *gorm.DB
	cfg        *config.Config
	factory    *gateway.ClientFactory
	orderRepo  *repository.OrderRepository
	outboxRepo *repository.OutboxRepository
}

func NewPaymentService(db *gorm.DB, cfg *config.Config, factory *gateway.ClientFactory) *PaymentService {
	return &PaymentService{
		db:         db,
		cfg:        cfg,
		factory:    factory,
		orderRepo:  repository.NewOrderRepository(db),
		outboxRepo: repository.NewOutboxRepository(db),
	}
}

// InitiatePayment 发起支付，返回跳转地址或 SDK 调起参数
//
// 渠道与应用ID先落库并提交，之后才发起阻塞的网关调用——
// 绝不在网关调用期间握着数据库事务
func (s *PaymentService) InitiatePayment(ctx context.Context, userID int64, tradeNo, provider string, clientType gateway.ClientType, clientIP string) (*gateway.ProviderPayload, error) {
	order, err := s.orderRepo.GetByTradeNo(ctx, tradeNo)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, repository.ErrOrderNotOwned
	}
	if order.PaymentStatus != model.PaymentStatusCreated {
		return nil, repository.ErrOrderStateInvalid
	}
	if !gateway.ValidClientType(clientType) {
		return nil, fmt.Errorf("不支持的客户端类型: %s", clientType)
	}

	client, err := s.factory.Get(provider, "")
	if err != nil {
		return nil, err
	}

	// 记录渠道信息，独立提交
	err = s.db.WithContext(ctx).
		Model(&model.RechargeOrder{}).
		Where("trade_no = ? AND payment_status = ?", tradeNo, model.PaymentStatusCreated).
		Updates(map[string]interface{}{
			"payment_channel": provider,
		}).Error
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(s.cfg.Business.GatewayTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := client.CreateOrder(callCtx, &gateway.CreateOrderRequest{
		TradeNo:    order.TradeNo,
		Amount:     order.Price,
		Subject:    fmt.Sprintf("充值-%s-%s", order.Kind, order.SKU),
		ClientType: clientType,
		ClientIP:   clientIP,
	})
	if err != nil {
		// 订单保持 CREATED，客户端可换渠道重试
		return nil, fmt.Errorf("网关下单失败: %w", err)
	}
	return payload, nil
}

// HandleNotification 处理网关异步回调
//
// 返回值始终是该渠道要求的应答体（Content-Type, body），HTTP 层固定 200 应答；
// 验签失败、单子找不到、内部出错都应答 failure，网关会按自己的节奏重试
func (s *PaymentService) HandleNotification(ctx context.Context, provider string, params map[string]string, body []byte) (string, string) {
	appid := gateway.ExtractAppID(provider, params, body)
	client, err := s.factory.Get(provider, appid)
	if err != nil {
		log.Printf("[PaymentService] 回调找不到凭证: provider=%s appid=%s err=%v", provider, appid, err)
		ct, ack := gateway.FallbackAck(provider)
		return ct, ack
	}

	outcome, err := client.VerifyNotification(params, body)
	if err != nil {
		// fail closed：验签不过绝不触碰订单
		log.Printf("[PaymentService] 回调验签失败: provider=%s err=%v", provider, err)
		ct, ack := client.AckFailure()
		return ct, ack
	}

	if err := s.applyOutcome(ctx, provider, outcome); err != nil {
		log.Printf("[PaymentService] 回调落地失败: tradeNo=%s err=%v", outcome.TradeNo, err)
		ct, ack := client.AckFailure()
		return ct, ack
	}

	ct, ack := client.AckSuccess()
	return ct, ack
}

// applyOutcome 把验签通过的回调结果落到订单上
// 条件更新命中 0 行说明是重复/迟到回调，按成功空操作处理
func (s *PaymentService) applyOutcome(ctx context.Context, provider string, outcome *gateway.VerifiedOutcome) error {
	order, err := s.orderRepo.GetByTradeNo(ctx, outcome.TradeNo)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return fmt.Errorf("回调指向不存在的充值单: %s", outcome.TradeNo)
		}
		return err
	}

	target := model.PaymentStatusFailed
	if outcome.Success {
		target = model.PaymentStatusSuccess
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		transitioned, err := s.orderRepo.ApplyNotification(ctx, tx,
			outcome.TradeNo, target, provider, outcome.AppID, outcome.Raw, time.Now())
		if err != nil {
			return err
		}
		if !transitioned {
			// 并发回调下事务前读到的状态可能已经过期，不往日志里写
			log.Printf("[PaymentService] 重复或迟到回调，忽略: tradeNo=%s", outcome.TradeNo)
			return nil
		}

		if !outcome.Success {
			log.Printf("[PaymentService] 充值单支付失败: tradeNo=%s", outcome.TradeNo)
			return nil
		}

		// 成功单发结算任务：本金一条，有赠送再来一条
		principal := &model.SettlementJob{
			MutationType: model.MutationRecharge,
			LedgerKind:   order.LedgerKindFor(false),
			UserID:       order.UserID,
			RelatedID:    order.ID,
			Amount:       order.RequestedAmount,
			Memo:         fmt.Sprintf("充值入账-%s", order.TradeNo),
			IP:           order.UserIP,
		}
		if err := s.outboxRepo.EnqueueSettlement(ctx, tx, s.cfg.Kafka.Topic.Settlement, principal); err != nil {
			return err
		}

		if order.GiftAmount > 0 {
			gift := &model.SettlementJob{
				MutationType: model.MutationRechargeGift,
				LedgerKind:   order.LedgerKindFor(true),
				UserID:       order.UserID,
				RelatedID:    order.ID,
				Amount:       order.GiftAmount,
				Memo:         fmt.Sprintf("充值赠送-%s", order.TradeNo),
				IP:           order.UserIP,
			}
			if err := s.outboxRepo.EnqueueSettlement(ctx, tx, s.cfg.Kafka.Topic.Settlement, gift); err != nil {
				return err
			}
		}

		log.Printf("[PaymentService] 充值单支付成功: tradeNo=%s userID=%d amount=%d gift=%d",
			outcome.TradeNo, order.UserID, order.RequestedAmount, order.GiftAmount)
		return nil
	})
}
