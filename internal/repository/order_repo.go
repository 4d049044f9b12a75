package repository

import (
	"context"
	"errors"
	"time"

	"ledgerpay/internal/model"

	"gorm.io/gorm"
)

var (
	ErrOrderNotFound     = errors.New("充值单不存在")
	ErrOrderStateInvalid = errors.New("充值单状态不允许该操作")
	ErrOrderNotOwned     = errors.New("充值单不属于当前用户")
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.RechargeOrder) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(order).Error
}

func (r *OrderRepository) GetByTradeNo(ctx context.Context, tradeNo string) (*model.RechargeOrder, error) {
	var order model.RechargeOrder
	err := r.db.WithContext(ctx).Where("trade_no = ?", tradeNo).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// TransitionStatus 状态流转（条件更新）
//
// 【关键点】WHERE 带上 fromStatus，两个并发流转只有一个能命中行，
// 输掉的一方 RowsAffected=0，返回 ErrOrderStateInvalid，绝不读后写
func (r *OrderRepository) TransitionStatus(ctx context.Context, tx *gorm.DB, tradeNo string, from, to model.PaymentStatus, extra map[string]interface{}) error {
	if !model.CanTransitionTo(from, to) {
		return ErrOrderStateInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"payment_status": to,
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := tx.WithContext(ctx).
		Model(&model.RechargeOrder{}).
		Where("trade_no = ? AND payment_status = ?", tradeNo, from).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderStateInvalid
	}
	return nil
}

// ApplyNotification 落地网关回调结果（条件更新）
//
// 只有 CREATED/CLOSED 状态的单子接受回调；已终结的单子命中 0 行，
// 调用方据此把重复/迟到回调当作无害的空操作
// 返回是否真正发生了流转
func (r *OrderRepository) ApplyNotification(ctx context.Context, tx *gorm.DB, tradeNo string, to model.PaymentStatus, channel, appid, rawResponse string, paidAt time.Time) (bool, error) {
	if to != model.PaymentStatusSuccess && to != model.PaymentStatusFailed {
		return false, ErrOrderStateInvalid
	}

	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.RechargeOrder{}).
		Where("trade_no = ? AND payment_status IN ?", tradeNo, model.NotifiableStatuses).
		Updates(map[string]interface{}{
			"payment_status":   to,
			"payment_channel":  channel,
			"payment_appid":    appid,
			"payment_response": rawResponse,
			"payment_time":     paidAt,
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetExpiredOrders 查询超时未支付的充值单
func (r *OrderRepository) GetExpiredOrders(ctx context.Context, cutoff time.Time, limit int) ([]*model.RechargeOrder, error) {
	var orders []*model.RechargeOrder
	err := r.db.WithContext(ctx).
		Where("payment_status = ? AND created_at < ?", model.PaymentStatusCreated, cutoff).
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *OrderRepository) ListByUserID(ctx context.Context, userID int64, kind string, page, pageSize int) ([]*model.RechargeOrder, int64, error) {
	var orders []*model.RechargeOrder
	var total int64

	query := r.db.WithContext(ctx).Model(&model.RechargeOrder{}).Where("user_id = ?", userID)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error

	return orders, total, err
}
