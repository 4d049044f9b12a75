package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"ledgerpay/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// EnqueueSettlement 把结算任务写入发件箱
// 必须与产生它的业务写操作（订单流转/后台调整）同事务提交
// 分区键使用用户ID，保证同一账户的结算按序消费
func (r *OutboxRepository) EnqueueSettlement(ctx context.Context, tx *gorm.DB, topic string, job *model.SettlementJob) error {
	if tx == nil {
		tx = r.db
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("序列化结算任务失败: %w", err)
	}

	msg := &model.OutboxMessage{
		MessageKey: strconv.FormatInt(job.UserID, 10),
		Topic:      topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	return tx.WithContext(ctx).Create(msg).Error
}

func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *OutboxRepository) MarkAsSent(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Update("status", model.OutboxStatusSent).Error
}

func (r *OutboxRepository) IncrementRetryCount(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		UpdateColumn("retry_count", gorm.Expr("retry_count + 1")).Error
}

func (r *OutboxRepository) MarkAsFailed(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      model.OutboxStatusFailed,
			"retry_count": gorm.Expr("retry_count + 1"),
		}).Error
}
