package job

import (
	"context"
	"log"
	"time"

	"ledgerpay/internal/config"
	"ledgerpay/internal/model"
	"ledgerpay/internal/service"

	"gorm.io/gorm"
)

// OrderReaperJob 订单收割：周期性关闭超时未支付的充值单
// 关闭后的单子仍可接收迟到回调（CLOSED 不是终态）
type OrderReaperJob struct {
	orderService *service.OrderService
	stopCh       chan struct{}
	interval     time.Duration
	batchSize    int
}

func NewOrderReaperJob(db *gorm.DB, cfg *config.Config) *OrderReaperJob {
	return &OrderReaperJob{
		orderService: service.NewOrderService(db, cfg),
		stopCh:       make(chan struct{}),
		interval:     10 * time.Second,
		batchSize:    100,
	}
}

func (j *OrderReaperJob) Start(ctx context.Context) {
	log.Println("[OrderReaper] 订单收割任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[OrderReaper] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[OrderReaper] 任务停止")
			return
		case <-ticker.C:
			j.reap(ctx)
		}
	}
}

func (j *OrderReaperJob) Stop() {
	close(j.stopCh)
}

func (j *OrderReaperJob) reap(ctx context.Context) {
	closed, err := j.orderService.CloseExpiredOrders(ctx, j.batchSize)
	if err != nil {
		log.Printf("[OrderReaper] 关闭超时订单失败: %v", err)
		return
	}
	if closed > 0 {
		log.Printf("[OrderReaper] 本次关闭 %d 个超时订单", closed)
	}
}

// StuckRefundJob 退款卡单巡检
// 网关退款调用失败会把单子留在 REFUNDING，这里周期性找出停留过久的
// 单子打日志告警，由后台重试退款
type StuckRefundJob struct {
	db        *gorm.DB
	stopCh    chan struct{}
	interval  time.Duration
	threshold time.Duration
	batchSize int
}

func NewStuckRefundJob(db *gorm.DB) *StuckRefundJob {
	return &StuckRefundJob{
		db:        db,
		stopCh:    make(chan struct{}),
		interval:  time.Minute,
		threshold: 10 * time.Minute,
		batchSize: 50,
	}
}

func (j *StuckRefundJob) Start(ctx context.Context) {
	log.Println("[StuckRefund] 退款卡单巡检启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[StuckRefund] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[StuckRefund] 任务停止")
			return
		case <-ticker.C:
			j.inspect(ctx)
		}
	}
}

func (j *StuckRefundJob) Stop() {
	close(j.stopCh)
}

func (j *StuckRefundJob) inspect(ctx context.Context) {
	var orders []*model.RechargeOrder
	before := time.Now().Add(-j.threshold)
	err := j.db.WithContext(ctx).
		Where("payment_status = ? AND updated_at < ?", model.PaymentStatusRefunding, before).
		Limit(j.batchSize).
		Find(&orders).Error
	if err != nil {
		log.Printf("[StuckRefund] 查询卡单失败: %v", err)
		return
	}

	for _, order := range orders {
		log.Printf("[StuckRefund] 退款停留超过 %v: tradeNo=%s userID=%d 已退=%d/%d",
			j.threshold, order.TradeNo, order.UserID, order.RefundAmount, order.RequestedAmount)
	}
}
