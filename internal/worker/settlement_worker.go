package worker

import (
	"context"
	"log"
	"time"

	"ledgerpay/internal/config"
	"ledgerpay/internal/infrastructure/lock"
	"ledgerpay/internal/infrastructure/mq"
	"ledgerpay/internal/service"

	"github.com/IBM/sarama"
	"github.com/go-redis/redis/v8"
)

// SettlementWorker 结算消费端
//
// 【并发模型】严格单并发：
//   - 结算主题只建一个分区，sarama 对一个分区只开一个消费协程
//   - 多副本部署时用 Redis 锁保证同一时刻只有一个实例在消费，
//     持锁方周期续期，宕机后锁过期由其他副本接管
//
// 处理失败的消息在本地重试若干次，仍失败的转投死信主题后跳过，
// 不让一条坏消息卡住整个账本
type SettlementWorker struct {
	group      sarama.ConsumerGroup
	settlement *service.SettlementService
	redis      *redis.Client
	cfg        *config.Config
	instanceID string
}

func NewSettlementWorker(group sarama.ConsumerGroup, settlement *service.SettlementService, redisClient *redis.Client, cfg *config.Config, instanceID string) *SettlementWorker {
	return &SettlementWorker{
		group:      group,
		settlement: settlement,
		redis:      redisClient,
		cfg:        cfg,
		instanceID: instanceID,
	}
}

// Run 抢到单实例锁后开始消费，阻塞直到 ctx 取消
func (w *SettlementWorker) Run(ctx context.Context) error {
	workerLock := lock.NewWorkerLock(w.redis, w.instanceID)

	// 抢锁：没抢到就等着接管
	for {
		ok, err := workerLock.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			break
		}
		log.Println("[SettlementWorker] 锁被其他实例持有，等待接管...")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	defer workerLock.Unlock(context.Background())

	log.Printf("[SettlementWorker] 实例 %s 获得消费权", w.instanceID)

	// 持锁期间周期续期
	renewCtx, cancelRenew := context.WithCancel(ctx)
	defer cancelRenew()
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
				if err := workerLock.Renew(renewCtx); err != nil {
					log.Printf("[SettlementWorker] 锁续期失败: %v", err)
				}
			}
		}
	}()

	topics := []string{w.cfg.Kafka.Topic.Settlement}
	for {
		if err := w.group.Consume(ctx, topics, w); err != nil {
			log.Printf("[SettlementWorker] 消费出错: %v", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Setup 实现 sarama.ConsumerGroupHandler
func (w *SettlementWorker) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup 实现 sarama.ConsumerGroupHandler
func (w *SettlementWorker) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim 逐条处理，只有结算成功或已入死信的消息才标记位点
func (w *SettlementWorker) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if !w.handleMessage(session.Context(), msg) {
			// 既没结算也没进死信，位点不动，留给 Kafka 重投
			return nil
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// handleMessage 返回 true 表示消息已妥善处置：结算成功，或已转入死信主题
func (w *SettlementWorker) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	maxRetry := w.cfg.Business.MaxRetryCount
	if maxRetry <= 0 {
		maxRetry = 3
	}

	var err error
	for attempt := 1; attempt <= maxRetry; attempt++ {
		err = w.settlement.ProcessRaw(ctx, msg.Value)
		if err == nil {
			return true
		}
		log.Printf("[SettlementWorker] 处理失败(第%d次): offset=%d err=%v", attempt, msg.Offset, err)
		if attempt == maxRetry {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}

	// 停机期间的失败多半是 context 被取消，不能当毒消息送死信
	if ctx.Err() != nil {
		return false
	}

	// 重试耗尽，转投死信主题，避免坏消息阻塞账本
	dlTopic := w.cfg.Kafka.Topic.SettlementDeadLetter
	if dlTopic == "" {
		log.Printf("[SettlementWorker] 未配置死信主题，不标记位点等待重投: offset=%d", msg.Offset)
		return false
	}
	if sendErr := mq.SendMessage(dlTopic, string(msg.Key), string(msg.Value)); sendErr != nil {
		log.Printf("[SettlementWorker] 投递死信失败，不标记位点: offset=%d err=%v", msg.Offset, sendErr)
		return false
	}
	log.Printf("[SettlementWorker] 消息转入死信主题: offset=%d topic=%s", msg.Offset, dlTopic)
	return true
}
