package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"ledgerpay/internal/model"
	"ledgerpay/internal/repository"

	"gorm.io/gorm"
)

// SettlementService 结算：把结算任务落成账本流水
//
// 【为什么 worker 并发必须是 1？】
//
// 账本追加是"读最新快照 -> 算新快照 -> 写入"，Append 内部虽然有行锁
// 串行化同一账户的并发写，但把整个消费端压到单并发可以让正确性
// 论证简单得多——这里用吞吐换确定性，热点账户场景再考虑放开
type SettlementService struct {
	db         *gorm.DB
	ledgerRepo *repository.LedgerRepository
}

func NewSettlementService(db *gorm.DB) *SettlementService {
	return &SettlementService{
		db:         db,
		ledgerRepo: repository.NewLedgerRepository(db),
	}
}

// Process 消费一条结算任务
//
// 幂等语义：对网关驱动的入账先按 (account, kind, related_id, mutation_type)
// 查重，已落账的重复任务记日志后按成功返回；其余错误原样抛给消费端，
// 由队列的重试机制兜底——因为有查重，重试是安全的
func (s *SettlementService) Process(ctx context.Context, job *model.SettlementJob) error {
	if job.IdempotencySensitive() {
		exists, err := s.ledgerRepo.Exists(ctx, job.UserID, job.LedgerKind, job.RelatedID, job.MutationType)
		if err != nil {
			return fmt.Errorf("结算查重失败: %w", err)
		}
		if exists {
			log.Printf("[SettlementService] 重复结算任务，跳过: type=%s userID=%d relatedID=%d",
				job.MutationType, job.UserID, job.RelatedID)
			return nil
		}
	}

	entry, err := s.ledgerRepo.Append(ctx, &repository.AppendRequest{
		AccountID:    job.UserID,
		LedgerKind:   job.LedgerKind,
		MutationType: job.MutationType,
		RelatedID:    job.RelatedID,
		Amount:       job.Amount,
		Memo:         job.Memo,
		IP:           job.IP,
	})
	if err != nil {
		log.Printf("[SettlementService] 落账失败: type=%s userID=%d relatedID=%d err=%v",
			job.MutationType, job.UserID, job.RelatedID, err)
		return err
	}

	log.Printf("[SettlementService] 落账成功: entryNo=%s userID=%d kind=%s amount=%d balance=%d",
		entry.EntryNo, entry.AccountID, entry.LedgerKind, entry.Amount, entry.BalanceAfter)
	return nil
}

// ProcessRaw 解码 Kafka 消息体后结算
func (s *SettlementService) ProcessRaw(ctx context.Context, payload []byte) error {
	var job model.SettlementJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("解析结算任务失败: %w", err)
	}
	return s.Process(ctx, &job)
}
