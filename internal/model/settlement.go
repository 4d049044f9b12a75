package model

// ============================================================================
// 结算任务
// ============================================================================

// SettlementJob 账本结算任务
// 由订单成功流转或后台调整产生，经 outbox 投递到 Kafka，
// 由结算 worker 消费后落成一条账本流水
//
// 【重要】(mutation_type, user_id, related_id) 是结算的自然幂等键：
// 对网关驱动的入账（recharge/recharge_gift），worker 消费前先查流水去重，
// 因此任务本身允许重复投递、允许重试
type SettlementJob struct {
	MutationType string `json:"mutation_type"` // 变动类型
	LedgerKind   string `json:"ledger_kind"`   // 账本维度
	UserID       int64  `json:"user_id"`       // 用户ID
	RelatedID    int64  `json:"related_id"`    // 关联业务ID（充值单ID等）
	Amount       int64  `json:"amount"`        // 变动金额（带符号）
	Memo         string `json:"memo"`          // 备注
	IP           string `json:"ip"`            // 来源IP
}

// IdempotencySensitive 该变动类型是否需要消费侧去重
// 网关回调可能重复送达，由回调产生的入账必须按自然键去重；
// 其余类型由上游调用方保证只产生一次
func (j *SettlementJob) IdempotencySensitive() bool {
	switch j.MutationType {
	case MutationRecharge, MutationRechargeGift:
		return true
	}
	return false
}
