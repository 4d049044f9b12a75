package model

import (
	"time"
)

// ============================================================================
// 账本维度与变动类型
// ============================================================================

// LedgerKind 账本维度
// 同一用户的余额、赠送余额、积分是三条互相独立的流水链
const (
	LedgerKindBalance     = "balance"      // 现金余额
	LedgerKindBalanceGift = "balance_gift" // 赠送余额
	LedgerKindPoint       = "point"        // 积分
)

// MutationType 变动类型
const (
	MutationRecharge       = "recharge"        // 充值入账
	MutationRechargeGift   = "recharge_gift"   // 充值赠送入账
	MutationWithdrawRefund = "withdraw_refund" // 提现失败返还
	MutationPayRefund      = "pay_refund"      // 消费退款返还
	MutationAdminAdd       = "admin_add"       // 后台人工加款
	MutationCheckin        = "checkin"         // 签到奖励
	MutationPullNew        = "pull_new"        // 拉新奖励
	MutationRechargeRefund = "recharge_refund" // 充值退款扣减
	MutationWithdraw       = "withdraw"        // 提现扣减
	MutationPay            = "pay"             // 消费扣减
	MutationAdminDeduct    = "admin_deduct"    // 后台人工扣款
)

// MutationSign 变动类型与金额符号的对应关系
// 入账为 +1，出账为 -1，写入流水前必须校验金额符号与此表一致
var MutationSign = map[string]int64{
	MutationRecharge:       +1,
	MutationRechargeGift:   +1,
	MutationWithdrawRefund: +1,
	MutationPayRefund:      +1,
	MutationAdminAdd:       +1,
	MutationCheckin:        +1,
	MutationPullNew:        +1,
	MutationRechargeRefund: -1,
	MutationWithdraw:       -1,
	MutationPay:            -1,
	MutationAdminDeduct:    -1,
}

// ValidMutationType 判断变动类型是否合法
func ValidMutationType(mutationType string) bool {
	_, ok := MutationSign[mutationType]
	return ok
}

// ValidLedgerKind 判断账本维度是否合法
func ValidLedgerKind(kind string) bool {
	switch kind {
	case LedgerKindBalance, LedgerKindBalanceGift, LedgerKindPoint:
		return true
	}
	return false
}

// ============================================================================
// 账本流水实体
// ============================================================================

// LedgerEntry 账本流水表
// 记录每个账户每个维度的每一笔变动，是余额的唯一事实来源
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 余额由最新一条流水的 balance_after 得出
// 2. 同一 (account_id, ledger_kind) 下按创建顺序构成严格的累加链：
//    balance_after[n] = balance_after[n-1] + amount[n]（无前序流水时视为 0）
// 3. related_id 按 mutation_type 解释（充值单ID、退款单ID等），不全局唯一
type LedgerEntry struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo      string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`                                    // 流水号（全局唯一）
	AccountID    int64     `gorm:"index:idx_account_kind;not null" json:"account_id"`                                        // 账户（用户）ID
	LedgerKind   string    `gorm:"type:varchar(20);index:idx_account_kind;not null" json:"ledger_kind"`                      // 账本维度
	MutationType string    `gorm:"type:varchar(32);index:idx_mutation_related;not null" json:"mutation_type"`                // 变动类型
	RelatedID    int64     `gorm:"index:idx_mutation_related;not null;default:0" json:"related_id"`                          // 关联业务ID
	Amount       int64     `gorm:"not null" json:"amount"`                                                                   // 变动金额（正数入账，负数出账）
	BalanceAfter int64     `gorm:"not null" json:"balance_after"`                                                            // 变动后余额快照
	IP           string    `gorm:"type:varchar(64)" json:"ip"`                                                               // 来源IP
	Memo         string    `gorm:"type:varchar(256)" json:"memo"`                                                            // 备注
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entry"
}
