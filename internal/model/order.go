package model

import (
	"time"
)

// ============================================================================
// 充值单状态机
// ============================================================================

// PaymentStatus 充值单支付状态
type PaymentStatus int

const (
	PaymentStatusCreated         PaymentStatus = 0 // 已创建，待支付
	PaymentStatusSuccess         PaymentStatus = 1 // 支付成功
	PaymentStatusFailed          PaymentStatus = 2 // 支付失败（终态）
	PaymentStatusClosed          PaymentStatus = 3 // 超时关闭（仍可接收迟到回调）
	PaymentStatusRefunding       PaymentStatus = 4 // 退款中
	PaymentStatusPartialRefunded PaymentStatus = 5 // 部分退款
	PaymentStatusFullRefunded    PaymentStatus = 6 // 全额退款（终态）
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentStatusCreated:
		return "CREATED"
	case PaymentStatusSuccess:
		return "SUCCESS"
	case PaymentStatusFailed:
		return "FAILED"
	case PaymentStatusClosed:
		return "CLOSED"
	case PaymentStatusRefunding:
		return "REFUNDING"
	case PaymentStatusPartialRefunded:
		return "PARTIAL_REFUNDED"
	case PaymentStatusFullRefunded:
		return "FULL_REFUNDED"
	}
	return "UNKNOWN"
}

// ValidStatusTransitions 合法的状态流转表
// CLOSED 不是终态：关闭后网关仍可能送达迟到回调，允许转成功/失败
var ValidStatusTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusCreated:         {PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusClosed},
	PaymentStatusClosed:          {PaymentStatusSuccess, PaymentStatusFailed},
	PaymentStatusSuccess:         {PaymentStatusRefunding},
	PaymentStatusRefunding:       {PaymentStatusPartialRefunded, PaymentStatusFullRefunded},
	PaymentStatusPartialRefunded: {PaymentStatusRefunding},
}

func CanTransitionTo(current, target PaymentStatus) bool {
	allowed, exists := ValidStatusTransitions[current]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// NotifiableStatuses 允许接收网关回调落地的状态
// 回调落地使用条件更新（WHERE payment_status IN (...)），不读后写
var NotifiableStatuses = []PaymentStatus{PaymentStatusCreated, PaymentStatusClosed}

// ============================================================================
// 充值单实体
// ============================================================================

// OrderKind 充值单种类，余额单和积分单结构完全一致，只差入账维度
const (
	OrderKindBalance = "balance" // 余额充值
	OrderKindPoint   = "point"   // 积分充值
)

// RechargeOrder 充值单表
// 只允许通过状态机定义的流转修改，trade_no 是与网关对账的幂等键
type RechargeOrder struct {
	ID               int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	TradeNo          string        `gorm:"type:varchar(64);uniqueIndex;not null" json:"trade_no"` // 交易号（全局唯一）
	UserID           int64         `gorm:"index;not null" json:"user_id"`                         // 用户ID
	Kind             string        `gorm:"type:varchar(20);not null" json:"kind"`                 // 充值种类（balance/point）
	SKU              string        `gorm:"type:varchar(32);not null" json:"sku"`                  // 充值档位
	RequestedAmount  int64         `gorm:"not null" json:"requested_amount"`                      // 充值到账数额
	Price            int64         `gorm:"not null" json:"price"`                                 // 应付金额（分）
	GiftAmount       int64         `gorm:"not null;default:0" json:"gift_amount"`                 // 赠送数额
	RefundAmount     int64         `gorm:"not null;default:0" json:"refund_amount"`               // 已退款本金
	RefundGiftAmount int64         `gorm:"not null;default:0" json:"refund_gift_amount"`          // 已扣回赠送
	PaymentStatus    PaymentStatus `gorm:"index;not null;default:0" json:"payment_status"`        // 支付状态
	PaymentChannel   string        `gorm:"type:varchar(32)" json:"payment_channel"`               // 支付渠道
	PaymentAppID     string        `gorm:"column:payment_appid;type:varchar(64)" json:"payment_appid"` // 支付应用ID
	PaymentTime      *time.Time    `json:"payment_time"`                                          // 支付完成时间
	PaymentResponse  string        `gorm:"type:text" json:"-"`                                    // 网关回调原文
	RefundResponse   string        `gorm:"type:text" json:"-"`                                    // 退款回执原文
	AuditUserID      int64         `gorm:"not null;default:0" json:"audit_user_id"`               // 审核人ID
	AuditReply       string        `gorm:"type:varchar(256)" json:"audit_reply"`                  // 审核意见
	AuditTime        *time.Time    `json:"audit_time"`                                            // 审核时间
	UserIP           string        `gorm:"type:varchar(64)" json:"user_ip"`                       // 下单IP
	CreatedAt        time.Time     `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (RechargeOrder) TableName() string {
	return "recharge_order"
}

// LedgerKindFor 充值单入账的账本维度
// 余额单的赠送部分进赠送余额账本；积分单的赠送仍然是积分
func (o *RechargeOrder) LedgerKindFor(gift bool) string {
	if o.Kind == OrderKindPoint {
		return LedgerKindPoint
	}
	if gift {
		return LedgerKindBalanceGift
	}
	return LedgerKindBalance
}
