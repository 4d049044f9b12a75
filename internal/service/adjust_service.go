package service

import (
	"context"
	"errors"
	"fmt"

	"ledgerpay/internal/config"
	"ledgerpay/internal/model"
	"ledgerpay/internal/repository"

	"gorm.io/gorm"
)

var ErrBadAdjustType = errors.New("调整类型只允许人工加款/扣款")

// AdjustService 不经过支付网关的账本变动入口
// 后台人工调整、签到、拉新奖励都走这里，统一产出结算任务
type AdjustService struct {
	db         *gorm.DB
	cfg        *config.Config
	outboxRepo *repository.OutboxRepository
}

func NewAdjustService(db *gorm.DB, cfg *config.Config) *AdjustService {
	return &AdjustService{
		db:         db,
		cfg:        cfg,
		outboxRepo: repository.NewOutboxRepository(db),
	}
}

// AdjustRequest 后台调整入参
type AdjustRequest struct {
	UserID       int64  `json:"user_id" binding:"required"`
	LedgerKind   string `json:"ledger_kind" binding:"required"`
	MutationType string `json:"mutation_type" binding:"required"` // admin_add / admin_deduct
	Amount       int64  `json:"amount" binding:"required,gt=0"`   // 正数，符号由类型决定
	Memo         string `json:"memo"`
	AuditUserID  int64  `json:"audit_user_id" binding:"required"`
	IP           string `json:"-"`
}

// Adjust 后台人工加/扣款
func (s *AdjustService) Adjust(ctx context.Context, req *AdjustRequest) error {
	if req.MutationType != model.MutationAdminAdd && req.MutationType != model.MutationAdminDeduct {
		return ErrBadAdjustType
	}
	if !model.ValidLedgerKind(req.LedgerKind) {
		return repository.ErrBadLedgerKind
	}

	amount := req.Amount
	if model.MutationSign[req.MutationType] < 0 {
		amount = -amount
	}

	job := &model.SettlementJob{
		MutationType: req.MutationType,
		LedgerKind:   req.LedgerKind,
		UserID:       req.UserID,
		RelatedID:    req.AuditUserID,
		Amount:       amount,
		Memo:         fmt.Sprintf("后台调整-%s", req.Memo),
		IP:           req.IP,
	}
	return s.outboxRepo.EnqueueSettlement(ctx, nil, s.cfg.Kafka.Topic.Settlement, job)
}

// Checkin 签到奖励积分
func (s *AdjustService) Checkin(ctx context.Context, userID int64, ip string) error {
	reward := int64(s.cfg.Business.CheckinReward)
	if reward <= 0 {
		return errors.New("未配置签到奖励")
	}

	job := &model.SettlementJob{
		MutationType: model.MutationCheckin,
		LedgerKind:   model.LedgerKindPoint,
		UserID:       userID,
		Amount:       reward,
		Memo:         "签到奖励",
		IP:           ip,
	}
	return s.outboxRepo.EnqueueSettlement(ctx, nil, s.cfg.Kafka.Topic.Settlement, job)
}

// PullNew 拉新奖励积分，related_id 记被邀请人
func (s *AdjustService) PullNew(ctx context.Context, userID, inviteeID int64, ip string) error {
	reward := int64(s.cfg.Business.PullNewReward)
	if reward <= 0 {
		return errors.New("未配置拉新奖励")
	}

	job := &model.SettlementJob{
		MutationType: model.MutationPullNew,
		LedgerKind:   model.LedgerKindPoint,
		UserID:       userID,
		RelatedID:    inviteeID,
		Amount:       reward,
		Memo:         "拉新奖励",
		IP:           ip,
	}
	return s.outboxRepo.EnqueueSettlement(ctx, nil, s.cfg.Kafka.Topic.Settlement, job)
}
