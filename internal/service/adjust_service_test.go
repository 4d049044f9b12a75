package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"ledgerpay/internal/config"
	"ledgerpay/internal/model"
	"ledgerpay/internal/repository"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupAdjustTest(t *testing.T) (*AdjustService, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:adjust_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(&model.OutboxMessage{}); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	cfg := &config.Config{}
	cfg.Kafka.Topic.Settlement = "settlement-jobs"
	cfg.Business.CheckinReward = 10
	cfg.Business.PullNewReward = 100
	return NewAdjustService(db, cfg), db
}

func lastEnqueuedJob(t *testing.T, db *gorm.DB) *model.SettlementJob {
	t.Helper()
	var msg model.OutboxMessage
	if err := db.Order("id DESC").First(&msg).Error; err != nil {
		t.Fatalf("no outbox message: %v", err)
	}
	var job model.SettlementJob
	if err := json.Unmarshal([]byte(msg.Payload), &job); err != nil {
		t.Fatalf("decode job failed: %v", err)
	}
	return &job
}

func TestAdjustAppliesSignFromMutationType(t *testing.T) {
	svc, db := setupAdjustTest(t)
	ctx := context.Background()

	err := svc.Adjust(ctx, &AdjustRequest{
		UserID:       10001,
		LedgerKind:   model.LedgerKindBalance,
		MutationType: model.MutationAdminAdd,
		Amount:       500,
		AuditUserID:  99,
	})
	if err != nil {
		t.Fatalf("admin add failed: %v", err)
	}
	job := lastEnqueuedJob(t, db)
	if job.Amount != 500 || job.MutationType != model.MutationAdminAdd {
		t.Fatalf("unexpected add job: %+v", job)
	}
	if job.RelatedID != 99 {
		t.Fatalf("related_id = %d, want audit user 99", job.RelatedID)
	}

	// 扣款入参同样是正数，符号由类型决定
	err = svc.Adjust(ctx, &AdjustRequest{
		UserID:       10001,
		LedgerKind:   model.LedgerKindBalance,
		MutationType: model.MutationAdminDeduct,
		Amount:       300,
		AuditUserID:  99,
	})
	if err != nil {
		t.Fatalf("admin deduct failed: %v", err)
	}
	job = lastEnqueuedJob(t, db)
	if job.Amount != -300 {
		t.Fatalf("deduct amount = %d, want -300", job.Amount)
	}
}

func TestAdjustRejectsNonAdminTypes(t *testing.T) {
	svc, _ := setupAdjustTest(t)
	ctx := context.Background()

	err := svc.Adjust(ctx, &AdjustRequest{
		UserID:       10001,
		LedgerKind:   model.LedgerKindBalance,
		MutationType: model.MutationRecharge, // 充值入账只能由回调产生
		Amount:       500,
		AuditUserID:  99,
	})
	if !errors.Is(err, ErrBadAdjustType) {
		t.Fatalf("err = %v, want ErrBadAdjustType", err)
	}

	err = svc.Adjust(ctx, &AdjustRequest{
		UserID:       10001,
		LedgerKind:   "coupon",
		MutationType: model.MutationAdminAdd,
		Amount:       500,
		AuditUserID:  99,
	})
	if !errors.Is(err, repository.ErrBadLedgerKind) {
		t.Fatalf("err = %v, want ErrBadLedgerKind", err)
	}
}

func TestCheckinEnqueuesPointReward(t *testing.T) {
	svc, db := setupAdjustTest(t)

	if err := svc.Checkin(context.Background(), 10001, "10.0.0.1"); err != nil {
		t.Fatalf("checkin failed: %v", err)
	}
	job := lastEnqueuedJob(t, db)
	if job.MutationType != model.MutationCheckin || job.LedgerKind != model.LedgerKindPoint || job.Amount != 10 {
		t.Fatalf("unexpected checkin job: %+v", job)
	}
}

func TestPullNewRecordsInvitee(t *testing.T) {
	svc, db := setupAdjustTest(t)

	if err := svc.PullNew(context.Background(), 10001, 20002, ""); err != nil {
		t.Fatalf("pull new failed: %v", err)
	}
	job := lastEnqueuedJob(t, db)
	if job.MutationType != model.MutationPullNew || job.Amount != 100 {
		t.Fatalf("unexpected pull new job: %+v", job)
	}
	if job.RelatedID != 20002 {
		t.Fatalf("related_id = %d, want invitee 20002", job.RelatedID)
	}
}
