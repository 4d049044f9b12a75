package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"ledgerpay/internal/model"
	"ledgerpay/pkg/idgen"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupSettlementTest(t *testing.T) (*SettlementService, *gorm.DB) {
	t.Helper()
	idgen.Init(1)
	dsn := fmt.Sprintf("file:settlement_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(&model.LedgerEntry{}); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return NewSettlementService(db), db
}

func countEntries(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&model.LedgerEntry{}).Count(&count).Error; err != nil {
		t.Fatalf("count entries failed: %v", err)
	}
	return count
}

func TestSettlementProcessAppendsEntry(t *testing.T) {
	svc, db := setupSettlementTest(t)

	err := svc.Process(context.Background(), &model.SettlementJob{
		MutationType: model.MutationRecharge,
		LedgerKind:   model.LedgerKindBalance,
		UserID:       10001,
		RelatedID:    1,
		Amount:       1000,
		Memo:         "充值入账-RCH001",
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	var entry model.LedgerEntry
	if err := db.First(&entry).Error; err != nil {
		t.Fatalf("entry not written: %v", err)
	}
	if entry.BalanceAfter != 1000 {
		t.Fatalf("balance_after = %d, want 1000", entry.BalanceAfter)
	}
}

func TestSettlementDuplicateRechargeJobIsSkipped(t *testing.T) {
	svc, db := setupSettlementTest(t)
	ctx := context.Background()

	job := &model.SettlementJob{
		MutationType: model.MutationRecharge,
		LedgerKind:   model.LedgerKindBalance,
		UserID:       10001,
		RelatedID:    42,
		Amount:       1000,
	}

	// 同一任务重复投递三次，只允许落账一次
	for i := 0; i < 3; i++ {
		if err := svc.Process(ctx, job); err != nil {
			t.Fatalf("delivery %d failed: %v", i, err)
		}
	}

	if n := countEntries(t, db); n != 1 {
		t.Fatalf("entries = %d, want exactly 1", n)
	}
}

func TestSettlementGiftJobDedupedIndependently(t *testing.T) {
	svc, db := setupSettlementTest(t)
	ctx := context.Background()

	principal := &model.SettlementJob{
		MutationType: model.MutationRecharge,
		LedgerKind:   model.LedgerKindBalance,
		UserID:       10001, RelatedID: 42, Amount: 1000,
	}
	gift := &model.SettlementJob{
		MutationType: model.MutationRechargeGift,
		LedgerKind:   model.LedgerKindBalanceGift,
		UserID:       10001, RelatedID: 42, Amount: 200,
	}

	for _, job := range []*model.SettlementJob{principal, gift, principal, gift} {
		if err := svc.Process(ctx, job); err != nil {
			t.Fatalf("process failed: %v", err)
		}
	}

	if n := countEntries(t, db); n != 2 {
		t.Fatalf("entries = %d, want 2 (one principal, one gift)", n)
	}
}

func TestSettlementNonSensitiveTypesAreNotDeduped(t *testing.T) {
	svc, db := setupSettlementTest(t)
	ctx := context.Background()

	// 签到这类任务由上游保证只产生一次，消费侧不查重
	job := &model.SettlementJob{
		MutationType: model.MutationCheckin,
		LedgerKind:   model.LedgerKindPoint,
		UserID:       10001, RelatedID: 0, Amount: 10,
	}
	if err := svc.Process(ctx, job); err != nil {
		t.Fatalf("first checkin failed: %v", err)
	}
	if err := svc.Process(ctx, job); err != nil {
		t.Fatalf("second checkin failed: %v", err)
	}

	if n := countEntries(t, db); n != 2 {
		t.Fatalf("entries = %d, want 2", n)
	}
}

func TestSettlementInvalidJobReturnsError(t *testing.T) {
	svc, db := setupSettlementTest(t)

	err := svc.Process(context.Background(), &model.SettlementJob{
		MutationType: model.MutationRecharge,
		LedgerKind:   model.LedgerKindBalance,
		UserID:       10001, RelatedID: 7,
		Amount: -1000, // 入账类型带负号
	})
	if err == nil {
		t.Fatal("expected sign mismatch error")
	}
	if n := countEntries(t, db); n != 0 {
		t.Fatalf("entries = %d, want 0", n)
	}
}

func TestSettlementProcessRaw(t *testing.T) {
	svc, db := setupSettlementTest(t)

	payload, _ := json.Marshal(&model.SettlementJob{
		MutationType: model.MutationPullNew,
		LedgerKind:   model.LedgerKindPoint,
		UserID:       10001, RelatedID: 20002, Amount: 100,
	})
	if err := svc.ProcessRaw(context.Background(), payload); err != nil {
		t.Fatalf("process raw failed: %v", err)
	}
	if n := countEntries(t, db); n != 1 {
		t.Fatalf("entries = %d, want 1", n)
	}

	if err := svc.ProcessRaw(context.Background(), []byte("not-json")); err == nil {
		t.Fatal("expected decode error for malformed payload")
	}
}
