package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"ledgerpay/internal/config"
	"ledgerpay/internal/gateway"
	"ledgerpay/internal/model"
	"ledgerpay/pkg/idgen"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testSecretKey = "test-secret-key"

func setupPaymentTest(t *testing.T) (*PaymentService, *gorm.DB) {
	t.Helper()
	idgen.Init(1)
	dsn := fmt.Sprintf("file:payment_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(&model.RechargeOrder{}, &model.OutboxMessage{}, &model.LedgerEntry{}); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	cfg := &config.Config{}
	cfg.Kafka.Topic.Settlement = "settlement-jobs"
	cfg.Business.GatewayTimeoutSec = 2
	cfg.Gateways = []config.GatewayConfig{
		{
			Provider:  gateway.ProviderAlipay,
			AppID:     "2021000000000001",
			SecretKey: testSecretKey,
		},
	}

	factory := gateway.NewClientFactory(cfg.Gateways, 2*time.Second)
	return NewPaymentService(db, cfg, factory), db
}

func seedOrder(t *testing.T, db *gorm.DB, tradeNo, kind string, status model.PaymentStatus, gift int64) *model.RechargeOrder {
	t.Helper()
	order := &model.RechargeOrder{
		TradeNo:         tradeNo,
		UserID:          10001,
		Kind:            kind,
		SKU:             "b10",
		RequestedAmount: 1000,
		Price:           1000,
		GiftAmount:      gift,
		PaymentStatus:   status,
		UserIP:          "10.0.0.1",
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("seed order failed: %v", err)
	}
	return order
}

// mdSign 按网关的参数签名规则生成 sign，测试里模拟网关侧的签名动作
func mdSign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || k == "sign_type" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	sum := md5.Sum([]byte(strings.Join(pairs, "&") + "&key=" + secret))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func signedNotification(tradeNo, tradeStatus string) map[string]string {
	params := map[string]string{
		"app_id":       "2021000000000001",
		"out_trade_no": tradeNo,
		"trade_no":     "2026083022001400001234567890",
		"trade_status": tradeStatus,
		"total_amount": "10.00",
	}
	params["sign"] = mdSign(params, testSecretKey)
	return params
}

func listOutbox(t *testing.T, db *gorm.DB) []*model.OutboxMessage {
	t.Helper()
	var messages []*model.OutboxMessage
	if err := db.Order("id ASC").Find(&messages).Error; err != nil {
		t.Fatalf("list outbox failed: %v", err)
	}
	return messages
}

func TestHandleNotificationSuccessEnqueuesSettlement(t *testing.T) {
	svc, db := setupPaymentTest(t)
	order := seedOrder(t, db, "RCH001", model.OrderKindBalance, model.PaymentStatusCreated, 200)

	params := signedNotification("RCH001", "TRADE_SUCCESS")
	_, ack := svc.HandleNotification(context.Background(), gateway.ProviderAlipay, params, nil)
	if ack != "success" {
		t.Fatalf("ack = %q, want success", ack)
	}

	var got model.RechargeOrder
	db.Where("trade_no = ?", "RCH001").First(&got)
	if got.PaymentStatus != model.PaymentStatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", got.PaymentStatus)
	}
	if got.PaymentChannel != gateway.ProviderAlipay {
		t.Fatalf("payment_channel = %q, want alipay", got.PaymentChannel)
	}
	if got.PaymentResponse == "" {
		t.Fatal("payment_response must store the raw notification")
	}

	// 本金 + 赠送各一条结算任务
	messages := listOutbox(t, db)
	if len(messages) != 2 {
		t.Fatalf("outbox messages = %d, want 2", len(messages))
	}

	var principal, gift model.SettlementJob
	json.Unmarshal([]byte(messages[0].Payload), &principal)
	json.Unmarshal([]byte(messages[1].Payload), &gift)

	if principal.MutationType != model.MutationRecharge ||
		principal.LedgerKind != model.LedgerKindBalance ||
		principal.Amount != 1000 || principal.RelatedID != order.ID {
		t.Fatalf("unexpected principal job: %+v", principal)
	}
	if gift.MutationType != model.MutationRechargeGift ||
		gift.LedgerKind != model.LedgerKindBalanceGift ||
		gift.Amount != 200 || gift.RelatedID != order.ID {
		t.Fatalf("unexpected gift job: %+v", gift)
	}
	if messages[0].Topic != "settlement-jobs" {
		t.Fatalf("topic = %q, want settlement-jobs", messages[0].Topic)
	}
}

func TestHandleNotificationDuplicateIsAckedWithoutNewJobs(t *testing.T) {
	svc, db := setupPaymentTest(t)
	seedOrder(t, db, "RCH002", model.OrderKindBalance, model.PaymentStatusCreated, 200)

	params := signedNotification("RCH002", "TRADE_SUCCESS")
	for i := 0; i < 3; i++ {
		_, ack := svc.HandleNotification(context.Background(), gateway.ProviderAlipay, params, nil)
		if ack != "success" {
			t.Fatalf("delivery %d ack = %q, want success", i, ack)
		}
	}

	// 三次送达只允许产生一对结算任务
	if messages := listOutbox(t, db); len(messages) != 2 {
		t.Fatalf("outbox messages = %d, want 2", len(messages))
	}
}

func TestDuplicateNotificationLogOmitsOrderStatus(t *testing.T) {
	svc, db := setupPaymentTest(t)
	seedOrder(t, db, "RCH010", model.OrderKindBalance, model.PaymentStatusCreated, 0)

	params := signedNotification("RCH010", "TRADE_SUCCESS")
	svc.HandleNotification(context.Background(), gateway.ProviderAlipay, params, nil)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	svc.HandleNotification(context.Background(), gateway.ProviderAlipay, params, nil)

	logged := buf.String()
	if !strings.Contains(logged, "RCH010") {
		t.Fatalf("duplicate delivery not logged: %q", logged)
	}
	// 并发场景下事务外读到的状态可能过期，日志里不能出现
	if strings.Contains(logged, "status=") {
		t.Fatalf("duplicate log must not carry an order status: %q", logged)
	}
}

func TestHandleNotificationConcurrentDeliveriesEnqueueOnce(t *testing.T) {
	svc, db := setupPaymentTest(t)
	seedOrder(t, db, "RCH010", model.OrderKindBalance, model.PaymentStatusCreated, 200)

	params := signedNotification("RCH010", "TRADE_SUCCESS")

	// 并发送达，条件更新保证只有一个能命中行；个别请求可能因
	// 数据库写冲突应答失败，网关会重试，这里用收尾的一次送达模拟
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.HandleNotification(context.Background(), gateway.ProviderAlipay, params, nil)
		}()
	}
	wg.Wait()
	_, ack := svc.HandleNotification(context.Background(), gateway.ProviderAlipay, params, nil)
	if ack != "success" {
		t.Fatalf("final delivery ack = %q, want success", ack)
	}

	var got model.RechargeOrder
	db.Where("trade_no = ?", "RCH010").First(&got)
	if got.PaymentStatus != model.PaymentStatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", got.PaymentStatus)
	}
	if messages := listOutbox(t, db); len(messages) != 2 {
		t.Fatalf("outbox messages = %d, want exactly 2", len(messages))
	}
}

func TestHandleNotificationTamperedSignIsRejected(t *testing.T) {
	svc, db := setupPaymentTest(t)
	seedOrder(t, db, "RCH003", model.OrderKindBalance, model.PaymentStatusCreated, 0)

	params := signedNotification("RCH003", "TRADE_SUCCESS")
	params["total_amount"] = "999999.00" // 签名之后篡改金额

	_, ack := svc.HandleNotification(context.Background(), gateway.ProviderAlipay, params, nil)
	if ack != "failure" {
		t.Fatalf("ack = %q, want failure", ack)
	}

	var got model.RechargeOrder
	db.Where("trade_no = ?", "RCH003").First(&got)
	if got.PaymentStatus != model.PaymentStatusCreated {
		t.Fatalf("tampered notification must not touch order, status = %s", got.PaymentStatus)
	}
	if messages := listOutbox(t, db); len(messages) != 0 {
		t.Fatalf("outbox messages = %d, want 0", len(messages))
	}
}

func TestHandleNotificationFailureOutcome(t *testing.T) {
	svc, db := setupPaymentTest(t)
	seedOrder(t, db, "RCH004", model.OrderKindBalance, model.PaymentStatusCreated, 200)

	params := signedNotification("RCH004", "TRADE_CLOSED")
	_, ack := svc.HandleNotification(context.Background(), gateway.ProviderAlipay, params, nil)
	if ack != "success" {
		t.Fatalf("ack = %q, want success", ack)
	}

	var got model.RechargeOrder
	db.Where("trade_no = ?", "RCH004").First(&got)
	if got.PaymentStatus != model.PaymentStatusFailed {
		t.Fatalf("status = %s, want FAILED", got.PaymentStatus)
	}
	// 失败单不产生结算任务
	if messages := listOutbox(t, db); len(messages) != 0 {
		t.Fatalf("outbox messages = %d, want 0", len(messages))
	}
}

func TestHandleNotificationLateDeliveryOnClosedOrder(t *testing.T) {
	svc, db := setupPaymentTest(t)
	seedOrder(t, db, "RCH005", model.OrderKindBalance, model.PaymentStatusClosed, 0)

	params := signedNotification("RCH005", "TRADE_SUCCESS")
	_, ack := svc.HandleNotification(context.Background(), gateway.ProviderAlipay, params, nil)
	if ack != "success" {
		t.Fatalf("ack = %q, want success", ack)
	}

	var got model.RechargeOrder
	db.Where("trade_no = ?", "RCH005").First(&got)
	if got.PaymentStatus != model.PaymentStatusSuccess {
		t.Fatalf("status = %s, want SUCCESS (late notification on CLOSED)", got.PaymentStatus)
	}
	if messages := listOutbox(t, db); len(messages) != 1 {
		t.Fatalf("outbox messages = %d, want 1 (no gift)", len(messages))
	}
}

func TestHandleNotificationPointOrderSettlesIntoPointLedger(t *testing.T) {
	svc, db := setupPaymentTest(t)
	seedOrder(t, db, "RCH006", model.OrderKindPoint, model.PaymentStatusCreated, 50)

	params := signedNotification("RCH006", "TRADE_SUCCESS")
	_, ack := svc.HandleNotification(context.Background(), gateway.ProviderAlipay, params, nil)
	if ack != "success" {
		t.Fatalf("ack = %q, want success", ack)
	}

	messages := listOutbox(t, db)
	if len(messages) != 2 {
		t.Fatalf("outbox messages = %d, want 2", len(messages))
	}
	for _, msg := range messages {
		var job model.SettlementJob
		json.Unmarshal([]byte(msg.Payload), &job)
		if job.LedgerKind != model.LedgerKindPoint {
			t.Fatalf("point order job kind = %s, want point", job.LedgerKind)
		}
	}
}

// 回调落地 -> 发件箱任务 -> 结算落账 -> 余额查询的完整链路
func TestRechargeSettlesIntoBalances(t *testing.T) {
	svc, db := setupPaymentTest(t)

	order := &model.RechargeOrder{
		TradeNo:         "RCH020",
		UserID:          10001,
		Kind:            model.OrderKindBalance,
		SKU:             "b1",
		RequestedAmount: 100,
		Price:           10,
		GiftAmount:      20,
		PaymentStatus:   model.PaymentStatusCreated,
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("seed order failed: %v", err)
	}

	params := signedNotification("RCH020", "TRADE_SUCCESS")
	if _, ack := svc.HandleNotification(context.Background(), gateway.ProviderAlipay, params, nil); ack != "success" {
		t.Fatalf("ack = %q, want success", ack)
	}

	// 把发件箱里的任务当作 worker 消费掉
	settlement := NewSettlementService(db)
	for _, msg := range listOutbox(t, db) {
		if err := settlement.ProcessRaw(context.Background(), []byte(msg.Payload)); err != nil {
			t.Fatalf("settle failed: %v", err)
		}
	}

	balances, err := NewLedgerService(db).GetBalances(context.Background(), 10001)
	if err != nil {
		t.Fatalf("get balances failed: %v", err)
	}
	if balances.Balance != 100 || balances.BalanceGift != 20 {
		t.Fatalf("balances = %d/%d, want 100/20", balances.Balance, balances.BalanceGift)
	}
}

func TestHandleNotificationUnknownOrderIsRejected(t *testing.T) {
	svc, db := setupPaymentTest(t)

	params := signedNotification("RCH-NOPE", "TRADE_SUCCESS")
	_, ack := svc.HandleNotification(context.Background(), gateway.ProviderAlipay, params, nil)
	if ack != "failure" {
		t.Fatalf("ack = %q, want failure", ack)
	}
	if messages := listOutbox(t, db); len(messages) != 0 {
		t.Fatalf("outbox messages = %d, want 0", len(messages))
	}
}

func TestHandleNotificationUnknownCredentialFallsBack(t *testing.T) {
	svc, db := setupPaymentTest(t)
	seedOrder(t, db, "RCH007", model.OrderKindBalance, model.PaymentStatusCreated, 0)

	params := signedNotification("RCH007", "TRADE_SUCCESS")
	params["app_id"] = "2099999999999999"
	params["sign"] = mdSign(params, testSecretKey)

	// app_id 对不上任何凭证，按渠道报文形态兜底应答失败
	_, ack := svc.HandleNotification(context.Background(), gateway.ProviderAlipay, params, nil)
	if ack != "failure" {
		t.Fatalf("ack = %q, want failure", ack)
	}

	var got model.RechargeOrder
	db.Where("trade_no = ?", "RCH007").First(&got)
	if got.PaymentStatus != model.PaymentStatusCreated {
		t.Fatalf("status = %s, want CREATED", got.PaymentStatus)
	}
}
