package model

import "testing"

func TestStatusTransitionTable(t *testing.T) {
	allowed := []struct {
		from, to PaymentStatus
	}{
		{PaymentStatusCreated, PaymentStatusSuccess},
		{PaymentStatusCreated, PaymentStatusFailed},
		{PaymentStatusCreated, PaymentStatusClosed},
		{PaymentStatusClosed, PaymentStatusSuccess},
		{PaymentStatusClosed, PaymentStatusFailed},
		{PaymentStatusSuccess, PaymentStatusRefunding},
		{PaymentStatusRefunding, PaymentStatusPartialRefunded},
		{PaymentStatusRefunding, PaymentStatusFullRefunded},
		{PaymentStatusPartialRefunded, PaymentStatusRefunding},
	}
	for _, tc := range allowed {
		if !CanTransitionTo(tc.from, tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	denied := []struct {
		from, to PaymentStatus
	}{
		{PaymentStatusCreated, PaymentStatusRefunding},
		{PaymentStatusCreated, PaymentStatusPartialRefunded},
		{PaymentStatusSuccess, PaymentStatusCreated},
		{PaymentStatusSuccess, PaymentStatusClosed},
		{PaymentStatusFailed, PaymentStatusSuccess},
		{PaymentStatusFailed, PaymentStatusCreated},
		{PaymentStatusFullRefunded, PaymentStatusRefunding},
		{PaymentStatusClosed, PaymentStatusClosed},
		{PaymentStatusRefunding, PaymentStatusSuccess},
	}
	for _, tc := range denied {
		if CanTransitionTo(tc.from, tc.to) {
			t.Errorf("%s -> %s must be rejected", tc.from, tc.to)
		}
	}
}

func TestTerminalStatesHaveNoOutgoingEdges(t *testing.T) {
	for _, terminal := range []PaymentStatus{PaymentStatusFailed, PaymentStatusFullRefunded} {
		if edges, ok := ValidStatusTransitions[terminal]; ok && len(edges) > 0 {
			t.Errorf("terminal status %s has outgoing edges %v", terminal, edges)
		}
	}
}

func TestMutationSignCoversAllTypes(t *testing.T) {
	credits := []string{
		MutationRecharge, MutationRechargeGift, MutationWithdrawRefund,
		MutationPayRefund, MutationAdminAdd, MutationCheckin, MutationPullNew,
	}
	debits := []string{
		MutationRechargeRefund, MutationWithdraw, MutationPay, MutationAdminDeduct,
	}

	for _, mt := range credits {
		if MutationSign[mt] != 1 {
			t.Errorf("sign of %s = %d, want +1", mt, MutationSign[mt])
		}
	}
	for _, mt := range debits {
		if MutationSign[mt] != -1 {
			t.Errorf("sign of %s = %d, want -1", mt, MutationSign[mt])
		}
	}

	if ValidMutationType("bonus") {
		t.Error("unknown mutation type accepted")
	}
}

func TestLedgerKindFor(t *testing.T) {
	balanceOrder := &RechargeOrder{Kind: OrderKindBalance}
	if balanceOrder.LedgerKindFor(false) != LedgerKindBalance {
		t.Error("balance principal must settle into balance ledger")
	}
	if balanceOrder.LedgerKindFor(true) != LedgerKindBalanceGift {
		t.Error("balance gift must settle into gift ledger")
	}

	pointOrder := &RechargeOrder{Kind: OrderKindPoint}
	if pointOrder.LedgerKindFor(false) != LedgerKindPoint || pointOrder.LedgerKindFor(true) != LedgerKindPoint {
		t.Error("point order settles into point ledger regardless of gift")
	}
}

func TestSettlementJobIdempotencySensitivity(t *testing.T) {
	sensitive := []string{MutationRecharge, MutationRechargeGift}
	for _, mt := range sensitive {
		job := &SettlementJob{MutationType: mt}
		if !job.IdempotencySensitive() {
			t.Errorf("%s must be deduped on the consumer side", mt)
		}
	}
	for _, mt := range []string{MutationCheckin, MutationAdminAdd, MutationRechargeRefund} {
		job := &SettlementJob{MutationType: mt}
		if job.IdempotencySensitive() {
			t.Errorf("%s must not be deduped on the consumer side", mt)
		}
	}
}
