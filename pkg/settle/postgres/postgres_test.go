package postgres

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"golocallink/pkg/gateway"
	"golocallink/pkg/txn"
)

func setupTestLedger(t *testing.T) *Ledger {
	t.Helper()

	l, err := NewLedger(DefaultConfig())
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	return l
}

func TestLedger_MarkSettled(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()

	uti := "TX-" + uuid.NewString()
	snap := txn.SettlementSnapshot{
		UTI:         uti,
		OrderRef:    "ORDER-1",
		AmountMinor: 1050,
		Card:        &gateway.CardMeta{BIN: "453212", Last4: "9012", AuthCode: "A1B2"},
	}

	created, err := l.MarkSettled(ctx, snap)
	if err != nil {
		t.Fatalf("MarkSettled() error: %v", err)
	}
	if !created {
		t.Error("first MarkSettled() created = false, want true")
	}

	created, err = l.MarkSettled(ctx, txn.SettlementSnapshot{UTI: uti, OrderRef: "ORDER-other"})
	if err != nil {
		t.Fatalf("MarkSettled() error: %v", err)
	}
	if created {
		t.Error("duplicate MarkSettled() created = true, want false")
	}

	got, ok, err := l.Get(ctx, uti)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !ok {
		t.Fatal("Get() not found")
	}
	if got.OrderRef != "ORDER-1" || got.AmountMinor != 1050 {
		t.Errorf("Get() = %+v, want the first writer's record", got)
	}
	if got.Card == nil || got.Card.Last4 != "9012" {
		t.Errorf("Get() card = %+v", got.Card)
	}
}

func TestLedger_CardlessSettlement(t *testing.T) {
	l := setupTestLedger(t)
	ctx := context.Background()

	uti := "TX-" + uuid.NewString()
	if _, err := l.MarkSettled(ctx, txn.SettlementSnapshot{UTI: uti, OrderRef: "ORDER-1"}); err != nil {
		t.Fatalf("MarkSettled() error: %v", err)
	}

	got, ok, err := l.Get(ctx, uti)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !ok {
		t.Fatal("Get() not found")
	}
	if got.Card != nil {
		t.Errorf("Card = %+v, want nil for a cardless settlement", got.Card)
	}
}
