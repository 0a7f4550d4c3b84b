package txn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"golocallink/pkg/gateway"
)

type fakeStore struct {
	mu      sync.Mutex
	settled map[string]SettlementSnapshot
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{settled: make(map[string]SettlementSnapshot)}
}

func (s *fakeStore) MarkSettled(ctx context.Context, snap SettlementSnapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.settled[snap.UTI]; ok {
		return false, nil
	}
	s.settled[snap.UTI] = snap
	return true, nil
}

func TestIdempotentSettler_SettlesOnce(t *testing.T) {
	store := newFakeStore()
	var calls int32
	settler := NewIdempotentSettler(store, SettlerFunc(func(ctx context.Context, snap SettlementSnapshot) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	snap := SettlementSnapshot{
		UTI:         "TX123",
		OrderRef:    "ORDER-1",
		AmountMinor: 1050,
		Card:        &gateway.CardMeta{BIN: "453212", Last4: "9012", AuthCode: "A1B2"},
	}

	for i := 0; i < 3; i++ {
		if err := settler.Settle(context.Background(), snap); err != nil {
			t.Fatalf("Settle() attempt %d error: %v", i, err)
		}
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("inner settler called %d times, want 1", got)
	}
}

func TestIdempotentSettler_ConcurrentSettles(t *testing.T) {
	store := newFakeStore()
	var calls int32
	settler := NewIdempotentSettler(store, SettlerFunc(func(ctx context.Context, snap SettlementSnapshot) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	snap := SettlementSnapshot{UTI: "TX123", OrderRef: "ORDER-1", AmountMinor: 1050}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := settler.Settle(context.Background(), snap); err != nil {
				t.Errorf("Settle() error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("inner settler called %d times, want 1", got)
	}
}

func TestIdempotentSettler_DistinctUTIs(t *testing.T) {
	store := newFakeStore()
	var calls int32
	settler := NewIdempotentSettler(store, SettlerFunc(func(ctx context.Context, snap SettlementSnapshot) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	for _, uti := range []string{"TX1", "TX2", "TX3"} {
		if err := settler.Settle(context.Background(), SettlementSnapshot{UTI: uti}); err != nil {
			t.Fatalf("Settle(%s) error: %v", uti, err)
		}
	}

	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("inner settler called %d times, want 3", got)
	}
}

func TestIdempotentSettler_StoreError(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("store down")
	var calls int32
	settler := NewIdempotentSettler(store, SettlerFunc(func(ctx context.Context, snap SettlementSnapshot) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	if err := settler.Settle(context.Background(), SettlementSnapshot{UTI: "TX123"}); err == nil {
		t.Error("Settle() succeeded with a failing store")
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("inner settler called %d times, want 0", got)
	}
}

func TestIdempotentSettler_InnerError(t *testing.T) {
	store := newFakeStore()
	wantErr := errors.New("ledger write failed")
	settler := NewIdempotentSettler(store, SettlerFunc(func(ctx context.Context, snap SettlementSnapshot) error {
		return wantErr
	}))

	err := settler.Settle(context.Background(), SettlementSnapshot{UTI: "TX123"})
	if !errors.Is(err, wantErr) {
		t.Errorf("Settle() error = %v, want %v", err, wantErr)
	}
}

func TestIdempotentSettler_MissingUTI(t *testing.T) {
	settler := NewIdempotentSettler(newFakeStore(), nil)
	if err := settler.Settle(context.Background(), SettlementSnapshot{}); err == nil {
		t.Error("Settle() without uti succeeded")
	}
}

func TestIdempotentSettler_NilInner(t *testing.T) {
	store := newFakeStore()
	settler := NewIdempotentSettler(store, nil)
	if err := settler.Settle(context.Background(), SettlementSnapshot{UTI: "TX123"}); err != nil {
		t.Fatalf("Settle() error: %v", err)
	}
	if _, ok := store.settled["TX123"]; !ok {
		t.Error("settlement not recorded")
	}
}
