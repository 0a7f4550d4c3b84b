package txn

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"golocallink/pkg/gateway"
	"golocallink/pkg/logging"
	"golocallink/pkg/metrics"
)

// SettlementSnapshot carries everything the order side needs to record an
// approved payment. Card fields may be empty when the gateway approved the
// transaction without returning card metadata.
type SettlementSnapshot struct {
	UTI         string
	OrderRef    string
	AmountMinor int64
	Card        *gateway.CardMeta
	SettledAt   time.Time
}

// Settler records an approved payment against its order.
type Settler interface {
	Settle(ctx context.Context, snap SettlementSnapshot) error
}

// SettlerFunc adapts a function to the Settler interface.
type SettlerFunc func(ctx context.Context, snap SettlementSnapshot) error

func (f SettlerFunc) Settle(ctx context.Context, snap SettlementSnapshot) error {
	return f(ctx, snap)
}

// SettlementStore persistently records which UTIs have been settled.
// MarkSettled must be atomic: exactly one caller per UTI observes
// created == true, no matter how many race.
type SettlementStore interface {
	MarkSettled(ctx context.Context, snap SettlementSnapshot) (created bool, err error)
}

// IdempotentSettler gates an inner Settler behind a SettlementStore so
// each UTI settles at most once. Duplicate approvals, replayed stream
// events and concurrent ForceStatusCheck calls all collapse onto the
// first settlement.
type IdempotentSettler struct {
	store   SettlementStore
	next    Settler
	logger  *logging.Logger
	metrics metrics.Collector
}

// NewIdempotentSettler wraps next with an idempotency gate backed by
// store. next may be nil when recording the settlement is all the caller
// needs.
func NewIdempotentSettler(store SettlementStore, next Settler) *IdempotentSettler {
	return NewIdempotentSettlerWithMetrics(store, next, metrics.NoOpCollector{})
}

// NewIdempotentSettlerWithMetrics is NewIdempotentSettler with a custom
// metrics collector.
func NewIdempotentSettlerWithMetrics(store SettlementStore, next Settler, collector metrics.Collector) *IdempotentSettler {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &IdempotentSettler{
		store:   store,
		next:    next,
		logger:  logging.Global().Named("settler"),
		metrics: collector,
	}
}

func (s *IdempotentSettler) Settle(ctx context.Context, snap SettlementSnapshot) error {
	if snap.UTI == "" {
		return fmt.Errorf("settle: missing uti")
	}
	if snap.SettledAt.IsZero() {
		snap.SettledAt = time.Now()
	}

	start := time.Now()
	created, err := s.store.MarkSettled(ctx, snap)
	if err != nil {
		s.metrics.RecordSettlement(false, time.Since(start))
		return fmt.Errorf("settle: marking %s: %w", snap.UTI, err)
	}
	if !created {
		s.logger.Info("settlement already recorded, skipping",
			zap.String("uti", snap.UTI),
			zap.String("order_ref", snap.OrderRef),
		)
		s.metrics.RecordSettlement(true, time.Since(start))
		return nil
	}

	if s.next != nil {
		if err := s.next.Settle(ctx, snap); err != nil {
			s.metrics.RecordSettlement(false, time.Since(start))
			return fmt.Errorf("settle: %s: %w", snap.UTI, err)
		}
	}

	s.logger.Info("settlement recorded",
		zap.String("uti", snap.UTI),
		zap.String("order_ref", snap.OrderRef),
		zap.Int64("amount_minor", snap.AmountMinor),
	)
	s.metrics.RecordSettlement(true, time.Since(start))
	return nil
}
