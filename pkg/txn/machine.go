package txn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"golocallink/pkg/gateway"
	"golocallink/pkg/logging"
	"golocallink/pkg/metrics"
	"golocallink/pkg/money"
	"golocallink/pkg/stream"
)

var (
	// ErrTransactionInProgress is returned by Initiate while another
	// transaction is active or an outcome has not been acknowledged.
	ErrTransactionInProgress = errors.New("txn: transaction already in progress")

	// ErrNoActiveTransaction is returned by Cancel when there is nothing
	// to cancel.
	ErrNoActiveTransaction = errors.New("txn: no active transaction")

	// ErrNoTransaction is returned by ForceStatusCheck when no UTI is held.
	ErrNoTransaction = errors.New("txn: no transaction to check")

	// ErrNotTerminal is returned by Acknowledge while the transaction can
	// still move.
	ErrNotTerminal = errors.New("txn: transaction has not reached an outcome")
)

// Config configures a Machine.
type Config struct {
	// Gateway is the terminal gateway configuration.
	Gateway gateway.Config

	// Settler records approved payments. Wrap it in an IdempotentSettler
	// unless the implementation is idempotent per UTI on its own.
	Settler Settler

	// Metrics receives instrumentation events. Nil means no-op.
	Metrics metrics.Collector

	// OnStatusChanged fires after every lifecycle transition. Called
	// without internal locks held; safe to call back into the Machine.
	OnStatusChanged func(from, to Status)

	// OnApproved fires once per approved transaction, after settlement
	// has been attempted.
	OnApproved func(snap SettlementSnapshot)

	// OnFailed fires when a transaction reaches StatusFailed.
	OnFailed func(err error)
}

// Snapshot is a point-in-time view of the machine for status reporting.
// Card fields are raw; mask them before rendering or logging.
type Snapshot struct {
	Status      Status
	UTI         string
	OrderRef    string
	AmountMinor int64
	Card        *gateway.CardMeta
	LastError   string
}

// Machine drives one terminal payment at a time through its lifecycle:
// initiate the sale, follow the event stream, settle on approval. Every
// method is safe for concurrent use.
//
// A transaction that reaches StatusFailed keeps its UTI so the real
// outcome can still be recovered with ForceStatusCheck. Terminal states
// are sticky: once the first outcome lands, later gateway events for the
// same transaction are ignored.
type Machine struct {
	config  Config
	codec   money.Codec
	logger  *logging.Logger
	metrics metrics.Collector

	sf singleflight.Group

	mu          sync.Mutex
	client      *gateway.Client
	status      Status
	gen         uint64
	uti         string
	orderRef    string
	amountMinor int64
	card        *gateway.CardMeta
	stream      *stream.Stream
	lastErr     error
	notifies    []func()
}

// NewMachine creates a payment machine. The gateway configuration is
// validated on first use, so a machine for a disabled terminal can be
// constructed and will report ErrDisabled from Initiate.
func NewMachine(config Config) *Machine {
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}
	return &Machine{
		config:  config,
		logger:  logging.Global().Named("txn"),
		metrics: config.Metrics,
	}
}

// Status returns the current lifecycle state.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// UTI returns the identifier of the current transaction, or "" when idle.
func (m *Machine) UTI() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uti
}

// Snapshot returns a point-in-time view of the machine.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{
		Status:      m.status,
		UTI:         m.uti,
		OrderRef:    m.orderRef,
		AmountMinor: m.amountMinor,
	}
	if m.card != nil {
		card := *m.card
		snap.Card = &card
	}
	if m.lastErr != nil {
		snap.LastError = m.lastErr.Error()
	}
	return snap
}

// Initiate starts a sale for the given order reference and decimal amount.
// It validates the amount before touching the gateway, so an out-of-range
// amount never reaches the terminal. On success it returns the UTI and the
// machine follows the event stream in the background.
//
// If the stream cannot be opened after the sale was registered, the
// transaction moves to StatusFailed with the UTI retained and the error is
// returned alongside the UTI: ForceStatusCheck can still recover the
// outcome.
func (m *Machine) Initiate(ctx context.Context, orderRef string, amount float64) (string, error) {
	if err := m.config.Gateway.Validate(); err != nil {
		return "", err
	}

	amountMinor, err := m.codec.ToMinorUnits(amount, m.config.Gateway.DecimalPlaces)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.status != StatusIdle {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrTransactionInProgress, m.status)
	}
	if m.client == nil {
		client, err := gateway.NewClientWithMetrics(m.config.Gateway, m.metrics)
		if err != nil {
			m.mu.Unlock()
			return "", err
		}
		m.client = client
	}
	client := m.client
	m.gen++
	gen := m.gen
	m.orderRef = orderRef
	m.amountMinor = amountMinor
	m.card = nil
	m.lastErr = nil
	m.setStatusLocked(StatusInitiating)
	m.mu.Unlock()
	m.notify()

	result, err := client.Initiate(ctx, amountMinor, orderRef)
	if err != nil {
		// Nothing was registered with the gateway, so fall back to idle
		// rather than demanding an acknowledge before the next attempt.
		m.mu.Lock()
		if m.gen == gen {
			m.lastErr = err
			m.setStatusLocked(StatusIdle)
		}
		m.mu.Unlock()
		m.notify()
		return "", err
	}

	s, err := stream.OpenWithMetrics(ctx, m.config.Gateway, result.UTI, m.metrics)
	if err != nil {
		err = fmt.Errorf("opening event stream for %s: %w", result.UTI, err)
		m.mu.Lock()
		if m.gen == gen {
			m.uti = result.UTI
			m.failLocked(err)
		}
		m.mu.Unlock()
		m.notify()
		return result.UTI, err
	}

	m.mu.Lock()
	if m.gen != gen {
		// Cancelled while the sale request was in flight.
		m.mu.Unlock()
		s.Close()
		return result.UTI, ErrNoActiveTransaction
	}
	m.uti = result.UTI
	m.stream = s
	// The terminal is live as soon as the stream is open; the "connected"
	// frame only confirms it.
	m.setStatusLocked(StatusAwaitingCard)
	m.mu.Unlock()
	m.notify()

	go m.follow(s, gen)

	return result.UTI, nil
}

// follow consumes the event stream until it closes, translating gateway
// events into lifecycle transitions. Events from a superseded generation
// are discarded.
func (m *Machine) follow(s *stream.Stream, gen uint64) {
	for ev := range s.Events() {
		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			s.Close()
			return
		}

		switch ev.Type {
		case stream.EventAwaitingCard:
			if m.status.CanTransitionTo(StatusAwaitingCard) {
				m.setStatusLocked(StatusAwaitingCard)
			}
			m.mu.Unlock()

		case stream.EventInProgress:
			if m.status.CanTransitionTo(StatusInProgress) {
				m.setStatusLocked(StatusInProgress)
			}
			m.mu.Unlock()

		case stream.EventApproved:
			m.approveLocked(ev.Card)

		case stream.EventDeclined:
			var declinedStream *stream.Stream
			if !m.status.IsTerminal() {
				m.setStatusLocked(StatusDeclined)
				declinedStream = m.stream
				m.stream = nil
			}
			m.mu.Unlock()
			if declinedStream != nil {
				declinedStream.Close()
			}

		case stream.EventStreamFailed:
			if !m.status.IsTerminal() {
				m.failLocked(ev.Err)
			}
			m.mu.Unlock()

		default:
			// EventStreamClosing and EventUnrecognized carry no transition.
			m.mu.Unlock()
		}
		m.notify()
	}

	// Stream closed. If no outcome landed the transaction failed; the UTI
	// stays in place for ForceStatusCheck.
	m.mu.Lock()
	if m.gen == gen && !m.status.IsTerminal() {
		m.failLocked(errors.New("txn: event stream closed before an outcome"))
	}
	if m.gen == gen {
		m.stream = nil
	}
	m.mu.Unlock()
	m.notify()
}

// approveLocked handles an approval event. Called with mu held; releases it.
// Settlement runs outside the lock and a settlement failure never reverts
// the approval: the customer has been charged.
func (m *Machine) approveLocked(card *gateway.CardMeta) {
	if !m.status.CanTransitionTo(StatusApproved) {
		// Duplicate approval, or the transaction was already resolved.
		m.mu.Unlock()
		return
	}
	if card != nil {
		c := *card
		m.card = &c
	}
	m.setStatusLocked(StatusApproved)
	snap := SettlementSnapshot{
		UTI:         m.uti,
		OrderRef:    m.orderRef,
		AmountMinor: m.amountMinor,
		Card:        m.card,
	}
	s := m.stream
	m.stream = nil
	m.mu.Unlock()

	// The outcome is final; the stream has nothing more to say.
	if s != nil {
		s.Close()
	}
	m.settle(snap)
}

func (m *Machine) settle(snap SettlementSnapshot) {
	if m.config.Settler != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.config.Settler.Settle(ctx, snap); err != nil {
			m.logger.Error("settlement failed; approval stands",
				zap.String("uti", snap.UTI),
				zap.String("order_ref", snap.OrderRef),
				zap.Error(err),
			)
		}
	}
	if m.config.OnApproved != nil {
		m.mu.Lock()
		m.notifies = append(m.notifies, func() { m.config.OnApproved(snap) })
		m.mu.Unlock()
	}
}

// Cancel abandons the current transaction. The event stream is torn down
// first so a late approval cannot race the cancellation, then the gateway
// cancel is issued best-effort: the terminal may already be past the point
// of no return, and the machine moves to StatusCancelled regardless.
func (m *Machine) Cancel(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusIdle || m.status.IsTerminal() {
		m.mu.Unlock()
		return ErrNoActiveTransaction
	}
	s := m.stream
	client := m.client
	uti := m.uti
	m.gen++
	m.stream = nil
	m.uti = ""
	m.card = nil
	m.setStatusLocked(StatusCancelled)
	m.mu.Unlock()
	m.notify()

	if s != nil {
		s.Close()
	}
	if client != nil {
		if err := client.Cancel(ctx); err != nil {
			m.logger.Warn("gateway cancel failed",
				zap.String("uti", uti),
				zap.Error(err),
			)
		}
	}
	return nil
}

// ForceStatusCheck polls the gateway for the real outcome of the current
// transaction. It is the recovery path for StatusFailed, but works from
// any state that holds a UTI. Concurrent checks for the same UTI collapse
// into a single poll.
//
// An approved outcome settles the payment (idempotently) and moves the
// machine to StatusApproved; a declined outcome moves it to
// StatusDeclined. A pending or unknown outcome leaves the state untouched
// and is reported to the caller through the returned Outcome.
func (m *Machine) ForceStatusCheck(ctx context.Context) (*gateway.Outcome, error) {
	m.mu.Lock()
	uti := m.uti
	gen := m.gen
	client := m.client
	m.mu.Unlock()

	if uti == "" {
		return nil, ErrNoTransaction
	}
	if client == nil {
		return nil, ErrNoTransaction
	}

	v, err, _ := m.sf.Do(uti, func() (interface{}, error) {
		return client.PollStatus(ctx, uti)
	})
	if err != nil {
		return nil, err
	}
	outcome := v.(*gateway.Outcome)

	switch outcome.State {
	case gateway.OutcomeApproved:
		m.mu.Lock()
		if m.gen != gen || m.uti != uti {
			m.mu.Unlock()
			return outcome, nil
		}
		if m.status == StatusApproved {
			m.mu.Unlock()
			return outcome, nil
		}
		if !m.status.CanTransitionTo(StatusApproved) {
			m.mu.Unlock()
			return outcome, nil
		}
		m.approveLocked(outcome.Card)
		m.notify()

	case gateway.OutcomeDeclined:
		m.mu.Lock()
		if m.gen == gen && m.uti == uti && m.status.CanTransitionTo(StatusDeclined) {
			s := m.stream
			m.stream = nil
			m.setStatusLocked(StatusDeclined)
			m.mu.Unlock()
			m.notify()
			if s != nil {
				s.Close()
			}
		} else {
			m.mu.Unlock()
		}

	default:
		m.logger.Info("status check left transaction unchanged",
			zap.String("uti", uti),
			zap.String("outcome", outcome.State.String()),
		)
	}

	return outcome, nil
}

// Acknowledge clears a finished transaction and returns the machine to
// StatusIdle so the next sale can start.
func (m *Machine) Acknowledge() error {
	m.mu.Lock()
	if !m.status.IsTerminal() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotTerminal, m.status)
	}
	m.gen++
	m.uti = ""
	m.orderRef = ""
	m.amountMinor = 0
	m.card = nil
	m.lastErr = nil
	s := m.stream
	m.stream = nil
	m.setStatusLocked(StatusIdle)
	m.mu.Unlock()
	m.notify()
	if s != nil {
		s.Close()
	}
	return nil
}

// failLocked moves the transaction to StatusFailed, keeping the UTI.
// Called with mu held.
func (m *Machine) failLocked(err error) {
	m.lastErr = err
	m.setStatusLocked(StatusFailed)
	if m.config.OnFailed != nil {
		m.notifies = append(m.notifies, func() { m.config.OnFailed(err) })
	}
}

// setStatusLocked records a transition. Called with mu held; callbacks are
// queued and run by notify after the lock is released.
func (m *Machine) setStatusLocked(to Status) {
	from := m.status
	if from == to {
		return
	}
	m.status = to
	m.logger.Info("transaction status changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("uti", m.uti),
		zap.String("order_ref", m.orderRef),
	)
	if to.IsTerminal() {
		m.metrics.RecordTransactionOutcome(to.String())
	}
	if m.config.OnStatusChanged != nil {
		m.notifies = append(m.notifies, func() { m.config.OnStatusChanged(from, to) })
	}
}

// notify runs queued callbacks outside the lock, in order.
func (m *Machine) notify() {
	for {
		m.mu.Lock()
		if len(m.notifies) == 0 {
			m.mu.Unlock()
			return
		}
		fn := m.notifies[0]
		m.notifies = m.notifies[1:]
		m.mu.Unlock()
		fn()
	}
}
