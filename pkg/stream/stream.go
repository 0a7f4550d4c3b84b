// Package stream owns the Server-Sent-Events connection that reports terminal
// progress for one transaction. It parses inbound frames, classifies them into
// lifecycle events and detects stream failure. It never reconnects on its own;
// reconciliation after a drop is the state machine's job via a status poll.
package stream

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golocallink/pkg/gateway"
	"golocallink/pkg/logging"
	"golocallink/pkg/mask"
	"golocallink/pkg/metrics"

	"go.uber.org/zap"
)

// Terminal status codes carried in the frames' status_code field.
const (
	StatusConnected  = "connected"
	StatusInProgress = "206"
	StatusApproved   = "200A"
	StatusDeclined   = "200N"
	StatusReset      = "000"
)

// ErrIncompleteApproval is reported when an approval frame arrives without a
// transaction id, so the approval cannot be attributed to this transaction.
var ErrIncompleteApproval = errors.New("stream: approval frame missing uti")

// EventType classifies a stream frame into a lifecycle event.
type EventType int

const (
	// EventAwaitingCard means the terminal is connected and waiting for the card.
	EventAwaitingCard EventType = iota
	// EventInProgress means the transaction is being processed on the terminal.
	EventInProgress
	// EventApproved means the transaction completed approved.
	EventApproved
	// EventDeclined means the transaction was declined or cancelled on the terminal.
	EventDeclined
	// EventStreamClosing is the expected end-of-life reset signal, not an error.
	EventStreamClosing
	// EventUnrecognized is an unknown status code, logged and otherwise ignored.
	EventUnrecognized
	// EventStreamFailed is a transport-level failure; the stream is closed.
	EventStreamFailed
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventAwaitingCard:
		return "awaiting_card"
	case EventInProgress:
		return "in_progress"
	case EventApproved:
		return "approved"
	case EventDeclined:
		return "declined"
	case EventStreamClosing:
		return "stream_closing"
	case EventUnrecognized:
		return "unrecognized"
	case EventStreamFailed:
		return "stream_failed"
	default:
		return "unknown"
	}
}

// Event is one classified lifecycle event from the terminal.
type Event struct {
	Type       EventType
	StatusCode string
	UTI        string
	// Card is populated on EventApproved.
	Card *gateway.CardMeta
	// CardIncomplete marks an approval whose card sub-fields were missing.
	// The approval still stands; the gap is surfaced as a warning.
	CardIncomplete bool
	// Err carries the cause on EventStreamFailed.
	Err error
}

// frame is the wire shape of one SSE data payload.
type frame struct {
	StatusCode        string `json:"status_code"`
	UTI               string `json:"uti"`
	BankIDNo          string `json:"bank_id_no"`
	CardNo4Digit      string `json:"card_no_4digit"`
	AuthCode          string `json:"auth_code"`
	CardholderReceipt string `json:"cardholder_receipt"`
}

// Stream is one open SSE connection keyed by UTI.
// Events are delivered on the Events channel; the channel is closed when the
// stream ends for any reason.
type Stream struct {
	uti     string
	events  chan Event
	body    io.ReadCloser
	cancel  context.CancelFunc
	closed  chan struct{}
	once    sync.Once
	logger  *logging.Logger
	metrics metrics.Collector
}

// Open connects to the gateway's event stream for the given UTI.
// GET {baseUrl}/api/events/{uti}. The connection stays open until a reset
// signal, a transport failure or Close.
func Open(ctx context.Context, config gateway.Config, uti string) (*Stream, error) {
	return OpenWithMetrics(ctx, config, uti, metrics.NoOpCollector{})
}

// OpenWithMetrics connects to the gateway's event stream with a custom
// metrics collector.
func OpenWithMetrics(ctx context.Context, config gateway.Config, uti string, collector metrics.Collector) (*Stream, error) {
	if uti == "" {
		return nil, fmt.Errorf("stream: missing uti")
	}

	logger := logging.Global().Named("stream").With(zap.String("uti", uti))

	transport := http.DefaultTransport.(*http.Transport).Clone()
	// The connection is held open for the whole card interaction; only the
	// dial phase gets a deadline.
	transport.ResponseHeaderTimeout = config.RequestTimeout
	if config.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	streamCtx, cancel := context.WithCancel(context.Background())

	url := strings.TrimRight(config.BaseURL, "/") + "/api/events/" + uti
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stream: build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := &http.Client{Transport: transport}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", gateway.ErrNetwork, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, &gateway.GatewayError{Code: resp.StatusCode}
	}

	s := &Stream{
		uti:     uti,
		events:  make(chan Event, 16),
		body:    resp.Body,
		cancel:  cancel,
		closed:  make(chan struct{}),
		logger:  logger,
		metrics: collector,
	}

	logger.Debug("event stream opened", zap.String("url", url))

	go s.read(resp.Body)

	return s, nil
}

// UTI returns the transaction id this stream is keyed by.
func (s *Stream) UTI() string {
	return s.uti
}

// Events returns the inbound event channel.
// The channel is closed when the stream ends.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Close tears down the connection. It is idempotent and safe to call on an
// already-closed stream.
func (s *Stream) Close() {
	s.once.Do(func() {
		close(s.closed)
		s.cancel()
		s.body.Close()
		s.logger.Debug("event stream closed")
	})
}

// read consumes SSE lines until the connection ends, delivering classified
// events. It runs in its own goroutine; Close obsoletes it.
func (s *Stream) read(body io.ReadCloser) {
	defer close(s.events)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)

	var data strings.Builder
	sawReset := false

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			// Blank line terminates the frame.
			if data.Len() > 0 {
				stop := s.dispatch(data.String())
				data.Reset()
				if stop {
					sawReset = true
				}
			}
			if sawReset {
				s.Close()
				return
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// event:, id:, retry: and comment lines are irrelevant here.
		}
	}

	if sawReset {
		return
	}

	select {
	case <-s.closed:
		// Caller-initiated teardown, not a failure.
		return
	default:
	}

	err := scanner.Err()
	if err == nil {
		err = fmt.Errorf("stream: connection closed by server")
	}
	s.logger.Error("event stream failed", zap.Error(err))
	s.metrics.RecordStreamFailure()
	s.deliver(Event{Type: EventStreamFailed, UTI: s.uti, Err: err})
	s.Close()
}

// dispatch parses and classifies one frame. The returned flag is true when the
// frame was the reset signal and the stream should wind down.
func (s *Stream) dispatch(payload string) bool {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil || raw == nil {
		// Malformed frames are logged and swallowed, never escalated.
		s.logger.Warn("discarding malformed frame", zap.Int("bytes", len(payload)))
		return false
	}
	if _, ok := raw["status_code"]; !ok {
		s.logger.Warn("discarding frame without status_code", zap.Any("frame", mask.Mask(raw)))
		return false
	}

	var f frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		s.logger.Warn("discarding undecodable frame", zap.Any("frame", mask.Mask(raw)))
		return false
	}

	s.metrics.RecordStreamEvent(f.StatusCode)
	s.logger.Debug("frame received", zap.Any("frame", mask.Mask(raw)))

	switch f.StatusCode {
	case StatusConnected:
		s.deliver(Event{Type: EventAwaitingCard, StatusCode: f.StatusCode})

	case StatusInProgress:
		s.deliver(Event{Type: EventInProgress, StatusCode: f.StatusCode})

	case StatusApproved:
		s.dispatchApproval(f)

	case StatusDeclined:
		s.deliver(Event{Type: EventDeclined, StatusCode: f.StatusCode, UTI: f.UTI})

	case StatusReset:
		s.deliver(Event{Type: EventStreamClosing, StatusCode: f.StatusCode})
		return true

	default:
		s.logger.Info("unrecognized status code", zap.String("status_code", f.StatusCode))
		s.deliver(Event{Type: EventUnrecognized, StatusCode: f.StatusCode})
	}

	return false
}

func (s *Stream) dispatchApproval(f frame) {
	if f.UTI == "" {
		// An approval that cannot be attributed to a transaction must not
		// settle an order. Treated as a stream failure so the caller can
		// reconcile via a status poll.
		s.logger.Error("approval frame missing uti")
		s.metrics.RecordStreamFailure()
		s.deliver(Event{Type: EventStreamFailed, UTI: s.uti, Err: ErrIncompleteApproval})
		s.Close()
		return
	}

	if f.UTI != s.uti {
		s.logger.Warn("discarding approval for foreign transaction",
			zap.String("frame_uti", f.UTI),
		)
		return
	}

	incomplete := f.BankIDNo == "" || f.CardNo4Digit == "" || f.AuthCode == ""
	if incomplete {
		// Approved is approved; the gap in card metadata is only a warning.
		s.logger.Warn("approval frame missing card fields")
	}

	s.deliver(Event{
		Type:       EventApproved,
		StatusCode: f.StatusCode,
		UTI:        f.UTI,
		Card: &gateway.CardMeta{
			BIN:         f.BankIDNo,
			Last4:       f.CardNo4Digit,
			AuthCode:    f.AuthCode,
			ReceiptText: f.CardholderReceipt,
		},
		CardIncomplete: incomplete,
	})
}

// deliver hands an event to the consumer without ever blocking the reader
// forever: a consumer gone away after Close must not wedge this goroutine.
func (s *Stream) deliver(ev Event) {
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}
