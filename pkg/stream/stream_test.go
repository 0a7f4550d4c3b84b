package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golocallink/pkg/gateway"
)

func testConfig(baseURL string) gateway.Config {
	config := gateway.DefaultConfig()
	config.BaseURL = baseURL
	config.TerminalID = "TERM01"
	config.InsecureSkipVerify = false
	return config
}

// sseServer serves the given frames as SSE data payloads and then returns,
// which drops the connection. If hold is non-nil the handler keeps the
// connection open until hold is closed.
func sseServer(t *testing.T, frames []string, hold chan struct{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		flusher := w.(http.Flusher)
		// Send headers up front so Open sees a response even when no
		// frames follow.
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for _, frame := range frames {
			fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
		}

		if hold != nil {
			select {
			case <-hold:
			case <-r.Context().Done():
			}
		}
	}))
}

func collect(t *testing.T, s *Stream, n int) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for len(events) < n {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(events), n)
		}
	}
	return events
}

func TestStream_ClassifiesLifecycle(t *testing.T) {
	frames := []string{
		`{"status_code": "connected"}`,
		`{"status_code": "206"}`,
		`{"status_code": "200N"}`,
		`{"status_code": "000"}`,
	}
	server := sseServer(t, frames, nil)
	defer server.Close()

	s, err := Open(context.Background(), testConfig(server.URL), "TX123")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	events := collect(t, s, 4)

	want := []EventType{EventAwaitingCard, EventInProgress, EventDeclined, EventStreamClosing}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Errorf("event %d = %v, want %v", i, ev.Type, want[i])
		}
	}
}

func TestStream_Approval(t *testing.T) {
	frames := []string{
		`{"status_code": "200A", "uti": "TX123", "bank_id_no": "123456", "card_no_4digit": "9012", "auth_code": "A1B2", "cardholder_receipt": "RECEIPT"}`,
	}
	server := sseServer(t, frames, make(chan struct{}))
	defer server.Close()

	s, err := Open(context.Background(), testConfig(server.URL), "TX123")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	events := collect(t, s, 1)
	ev := events[0]

	if ev.Type != EventApproved {
		t.Fatalf("Type = %v, want EventApproved", ev.Type)
	}
	if ev.UTI != "TX123" {
		t.Errorf("UTI = %q, want TX123", ev.UTI)
	}
	if ev.CardIncomplete {
		t.Error("CardIncomplete = true for full card data")
	}
	if ev.Card == nil {
		t.Fatal("Card = nil")
	}
	if ev.Card.BIN != "123456" || ev.Card.Last4 != "9012" ||
		ev.Card.AuthCode != "A1B2" || ev.Card.ReceiptText != "RECEIPT" {
		t.Errorf("Card = %+v", *ev.Card)
	}
}

func TestStream_ApprovalMissingCardFields(t *testing.T) {
	frames := []string{
		`{"status_code": "200A", "uti": "TX123"}`,
	}
	server := sseServer(t, frames, make(chan struct{}))
	defer server.Close()

	s, err := Open(context.Background(), testConfig(server.URL), "TX123")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	events := collect(t, s, 1)
	ev := events[0]

	if ev.Type != EventApproved {
		t.Fatalf("Type = %v, want EventApproved (approval stands without card data)", ev.Type)
	}
	if !ev.CardIncomplete {
		t.Error("CardIncomplete = false, want true")
	}
}

func TestStream_ApprovalMissingUTI(t *testing.T) {
	frames := []string{
		`{"status_code": "200A", "bank_id_no": "123456"}`,
	}
	server := sseServer(t, frames, make(chan struct{}))
	defer server.Close()

	s, err := Open(context.Background(), testConfig(server.URL), "TX123")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	events := collect(t, s, 1)
	ev := events[0]

	if ev.Type != EventStreamFailed {
		t.Fatalf("Type = %v, want EventStreamFailed", ev.Type)
	}
	if !errors.Is(ev.Err, ErrIncompleteApproval) {
		t.Errorf("Err = %v, want ErrIncompleteApproval", ev.Err)
	}
}

func TestStream_ApprovalForeignUTI(t *testing.T) {
	frames := []string{
		`{"status_code": "200A", "uti": "OTHER", "bank_id_no": "123456", "card_no_4digit": "9012", "auth_code": "A1B2"}`,
		`{"status_code": "206"}`,
	}
	server := sseServer(t, frames, make(chan struct{}))
	defer server.Close()

	s, err := Open(context.Background(), testConfig(server.URL), "TX123")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	// The foreign approval is discarded; the next event through is the 206.
	events := collect(t, s, 1)
	if events[0].Type != EventInProgress {
		t.Errorf("Type = %v, want EventInProgress", events[0].Type)
	}
}

func TestStream_MalformedFramesSwallowed(t *testing.T) {
	frames := []string{
		`not json at all`,
		`{"no_status": true}`,
		`{"status_code": "206"}`,
	}
	server := sseServer(t, frames, make(chan struct{}))
	defer server.Close()

	s, err := Open(context.Background(), testConfig(server.URL), "TX123")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	events := collect(t, s, 1)
	if events[0].Type != EventInProgress {
		t.Errorf("Type = %v, want EventInProgress after malformed frames", events[0].Type)
	}
}

func TestStream_UnrecognizedCode(t *testing.T) {
	frames := []string{
		`{"status_code": "999"}`,
	}
	server := sseServer(t, frames, make(chan struct{}))
	defer server.Close()

	s, err := Open(context.Background(), testConfig(server.URL), "TX123")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	events := collect(t, s, 1)
	if events[0].Type != EventUnrecognized {
		t.Errorf("Type = %v, want EventUnrecognized", events[0].Type)
	}
	if events[0].StatusCode != "999" {
		t.Errorf("StatusCode = %q, want 999", events[0].StatusCode)
	}
}

func TestStream_TransportFailure(t *testing.T) {
	// Server drops the connection after one frame with no reset signal.
	frames := []string{
		`{"status_code": "connected"}`,
	}
	server := sseServer(t, frames, nil)
	defer server.Close()

	s, err := Open(context.Background(), testConfig(server.URL), "TX123")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	events := collect(t, s, 2)
	if events[0].Type != EventAwaitingCard {
		t.Errorf("event 0 = %v, want EventAwaitingCard", events[0].Type)
	}
	if events[1].Type != EventStreamFailed {
		t.Errorf("event 1 = %v, want EventStreamFailed", events[1].Type)
	}
	if events[1].Err == nil {
		t.Error("StreamFailed with nil Err")
	}
}

func TestStream_ResetClosesChannel(t *testing.T) {
	frames := []string{
		`{"status_code": "000"}`,
	}
	server := sseServer(t, frames, make(chan struct{}))
	defer server.Close()

	s, err := Open(context.Background(), testConfig(server.URL), "TX123")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	events := collect(t, s, 1)
	if events[0].Type != EventStreamClosing {
		t.Fatalf("Type = %v, want EventStreamClosing", events[0].Type)
	}

	// After the reset signal the channel closes without a failure event.
	select {
	case ev, ok := <-s.Events():
		if ok {
			t.Errorf("unexpected event after reset: %v", ev.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed after reset")
	}
}

func TestStream_CloseIdempotent(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	server := sseServer(t, nil, hold)
	defer server.Close()

	s, err := Open(context.Background(), testConfig(server.URL), "TX123")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	s.Close()
	s.Close()
	s.Close()

	// Caller-initiated teardown must not surface as a stream failure.
	select {
	case ev, ok := <-s.Events():
		if ok && ev.Type == EventStreamFailed {
			t.Error("Close() produced EventStreamFailed")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed after Close()")
	}
}

func TestStream_OpenRejectsNonOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := Open(context.Background(), testConfig(server.URL), "TX123")
	var ge *gateway.GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("Open() error = %v, want *GatewayError", err)
	}
	if ge.Code != http.StatusNotFound {
		t.Errorf("Code = %d, want 404", ge.Code)
	}
}

func TestStream_OpenRequiresUTI(t *testing.T) {
	if _, err := Open(context.Background(), testConfig("http://127.0.0.1:1"), ""); err == nil {
		t.Error("Open() with empty uti succeeded")
	}
}
