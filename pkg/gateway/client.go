package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golocallink/pkg/logging"
	"golocallink/pkg/mask"
	"golocallink/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// InitiateResult is the gateway's answer to a sale initiation.
type InitiateResult struct {
	// UTI is the gateway-issued Universal Transaction Identifier
	UTI string
	// AmountEcho is the minor-unit amount the gateway registered
	AmountEcho int64
	// TransType is the gateway's transaction type label (e.g. "SALE")
	TransType string
}

// CardMeta is the card metadata reported on an approved transaction.
type CardMeta struct {
	// BIN is the first six PAN digits
	BIN string
	// Last4 is the last four PAN digits
	Last4 string
	// AuthCode is the authorisation code
	AuthCode string
	// ReceiptText is the cardholder receipt, when the gateway supplied one
	ReceiptText string
}

// OutcomeState classifies a status-poll result.
type OutcomeState int

const (
	// OutcomePending means the transaction is still in progress on the terminal.
	OutcomePending OutcomeState = iota
	// OutcomeApproved means the transaction completed approved.
	OutcomeApproved
	// OutcomeDeclined means the transaction was declined or cancelled on the terminal.
	OutcomeDeclined
	// OutcomeUnknown means the response carried neither an in-progress code nor
	// an explicit approved/cancelled flag.
	OutcomeUnknown
)

// String returns the string representation of the outcome state.
func (s OutcomeState) String() string {
	switch s {
	case OutcomePending:
		return "pending"
	case OutcomeApproved:
		return "approved"
	case OutcomeDeclined:
		return "declined"
	case OutcomeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Outcome is the result of a status poll.
// Card is populated only when State is OutcomeApproved; Raw carries the
// undecoded response only when State is OutcomeUnknown.
type Outcome struct {
	State OutcomeState
	UTI   string
	Card  *CardMeta
	Raw   map[string]interface{}
}

// Client issues the HTTP calls to the GoLocalLink terminal gateway: initiate
// transaction, cancel transaction and poll transaction status.
//
// Initiation goes through a circuit breaker so a dead gateway fails fast at
// the till instead of hanging every sale for the full timeout. Cancel and
// status polls bypass the breaker: both are recovery paths and must stay
// available exactly when the gateway is misbehaving.
type Client struct {
	config  Config
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	logger  *logging.Logger
	metrics metrics.Collector
}

// NewClient creates a new terminal gateway client.
// It fails with ErrDisabled / ErrNotConfigured when the configuration is not
// usable.
func NewClient(config Config) (*Client, error) {
	return NewClientWithMetrics(config, metrics.NoOpCollector{})
}

// NewClientWithMetrics creates a new terminal gateway client with a custom
// metrics collector.
func NewClientWithMetrics(config Config, collector metrics.Collector) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := logging.Global().Named("gateway")

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.InsecureSkipVerify {
		// GoLocalLink boxes ship with self-signed certificates.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	c := &Client{
		config:  config,
		http:    &http.Client{Transport: transport},
		logger:  logger,
		metrics: collector,
	}

	settings := gobreaker.Settings{
		Name: "golocallink-initiate",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)

			var state metrics.CircuitState
			switch to {
			case gobreaker.StateClosed:
				state = metrics.CircuitClosed
			case gobreaker.StateHalfOpen:
				state = metrics.CircuitHalfOpen
			case gobreaker.StateOpen:
				state = metrics.CircuitOpen
			}
			c.metrics.RecordCircuitState(state)
		},
	}
	c.cb = gobreaker.NewCircuitBreaker(settings)

	return c, nil
}

// Config returns the client's configuration.
func (c *Client) Config() Config {
	return c.config
}

type initiateRequest struct {
	TermID string `json:"termid"`
	AmtTxn int64  `json:"amttxn"`
	Ref    string `json:"ref"`
}

type initiateResponse struct {
	UTI         string `json:"uti"`
	AmountTrans int64  `json:"amountTrans"`
	TransType   string `json:"transType"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Initiate starts a sale transaction on the terminal.
// POST {baseUrl}/api/sse/txn/sale with {termid, amttxn, ref}.
// Any 2xx response with a well-formed uti string is a success; the original
// server answers 201.
func (c *Client) Initiate(ctx context.Context, amountMinorUnits int64, orderRef string) (*InitiateResult, error) {
	start := time.Now()

	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.doInitiate(ctx, amountMinorUnits, orderRef)
	})

	duration := time.Since(start)
	c.metrics.RecordInitiate(err == nil, duration)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warn("initiation rejected - circuit breaker open",
				zap.String("order_ref", orderRef),
			)
			return nil, ErrCircuitOpen
		}
		c.logger.Error("transaction initiation failed",
			zap.String("order_ref", orderRef),
			zap.Int64("amttxn", amountMinorUnits),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, err
	}

	res := result.(*InitiateResult)
	c.logger.Info("transaction initiated",
		zap.String("uti", res.UTI),
		zap.String("order_ref", orderRef),
		zap.Int64("amttxn", amountMinorUnits),
		zap.String("trans_type", res.TransType),
		zap.Duration("duration", duration),
	)
	return res, nil
}

func (c *Client) doInitiate(ctx context.Context, amountMinorUnits int64, orderRef string) (*InitiateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.InitiateTimeout)
	defer cancel()

	payload, err := json.Marshal(initiateRequest{
		TermID: c.config.TerminalID,
		AmtTxn: amountMinorUnits,
		Ref:    orderRef,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: encode initiate request: %w", err)
	}

	url := c.config.BaseURL + "/api/sse/txn/sale"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gateway: build initiate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("initiating transaction",
		zap.String("url", url),
		zap.String("termid", c.config.TerminalID),
		zap.Int64("amttxn", amountMinorUnits),
		zap.String("ref", orderRef),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newGatewayError(resp.StatusCode, body)
	}

	var parsed initiateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed initiate response: %v", ErrProtocol, err)
	}

	if parsed.UTI == "" {
		// The whole payload is server controlled; mask card aliases before it
		// reaches a log sink.
		c.logger.Error("initiate response missing UTI",
			zap.Any("response", maskedBody(body)),
		)
		return nil, fmt.Errorf("%w: initiate response missing uti", ErrProtocol)
	}

	return &InitiateResult{
		UTI:        parsed.UTI,
		AmountEcho: parsed.AmountTrans,
		TransType:  parsed.TransType,
	}, nil
}

// Cancel asks the terminal to abort the in-flight transaction.
// POST {baseUrl}/api/txn/cancel, no body. Best-effort: callers proceed with
// local cleanup whatever this returns.
func (c *Client) Cancel(ctx context.Context) error {
	start := time.Now()
	err := c.doCancel(ctx)
	c.metrics.RecordCancel(err == nil, time.Since(start))

	if err != nil {
		c.logger.Warn("cancel request failed", zap.Error(err))
		return err
	}

	c.logger.Info("cancel request acknowledged")
	return nil
}

func (c *Client) doCancel(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	url := c.config.BaseURL + "/api/txn/cancel"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("gateway: build cancel request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return newGatewayError(resp.StatusCode, body)
	}

	io.Copy(io.Discard, resp.Body)
	return nil
}

type pollResponse struct {
	StatusCode           string `json:"status_code"`
	TransApproved        *bool  `json:"transApproved"`
	TransCancelled       *bool  `json:"transCancelled"`
	UTI                  string `json:"uti"`
	PrimaryAccountNumber string `json:"primaryAccountNumber"`
	AuthCode             string `json:"authCode"`
}

// PollStatus fetches the recorded state of a transaction.
// GET {baseUrl}/api/txn/{uti}. Used as the reconciliation fallback when the
// event stream is unavailable or inconclusive.
//
// Approval and decline are determined by the explicit transApproved /
// transCancelled flags only; a response carrying neither is reported as
// OutcomeUnknown, never guessed from the HTTP status.
func (c *Client) PollStatus(ctx context.Context, uti string) (*Outcome, error) {
	start := time.Now()
	outcome, err := c.doPollStatus(ctx, uti)

	label := "error"
	if err == nil {
		label = outcome.State.String()
	}
	c.metrics.RecordPoll(label, time.Since(start))

	if err != nil {
		c.logger.Error("status poll failed",
			zap.String("uti", uti),
			zap.Error(err),
		)
		return nil, err
	}

	c.logger.Info("status poll completed",
		zap.String("uti", uti),
		zap.String("outcome", outcome.State.String()),
	)
	return outcome, nil
}

func (c *Client) doPollStatus(ctx context.Context, uti string) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	url := c.config.BaseURL + "/api/txn/" + uti
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: build status request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrNetwork, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newGatewayError(resp.StatusCode, body)
	}

	var parsed pollResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed status response: %v", ErrProtocol, err)
	}

	switch {
	case parsed.TransApproved != nil && *parsed.TransApproved:
		card := cardMetaFromPAN(parsed.PrimaryAccountNumber, parsed.AuthCode)
		outUTI := parsed.UTI
		if outUTI == "" {
			outUTI = uti
		}
		return &Outcome{State: OutcomeApproved, UTI: outUTI, Card: card}, nil

	case parsed.TransCancelled != nil && *parsed.TransCancelled:
		return &Outcome{State: OutcomeDeclined, UTI: uti}, nil

	case parsed.StatusCode == "206":
		return &Outcome{State: OutcomePending, UTI: uti}, nil

	default:
		var raw map[string]interface{}
		if err := json.Unmarshal(body, &raw); err == nil {
			raw = mask.Mask(raw)
		}
		return &Outcome{State: OutcomeUnknown, UTI: uti, Raw: raw}, nil
	}
}

// cardMetaFromPAN derives BIN and last-4 from the masked PAN the status
// endpoint returns, e.g. "453212******9012". Receipt text is not available on
// this path.
func cardMetaFromPAN(pan, authCode string) *CardMeta {
	card := &CardMeta{AuthCode: authCode}
	if len(pan) >= 6 {
		card.BIN = pan[:6]
	}
	if len(pan) >= 4 {
		card.Last4 = pan[len(pan)-4:]
	}
	return card
}

// newGatewayError builds a GatewayError from a non-success response, parsing
// the server-supplied {error} body when present.
func newGatewayError(status int, body []byte) error {
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return &GatewayError{Code: status, Message: parsed.Error}
	}
	return &GatewayError{Code: status}
}

// maskedBody decodes a server payload for diagnostic logging with card fields
// redacted. Undecodable payloads are logged as their raw length only.
func maskedBody(body []byte) interface{} {
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		return fmt.Sprintf("<%d undecodable bytes>", len(body))
	}
	return mask.Mask(m)
}
