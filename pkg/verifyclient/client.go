// Package verifyclient calls the payment verification endpoint and drives the
// listen-and-poll flow a checkout page runs while waiting for a payment.
package verifyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	verifyPath     = "/v1/payments/verify"
	ingestPath     = "/internal/notifications"
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 64 << 10
)

// Verifier submits one verification attempt.
type Verifier interface {
	Verify(ctx context.Context, req Request) (*Response, error)
}

type Request struct {
	UserID        string `json:"user_id"`
	PlanID        string `json:"plan_id,omitempty"`
	AmountCents   *int64 `json:"amount_cents,omitempty"`
	SenderNumber  string `json:"sender_number,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

type Subscription struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	PlanID          string    `json:"plan_id"`
	Status          string    `json:"status"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	NextPaymentDate time.Time `json:"next_payment_date"`
}

type Risk struct {
	Score          int      `json:"score"`
	Valid          bool     `json:"valid"`
	Recommendation string   `json:"recommendation"`
	Errors         []string `json:"errors,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

type Response struct {
	Success          bool          `json:"success"`
	Found            bool          `json:"found"`
	Verified         bool          `json:"verified"`
	AlreadyVerified  bool          `json:"already_verified"`
	UsedByOther      bool          `json:"used_by_other"`
	Conflict         bool          `json:"conflict"`
	NotReady         bool          `json:"not_ready"`
	OwnerUserID      string        `json:"owner_user_id"`
	TransactionID    string        `json:"transaction_id"`
	Subscription     *Subscription `json:"subscription"`
	Message          string        `json:"message"`
	PollAfterSeconds int64         `json:"poll_after_seconds"`
	MaxWaitSeconds   int64         `json:"max_wait_seconds"`
	Timestamp        time.Time     `json:"timestamp"`
	Risk             *Risk         `json:"risk"`
}

// PollAfter is the server's suggested poll interval, zero when absent.
func (r *Response) PollAfter() time.Duration {
	if r == nil || r.PollAfterSeconds <= 0 {
		return 0
	}
	return time.Duration(r.PollAfterSeconds) * time.Second
}

// MaxWait is the server's suggested listening bound, zero when absent.
func (r *Response) MaxWait() time.Duration {
	if r == nil || r.MaxWaitSeconds <= 0 {
		return 0
	}
	return time.Duration(r.MaxWaitSeconds) * time.Second
}

// APIError is a non-2xx answer carrying the server error envelope.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("verify: %d %s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("verify: %d %s", e.StatusCode, e.Type)
}

// Temporary reports whether repeating the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusServiceUnavailable
}

type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBearerToken sets the Authorization header sent with every call.
func WithBearerToken(token string) ClientOption {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Verify(ctx context.Context, req Request) (*Response, error) {
	var out Response
	if err := c.do(ctx, http.MethodPost, verifyPath, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Notification is the payload accepted by the internal ingestion route.
type Notification struct {
	Sender               string         `json:"sender,omitempty"`
	Message              string         `json:"message,omitempty"`
	CounterpartyPhone    string         `json:"counterparty_phone,omitempty"`
	TransactionReference string         `json:"transaction_reference,omitempty"`
	Amount               int64          `json:"amount"`
	Currency             string         `json:"currency,omitempty"`
	Status               string         `json:"status,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
}

type IngestResult struct {
	Notification struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"notification"`
	Created bool `json:"created"`
}

// Ingest pushes a notification through the internal route. It needs the
// internal token when the server enforces one.
func (c *Client) Ingest(ctx context.Context, n Notification) (*IngestResult, error) {
	var out struct {
		Data IngestResult `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, ingestPath, n, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("verifyclient: decode %s response: %w", path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Type:       strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_")),
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && secs > 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return apiErr
	}
	var envelope errorEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Type != "" {
		apiErr.Type = envelope.Error.Type
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}
