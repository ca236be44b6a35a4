package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/htheomoller/calmer-sub000/pkg/log"
)

// httpDoer is the minimal HTTP client surface, swappable in tests.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Live posts DMs to the messaging API.
type Live struct {
	client      httpDoer
	apiURL      string
	accessToken string
	timeout     time.Duration
}

// NewLive creates a live dispatcher for the given API endpoint and token.
func NewLive(apiURL, accessToken string, timeout time.Duration) *Live {
	return &Live{
		client:      &http.Client{Timeout: timeout},
		apiURL:      apiURL,
		accessToken: accessToken,
		timeout:     timeout,
	}
}

// NewLiveWithClient creates a live dispatcher with a custom HTTP client.
// Useful for testing.
func NewLiveWithClient(client httpDoer, apiURL, accessToken string, timeout time.Duration) *Live {
	return &Live{client: client, apiURL: apiURL, accessToken: accessToken, timeout: timeout}
}

// Name returns "live".
func (l *Live) Name() string {
	return "live"
}

type liveRequest struct {
	Recipient struct {
		Username string `json:"username"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

type liveResponse struct {
	MessageID string `json:"message_id"`
}

// Dispatch posts the message to the messaging API. Any failure, including
// the deadline expiring, is reported in the result rather than returned:
// the inbound webhook acknowledges receipt independently of delivery.
func (l *Live) Dispatch(ctx context.Context, msg Message) Result {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var payload liveRequest
	payload.Recipient.Username = msg.Recipient
	payload.Message.Text = msg.Text + " " + msg.Link

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Error: fmt.Sprintf("encode request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.apiURL, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.accessToken)

	resp, err := l.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{Error: "timeout"}
		}
		return Result{Error: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.GlobalWarnCtx(ctx, "live delivery rejected",
			"status", resp.StatusCode, "body", string(data))
		return Result{Error: fmt.Sprintf("provider status %d", resp.StatusCode)}
	}

	var decoded liveResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && err != io.EOF {
		// Delivery succeeded; only the message ID is lost.
		log.GlobalWarnCtx(ctx, "live response decode failed", "error", err)
	}

	return Result{Sent: true, ProviderMessageID: decoded.MessageID}
}
