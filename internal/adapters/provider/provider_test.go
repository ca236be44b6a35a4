package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

type mockTransport struct {
	statusCode int
	body       string
	err        error
	sawRequest *http.Request
	sawBody    string
}

func (m *mockTransport) Do(req *http.Request) (*http.Response, error) {
	m.sawRequest = req
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		m.sawBody = string(data)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func TestSandbox_Dispatch(t *testing.T) {
	s := NewSandbox()

	res := s.Dispatch(context.Background(), Message{
		PostID:    "post_1",
		Recipient: "commenter",
		Text:      "here you go",
		Link:      "https://example.com",
	})

	if !res.Sent {
		t.Error("sandbox dispatch must always report sent")
	}
	if !strings.HasPrefix(res.ProviderMessageID, "sandbox-") {
		t.Errorf("message id = %q, want sandbox- prefix", res.ProviderMessageID)
	}
	if res.Error != "" {
		t.Errorf("unexpected error: %q", res.Error)
	}
}

func TestLive_Dispatch_Success(t *testing.T) {
	transport := &mockTransport{statusCode: 200, body: `{"message_id":"mid_1"}`}
	l := NewLiveWithClient(transport, "https://graph.test/messages", "token-1", time.Second)

	res := l.Dispatch(context.Background(), Message{
		Recipient: "commenter",
		Text:      "here you go",
		Link:      "https://example.com",
	})

	if !res.Sent {
		t.Fatalf("sent = false, error = %q", res.Error)
	}
	if res.ProviderMessageID != "mid_1" {
		t.Errorf("message id = %q, want mid_1", res.ProviderMessageID)
	}

	if got := transport.sawRequest.Header.Get("Authorization"); got != "Bearer token-1" {
		t.Errorf("authorization = %q", got)
	}

	var payload struct {
		Recipient struct {
			Username string `json:"username"`
		} `json:"recipient"`
		Message struct {
			Text string `json:"text"`
		} `json:"message"`
	}
	if err := json.Unmarshal([]byte(transport.sawBody), &payload); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	if payload.Recipient.Username != "commenter" {
		t.Errorf("recipient = %q", payload.Recipient.Username)
	}
	if !strings.Contains(payload.Message.Text, "https://example.com") {
		t.Errorf("message text %q should carry the link", payload.Message.Text)
	}
}

func TestLive_Dispatch_ProviderError(t *testing.T) {
	transport := &mockTransport{statusCode: 403, body: `{"error":"denied"}`}
	l := NewLiveWithClient(transport, "https://graph.test/messages", "token-1", time.Second)

	res := l.Dispatch(context.Background(), Message{Recipient: "commenter"})

	if res.Sent {
		t.Error("non-2xx response must report sent=false")
	}
	if res.Error != "provider status 403" {
		t.Errorf("error = %q, want provider status 403", res.Error)
	}
}

func TestLive_Dispatch_Timeout(t *testing.T) {
	transport := &mockTransport{err: context.DeadlineExceeded}
	l := NewLiveWithClient(transport, "https://graph.test/messages", "token-1", time.Second)

	res := l.Dispatch(context.Background(), Message{Recipient: "commenter"})

	if res.Sent {
		t.Error("timeout must report sent=false")
	}
	if res.Error != "timeout" {
		t.Errorf("error = %q, want timeout", res.Error)
	}
}

func TestLive_Dispatch_NetworkError(t *testing.T) {
	transport := &mockTransport{err: io.ErrUnexpectedEOF}
	l := NewLiveWithClient(transport, "https://graph.test/messages", "token-1", time.Second)

	res := l.Dispatch(context.Background(), Message{Recipient: "commenter"})

	if res.Sent {
		t.Error("network failure must report sent=false")
	}
	if res.Error == "" {
		t.Error("error must be populated")
	}
}
