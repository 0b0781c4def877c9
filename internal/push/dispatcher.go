package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"reel-pipeline/internal/models"
)

// DispatchError reports a failed outbound call to the push gateway. The
// dispatcher never retries; the caller decides what to do with the failure.
type DispatchError struct {
	StatusCode int
	Detail     string
}

func (e *DispatchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("push gateway: status %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("push gateway: %s", e.Detail)
}

// Message is the user-visible notification content for a terminal transition.
type Message struct {
	Title string
	Body  string
}

// MessageFor maps a terminal status to its notification content. The body is
// always the original filename so the user can tell uploads apart.
func MessageFor(status, originalFilename string) (Message, bool) {
	switch status {
	case models.StatusReady:
		return Message{Title: "Your highlight reel is ready!", Body: originalFilename}, true
	case models.StatusFailed:
		return Message{Title: "Processing failed — please retry", Body: originalFilename}, true
	}
	return Message{}, false
}

type gatewayRequest struct {
	To    string         `json:"to"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data"`
	Sound string         `json:"sound"`
}

// Dispatcher performs the single outbound call to the push gateway.
type Dispatcher struct {
	client     *http.Client
	gatewayURL string
}

// NewDispatcher builds a dispatcher against the given gateway URL.
func NewDispatcher(gatewayURL string, timeout time.Duration) *Dispatcher {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		client:     &http.Client{Timeout: timeout},
		gatewayURL: gatewayURL,
	}
}

// Send posts one push message to the gateway and returns the opaque receipt.
// The screen argument is a routing hint the client app uses on notification
// tap; the gateway and dispatcher do not interpret it.
func (d *Dispatcher) Send(ctx context.Context, token string, msg Message, screen string) (json.RawMessage, error) {
	payload, err := json.Marshal(gatewayRequest{
		To:    token,
		Title: msg.Title,
		Body:  msg.Body,
		Data:  map[string]any{"screen": screen},
		Sound: "default",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &DispatchError{Detail: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &DispatchError{StatusCode: resp.StatusCode, Detail: fmt.Sprintf("read response: %v", err)}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &DispatchError{StatusCode: resp.StatusCode, Detail: string(body)}
	}
	if !json.Valid(body) {
		return nil, &DispatchError{StatusCode: resp.StatusCode, Detail: "gateway returned non-JSON receipt"}
	}
	return json.RawMessage(body), nil
}
