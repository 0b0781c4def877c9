package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"reel-pipeline/internal/models"
	"reel-pipeline/internal/push"
	"reel-pipeline/internal/telemetry"
)

// ScreenUploadStatus is the deep-link routing hint attached to every push
// payload so the app can open the status view on tap.
const ScreenUploadStatus = "UploadStatus"

// Skip reasons, machine-readable for diagnosability.
const (
	ReasonNoChange    = "no_change"
	ReasonNonTerminal = "non_terminal"
	ReasonNoToken     = "no_push_token"
	ReasonDuplicate   = "duplicate_delivery"
)

// ErrMalformedTrigger wraps payloads that cannot be acted on. These surface to
// the trigger channel rather than being silently dropped.
var ErrMalformedTrigger = errors.New("malformed trigger payload")

// RecordSnapshot is the post-mutation view of the tracking record delivered by
// the store trigger.
type RecordSnapshot struct {
	ID               string  `json:"id"`
	Status           string  `json:"status"`
	PushToken        *string `json:"push_token"`
	OriginalFilename string  `json:"original_filename"`
}

// OldSnapshot is the pre-mutation view; only id and status are delivered.
type OldSnapshot struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// TriggerPayload is the wire shape the tracking store emits on every UPDATE,
// both over the webhook endpoint and the LISTEN/NOTIFY channel.
type TriggerPayload struct {
	Type      string         `json:"type"`
	Table     string         `json:"table"`
	Schema    string         `json:"schema"`
	Record    RecordSnapshot `json:"record"`
	OldRecord OldSnapshot    `json:"old_record"`
}

// ParseTrigger decodes and validates a raw trigger payload.
func ParseTrigger(data []byte) (TriggerPayload, error) {
	var p TriggerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return TriggerPayload{}, fmt.Errorf("%w: %v", ErrMalformedTrigger, err)
	}
	if err := p.Validate(); err != nil {
		return TriggerPayload{}, err
	}
	return p, nil
}

// Validate checks the fields the worthiness predicate depends on.
func (p TriggerPayload) Validate() error {
	if p.Record.ID == "" {
		return fmt.Errorf("%w: record.id is empty", ErrMalformedTrigger)
	}
	if !models.ValidStatus(p.Record.Status) {
		return fmt.Errorf("%w: record.status %q", ErrMalformedTrigger, p.Record.Status)
	}
	if !models.ValidStatus(p.OldRecord.Status) {
		return fmt.Errorf("%w: old_record.status %q", ErrMalformedTrigger, p.OldRecord.Status)
	}
	return nil
}

// Outcome is the watcher's observable result for one trigger invocation.
type Outcome struct {
	Skipped bool            `json:"skipped,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Receipt json.RawMessage `json:"result,omitempty"`
}

// Sender performs the single outbound push call.
type Sender interface {
	Send(ctx context.Context, token string, msg push.Message, screen string) (json.RawMessage, error)
}

// Deduper guards against at-least-once and out-of-order trigger delivery.
// FirstDelivery returns false when the key was already claimed.
type Deduper interface {
	FirstDelivery(ctx context.Context, key string) (bool, error)
}

// Watcher decides whether a tracking-record mutation warrants a push and, when
// it does, invokes the sender exactly once. It holds no state of its own, so
// concurrent invocations need no coordination.
type Watcher struct {
	sender Sender
	dedupe Deduper
}

// New builds a watcher. dedupe may be nil to disable duplicate suppression.
func New(sender Sender, dedupe Deduper) *Watcher {
	return &Watcher{sender: sender, dedupe: dedupe}
}

// Handle applies the notification-worthiness predicate to one old/new snapshot
// pair. A transition notifies only when the status strictly changed, the new
// status is terminal, and the record carries a push token. Sender failures
// propagate to the caller; delivery is best-effort and not retried here.
func (w *Watcher) Handle(ctx context.Context, p TriggerPayload) (Outcome, error) {
	if err := p.Validate(); err != nil {
		return Outcome{}, err
	}

	if p.OldRecord.Status == p.Record.Status {
		return w.skip(ReasonNoChange), nil
	}
	if !models.Terminal(p.Record.Status) {
		return w.skip(ReasonNonTerminal), nil
	}
	if p.Record.PushToken == nil || *p.Record.PushToken == "" {
		return w.skip(ReasonNoToken), nil
	}

	if w.dedupe != nil {
		first, err := w.dedupe.FirstDelivery(ctx, p.Record.ID+":"+p.Record.Status)
		if err != nil {
			// Fail open: a broken dedupe store must not suppress notifications.
			log.Printf("watch: dedupe check failed for %s: %v", p.Record.ID, err)
		} else if !first {
			return w.skip(ReasonDuplicate), nil
		}
	}

	msg, ok := push.MessageFor(p.Record.Status, p.Record.OriginalFilename)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: no message for status %q", ErrMalformedTrigger, p.Record.Status)
	}

	receipt, err := w.sender.Send(ctx, *p.Record.PushToken, msg, ScreenUploadStatus)
	if err != nil {
		telemetry.NotifyFailures.Inc()
		return Outcome{}, fmt.Errorf("dispatch for %s: %w", p.Record.ID, err)
	}
	telemetry.NotifySent.Inc()
	return Outcome{Receipt: receipt}, nil
}

func (w *Watcher) skip(reason string) Outcome {
	telemetry.NotifySkipped.Inc()
	return Outcome{Skipped: true, Reason: reason}
}
