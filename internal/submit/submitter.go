package submit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"reel-pipeline/internal/ident"
	"reel-pipeline/internal/models"
	"reel-pipeline/internal/store"
	"reel-pipeline/internal/telemetry"
)

// Phase tracks a single submission attempt. This is distinct from the
// persisted record status: phases describe the client-side flow and fall back
// to idle on failure, while record statuses only ever move forward.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhasePicking      Phase = "picking"
	PhaseReadyToSend  Phase = "ready_to_send"
	PhaseTransferring Phase = "transferring"
	PhaseRecording    Phase = "recording"
	PhaseDone         Phase = "done"
)

// Submission failure taxonomy. Validation errors reject before any side
// effect; transfer and record errors are retryable by resubmitting, which
// mints a fresh identifier and storage key. Partial transfers are never
// resumed.
var (
	ErrFileTooLarge         = errors.New("file exceeds the maximum upload size")
	ErrSourceUnavailable    = errors.New("upload source is unreadable")
	ErrTransferInterrupted  = errors.New("transfer interrupted")
	ErrRecordCreationFailed = errors.New("tracking record creation failed")
	ErrCancelled            = errors.New("upload cancelled")
)

// Source is the binary handle plus declared metadata for one submission.
type Source struct {
	Name   string
	Size   int64
	MIME   string
	Reader io.Reader
}

// ObjectStore writes the binary and returns its stored location.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
}

// Records creates the tracking row after a successful transfer.
type Records interface {
	CreateUpload(ctx context.Context, p store.CreateUploadParams) (models.Upload, error)
}

// TokenProvider yields the device push token captured at submission time.
// An empty token means notification permission was denied; that is not an
// error, the record simply never notifies.
type TokenProvider interface {
	PushToken(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider returning a fixed token. The zero value
// models denied permission.
type StaticToken string

func (t StaticToken) PushToken(context.Context) (string, error) {
	return string(t), nil
}

// Submitter orchestrates the client-side upload flow: binary transfer to the
// object store, then exactly one tracking record in state queued. An instance
// serves one attempt at a time.
type Submitter struct {
	objects  ObjectStore
	records  Records
	tokens   TokenProvider
	maxBytes int64

	// OnProgress observes a monotonically non-decreasing percentage.
	// 100 is reported only after the tracking record exists.
	OnProgress func(percent int)
	// OnPhase observes attempt phase changes.
	OnPhase func(Phase)

	lastPercent int
}

// New builds a submitter. maxBytes <= 0 falls back to the 4 GiB ceiling.
func New(objects ObjectStore, records Records, tokens TokenProvider, maxBytes int64) *Submitter {
	if maxBytes <= 0 {
		maxBytes = 4 * 1024 * 1024 * 1024
	}
	return &Submitter{objects: objects, records: records, tokens: tokens, maxBytes: maxBytes}
}

// Submit validates the source, transfers the binary, and records the upload.
// The transfer is the only cancellable step: cancellation abandons it and
// leaves no tracking record behind. If the record insert fails after the
// binary is stored, the orphan object is accepted rather than deleted; a
// resubmission uses a fresh key and row.
func (s *Submitter) Submit(ctx context.Context, src Source, ownerID string) (models.Upload, error) {
	s.lastPercent = 0
	s.phase(PhaseReadyToSend)

	if src.Size > s.maxBytes {
		return s.fail(fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, src.Size, s.maxBytes))
	}
	if src.Reader == nil || src.Size < 0 || ownerID == "" {
		return s.fail(ErrSourceUnavailable)
	}

	token := ""
	if s.tokens != nil {
		if t, err := s.tokens.PushToken(ctx); err == nil {
			token = t
		}
	}

	id := ident.New()
	name := src.Name
	if name == "" {
		name = "video.mp4"
	}
	key := fmt.Sprintf("%s/%s.%s", ownerID, id, extension(name))

	s.phase(PhaseTransferring)
	telemetry.TransfersInFlight.Inc()
	location, err := s.objects.Put(ctx, key, s.progressReader(src), src.Size, contentType(src.MIME))
	telemetry.TransfersInFlight.Dec()
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return s.fail(fmt.Errorf("%w: %w", ErrCancelled, err))
		}
		return s.fail(fmt.Errorf("%w: %w", ErrTransferInterrupted, err))
	}

	s.phase(PhaseRecording)
	rec, err := s.records.CreateUpload(ctx, store.CreateUploadParams{
		ID:               id,
		OwnerID:          ownerID,
		StoragePath:      location,
		OriginalFilename: name,
		SizeBytes:        src.Size,
		PushToken:        token,
	})
	if err != nil {
		return s.fail(fmt.Errorf("%w: %w", ErrRecordCreationFailed, err))
	}

	s.report(100)
	s.phase(PhaseDone)
	telemetry.UploadsSubmitted.Inc()
	return rec, nil
}

func (s *Submitter) fail(err error) (models.Upload, error) {
	s.phase(PhaseIdle)
	if !errors.Is(err, ErrCancelled) {
		telemetry.UploadFailures.Inc()
	}
	return models.Upload{}, err
}

func (s *Submitter) phase(p Phase) {
	if s.OnPhase != nil {
		s.OnPhase(p)
	}
}

// report clamps progress to a monotonically non-decreasing percentage.
func (s *Submitter) report(percent int) {
	if percent <= s.lastPercent {
		return
	}
	s.lastPercent = percent
	if s.OnProgress != nil {
		s.OnProgress(percent)
	}
}

// progressReader caps transfer progress at 99%; the final percent belongs to
// the record insert.
func (s *Submitter) progressReader(src Source) io.Reader {
	if src.Size <= 0 {
		return src.Reader
	}
	return &countingReader{r: src.Reader, total: src.Size, sub: s}
}

type countingReader struct {
	r     io.Reader
	total int64
	read  int64
	sub   *Submitter
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.read += int64(n)
		pct := int(c.read * 100 / c.total)
		if pct > 99 {
			pct = 99
		}
		c.sub.report(pct)
	}
	return n, err
}

func extension(name string) string {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if ext == "" {
		return "mp4"
	}
	return strings.ToLower(ext)
}

func contentType(mime string) string {
	if mime == "" {
		return "video/mp4"
	}
	return mime
}
