package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"voxdrop/log"
	"voxdrop/message"
	"voxdrop/store"
)

type Status int

const (
	AlreadyTranscribed Status = iota
	Transcribed
	NoSpeech
	Failed
)

func (s Status) String() string {
	switch s {
	case AlreadyTranscribed:
		return "already_transcribed"
	case Transcribed:
		return "transcribed"
	case NoSpeech:
		return "no_speech"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome reports what EnsureTranscribed did. Err is only set for Failed.
type Outcome struct {
	Status Status
	Text   string
	Err    error
}

type AudioSource interface {
	ReadStream(ctx context.Context, id string) ([]byte, store.StreamInfo, error)
}

type Records interface {
	Record(ctx context.Context, id string) (*message.Record, error)
	message.Updater
}

const DefaultTimeout = 60 * time.Second

type Coordinator struct {
	backend Transcriber
	audio   AudioSource
	records Records
	timeout time.Duration
	flight  singleflight.Group
}

func NewCoordinator(backend Transcriber, audio AudioSource, records Records) *Coordinator {
	return &Coordinator{backend: backend, audio: audio, records: records, timeout: DefaultTimeout}
}

// SetTimeout bounds one fetch plus backend call.
func (c *Coordinator) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

var errAlreadySet = errors.New("transcription already set")

// EnsureTranscribed transcribes rec unless it already has a transcription.
// Concurrent calls for one record share a single backend request. Failures
// never propagate: they come back as a Failed outcome, leaving the record
// untouched so a later call can retry. A caller that gives up early gets a
// Failed outcome while the shared request carries on for the others.
func (c *Coordinator) EnsureTranscribed(ctx context.Context, rec *message.Record) Outcome {
	if rec == nil {
		return Outcome{Status: Failed, Err: message.ErrNotFound}
	}
	if rec.Transcription != nil {
		return Outcome{Status: AlreadyTranscribed, Text: *rec.Transcription}
	}
	if c.backend == nil {
		return Outcome{Status: Failed, Err: ErrNoBackend}
	}

	// The shared attempt outlives any one caller; only c.timeout bounds it.
	attemptCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(rec.ID, func() (any, error) {
		return c.transcribe(attemptCtx, rec.ID), nil
	})
	select {
	case res := <-ch:
		return res.Val.(Outcome)
	case <-ctx.Done():
		return Outcome{Status: Failed, Err: ctx.Err()}
	}
}

func (c *Coordinator) transcribe(ctx context.Context, id string) Outcome {
	start := time.Now()
	out := c.attempt(ctx, id)
	log.TranscriptionOutcome(id, out.Status.String(), c.backend.Name(), time.Since(start), out.Err)
	return out
}

func (c *Coordinator) attempt(ctx context.Context, id string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// The caller's copy may be stale; an earlier flight may have finished.
	current, err := c.records.Record(ctx, id)
	if err != nil {
		return Outcome{Status: Failed, Err: fmt.Errorf("loading record: %w", err)}
	}
	if current.Transcription != nil {
		return Outcome{Status: AlreadyTranscribed, Text: *current.Transcription}
	}

	audio, info, err := c.audio.ReadStream(ctx, current.AudioRef)
	if err != nil {
		return Outcome{Status: Failed, Err: fmt.Errorf("fetching audio: %w", err)}
	}

	res, err := c.backend.Transcribe(ctx, audio, info.MimeType)
	if err != nil {
		return Outcome{Status: Failed, Err: fmt.Errorf("%s: %w", c.backend.Name(), err)}
	}
	if res.Metrics != nil {
		log.TranscriptionMetrics(log.Metrics{
			AudioLengthS: res.Duration,
			AudioSizeKB:  float64(len(audio)) / 1024,
			DNSTimeMs:    ms(res.Metrics.DNS),
			ConnTimeMs:   ms(res.Metrics.TCP),
			TLSTimeMs:    ms(res.Metrics.TLS),
			TTFBMs:       ms(res.Metrics.TTFB),
			TotalTimeMs:  ms(res.Metrics.Total),
			ConnReused:   res.Metrics.ConnReused,
			TLSProto:     res.Metrics.TLSProtocol,
		}, c.backend.Name())
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		return Outcome{Status: NoSpeech}
	}

	var existing string
	_, err = c.records.UpdateRecord(ctx, id, func(r *message.Record) error {
		if r.Transcription != nil {
			existing = *r.Transcription
			return errAlreadySet
		}
		r.Transcription = &text
		return nil
	})
	if errors.Is(err, errAlreadySet) {
		return Outcome{Status: AlreadyTranscribed, Text: existing}
	}
	if err != nil {
		return Outcome{Status: Failed, Err: fmt.Errorf("saving transcription: %w", err)}
	}
	log.TranscriptionText(id, text)
	return Outcome{Status: Transcribed, Text: text}
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
