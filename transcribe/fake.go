package transcribe

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Fake returns canned text and counts calls. When Gate is set every call
// blocks until it is closed.
type Fake struct {
	Text string
	Err  error
	Gate chan struct{}

	calls atomic.Int64
	mu    sync.Mutex
	last  []byte
}

func NewFake(text string, err error) *Fake {
	return &Fake{Text: text, Err: err}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Calls() int { return int(f.calls.Load()) }

// LastAudio is the blob of the most recent call.
func (f *Fake) LastAudio() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *Fake) Transcribe(ctx context.Context, audio []byte, _ string) (*Result, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = audio
	f.mu.Unlock()

	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.Err != nil {
		return nil, fmt.Errorf("fake transcriber error: %w", f.Err)
	}
	return &Result{Text: f.Text, Metrics: &NetworkMetrics{}}, nil
}
