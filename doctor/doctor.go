// Package doctor runs environment diagnostics: microphone, storage,
// transcription backend and clipboard.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"voxdrop/audio"
	"voxdrop/clipboard"
	"voxdrop/encoder"
	"voxdrop/transcribe"
)

// ErrSkipped marks a check that could not run, which is not a failure.
var ErrSkipped = errors.New("skipped")

type Check struct {
	Name string
	Run  func(ctx context.Context) (string, error)
}

// Run executes checks in order and returns an exit code (0=all pass, 1=any fail).
func Run(ctx context.Context, w io.Writer, checks []Check) int {
	resetTerminal()

	fmt.Fprintln(w, "voxdrop doctor - system diagnostics")
	fmt.Fprintln(w, "===================================")

	allPass := true
	for i, c := range checks {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "[%d/%d] %s\n", i+1, len(checks), c.Name)
		if ctx.Err() != nil {
			fmt.Fprintln(w, "  FAIL: interrupted")
			allPass = false
			break
		}
		msg, err := c.Run(ctx)
		switch {
		case errors.Is(err, ErrSkipped):
			fmt.Fprintf(w, "  SKIP: %v\n", err)
		case err != nil:
			fmt.Fprintf(w, "  FAIL: %v\n", err)
			allPass = false
		default:
			fmt.Fprintf(w, "  PASS: %s\n", msg)
		}
	}

	fmt.Fprintln(w)
	if allPass {
		fmt.Fprintln(w, "All checks passed!")
		return 0
	}
	fmt.Fprintln(w, "Some checks failed. See details above.")
	return 1
}

// Sample carries the microphone check's recording to the transcription check.
type Sample struct {
	mu   sync.Mutex
	flac []byte
}

func (s *Sample) set(b []byte) {
	s.mu.Lock()
	s.flac = b
	s.mu.Unlock()
}

func (s *Sample) get() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flac
}

// MicCheck records for d from the named device (default when empty) and
// encodes the result.
func MicCheck(actx audio.Context, device string, d time.Duration, sample *Sample) Check {
	return Check{
		Name: "Microphone",
		Run: func(ctx context.Context) (string, error) {
			if actx == nil {
				return "", fmt.Errorf("%w: no audio backend", ErrSkipped)
			}
			devices, err := actx.Devices()
			if err != nil {
				return "", fmt.Errorf("cannot list devices: %w", err)
			}
			if len(devices) == 0 {
				return "", fmt.Errorf("no capture devices found")
			}
			dev, err := audio.FindDevice(actx, device)
			if err != nil {
				return "", err
			}

			pcm, name, err := record(ctx, actx, dev, d)
			if err != nil {
				return "", fmt.Errorf("recording error: %w", err)
			}
			if len(pcm) == 0 {
				return "", fmt.Errorf("no audio captured from %s", name)
			}
			res, err := encoder.EncodePCM(pcm)
			if err != nil {
				return "", fmt.Errorf("encoding error: %w", err)
			}
			if sample != nil {
				sample.set(res.Data)
			}
			return fmt.Sprintf("%s: %.1fs captured, %.1f KB flac", name,
				res.Duration.Seconds(), float64(len(res.Data))/1024), nil
		},
	}
}

func record(ctx context.Context, actx audio.Context, dev *audio.DeviceInfo, d time.Duration) ([]byte, string, error) {
	var pcmBuf []byte
	var bufMu sync.Mutex

	capture, err := actx.NewCapture(dev, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		return nil, "", err
	}
	defer capture.Close()

	capture.SetCallback(func(data []byte, _ uint32) {
		bufMu.Lock()
		pcmBuf = append(pcmBuf, data...)
		bufMu.Unlock()
	})
	if err := capture.Start(); err != nil {
		return nil, "", err
	}

	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
	capture.Stop()
	capture.ClearCallback()

	bufMu.Lock()
	defer bufMu.Unlock()
	return pcmBuf, capture.DeviceName(), ctx.Err()
}

type Pinger interface {
	Ping(ctx context.Context) error
}

func StoreCheck(name string, p Pinger) Check {
	return Check{
		Name: name,
		Run: func(ctx context.Context) (string, error) {
			if p == nil {
				return "", fmt.Errorf("%w: in-memory", ErrSkipped)
			}
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			start := time.Now()
			if err := p.Ping(ctx); err != nil {
				return "", err
			}
			return fmt.Sprintf("reachable in %dms", time.Since(start).Milliseconds()), nil
		},
	}
}

// TranscriptionCheck sends the recorded sample, or one second of silence
// when there is none, through the backend.
func TranscriptionCheck(t transcribe.Transcriber, sample *Sample) Check {
	return Check{
		Name: "Transcription",
		Run: func(ctx context.Context) (string, error) {
			if t == nil {
				return "", fmt.Errorf("%w: no backend configured", ErrSkipped)
			}
			var data []byte
			if sample != nil {
				data = sample.get()
			}
			if len(data) == 0 {
				res, err := encoder.EncodePCM(make([]byte, encoder.BytesPerSecond))
				if err != nil {
					return "", err
				}
				data = res.Data
			}

			ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			start := time.Now()
			res, err := t.Transcribe(ctx, data, encoder.MimeType)
			if err != nil {
				return "", fmt.Errorf("%s: %w", t.Name(), err)
			}
			text := res.Text
			if text == "" {
				text = "(no speech detected)"
			}
			return fmt.Sprintf("%s answered in %dms: %q", t.Name(), time.Since(start).Milliseconds(), text), nil
		},
	}
}

// ClipboardCheck round-trips a sentinel and restores the previous contents.
func ClipboardCheck() Check {
	return Check{
		Name: "Clipboard",
		Run: func(context.Context) (string, error) {
			prev, _ := clipboard.Read()
			const sentinel = "voxdrop-doctor-test"
			if err := clipboard.Copy(sentinel); err != nil {
				return "", fmt.Errorf("%w: %v", ErrSkipped, err)
			}
			got, err := clipboard.Read()
			clipboard.Copy(prev)
			if err != nil {
				return "", fmt.Errorf("could not read clipboard: %w", err)
			}
			if got != sentinel {
				return "", fmt.Errorf("clipboard returned %q, want %q", got, sentinel)
			}
			return "copy and read verified", nil
		},
	}
}
