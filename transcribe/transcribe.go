// Package transcribe holds the speech-to-text backends and the coordinator
// that transcribes each message at most once.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrNoBackend   = errors.New("no transcription backend configured")
	ErrBadResponse = errors.New("bad transcription response")
)

type NetworkMetrics struct {
	DNS        time.Duration
	ConnWait   time.Duration
	TCP        time.Duration
	TLS        time.Duration
	ReqHeaders time.Duration
	ReqBody    time.Duration
	TTFB       time.Duration
	Download   time.Duration
	Total      time.Duration

	ConnReused  bool
	TLSProtocol string
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

func firstNonEmpty(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return "?"
}

type Result struct {
	Text      string
	Metrics   *NetworkMetrics
	RateLimit string
	Duration  float64
}

// Transcriber turns one audio blob into text.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte, mimeType string) (*Result, error)
}

type Options struct {
	Provider string
	URL      string
	APIKey   string
	Model    string
	Language string
}

// New builds the backend named by opts.Provider. "none" and "" yield
// ErrNoBackend.
func New(opts Options) (Transcriber, error) {
	switch opts.Provider {
	case "", "none":
		return nil, ErrNoBackend
	case "http":
		if opts.URL == "" {
			return nil, fmt.Errorf("http transcription needs a url")
		}
		return NewHTTP(opts.URL, opts.APIKey), nil
	case "groq":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("groq transcription needs an api key")
		}
		g := NewGroq(opts.APIKey, opts.URL)
		g.Model = orDefault(opts.Model, g.Model)
		g.Language = orDefault(opts.Language, g.Language)
		return g, nil
	case "openai":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("openai transcription needs an api key")
		}
		o := NewOpenAI(opts.APIKey, opts.URL)
		o.Model = orDefault(opts.Model, o.Model)
		o.Language = orDefault(opts.Language, o.Language)
		return o, nil
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", opts.Provider)
	}
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// fileName picks an upload file name the backends can sniff the format from.
func fileName(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "audio/mpeg", "audio/mp3":
		return "audio.mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "audio.wav"
	case "audio/webm":
		return "audio.webm"
	case "audio/ogg":
		return "audio.ogg"
	default:
		return "audio.flac"
	}
}
