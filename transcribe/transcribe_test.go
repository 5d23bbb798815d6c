package transcribe

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkMetricsSum(t *testing.T) {
	m := &NetworkMetrics{
		ConnWait:   10 * time.Millisecond,
		DNS:        20 * time.Millisecond,
		TCP:        30 * time.Millisecond,
		TLS:        40 * time.Millisecond,
		ReqHeaders: 5 * time.Millisecond,
		ReqBody:    15 * time.Millisecond,
		TTFB:       50 * time.Millisecond,
		Download:   25 * time.Millisecond,
	}
	assert.Equal(t, 195*time.Millisecond, m.Sum())
}

func TestFirstNonEmpty(t *testing.T) {
	h := http.Header{}
	h.Set("X-Rate-Limit", "100")

	assert.Equal(t, "100", firstNonEmpty(h, "X-Missing", "X-Rate-Limit"))
	assert.Equal(t, "?", firstNonEmpty(h, "X-A", "X-B"))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "audio.flac", fileName("audio/flac"))
	assert.Equal(t, "audio.flac", fileName(""))
	assert.Equal(t, "audio.webm", fileName("audio/webm"))
	assert.Equal(t, "audio.wav", fileName("audio/x-wav"))
}

type upload struct {
	fields map[string]string
	file   []byte
	name   string
	auth   string
}

// capture parses the multipart request the backends send.
func capture(t *testing.T, r *http.Request) upload {
	t.Helper()
	require.NoError(t, r.ParseMultipartForm(1<<20))
	f, hdr, err := r.FormFile("file")
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)

	fields := map[string]string{}
	for k, v := range r.MultipartForm.Value {
		fields[k] = v[0]
	}
	return upload{fields: fields, file: data, name: hdr.Filename, auth: r.Header.Get("Authorization")}
}

func TestHTTPBackend(t *testing.T) {
	var got upload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = capture(t, r)
		json.NewEncoder(w).Encode(map[string]string{"response": " hello "})
	}))
	defer srv.Close()

	res, err := NewHTTP(srv.URL, "").Transcribe(context.Background(), []byte("audio-bytes"), "audio/flac")
	require.NoError(t, err)
	assert.Equal(t, " hello ", res.Text)
	assert.NotNil(t, res.Metrics)
	assert.Equal(t, []byte("audio-bytes"), got.file)
	assert.Equal(t, "audio.flac", got.name)
	assert.Empty(t, got.auth)
}

func TestHTTPBackendFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusBadGateway, `{"response":"x"}`, nil},
		{"malformed body", http.StatusOK, `not json`, ErrBadResponse},
		{"missing field", http.StatusOK, `{"text":"x"}`, ErrBadResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewHTTP(srv.URL, "k").Transcribe(context.Background(), []byte("a"), "audio/flac")
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestHTTPBackendNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTP(url, "").Transcribe(context.Background(), []byte("a"), "audio/flac")
	assert.Error(t, err)
}

func TestGroq(t *testing.T) {
	var got upload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = capture(t, r)
		w.Header().Set("x-ratelimit-remaining-requests", "99")
		w.Header().Set("x-ratelimit-limit-requests", "100")
		io.WriteString(w, `{"text":"from groq","duration":1.5}`)
	}))
	defer srv.Close()

	g := NewGroq("secret", srv.URL)
	res, err := g.Transcribe(context.Background(), []byte("flac"), "audio/flac")
	require.NoError(t, err)
	assert.Equal(t, "from groq", res.Text)
	assert.Equal(t, 1.5, res.Duration)
	assert.Equal(t, "99/100", res.RateLimit)

	assert.Equal(t, "Bearer secret", got.auth)
	assert.Equal(t, "distil-whisper-large-v3-en", got.fields["model"])
	assert.Equal(t, "en", got.fields["language"])
	assert.Equal(t, "verbose_json", got.fields["response_format"])
}

func TestGroqError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewGroq("secret", srv.URL).Transcribe(context.Background(), []byte("flac"), "audio/flac")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestOpenAI(t *testing.T) {
	var got upload
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		got = capture(t, r)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"from openai"}`)
	}))
	defer srv.Close()

	o := NewOpenAI("sk-test", srv.URL+"/v1")
	o.Language = "en"
	res, err := o.Transcribe(context.Background(), []byte("flac"), "audio/flac")
	require.NoError(t, err)
	assert.Equal(t, "from openai", res.Text)
	assert.Equal(t, "/v1/audio/transcriptions", path)
	assert.Equal(t, "Bearer sk-test", got.auth)
	assert.Equal(t, "whisper-1", got.fields["model"])
	assert.Equal(t, []byte("flac"), got.file)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		wantName string
		wantErr  bool
	}{
		{"none", Options{Provider: "none"}, "", true},
		{"empty", Options{}, "", true},
		{"http", Options{Provider: "http", URL: "http://localhost:9000/transcribe"}, "http", false},
		{"http without url", Options{Provider: "http"}, "", true},
		{"groq", Options{Provider: "groq", APIKey: "k"}, "groq", false},
		{"groq without key", Options{Provider: "groq"}, "", true},
		{"openai", Options{Provider: "openai", APIKey: "k", Model: "gpt-4o-transcribe"}, "openai", false},
		{"unknown", Options{Provider: "deepgram"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := New(tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, tr.Name())
		})
	}

	_, err := New(Options{Provider: "none"})
	assert.ErrorIs(t, err, ErrNoBackend)

	tr, err := New(Options{Provider: "groq", APIKey: "k", Model: "whisper-large-v3", Language: "de"})
	require.NoError(t, err)
	g := tr.(*Groq)
	assert.Equal(t, "whisper-large-v3", g.Model)
	assert.Equal(t, "de", g.Language)
}
