package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"sync"
)

const (
	groqURL          = "https://api.groq.com/openai/v1/audio/transcriptions"
	groqDefaultModel = "distil-whisper-large-v3-en"
)

type Groq struct {
	Model    string
	Language string

	apiKey string
	apiURL string
	client *TracedClient
	warm   sync.Once
}

// NewGroq talks to Groq's OpenAI-compatible endpoint; apiURL overrides it.
func NewGroq(apiKey, apiURL string) *Groq {
	if apiURL == "" {
		apiURL = groqURL
	}
	return &Groq{
		Model:    groqDefaultModel,
		Language: "en",
		apiKey:   apiKey,
		apiURL:   apiURL,
		client:   NewTracedClient(apiURL),
	}
}

func (g *Groq) Name() string { return "groq" }

// Warm opens the connection ahead of the first call, once.
func (g *Groq) Warm(ctx context.Context) {
	g.warm.Do(func() { g.client.Warm(ctx) })
}

type groqResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
}

func (g *Groq) Transcribe(ctx context.Context, audio []byte, mimeType string) (*Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", fileName(mimeType))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}
	writer.WriteField("model", g.Model)
	writer.WriteField("response_format", "verbose_json")
	if g.Language != "" {
		writer.WriteField("language", g.Language)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("groq API error %d: %s", resp.StatusCode, string(resp.Body))
	}

	var gResp groqResponse
	if err := json.Unmarshal(resp.Body, &gResp); err != nil {
		return nil, fmt.Errorf("%w: groq: %v", ErrBadResponse, err)
	}

	remaining := firstNonEmpty(resp.Header, "x-ratelimit-remaining-requests")
	limit := firstNonEmpty(resp.Header, "x-ratelimit-limit-requests")

	return &Result{
		Text:      gResp.Text,
		Metrics:   resp.Metrics,
		RateLimit: remaining + "/" + limit,
		Duration:  gResp.Duration,
	}, nil
}
