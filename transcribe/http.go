package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
)

// HTTP posts the audio as a multipart "file" part to a plain endpoint that
// answers {"response": "..."}.
type HTTP struct {
	URL    string
	APIKey string
	client *TracedClient
}

func NewHTTP(url, apiKey string) *HTTP {
	return &HTTP{URL: url, APIKey: apiKey, client: NewTracedClient(url)}
}

func (h *HTTP) Name() string { return "http" }

func (h *HTTP) Transcribe(ctx context.Context, audio []byte, mimeType string) (*Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", fileName(mimeType))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if h.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.APIKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("transcription endpoint error %d: %s", resp.StatusCode, string(resp.Body))
	}

	var out struct {
		Response *string `json:"response"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if out.Response == nil {
		return nil, fmt.Errorf("%w: missing response field", ErrBadResponse)
	}
	return &Result{Text: *out.Response, Metrics: resp.Metrics}, nil
}
