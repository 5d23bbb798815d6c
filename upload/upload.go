// Package upload streams an in-memory blob into the store in chunks and
// separates "all chunks queued" from "durable".
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voxdrop/store"
)

const (
	DefaultChunkSize   = 100 * 1024
	DefaultSyncTimeout = 30 * time.Second
)

var ErrUploadIncomplete = errors.New("upload incomplete")

// StreamWriter is the store surface the channel needs.
type StreamWriter interface {
	CreateStream(ctx context.Context, info *store.StreamInfo) error
	WriteChunk(ctx context.Context, streamID string, seq int, data []byte) error
	EndStream(ctx context.Context, streamID string) error
	WaitForSync(ctx context.Context, streamID string) error
}

// Handle identifies a stream whose chunks have all been queued.
type Handle struct {
	StreamID string
	Size     int64
	Chunks   int
}

type Channel struct {
	streams     StreamWriter
	chunkSize   int
	syncTimeout time.Duration
}

type Option func(*Channel)

func WithChunkSize(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

func WithSyncTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.syncTimeout = d
		}
	}
}

func NewChannel(streams StreamWriter, opts ...Option) *Channel {
	c := &Channel{
		streams:     streams,
		chunkSize:   DefaultChunkSize,
		syncTimeout: DefaultSyncTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Channel) ChunkSize() int { return c.chunkSize }

// CreateFromBlob writes blob as a new stream owned by ownerGroupID.
// onProgress gets a strictly increasing fraction after each accepted chunk;
// the last call is always 1.0. The returned handle is not yet durable.
//
// When a chunk write fails the handle is still returned, carrying the stream
// id, so the caller can clean up.
func (c *Channel) CreateFromBlob(ctx context.Context, blob []byte, mimeType, ownerGroupID string, onProgress func(float64)) (Handle, error) {
	if ownerGroupID == "" {
		return Handle{}, fmt.Errorf("%w: owner group is required", ErrUploadIncomplete)
	}
	if onProgress == nil {
		onProgress = func(float64) {}
	}

	info := &store.StreamInfo{
		GroupID:   ownerGroupID,
		MimeType:  mimeType,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.streams.CreateStream(ctx, info); err != nil {
		return Handle{}, fmt.Errorf("%w: creating stream: %v", ErrUploadIncomplete, err)
	}
	h := Handle{StreamID: info.ID}

	total := len(blob)
	if total == 0 {
		onProgress(1.0)
	}
	for off := 0; off < total; off += c.chunkSize {
		if err := ctx.Err(); err != nil {
			return h, fmt.Errorf("%w: %v", ErrUploadIncomplete, err)
		}
		end := min(off+c.chunkSize, total)
		if err := c.streams.WriteChunk(ctx, info.ID, h.Chunks, blob[off:end]); err != nil {
			return h, fmt.Errorf("%w: chunk %d: %v", ErrUploadIncomplete, h.Chunks, err)
		}
		h.Chunks++
		h.Size += int64(end - off)
		if end == total {
			onProgress(1.0)
		} else {
			onProgress(float64(end) / float64(total))
		}
	}

	if err := c.streams.EndStream(ctx, info.ID); err != nil {
		return h, fmt.Errorf("%w: ending stream: %v", ErrUploadIncomplete, err)
	}
	return h, nil
}

// WaitForSync blocks until the store reports the stream durable or the sync
// timeout passes.
func (c *Channel) WaitForSync(ctx context.Context, h Handle) error {
	if h.StreamID == "" {
		return fmt.Errorf("%w: no stream", ErrUploadIncomplete)
	}
	ctx, cancel := context.WithTimeout(ctx, c.syncTimeout)
	defer cancel()
	if err := c.streams.WaitForSync(ctx, h.StreamID); err != nil {
		return fmt.Errorf("%w: waiting for sync of %s: %w", ErrUploadIncomplete, h.StreamID, err)
	}
	return nil
}
