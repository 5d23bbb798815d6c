package upload

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxdrop/access"
	"voxdrop/store/memory"
)

func setup(t *testing.T, opts ...memory.Option) (*memory.Store, string) {
	t.Helper()
	st := memory.New(opts...)
	g := access.NewGroup("prf_a")
	require.NoError(t, st.CreateGroup(context.Background(), g))
	return st, g.ID
}

func TestCreateFromBlobChunksAndProgress(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		chunkSize  int
		wantChunks int
	}{
		{"exact multiple", 300, 100, 3},
		{"remainder", 250, 100, 3},
		{"single chunk", 50, 100, 1},
		{"empty", 0, 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st, groupID := setup(t)
			ch := NewChannel(st, WithChunkSize(tt.chunkSize))
			blob := bytes.Repeat([]byte{0xAB}, tt.size)

			var progress []float64
			h, err := ch.CreateFromBlob(ctx, blob, "audio/flac", groupID, func(f float64) {
				progress = append(progress, f)
			})
			require.NoError(t, err)
			assert.NotEmpty(t, h.StreamID)
			assert.Equal(t, tt.wantChunks, h.Chunks)
			assert.Equal(t, int64(tt.size), h.Size)

			require.NotEmpty(t, progress)
			assert.Equal(t, 1.0, progress[len(progress)-1])
			for i := 1; i < len(progress); i++ {
				assert.Greater(t, progress[i], progress[i-1])
			}

			require.NoError(t, ch.WaitForSync(ctx, h))
			data, info, err := st.ReadStream(ctx, h.StreamID)
			require.NoError(t, err)
			assert.Equal(t, blob, data)
			assert.Equal(t, groupID, info.GroupID)
			assert.Equal(t, "audio/flac", info.MimeType)
			assert.True(t, info.Synced)
		})
	}
}

func TestCreateFromBlobChunkFailure(t *testing.T) {
	ctx := context.Background()
	st, groupID := setup(t)
	st.FailChunkAt(1, errors.New("connection reset"))
	ch := NewChannel(st, WithChunkSize(10))

	var progress []float64
	h, err := ch.CreateFromBlob(ctx, make([]byte, 35), "audio/flac", groupID, func(f float64) {
		progress = append(progress, f)
	})
	assert.ErrorIs(t, err, ErrUploadIncomplete)
	assert.NotEmpty(t, h.StreamID, "handle carries the stream id for cleanup")
	assert.Equal(t, 1, h.Chunks)
	require.Len(t, progress, 1)
	assert.Less(t, progress[0], 1.0)
}

func TestCreateFromBlobUnknownGroup(t *testing.T) {
	st, _ := setup(t)
	ch := NewChannel(st)
	_, err := ch.CreateFromBlob(context.Background(), []byte("x"), "audio/flac", "grp_missing", nil)
	assert.ErrorIs(t, err, ErrUploadIncomplete)

	_, err = ch.CreateFromBlob(context.Background(), []byte("x"), "audio/flac", "", nil)
	assert.ErrorIs(t, err, ErrUploadIncomplete)
}

func TestWaitForSyncFailure(t *testing.T) {
	ctx := context.Background()
	st, groupID := setup(t)
	st.FailSync(errors.New("replica unreachable"))
	ch := NewChannel(st)

	h, err := ch.CreateFromBlob(ctx, []byte("audio"), "audio/flac", groupID, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, ch.WaitForSync(ctx, h), ErrUploadIncomplete)
}

func TestWaitForSyncTimeout(t *testing.T) {
	ctx := context.Background()
	st, groupID := setup(t)
	st.HoldSync(true)
	ch := NewChannel(st, WithSyncTimeout(20*time.Millisecond))

	h, err := ch.CreateFromBlob(ctx, []byte("audio"), "audio/flac", groupID, nil)
	require.NoError(t, err)

	err = ch.WaitForSync(ctx, h)
	assert.ErrorIs(t, err, ErrUploadIncomplete)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForSyncDelayed(t *testing.T) {
	ctx := context.Background()
	st, groupID := setup(t, memory.WithSyncDelay(50*time.Millisecond))
	ch := NewChannel(st)

	h, err := ch.CreateFromBlob(ctx, []byte("audio"), "audio/flac", groupID, nil)
	require.NoError(t, err)

	info, err := st.Stream(ctx, h.StreamID)
	require.NoError(t, err)
	assert.True(t, info.Ended)
	assert.False(t, info.Synced, "queued is not durable")

	require.NoError(t, ch.WaitForSync(ctx, h))
	info, err = st.Stream(ctx, h.StreamID)
	require.NoError(t, err)
	assert.True(t, info.Synced)
}

func TestWaitForSyncNoStream(t *testing.T) {
	st, _ := setup(t)
	ch := NewChannel(st)
	assert.ErrorIs(t, ch.WaitForSync(context.Background(), Handle{}), ErrUploadIncomplete)
}
