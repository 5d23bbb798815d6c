package encoder

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096

	BytesPerSecond = SampleRate * Channels * BitsPerSample / 8
	MimeType       = "audio/flac"
)

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	EncodeTime() time.Duration
}

// Result is one finished encode.
type Result struct {
	Data     []byte
	Frames   uint64
	Duration time.Duration
	Took     time.Duration
}

// Samples decodes little-endian 16-bit PCM. A trailing odd byte is dropped.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// FrameDuration converts a frame count at SampleRate to wall time.
func FrameDuration(frames uint64) time.Duration {
	return time.Duration(frames) * time.Second / SampleRate
}

// EncodePCM encodes a whole capture into one FLAC blob.
func EncodePCM(pcm []byte) (Result, error) {
	enc, err := NewFlac()
	if err != nil {
		return Result{}, err
	}
	samples := Samples(pcm)
	for off := 0; off < len(samples); off += BlockSize {
		end := min(off+BlockSize, len(samples))
		if err := enc.EncodeBlock(samples[off:end]); err != nil {
			return Result{}, fmt.Errorf("block at %d: %w", off, err)
		}
	}
	if err := enc.Close(); err != nil {
		return Result{}, fmt.Errorf("closing flac encoder: %w", err)
	}
	return Result{
		Data:     enc.Bytes(),
		Frames:   enc.TotalFrames(),
		Duration: FrameDuration(enc.TotalFrames()),
		Took:     enc.EncodeTime(),
	}, nil
}
