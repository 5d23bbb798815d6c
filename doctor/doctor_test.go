package doctor

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxdrop/audio"
	"voxdrop/encoder"
	"voxdrop/transcribe"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestRunReportsEachCheck(t *testing.T) {
	var out bytes.Buffer
	code := Run(context.Background(), &out, []Check{
		{Name: "ok", Run: func(context.Context) (string, error) { return "fine", nil }},
		{Name: "skip", Run: func(context.Context) (string, error) { return "", ErrSkipped }},
	})
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "[1/2] ok")
	assert.Contains(t, out.String(), "PASS: fine")
	assert.Contains(t, out.String(), "[2/2] skip")
	assert.Contains(t, out.String(), "SKIP:")
	assert.Contains(t, out.String(), "All checks passed!")
}

func TestRunFails(t *testing.T) {
	var out bytes.Buffer
	code := Run(context.Background(), &out, []Check{
		{Name: "broken", Run: func(context.Context) (string, error) { return "", errors.New("boom") }},
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "FAIL: boom")
}

func TestRunStopsWhenInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	var out bytes.Buffer
	code := Run(ctx, &out, []Check{
		{Name: "never", Run: func(context.Context) (string, error) { ran = true; return "", nil }},
	})
	assert.Equal(t, 1, code)
	assert.False(t, ran)
	assert.Contains(t, out.String(), "interrupted")
}

func TestMicCheckFeedsTranscription(t *testing.T) {
	pcm := make([]byte, encoder.BytesPerSecond/2)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	actx := audio.NewFakeContext(pcm)
	sample := &Sample{}

	msg, err := MicCheck(actx, "", 10*time.Millisecond, sample).Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, msg, "fake")
	assert.NotEmpty(t, sample.get())

	fake := transcribe.NewFake("testing one two", nil)
	msg, err = TranscriptionCheck(fake, sample).Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, msg, "testing one two")
	assert.Equal(t, 1, fake.Calls())
}

func TestMicCheckFailures(t *testing.T) {
	empty := audio.NewFakeContext(nil)
	_, err := MicCheck(empty, "", time.Millisecond, nil).Run(context.Background())
	assert.ErrorContains(t, err, "no audio captured")

	noDevices := audio.NewFakeContext(nil)
	noDevices.DeviceList = nil
	_, err = MicCheck(noDevices, "", time.Millisecond, nil).Run(context.Background())
	assert.ErrorContains(t, err, "no capture devices")

	_, err = MicCheck(audio.NewFakeContext(nil), "Studio Mic", time.Millisecond, nil).Run(context.Background())
	assert.ErrorIs(t, err, audio.ErrNoDevice)

	_, err = MicCheck(nil, "", time.Millisecond, nil).Run(context.Background())
	assert.ErrorIs(t, err, ErrSkipped)
}

func TestTranscriptionCheckWithoutSample(t *testing.T) {
	fake := transcribe.NewFake("", nil)
	msg, err := TranscriptionCheck(fake, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, msg, "no speech detected")

	failing := transcribe.NewFake("", errors.New("unauthorized"))
	_, err = TranscriptionCheck(failing, nil).Run(context.Background())
	assert.ErrorContains(t, err, "unauthorized")

	_, err = TranscriptionCheck(nil, nil).Run(context.Background())
	assert.ErrorIs(t, err, ErrSkipped)
}

func TestStoreCheck(t *testing.T) {
	_, err := StoreCheck("SQL store", pinger{}).Run(context.Background())
	assert.NoError(t, err)

	_, err = StoreCheck("SQL store", pinger{err: errors.New("refused")}).Run(context.Background())
	assert.ErrorContains(t, err, "refused")

	_, err = StoreCheck("SQL store", nil).Run(context.Background())
	assert.ErrorIs(t, err, ErrSkipped)
}
