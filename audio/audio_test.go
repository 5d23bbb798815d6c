package audio

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsBluetooth(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"AirPods Pro", true},
		{"WH-1000XM4", true},
		{"Headset (BT)", false},
		{"Headset BT)", true},
		{"Built-in Microphone", false},
		{"alsa_input.pci-0000_00_1f.3.analog-stereo", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsBluetooth(tt.name), tt.name)
	}
}

func TestFindDevice(t *testing.T) {
	ctx := NewFakeContext(nil)
	ctx.DeviceList = []DeviceInfo{{ID: "a1", Name: "USB Mic"}, {ID: "b2", Name: "Built-in"}}

	d, err := FindDevice(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, d, "empty name means system default")

	d, err = FindDevice(ctx, "usb mic")
	require.NoError(t, err)
	assert.Equal(t, "a1", d.ID)

	d, err = FindDevice(ctx, "b2")
	require.NoError(t, err)
	assert.Equal(t, "Built-in", d.Name)

	_, err = FindDevice(ctx, "missing")
	assert.ErrorIs(t, err, ErrNoDevice)

	ctx.DevicesErr = errors.New("server gone")
	_, err = FindDevice(ctx, "usb mic")
	assert.ErrorIs(t, err, ctx.DevicesErr)
}

// oneByteReader hands out one scripted read per call, like a raw terminal.
type oneByteReader struct{ reads [][]byte }

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(r.reads) == 0 {
		return 0, errors.New("eof")
	}
	n := copy(p, r.reads[0])
	r.reads = r.reads[1:]
	return n, nil
}

func TestPick(t *testing.T) {
	devices := []DeviceInfo{{Name: "one"}, {Name: "two"}, {Name: "three"}}

	tests := []struct {
		name    string
		reads   [][]byte
		want    int
		wantErr error
	}{
		{"enter", [][]byte{{13}}, 0, nil},
		{"down arrow", [][]byte{{0x1b, '[', 'B'}, {13}}, 1, nil},
		{"vim keys", [][]byte{{'j'}, {'j'}, {'j'}, {'k'}, {13}}, 1, nil},
		{"up at top", [][]byte{{0x1b, '[', 'A'}, {13}}, 0, nil},
		{"ctrl-c", [][]byte{{3}}, 0, ErrSelectionCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := pick(&oneByteReader{reads: tt.reads}, &out, devices)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, strings.Contains(out.String(), "three"))
		})
	}
}

func TestFakeCaptureDeliversAllPCM(t *testing.T) {
	pcm := make([]byte, 5000)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	ctx := NewFakeContext(pcm)
	ctx.ChunkFrames = 1000

	dev, err := ctx.NewCapture(nil, CaptureConfig{SampleRate: 16000, Channels: 1})
	require.NoError(t, err)

	var got []byte
	var calls int
	dev.SetCallback(func(data []byte, frames uint32) {
		got = append(got, data...)
		calls++
		assert.Equal(t, uint32(len(data)/2), frames)
	})
	require.NoError(t, dev.Start())
	dev.Stop()
	dev.Close()

	assert.Equal(t, pcm, got)
	assert.Equal(t, 3, calls)
	assert.True(t, ctx.Captures()[0].Closed())
}

func TestFakeContextErrors(t *testing.T) {
	ctx := NewFakeContext(nil)
	ctx.OpenErr = ErrNoDevice
	_, err := ctx.NewCapture(nil, CaptureConfig{})
	assert.ErrorIs(t, err, ErrNoDevice)

	ctx.OpenErr = nil
	ctx.StartErr = errors.New("permission denied")
	dev, err := ctx.NewCapture(nil, CaptureConfig{})
	require.NoError(t, err)
	assert.ErrorIs(t, dev.Start(), ctx.StartErr)
}
