package audio

import (
	"fmt"
	"os"
	"sync"
	"time"
)

const fakeBytesPerFrame = 2 // 16-bit mono

// FakeContext plays back fixed PCM as if it came from a microphone.
type FakeContext struct {
	PCM []byte
	// ChunkFrames is the size of each callback; defaults to 1024 frames.
	ChunkFrames int
	// Interval paces callbacks. Zero delivers everything inside Start.
	Interval time.Duration

	DeviceList []DeviceInfo
	DevicesErr error
	OpenErr    error
	StartErr   error

	mu       sync.Mutex
	captures []*FakeCapture
}

func NewFakeContext(pcm []byte) *FakeContext {
	return &FakeContext{PCM: pcm, DeviceList: []DeviceInfo{{ID: "fake", Name: "Fake Microphone"}}}
}

// NewFakeContextFromWAV strips the header of a 16 kHz mono WAV file.
func NewFakeContextFromWAV(path string) (*FakeContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	return NewFakeContext(data), nil
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	if f.DevicesErr != nil {
		return nil, f.DevicesErr
	}
	return f.DeviceList, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(device *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	name := "fake"
	if device != nil {
		name = device.Name
	}
	chunk := f.ChunkFrames
	if chunk <= 0 {
		chunk = 1024
	}
	c := &FakeCapture{
		pcm:        f.PCM,
		chunkBytes: chunk * fakeBytesPerFrame,
		interval:   f.Interval,
		startErr:   f.StartErr,
		name:       name,
	}
	f.mu.Lock()
	f.captures = append(f.captures, c)
	f.mu.Unlock()
	return c, nil
}

// Captures returns every capture opened so far.
func (f *FakeContext) Captures() []*FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeCapture(nil), f.captures...)
}

type FakeCapture struct {
	pcm        []byte
	chunkBytes int
	interval   time.Duration
	startErr   error
	name       string

	mu      sync.Mutex
	cb      DataCallback
	started bool
	closed  bool
	stopCh  chan struct{}
	done    chan struct{}
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return f.name }

func (f *FakeCapture) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeCapture) emit(pos int) int {
	end := min(pos+f.chunkBytes, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	}
	return end
}

func (f *FakeCapture) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return fmt.Errorf("fake capture already started")
	}
	f.started = true
	f.stopCh = make(chan struct{})
	f.done = make(chan struct{})
	f.mu.Unlock()

	if f.interval <= 0 {
		for pos := 0; pos < len(f.pcm); {
			pos = f.emit(pos)
		}
		close(f.done)
		return nil
	}

	go func() {
		defer close(f.done)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for pos := 0; pos < len(f.pcm); {
			pos = f.emit(pos)
			select {
			case <-f.stopCh:
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return
	}
	f.started = false
	stopCh, done := f.stopCh, f.done
	f.mu.Unlock()

	close(stopCh)
	<-done
}

func (f *FakeCapture) Close() {
	f.Stop()
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}
