// Package recorder turns a live microphone capture into a stored, shared
// voice message.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"voxdrop/access"
	"voxdrop/account"
	"voxdrop/audio"
	"voxdrop/encoder"
	"voxdrop/log"
	"voxdrop/message"
	"voxdrop/upload"
)

type State int

const (
	Idle State = iota
	Recording
	Reviewing
	Uploading
	Uploaded
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Reviewing:
		return "reviewing"
	case Uploading:
		return "uploading"
	case Uploaded:
		return "uploaded"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrUploadInFlight    = errors.New("upload already in flight")
	ErrNoProfile         = errors.New("no creator profile")
	ErrNoLibrary         = errors.New("no message library")
)

// Blob is a finished, immutable capture.
type Blob struct {
	Data       []byte
	MimeType   string
	Frames     uint64
	Duration   time.Duration
	CapturedAt time.Time
}

// Store is what an upload writes besides the audio stream. The deletes are
// only used to roll back a failed upload.
type Store interface {
	CreateGroup(ctx context.Context, g *access.Group) error
	DeleteGroup(ctx context.Context, id string) error
	DeleteStream(ctx context.Context, id string) error
	message.RecordCreator
}

type Library interface {
	Append(ctx context.Context, rec *message.Record) error
}

type UploadContext struct {
	Profile    *account.Profile
	Library    Library
	Visibility access.Visibility
	Title      *string
	// OnProgress receives whole percents, non-decreasing, ending at 100.
	OnProgress func(percent int)
}

type Config struct {
	Audio   audio.Context
	Device  *audio.DeviceInfo
	Store   Store
	Channel *upload.Channel
	Now     func() time.Time
}

type Session struct {
	cfg Config

	mu        sync.Mutex
	state     State
	err       error
	opening   bool
	capture   audio.CaptureDevice
	startedAt time.Time
	blob      *Blob
	recordID  string
	listeners []func(from, to State)

	pcmMu sync.Mutex
	pcm   []byte
}

func New(cfg Config) *Session {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Session{cfg: cfg}
}

// OnTransition registers fn for every state change. Listeners run outside
// the session lock, in registration order.
func (s *Session) OnTransition(fn func(from, to State)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// setStateLocked must be called with mu held. The returned func notifies
// listeners and must be called after unlocking.
func (s *Session) setStateLocked(to State) func() {
	from := s.state
	s.state = to
	listeners := append([]func(from, to State){}, s.listeners...)
	return func() {
		if from == to {
			return
		}
		log.SessionTransition(from.String(), to.String())
		for _, fn := range listeners {
			fn(from, to)
		}
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err is the cause of the last failure while in Error.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) RecordID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordID
}

func (s *Session) Blob() *Blob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blob
}

// Captured is the length of audio buffered so far.
func (s *Session) Captured() time.Duration {
	s.pcmMu.Lock()
	n := len(s.pcm)
	s.pcmMu.Unlock()
	return time.Duration(n) * time.Second / encoder.BytesPerSecond
}

func (s *Session) onData(data []byte, _ uint32) {
	s.pcmMu.Lock()
	s.pcm = append(s.pcm, data...)
	s.pcmMu.Unlock()
}

// Start opens the microphone. On failure the session stays Idle and the
// error wraps ErrDeviceUnavailable.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle || s.opening {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, state)
	}
	if s.cfg.Audio == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: no audio backend", ErrDeviceUnavailable)
	}
	s.opening = true
	s.mu.Unlock()

	s.pcmMu.Lock()
	s.pcm = nil
	s.pcmMu.Unlock()

	dev, err := s.open(ctx)

	s.mu.Lock()
	s.opening = false
	if err != nil {
		s.mu.Unlock()
		log.Warnf("capture_open_failed: %v", err)
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	s.capture = dev
	s.startedAt = s.cfg.Now()
	notify := s.setStateLocked(Recording)
	s.mu.Unlock()
	notify()
	log.Info("capture_started: " + dev.DeviceName())
	return nil
}

func (s *Session) open(ctx context.Context) (audio.CaptureDevice, error) {
	type result struct {
		dev audio.CaptureDevice
		err error
	}
	ch := make(chan result, 1)
	go func() {
		dev, err := s.cfg.Audio.NewCapture(s.cfg.Device, audio.CaptureConfig{
			SampleRate: encoder.SampleRate,
			Channels:   encoder.Channels,
		})
		if err == nil {
			dev.SetCallback(s.onData)
			if err = dev.Start(); err != nil {
				dev.Close()
				dev = nil
			}
		}
		ch <- result{dev, err}
	}()

	select {
	case r := <-ch:
		return r.dev, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				r.dev.ClearCallback()
				r.dev.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Stop ends the capture and encodes it into one immutable blob.
func (s *Session) Stop() (*Blob, error) {
	s.mu.Lock()
	if s.state != Recording || s.capture == nil {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: stop from %s", ErrInvalidTransition, state)
	}
	dev := s.capture
	s.capture = nil
	s.mu.Unlock()

	dev.ClearCallback()
	dev.Stop()
	dev.Close()
	capturedAt := s.cfg.Now()

	s.pcmMu.Lock()
	pcm := s.pcm
	s.pcm = nil
	s.pcmMu.Unlock()

	res, err := encoder.EncodePCM(pcm)

	s.mu.Lock()
	if err != nil {
		s.err = fmt.Errorf("encoding capture: %w", err)
		notify := s.setStateLocked(Error)
		err = s.err
		s.mu.Unlock()
		notify()
		return nil, err
	}
	blob := &Blob{
		Data:       res.Data,
		MimeType:   encoder.MimeType,
		Frames:     res.Frames,
		Duration:   res.Duration,
		CapturedAt: capturedAt,
	}
	s.blob = blob
	notify := s.setStateLocked(Reviewing)
	s.mu.Unlock()
	notify()
	log.Infof("capture_stopped: frames=%d flac_kb=%.1f encode_ms=%d", res.Frames, float64(len(res.Data))/1024, res.Took.Milliseconds())
	return blob, nil
}

// Discard drops a reviewed blob without uploading it.
func (s *Session) Discard() error {
	s.mu.Lock()
	if s.state != Reviewing {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: discard from %s", ErrInvalidTransition, state)
	}
	s.blob = nil
	notify := s.setStateLocked(Idle)
	s.mu.Unlock()
	notify()
	return nil
}

// Reset returns a finished or failed session to Idle so it can record again.
func (s *Session) Reset() error {
	s.mu.Lock()
	if s.state != Error && s.state != Uploaded {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: reset from %s", ErrInvalidTransition, state)
	}
	s.blob = nil
	s.err = nil
	s.recordID = ""
	notify := s.setStateLocked(Idle)
	s.mu.Unlock()
	notify()
	return nil
}

// Upload stores the reviewed blob and appends the new record to the
// library. The library is only touched once the audio is durable and the
// record exists. Only one upload runs per session.
func (s *Session) Upload(ctx context.Context, uc UploadContext) (string, error) {
	s.mu.Lock()
	switch s.state {
	case Uploading:
		s.mu.Unlock()
		return "", ErrUploadInFlight
	case Reviewing:
	default:
		state := s.state
		s.mu.Unlock()
		return "", fmt.Errorf("%w: upload from %s", ErrInvalidTransition, state)
	}
	blob := s.blob
	notify := s.setStateLocked(Uploading)
	s.mu.Unlock()
	notify()

	start := time.Now()
	id, err := s.upload(ctx, blob, uc)

	s.mu.Lock()
	if err != nil {
		s.err = err
		notify = s.setStateLocked(Error)
	} else {
		s.recordID = id
		notify = s.setStateLocked(Uploaded)
	}
	s.mu.Unlock()
	notify()

	if err != nil {
		log.UploadFailed(err)
		return "", err
	}
	log.UploadCompleted(id, len(blob.Data), blob.Duration, time.Since(start))
	return id, nil
}

func (s *Session) upload(ctx context.Context, blob *Blob, uc UploadContext) (string, error) {
	if uc.Profile == nil || uc.Profile.ID == "" {
		return "", ErrNoProfile
	}
	if uc.Library == nil {
		return "", ErrNoLibrary
	}
	if s.cfg.Store == nil || s.cfg.Channel == nil {
		return "", fmt.Errorf("%w: no store configured", upload.ErrUploadIncomplete)
	}
	visibility := uc.Visibility
	if visibility == "" {
		visibility = access.Public
	}

	group := access.NewGroupWithVisibility(uc.Profile.Principal(), visibility)
	if err := s.cfg.Store.CreateGroup(ctx, group); err != nil {
		return "", fmt.Errorf("creating access group: %w", err)
	}

	progress := newProgress(uc.OnProgress)
	progress.report(0)
	h, err := s.cfg.Channel.CreateFromBlob(ctx, blob.Data, blob.MimeType, group.ID, progress.report)
	if err != nil {
		s.rollback(h.StreamID, group.ID)
		return "", err
	}
	if err := s.cfg.Channel.WaitForSync(ctx, h); err != nil {
		s.rollback(h.StreamID, group.ID)
		return "", err
	}

	rec, err := message.Create(ctx, s.cfg.Store, message.Fields{
		AudioRef:  h.StreamID,
		CreatedAt: blob.CapturedAt,
		Creator:   uc.Profile.CreatorRef(),
		Title:     uc.Title,
	}, group)
	if err != nil {
		s.rollback(h.StreamID, group.ID)
		return "", err
	}

	if err := uc.Library.Append(ctx, rec); err != nil {
		return "", fmt.Errorf("adding %s to library: %w", rec.ID, err)
	}
	return rec.ID, nil
}

// rollback removes what a failed upload left behind. Failures are logged,
// never returned: the upload error is what matters to the caller.
func (s *Session) rollback(streamID, groupID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if streamID != "" {
		if err := s.cfg.Store.DeleteStream(ctx, streamID); err != nil {
			log.Warnf("rollback_stream_failed: %s: %v", streamID, err)
		}
	}
	if err := s.cfg.Store.DeleteGroup(ctx, groupID); err != nil {
		log.Warnf("rollback_group_failed: %s: %v", groupID, err)
	}
}

type progress struct {
	last int
	fn   func(int)
}

func newProgress(fn func(int)) *progress {
	return &progress{last: -1, fn: fn}
}

func (p *progress) report(fraction float64) {
	pct := int(math.Round(fraction * 100))
	pct = max(0, min(pct, 100))
	if pct <= p.last {
		return
	}
	p.last = pct
	if p.fn != nil {
		p.fn(pct)
	}
}
