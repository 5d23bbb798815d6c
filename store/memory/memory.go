// Package memory is an in-process store. Durability is confirmed
// asynchronously after a configurable delay, and faults can be injected for
// tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"voxdrop/access"
	"voxdrop/account"
	"voxdrop/message"
	"voxdrop/store"
)

type stream struct {
	info    store.StreamInfo
	data    []byte
	done    chan struct{}
	syncErr error
}

type library struct {
	groupID string
	ids     []string
}

type Store struct {
	mu        sync.RWMutex
	groups    map[string]*access.Group
	streams   map[string]*stream
	records   map[string]*message.Handle
	received  map[string]time.Time
	libraries map[string]*library
	profiles  map[string]*account.Profile

	syncDelay time.Duration
	now       func() time.Time

	// fault injection
	failSync      error
	holdSync      bool
	failChunkAt   int
	failChunkErr  error
	failRecordErr error
}

type Option func(*Store)

// WithSyncDelay delays durability confirmation after a stream ends.
func WithSyncDelay(d time.Duration) Option {
	return func(s *Store) { s.syncDelay = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		groups:      make(map[string]*access.Group),
		streams:     make(map[string]*stream),
		records:     make(map[string]*message.Handle),
		received:    make(map[string]time.Time),
		libraries:   make(map[string]*library),
		profiles:    make(map[string]*account.Profile),
		now:         time.Now,
		failChunkAt: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailSync makes durability confirmation of streams ended from now on fail
// with err. A nil err clears the fault.
func (s *Store) FailSync(err error) {
	s.mu.Lock()
	s.failSync = err
	s.mu.Unlock()
}

// HoldSync stops confirming durability for streams ended from now on, so
// waiters run into their deadline.
func (s *Store) HoldSync(hold bool) {
	s.mu.Lock()
	s.holdSync = hold
	s.mu.Unlock()
}

// FailChunkAt makes the write of chunk seq fail with err. A negative seq
// clears the fault.
func (s *Store) FailChunkAt(seq int, err error) {
	s.mu.Lock()
	s.failChunkAt = seq
	s.failChunkErr = err
	s.mu.Unlock()
}

// FailCreateRecord makes record creation fail with err.
func (s *Store) FailCreateRecord(err error) {
	s.mu.Lock()
	s.failRecordErr = err
	s.mu.Unlock()
}

// Groups

func (s *Store) CreateGroup(_ context.Context, g *access.Group) error {
	if g == nil {
		return fmt.Errorf("nil group")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == "" {
		g.ID = store.NewID(store.PrefixGroup)
	}
	if _, ok := s.groups[g.ID]; ok {
		return fmt.Errorf("group %s: %w", g.ID, store.ErrAlreadyExists)
	}
	s.groups[g.ID] = g.Clone()
	return nil
}

func (s *Store) Group(_ context.Context, id string) (*access.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return g.Clone(), nil
}

func (s *Store) AddMember(_ context.Context, groupID string, p access.Principal, r access.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return store.ErrNotFound
	}
	return g.AddMember(p, r)
}

func (s *Store) DeleteGroup(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.groups, id)
	return nil
}

func (s *Store) GroupCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.groups)
}

// Streams

func (s *Store) CreateStream(_ context.Context, info *store.StreamInfo) error {
	if info == nil {
		return fmt.Errorf("nil stream info")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[info.GroupID]; !ok {
		return fmt.Errorf("owner group %s: %w", info.GroupID, store.ErrNotFound)
	}
	if info.ID == "" {
		info.ID = store.NewID(store.PrefixStream)
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = s.now().UTC()
	}
	s.streams[info.ID] = &stream{info: *info, done: make(chan struct{})}
	return nil
}

func (s *Store) WriteChunk(ctx context.Context, id string, seq int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[id]
	if !ok {
		return store.ErrNotFound
	}
	if st.info.Ended {
		return store.ErrStreamEnded
	}
	if seq != st.info.Chunks {
		return fmt.Errorf("%w: got %d, want %d", store.ErrChunkOrder, seq, st.info.Chunks)
	}
	if s.failChunkAt >= 0 && seq == s.failChunkAt {
		return s.failChunkErr
	}
	st.data = append(st.data, data...)
	st.info.Chunks++
	st.info.Size += int64(len(data))
	return nil
}

func (s *Store) EndStream(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[id]
	if !ok {
		return store.ErrNotFound
	}
	if st.info.Ended {
		return store.ErrStreamEnded
	}
	st.info.Ended = true
	if s.holdSync {
		return nil
	}

	failErr := s.failSync
	confirm := func() {
		s.mu.Lock()
		if failErr != nil {
			st.syncErr = failErr
		} else {
			st.info.Synced = true
		}
		s.mu.Unlock()
		close(st.done)
	}
	if s.syncDelay <= 0 {
		// Called with the lock held, so confirm from a goroutine.
		go confirm()
		return nil
	}
	time.AfterFunc(s.syncDelay, confirm)
	return nil
}

func (s *Store) WaitForSync(ctx context.Context, id string) error {
	s.mu.RLock()
	st, ok := s.streams[id]
	s.mu.RUnlock()
	if !ok {
		return store.ErrNotFound
	}
	select {
	case <-st.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return st.syncErr
}

func (s *Store) Stream(_ context.Context, id string) (store.StreamInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.streams[id]
	if !ok {
		return store.StreamInfo{}, store.ErrNotFound
	}
	return st.info, nil
}

// ReadStream returns the full contents of an ended stream.
func (s *Store) ReadStream(_ context.Context, id string) ([]byte, store.StreamInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.streams[id]
	if !ok {
		return nil, store.StreamInfo{}, store.ErrNotFound
	}
	if !st.info.Ended {
		return nil, st.info, store.ErrStreamOpen
	}
	out := make([]byte, len(st.data))
	copy(out, st.data)
	return out, st.info, nil
}

func (s *Store) DeleteStream(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.streams[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.streams, id)
	return nil
}

func (s *Store) StreamCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams)
}

// Records

func (s *Store) CreateRecord(_ context.Context, r *message.Record) error {
	if r == nil {
		return fmt.Errorf("nil record")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRecordErr != nil {
		return s.failRecordErr
	}
	if _, ok := s.groups[r.GroupID]; !ok {
		return fmt.Errorf("owner group %s: %w", r.GroupID, store.ErrNotFound)
	}
	r.ID = store.NewID(store.PrefixRecord)
	s.records[r.ID] = message.NewHandle(r)
	s.received[r.ID] = s.now()
	return nil
}

func (s *Store) Record(_ context.Context, id string) (*message.Record, error) {
	s.mu.RLock()
	h, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	rec, _ := h.Get()
	return rec, nil
}

func (s *Store) UpdateRecord(_ context.Context, id string, fn func(*message.Record) error) (*message.Record, error) {
	s.mu.RLock()
	h, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	rec, _, err := h.Update(fn)
	return rec, err
}

// Watch subscribes to committed changes of a record.
func (s *Store) Watch(id string, fn func(*message.Record, uint64)) (func(), error) {
	s.mu.RLock()
	h, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return h.Subscribe(fn), nil
}

// ReceivedAt is when the store accepted the record.
func (s *Store) ReceivedAt(id string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.received[id]
	return t, ok
}

func (s *Store) RecordCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Libraries

func (s *Store) CreateLibrary(_ context.Context, ownerGroupID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[ownerGroupID]; !ok {
		return "", fmt.Errorf("owner group %s: %w", ownerGroupID, store.ErrNotFound)
	}
	id := store.NewID(store.PrefixLibrary)
	s.libraries[id] = &library{groupID: ownerGroupID}
	return id, nil
}

func (s *Store) AppendEntry(_ context.Context, libraryID, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.libraries[libraryID]
	if !ok {
		return store.ErrNotFound
	}
	l.ids = append(l.ids, recordID)
	return nil
}

func (s *Store) Entries(_ context.Context, libraryID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.libraries[libraryID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]string, len(l.ids))
	copy(out, l.ids)
	return out, nil
}

func (s *Store) RemoveEntry(_ context.Context, libraryID, recordID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.libraries[libraryID]
	if !ok {
		return false, store.ErrNotFound
	}
	i := slices.Index(l.ids, recordID)
	if i < 0 {
		return false, nil
	}
	l.ids = slices.Delete(l.ids, i, i+1)
	return true, nil
}

// Profiles

func (s *Store) ProfileByAccount(_ context.Context, accountID string) (*account.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[accountID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *Store) UpdateProfile(_ context.Context, accountID string, fn func(*account.Profile) error) (*account.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.profiles[accountID]
	if !ok {
		return nil, store.ErrNotFound
	}
	next := *cur
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.ID, next.GroupID, next.LibraryID, next.CreatedAt = cur.ID, cur.GroupID, cur.LibraryID, cur.CreatedAt
	s.profiles[accountID] = &next
	out := next
	return &out, nil
}

func (s *Store) CreateProfile(_ context.Context, accountID string, p *account.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[accountID]; ok {
		return fmt.Errorf("profile for %s: %w", accountID, store.ErrAlreadyExists)
	}
	if p.ID == "" {
		p.ID = store.NewID(store.PrefixProfile)
	}
	c := *p
	s.profiles[accountID] = &c
	return nil
}
