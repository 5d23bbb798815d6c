package message

import "sync"

// Handle is a versioned, observable record. Readers take snapshots with Get;
// writers go through Update, which bumps the version and notifies
// subscribers after the lock is released.
type Handle struct {
	mu      sync.Mutex
	rec     *Record
	version uint64
	subs    map[int]func(*Record, uint64)
	nextSub int
}

func NewHandle(r *Record) *Handle {
	return &Handle{rec: r.Clone(), version: 1, subs: make(map[int]func(*Record, uint64))}
}

func (h *Handle) Get() (*Record, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rec.Clone(), h.version
}

// Subscribe registers fn for every committed change. The returned func
// unsubscribes.
func (h *Handle) Subscribe(fn func(*Record, uint64)) func() {
	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Update applies fn to a copy and commits it when fn succeeds. Id, audio,
// owner group and creation time are immutable and restored after fn runs.
func (h *Handle) Update(fn func(*Record) error) (*Record, uint64, error) {
	h.mu.Lock()
	next := h.rec.Clone()
	if err := fn(next); err != nil {
		h.mu.Unlock()
		return nil, 0, err
	}
	next.ID = h.rec.ID
	next.AudioRef = h.rec.AudioRef
	next.GroupID = h.rec.GroupID
	next.CreatedAt = h.rec.CreatedAt
	h.rec = next
	h.version++
	version := h.version
	snapshot := next.Clone()
	subs := make([]func(*Record, uint64), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub(snapshot.Clone(), version)
	}
	return snapshot, version, nil
}
