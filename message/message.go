package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voxdrop/access"
	"voxdrop/store"
)

var (
	// ErrNotFound is returned for unknown ids and for records the viewer may
	// not read; callers cannot tell the two apart.
	ErrNotFound   = store.ErrNotFound
	ErrNotCreator = errors.New("only the creator may edit this message")
	ErrInvalid    = errors.New("invalid message")
)

// CreatorRef is a weak reference to the authoring profile.
type CreatorRef struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
}

// Record is one persisted voice message. Optional fields are pointers: nil
// means absent, which is not the same as an empty string.
type Record struct {
	ID        string
	AudioRef  string
	GroupID   string
	CreatedAt time.Time
	Creator   *CreatorRef

	Title         *string
	Transcription *string

	// Reserved lifecycle fields. Stored and exported, never enforced.
	ExpiresAt   *time.Time
	ListensLeft *int
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Creator != nil {
		cr := *r.Creator
		c.Creator = &cr
	}
	c.Title = cloneString(r.Title)
	c.Transcription = cloneString(r.Transcription)
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		c.ExpiresAt = &t
	}
	if r.ListensLeft != nil {
		n := *r.ListensLeft
		c.ListensLeft = &n
	}
	return &c
}

func (r *Record) HasTranscription() bool { return r.Transcription != nil }

// CreatedBy reports whether p authored the record. Anonymous records have no
// creator.
func (r *Record) CreatedBy(p access.Principal) bool {
	return r.Creator != nil && p != "" && access.Principal(r.Creator.ID) == p
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// String returns a pointer to s, for optional fields.
func String(s string) *string { return &s }

// Fields are the caller-supplied values of a new record.
type Fields struct {
	AudioRef    string
	CreatedAt   time.Time
	Creator     *CreatorRef
	Title       *string
	ExpiresAt   *time.Time
	ListensLeft *int
}

type RecordCreator interface {
	CreateRecord(ctx context.Context, r *Record) error
}

// Create persists a new record under owner. AudioRef must point at a stream
// that is already durable; that ordering is the caller's job.
func Create(ctx context.Context, c RecordCreator, f Fields, owner *access.Group) (*Record, error) {
	if f.AudioRef == "" {
		return nil, fmt.Errorf("%w: audio reference is required", ErrInvalid)
	}
	if f.CreatedAt.IsZero() {
		return nil, fmt.Errorf("%w: createdAt is required", ErrInvalid)
	}
	if owner == nil || owner.ID == "" {
		return nil, fmt.Errorf("%w: owner group is required", ErrInvalid)
	}

	rec := &Record{
		AudioRef:    f.AudioRef,
		GroupID:     owner.ID,
		CreatedAt:   f.CreatedAt.UTC(),
		Title:       cloneString(f.Title),
		ExpiresAt:   f.ExpiresAt,
		ListensLeft: f.ListensLeft,
	}
	if f.Creator != nil {
		cr := *f.Creator
		rec.Creator = &cr
	}

	if err := c.CreateRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating record: %w", err)
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("creating record: store assigned no id")
	}
	return rec, nil
}

// Source resolves records and the groups that own them.
type Source interface {
	Record(ctx context.Context, id string) (*Record, error)
	Group(ctx context.Context, id string) (*access.Group, error)
}

// Resolve returns the record if viewer may read it, ErrNotFound otherwise.
func Resolve(ctx context.Context, src Source, id string, viewer access.Principal) (*Record, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	rec, err := src.Record(ctx, id)
	if err != nil {
		return nil, err
	}
	g, err := src.Group(ctx, rec.GroupID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if viewer == "" {
		viewer = access.Everyone
	}
	if !g.CanRead(viewer) {
		return nil, ErrNotFound
	}
	return rec, nil
}

type Updater interface {
	UpdateRecord(ctx context.Context, id string, fn func(*Record) error) (*Record, error)
}

// SetTitle replaces the title; nil clears it. Only the creator may do this.
func SetTitle(ctx context.Context, u Updater, id string, actor access.Principal, title *string) (*Record, error) {
	return u.UpdateRecord(ctx, id, func(r *Record) error {
		if !r.CreatedBy(actor) {
			return ErrNotCreator
		}
		r.Title = cloneString(title)
		return nil
	})
}

// SetTranscription lets the creator correct or clear a transcription.
func SetTranscription(ctx context.Context, u Updater, id string, actor access.Principal, text *string) (*Record, error) {
	return u.UpdateRecord(ctx, id, func(r *Record) error {
		if !r.CreatedBy(actor) {
			return ErrNotCreator
		}
		r.Transcription = cloneString(text)
		return nil
	})
}
