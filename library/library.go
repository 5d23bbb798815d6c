// Package library keeps a profile's ordered list of message references.
package library

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"voxdrop/log"
	"voxdrop/message"
	"voxdrop/store"
)

// Store holds library entries as an insertion-ordered list of record ids.
type Store interface {
	AppendEntry(ctx context.Context, libraryID, recordID string) error
	Entries(ctx context.Context, libraryID string) ([]string, error)
	// RemoveEntry atomically deletes the first entry equal to recordID and
	// reports whether one was found.
	RemoveEntry(ctx context.Context, libraryID, recordID string) (bool, error)
}

type Resolver interface {
	Record(ctx context.Context, id string) (*message.Record, error)
}

type Library struct {
	id      string
	entries Store
	records Resolver
}

func New(id string, entries Store, records Resolver) *Library {
	return &Library{id: id, entries: entries, records: records}
}

func (l *Library) ID() string { return l.id }

// Append adds rec at the end. It is not idempotent: appending the same
// record twice stores two references.
func (l *Library) Append(ctx context.Context, rec *message.Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("library append: record has no id")
	}
	if err := l.entries.AppendEntry(ctx, l.id, rec.ID); err != nil {
		return fmt.Errorf("library append %s: %w", rec.ID, err)
	}
	return nil
}

// Remove unlinks the first entry with the given id. The record and its audio
// stay in the store. Removing an absent id is not an error.
func (l *Library) Remove(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	removed, err := l.entries.RemoveEntry(ctx, l.id, id)
	if err != nil {
		return false, fmt.Errorf("library remove %s: %w", id, err)
	}
	return removed, nil
}

// Entries returns the raw ids in insertion order.
func (l *Library) Entries(ctx context.Context) ([]string, error) {
	ids, err := l.entries.Entries(ctx, l.id)
	if err != nil {
		return nil, fmt.Errorf("library entries: %w", err)
	}
	return ids, nil
}

// List resolves every entry and returns them newest first. Entries that no
// longer resolve, or fail to load, are skipped so one bad record does not hide
// the rest of the library.
func (l *Library) List(ctx context.Context) ([]*message.Record, error) {
	ids, err := l.Entries(ctx)
	if err != nil {
		return nil, err
	}

	type entry struct {
		rec *message.Record
		pos int
	}
	resolved := make([]entry, 0, len(ids))
	for i, id := range ids {
		rec, err := l.records.Record(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			log.Warnf("library_entry_unresolved: library=%s record=%s: %v", l.id, id, err)
			continue
		}
		if rec == nil {
			continue
		}
		resolved = append(resolved, entry{rec: rec, pos: i})
	}

	sort.SliceStable(resolved, func(i, j int) bool {
		a, b := resolved[i], resolved[j]
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.CreatedAt.After(b.rec.CreatedAt)
		}
		return a.pos > b.pos
	})

	out := make([]*message.Record, len(resolved))
	for i, e := range resolved {
		out[i] = e.rec
	}
	return out, nil
}
