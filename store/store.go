// Package store holds what every storage backend shares: the not-found
// sentinel, stream metadata and id generation. The interfaces a component
// needs are declared by that component; memory, sqlstore and redislib
// implement them.
package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrStreamEnded   = errors.New("stream already ended")
	ErrStreamOpen    = errors.New("stream not ended")
	ErrChunkOrder    = errors.New("chunk out of order")
	ErrAlreadyExists = errors.New("already exists")
)

// Id prefixes by object kind.
const (
	PrefixGroup   = "grp_"
	PrefixStream  = "str_"
	PrefixRecord  = "msg_"
	PrefixLibrary = "lib_"
	PrefixProfile = "prf_"
)

func NewID(prefix string) string {
	return prefix + uuid.NewString()
}

// StreamInfo describes a binary stream. Size and Chunks are filled in as
// chunks are written.
type StreamInfo struct {
	ID        string
	GroupID   string
	MimeType  string
	Size      int64
	Chunks    int
	Ended     bool
	Synced    bool
	CreatedAt time.Time
}
