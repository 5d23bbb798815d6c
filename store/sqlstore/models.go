package sqlstore

import (
	"time"

	"voxdrop/access"
	"voxdrop/account"
	"voxdrop/message"
	"voxdrop/store"
)

type groupRow struct {
	ID        string    `gorm:"column:id;type:varchar(64);primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (groupRow) TableName() string { return "groups" }

type memberRow struct {
	GroupID   string `gorm:"column:group_id;type:varchar(64);primaryKey"`
	Principal string `gorm:"column:principal;type:varchar(64);primaryKey"`
	Role      string `gorm:"column:role;type:varchar(16);not null"`
}

func (memberRow) TableName() string { return "group_members" }

type streamRow struct {
	ID        string    `gorm:"column:id;type:varchar(64);primaryKey"`
	GroupID   string    `gorm:"column:group_id;type:varchar(64);not null;index"`
	MimeType  string    `gorm:"column:mime_type;type:varchar(64);not null;default:''"`
	Size      int64     `gorm:"column:size;not null;default:0"`
	Chunks    int       `gorm:"column:chunks;not null;default:0"`
	Ended     bool      `gorm:"column:ended;not null;default:false"`
	Synced    bool      `gorm:"column:synced;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (streamRow) TableName() string { return "streams" }

func (r streamRow) info() store.StreamInfo {
	return store.StreamInfo{
		ID:        r.ID,
		GroupID:   r.GroupID,
		MimeType:  r.MimeType,
		Size:      r.Size,
		Chunks:    r.Chunks,
		Ended:     r.Ended,
		Synced:    r.Synced,
		CreatedAt: r.CreatedAt,
	}
}

type chunkRow struct {
	StreamID string `gorm:"column:stream_id;type:varchar(64);primaryKey"`
	Seq      int    `gorm:"column:seq;primaryKey;autoIncrement:false"`
	Data     []byte `gorm:"column:data;not null"`
}

func (chunkRow) TableName() string { return "stream_chunks" }

type recordRow struct {
	ID               string     `gorm:"column:id;type:varchar(64);primaryKey"`
	AudioRef         string     `gorm:"column:audio_ref;type:varchar(64);not null"`
	GroupID          string     `gorm:"column:group_id;type:varchar(64);not null;index"`
	CreatedAt        time.Time  `gorm:"column:created_at;not null;autoCreateTime:false"`
	CreatorID        *string    `gorm:"column:creator_id;type:varchar(64)"`
	CreatorFirstName *string    `gorm:"column:creator_first_name;type:text"`
	Title            *string    `gorm:"column:title;type:text"`
	Transcription    *string    `gorm:"column:transcription;type:text"`
	ExpiresAt        *time.Time `gorm:"column:expires_at"`
	ListensLeft      *int       `gorm:"column:listens_left"`
	ReceivedAt       time.Time  `gorm:"column:received_at;not null"`
}

func (recordRow) TableName() string { return "voice_messages" }

func toRecordRow(r *message.Record) recordRow {
	row := recordRow{
		ID:            r.ID,
		AudioRef:      r.AudioRef,
		GroupID:       r.GroupID,
		CreatedAt:     r.CreatedAt.UTC(),
		Title:         r.Title,
		Transcription: r.Transcription,
		ExpiresAt:     r.ExpiresAt,
		ListensLeft:   r.ListensLeft,
	}
	if r.Creator != nil {
		id, first := r.Creator.ID, r.Creator.FirstName
		row.CreatorID = &id
		row.CreatorFirstName = &first
	}
	return row
}

func (row recordRow) record() *message.Record {
	r := &message.Record{
		ID:            row.ID,
		AudioRef:      row.AudioRef,
		GroupID:       row.GroupID,
		CreatedAt:     row.CreatedAt.UTC(),
		Title:         row.Title,
		Transcription: row.Transcription,
		ExpiresAt:     row.ExpiresAt,
		ListensLeft:   row.ListensLeft,
	}
	if row.CreatorID != nil {
		r.Creator = &message.CreatorRef{ID: *row.CreatorID}
		if row.CreatorFirstName != nil {
			r.Creator.FirstName = *row.CreatorFirstName
		}
	}
	return r
}

type libraryRow struct {
	ID        string    `gorm:"column:id;type:varchar(64);primaryKey"`
	GroupID   string    `gorm:"column:group_id;type:varchar(64);not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (libraryRow) TableName() string { return "libraries" }

// entryRow keeps insertion order through its auto-increment id.
type entryRow struct {
	ID        uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	LibraryID string `gorm:"column:library_id;type:varchar(64);not null;index"`
	RecordID  string `gorm:"column:record_id;type:varchar(64);not null"`
}

func (entryRow) TableName() string { return "library_entries" }

type profileRow struct {
	AccountID string    `gorm:"column:account_id;type:varchar(128);primaryKey"`
	ID        string    `gorm:"column:id;type:varchar(64);not null;uniqueIndex"`
	Name      string    `gorm:"column:name;type:text;not null;default:''"`
	FirstName string    `gorm:"column:first_name;type:text;not null;default:''"`
	GroupID   string    `gorm:"column:group_id;type:varchar(64);not null"`
	LibraryID string    `gorm:"column:library_id;type:varchar(64);not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (profileRow) TableName() string { return "profiles" }

func (row profileRow) profile() *account.Profile {
	return &account.Profile{
		ID:        row.ID,
		Name:      row.Name,
		FirstName: row.FirstName,
		GroupID:   row.GroupID,
		LibraryID: row.LibraryID,
		CreatedAt: row.CreatedAt,
	}
}

func membersOf(g *access.Group) []memberRow {
	rows := make([]memberRow, 0, len(g.Members))
	for _, m := range g.MemberList() {
		rows = append(rows, memberRow{GroupID: g.ID, Principal: string(m.Principal), Role: string(m.Role)})
	}
	return rows
}

var models = []any{
	&groupRow{},
	&memberRow{},
	&streamRow{},
	&chunkRow{},
	&recordRow{},
	&libraryRow{},
	&entryRow{},
	&profileRow{},
}
