// Package sqlstore persists groups, streams, records, libraries and profiles
// through gorm, on SQLite or Postgres. A stream is durable once the
// transaction that ends it commits.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"voxdrop/access"
	"voxdrop/account"
	"voxdrop/log"
	"voxdrop/message"
	"voxdrop/store"
)

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to backend ("sqlite" or "postgres") and migrates the schema.
func Open(backend, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch backend {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown sql backend %q", backend)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", backend, err)
	}
	if backend == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// SQLite allows one writer; a single connection avoids "database is locked".
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	log.Infof("sql_store_ready: dialect=%s", db.Dialector.Name())
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

// forUpdate locks the selected row where the dialect supports it.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// Groups

func (s *Store) CreateGroup(ctx context.Context, g *access.Group) error {
	if g == nil {
		return fmt.Errorf("nil group")
	}
	if g.ID == "" {
		g.ID = store.NewID(store.PrefixGroup)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&groupRow{ID: g.ID, CreatedAt: s.now()}).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("group %s: %w", g.ID, store.ErrAlreadyExists)
			}
			return fmt.Errorf("failed to create group %s: %w", g.ID, err)
		}
		if members := membersOf(g); len(members) > 0 {
			if err := tx.Create(&members).Error; err != nil {
				return fmt.Errorf("failed to add members of %s: %w", g.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) Group(ctx context.Context, id string) (*access.Group, error) {
	db := s.db.WithContext(ctx)
	var row groupRow
	if err := db.Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	var members []memberRow
	if err := db.Where("group_id = ?", id).Find(&members).Error; err != nil {
		return nil, fmt.Errorf("failed to load members of %s: %w", id, err)
	}
	g := &access.Group{ID: row.ID, Members: make(map[access.Principal]access.Role, len(members))}
	for _, m := range members {
		g.Members[access.Principal(m.Principal)] = access.Role(m.Role)
	}
	return g, nil
}

// AddMember grants p role r. An owner is never downgraded.
func (s *Store) AddMember(ctx context.Context, groupID string, p access.Principal, r access.Role) error {
	if p == "" {
		return access.ErrInvalidPrincipal
	}
	if !r.Valid() {
		return fmt.Errorf("%w: %q", access.ErrInvalidRole, r)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var g groupRow
		if err := forUpdate(tx).Where("id = ?", groupID).First(&g).Error; err != nil {
			return notFound(err)
		}
		var existing memberRow
		err := tx.Where("group_id = ? AND principal = ?", groupID, string(p)).First(&existing).Error
		if err == nil && access.Role(existing.Role) == access.RoleOwner && r != access.RoleOwner {
			return nil
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "group_id"}, {Name: "principal"}},
			DoUpdates: clause.AssignmentColumns([]string{"role"}),
		}).Create(&memberRow{GroupID: groupID, Principal: string(p), Role: string(r)}).Error
	})
}

func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&groupRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		return tx.Where("group_id = ?", id).Delete(&memberRow{}).Error
	})
}

// Streams

func (s *Store) CreateStream(ctx context.Context, info *store.StreamInfo) error {
	if info == nil {
		return fmt.Errorf("nil stream info")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var g groupRow
		if err := tx.Where("id = ?", info.GroupID).First(&g).Error; err != nil {
			return fmt.Errorf("owner group %s: %w", info.GroupID, notFound(err))
		}
		if info.ID == "" {
			info.ID = store.NewID(store.PrefixStream)
		}
		info.CreatedAt = s.now()
		row := streamRow{ID: info.ID, GroupID: info.GroupID, MimeType: info.MimeType, CreatedAt: info.CreatedAt}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		return nil
	})
}

func (s *Store) WriteChunk(ctx context.Context, id string, seq int, data []byte) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row streamRow
		if err := forUpdate(tx).Where("id = ?", id).First(&row).Error; err != nil {
			return notFound(err)
		}
		if row.Ended {
			return store.ErrStreamEnded
		}
		if seq != row.Chunks {
			return fmt.Errorf("%w: got %d, want %d", store.ErrChunkOrder, seq, row.Chunks)
		}
		if data == nil {
			data = []byte{}
		}
		if err := tx.Create(&chunkRow{StreamID: id, Seq: seq, Data: data}).Error; err != nil {
			return fmt.Errorf("failed to write chunk %d: %w", seq, err)
		}
		return tx.Model(&streamRow{}).Where("id = ?", id).Updates(map[string]any{
			"chunks": row.Chunks + 1,
			"size":   row.Size + int64(len(data)),
		}).Error
	})
}

// EndStream finalizes the stream. The commit is the durability point, so the
// stream is marked synced in the same transaction.
func (s *Store) EndStream(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row streamRow
		if err := forUpdate(tx).Where("id = ?", id).First(&row).Error; err != nil {
			return notFound(err)
		}
		if row.Ended {
			return store.ErrStreamEnded
		}
		return tx.Model(&streamRow{}).Where("id = ?", id).Updates(map[string]any{
			"ended":  true,
			"synced": true,
		}).Error
	})
}

func (s *Store) WaitForSync(ctx context.Context, id string) error {
	info, err := s.Stream(ctx, id)
	if err != nil {
		return err
	}
	if !info.Ended {
		return store.ErrStreamOpen
	}
	if !info.Synced {
		return fmt.Errorf("stream %s not synced", id)
	}
	return nil
}

func (s *Store) Stream(ctx context.Context, id string) (store.StreamInfo, error) {
	var row streamRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return store.StreamInfo{}, notFound(err)
	}
	return row.info(), nil
}

func (s *Store) ReadStream(ctx context.Context, id string) ([]byte, store.StreamInfo, error) {
	db := s.db.WithContext(ctx)
	var row streamRow
	if err := db.Where("id = ?", id).First(&row).Error; err != nil {
		return nil, store.StreamInfo{}, notFound(err)
	}
	if !row.Ended {
		return nil, row.info(), store.ErrStreamOpen
	}
	var chunks []chunkRow
	if err := db.Where("stream_id = ?", id).Order("seq").Find(&chunks).Error; err != nil {
		return nil, row.info(), fmt.Errorf("failed to read chunks of %s: %w", id, err)
	}
	out := make([]byte, 0, row.Size)
	for _, c := range chunks {
		out = append(out, c.Data...)
	}
	return out, row.info(), nil
}

func (s *Store) DeleteStream(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&streamRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		return tx.Where("stream_id = ?", id).Delete(&chunkRow{}).Error
	})
}

// Records

func (s *Store) CreateRecord(ctx context.Context, r *message.Record) error {
	if r == nil {
		return fmt.Errorf("nil record")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var g groupRow
		if err := tx.Where("id = ?", r.GroupID).First(&g).Error; err != nil {
			return fmt.Errorf("owner group %s: %w", r.GroupID, notFound(err))
		}
		row := toRecordRow(r)
		row.ID = store.NewID(store.PrefixRecord)
		row.ReceivedAt = s.now()
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to create record: %w", err)
		}
		r.ID = row.ID
		return nil
	})
}

func (s *Store) Record(ctx context.Context, id string) (*message.Record, error) {
	var row recordRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return row.record(), nil
}

// UpdateRecord applies fn to the current record and saves the result. If fn
// returns an error nothing is written.
func (s *Store) UpdateRecord(ctx context.Context, id string, fn func(*message.Record) error) (*message.Record, error) {
	var out *message.Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row recordRow
		if err := forUpdate(tx).Where("id = ?", id).First(&row).Error; err != nil {
			return notFound(err)
		}
		rec := row.record()
		if err := fn(rec); err != nil {
			return err
		}
		// Identity and creation fields are immutable.
		rec.ID, rec.AudioRef, rec.GroupID, rec.CreatedAt = row.ID, row.AudioRef, row.GroupID, row.CreatedAt
		next := toRecordRow(rec)
		next.ReceivedAt = row.ReceivedAt
		if err := tx.Model(&recordRow{}).Where("id = ?", id).Select("*").Omit("id").Updates(&next).Error; err != nil {
			return fmt.Errorf("failed to update record %s: %w", id, err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReceivedAt is when the store accepted the record.
func (s *Store) ReceivedAt(ctx context.Context, id string) (time.Time, error) {
	var row recordRow
	if err := s.db.WithContext(ctx).Select("received_at").Where("id = ?", id).First(&row).Error; err != nil {
		return time.Time{}, notFound(err)
	}
	return row.ReceivedAt, nil
}

// Libraries

func (s *Store) CreateLibrary(ctx context.Context, ownerGroupID string) (string, error) {
	id := store.NewID(store.PrefixLibrary)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var g groupRow
		if err := tx.Where("id = ?", ownerGroupID).First(&g).Error; err != nil {
			return fmt.Errorf("owner group %s: %w", ownerGroupID, notFound(err))
		}
		return tx.Create(&libraryRow{ID: id, GroupID: ownerGroupID, CreatedAt: s.now()}).Error
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) libraryExists(tx *gorm.DB, id string) error {
	var lib libraryRow
	return notFound(tx.Where("id = ?", id).First(&lib).Error)
}

func (s *Store) AppendEntry(ctx context.Context, libraryID, recordID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.libraryExists(tx, libraryID); err != nil {
			return err
		}
		return tx.Create(&entryRow{LibraryID: libraryID, RecordID: recordID}).Error
	})
}

func (s *Store) Entries(ctx context.Context, libraryID string) ([]string, error) {
	db := s.db.WithContext(ctx)
	if err := s.libraryExists(db, libraryID); err != nil {
		return nil, err
	}
	var rows []entryRow
	if err := db.Where("library_id = ?", libraryID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.RecordID
	}
	return ids, nil
}

// RemoveEntry deletes the oldest matching row in a single statement so two
// removals can never pick the same row.
func (s *Store) RemoveEntry(ctx context.Context, libraryID, recordID string) (bool, error) {
	db := s.db.WithContext(ctx)
	if err := s.libraryExists(db, libraryID); err != nil {
		return false, err
	}
	first := db.Model(&entryRow{}).
		Select("min(id)").
		Where("library_id = ? AND record_id = ?", libraryID, recordID)
	res := db.Where("id = (?)", first).Delete(&entryRow{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Profiles

func (s *Store) ProfileByAccount(ctx context.Context, accountID string) (*account.Profile, error) {
	var row profileRow
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return row.profile(), nil
}

func (s *Store) UpdateProfile(ctx context.Context, accountID string, fn func(*account.Profile) error) (*account.Profile, error) {
	var out *account.Profile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row profileRow
		if err := forUpdate(tx).Where("account_id = ?", accountID).First(&row).Error; err != nil {
			return notFound(err)
		}
		p := row.profile()
		if err := fn(p); err != nil {
			return err
		}
		err := tx.Model(&profileRow{}).Where("account_id = ?", accountID).
			Updates(map[string]any{"name": p.Name, "first_name": p.FirstName}).Error
		if err != nil {
			return fmt.Errorf("failed to update profile for %s: %w", accountID, err)
		}
		row.Name, row.FirstName = p.Name, p.FirstName
		out = row.profile()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateProfile(ctx context.Context, accountID string, p *account.Profile) error {
	if p.ID == "" {
		p.ID = store.NewID(store.PrefixProfile)
	}
	row := profileRow{
		AccountID: accountID,
		ID:        p.ID,
		Name:      p.Name,
		FirstName: p.FirstName,
		GroupID:   p.GroupID,
		LibraryID: p.LibraryID,
		CreatedAt: p.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing profileRow
		err := tx.Where("account_id = ?", accountID).First(&existing).Error
		if err == nil {
			return fmt.Errorf("profile for %s: %w", accountID, store.ErrAlreadyExists)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(&row).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("profile for %s: %w", accountID, store.ErrAlreadyExists)
	}
	return err
}
