package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxdrop/access"
	"voxdrop/account"
	"voxdrop/library"
	"voxdrop/message"
	"voxdrop/store"
	"voxdrop/upload"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	s, err := Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("mysql", "")
	assert.Error(t, err)
}

func TestGroups(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	g := access.NewGroupWithVisibility("prf_a", access.Public)
	require.NoError(t, s.CreateGroup(ctx, g))
	assert.Contains(t, g.ID, store.PrefixGroup)
	assert.ErrorIs(t, s.CreateGroup(ctx, g), store.ErrAlreadyExists)

	got, err := s.Group(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.Members, got.Members)
	assert.True(t, got.IsPublic())

	require.NoError(t, s.AddMember(ctx, g.ID, "prf_b", access.RoleReader))
	require.NoError(t, s.AddMember(ctx, g.ID, "prf_b", access.RoleWriter))
	require.NoError(t, s.AddMember(ctx, g.ID, "prf_a", access.RoleReader))
	got, err = s.Group(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, access.RoleWriter, got.RoleOf("prf_b"))
	assert.Equal(t, access.RoleOwner, got.RoleOf("prf_a"), "owner is never downgraded")

	assert.ErrorIs(t, s.AddMember(ctx, "grp_missing", "prf_b", access.RoleReader), store.ErrNotFound)
	assert.ErrorIs(t, s.AddMember(ctx, g.ID, "prf_b", "admin"), access.ErrInvalidRole)
	assert.ErrorIs(t, s.AddMember(ctx, g.ID, "", access.RoleReader), access.ErrInvalidPrincipal)

	require.NoError(t, s.DeleteGroup(ctx, g.ID))
	_, err = s.Group(ctx, g.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteGroup(ctx, g.ID), store.ErrNotFound)
}

func TestStreams(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	g := access.NewGroup("prf_a")
	require.NoError(t, s.CreateGroup(ctx, g))

	assert.ErrorIs(t, s.CreateStream(ctx, &store.StreamInfo{GroupID: "grp_missing"}), store.ErrNotFound)

	info := &store.StreamInfo{GroupID: g.ID, MimeType: "audio/flac"}
	require.NoError(t, s.CreateStream(ctx, info))
	assert.Contains(t, info.ID, store.PrefixStream)

	require.NoError(t, s.WriteChunk(ctx, info.ID, 0, []byte("ab")))
	assert.ErrorIs(t, s.WriteChunk(ctx, info.ID, 5, []byte("xx")), store.ErrChunkOrder)
	require.NoError(t, s.WriteChunk(ctx, info.ID, 1, []byte("cd")))

	_, _, err := s.ReadStream(ctx, info.ID)
	assert.ErrorIs(t, err, store.ErrStreamOpen)
	assert.ErrorIs(t, s.WaitForSync(ctx, info.ID), store.ErrStreamOpen)

	require.NoError(t, s.EndStream(ctx, info.ID))
	require.NoError(t, s.WaitForSync(ctx, info.ID))
	assert.ErrorIs(t, s.WriteChunk(ctx, info.ID, 2, []byte("ef")), store.ErrStreamEnded)
	assert.ErrorIs(t, s.EndStream(ctx, info.ID), store.ErrStreamEnded)

	data, got, err := s.ReadStream(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), data)
	assert.Equal(t, int64(4), got.Size)
	assert.Equal(t, 2, got.Chunks)
	assert.True(t, got.Synced)
	assert.Equal(t, "audio/flac", got.MimeType)

	require.NoError(t, s.DeleteStream(ctx, info.ID))
	_, _, err = s.ReadStream(ctx, info.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUploadChannelOverSQL(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	g := access.NewGroup("prf_a")
	require.NoError(t, s.CreateGroup(ctx, g))

	blob := make([]byte, 2500)
	for i := range blob {
		blob[i] = byte(i)
	}
	ch := upload.NewChannel(s, upload.WithChunkSize(1000))
	var fractions []float64
	h, err := ch.CreateFromBlob(ctx, blob, "audio/flac", g.ID, func(f float64) { fractions = append(fractions, f) })
	require.NoError(t, err)
	require.NoError(t, ch.WaitForSync(ctx, h))
	assert.Equal(t, 3, h.Chunks)
	assert.Equal(t, 1.0, fractions[len(fractions)-1])

	data, _, err := s.ReadStream(ctx, h.StreamID)
	require.NoError(t, err)
	assert.Equal(t, blob, data)
}

func TestRecords(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s := openTest(t)
	s.now = func() time.Time { return now }

	g := access.NewGroup("prf_a")
	require.NoError(t, s.CreateGroup(ctx, g))
	info := &store.StreamInfo{GroupID: g.ID}
	require.NoError(t, s.CreateStream(ctx, info))

	captured := now.Add(-2 * time.Second)
	listens := 3
	rec, err := message.Create(ctx, s, message.Fields{
		AudioRef:    info.ID,
		CreatedAt:   captured,
		Creator:     &message.CreatorRef{ID: "prf_a", FirstName: "Ada"},
		Title:       message.String(""),
		ListensLeft: &listens,
	}, g)
	require.NoError(t, err)
	assert.Contains(t, rec.ID, store.PrefixRecord)

	got, err := s.Record(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(captured))
	assert.Equal(t, "Ada", got.Creator.FirstName)
	require.NotNil(t, got.Title, "empty title is kept distinct from absent")
	assert.Equal(t, "", *got.Title)
	assert.Nil(t, got.Transcription)
	assert.Nil(t, got.ExpiresAt)
	assert.Equal(t, 3, *got.ListensLeft)

	received, err := s.ReceivedAt(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Before(received))

	updated, err := s.UpdateRecord(ctx, rec.ID, func(r *message.Record) error {
		r.Transcription = message.String("hello")
		r.Title = nil
		r.CreatedAt = time.Time{}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", *updated.Transcription)

	got, err = s.Record(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", *got.Transcription)
	assert.Nil(t, got.Title)
	assert.True(t, got.CreatedAt.Equal(captured), "createdAt is immutable")

	boom := errors.New("boom")
	_, err = s.UpdateRecord(ctx, rec.ID, func(r *message.Record) error {
		r.Transcription = message.String("lost")
		return boom
	})
	assert.ErrorIs(t, err, boom)
	got, err = s.Record(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", *got.Transcription)

	_, err = s.Record(ctx, "msg_missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.UpdateRecord(ctx, "msg_missing", func(*message.Record) error { return nil })
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreatorOnlyEditsOverSQL(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	g := access.NewGroupWithVisibility("prf_a", access.Public)
	require.NoError(t, s.CreateGroup(ctx, g))
	rec, err := message.Create(ctx, s, message.Fields{
		AudioRef:  "str_x",
		CreatedAt: time.Now(),
		Creator:   &message.CreatorRef{ID: "prf_a"},
	}, g)
	require.NoError(t, err)

	_, err = message.SetTitle(ctx, s, rec.ID, "prf_b", message.String("nope"))
	assert.ErrorIs(t, err, message.ErrNotCreator)
	_, err = message.SetTitle(ctx, s, rec.ID, "prf_a", message.String("mine"))
	require.NoError(t, err)

	got, err := message.Resolve(ctx, s, rec.ID, access.Everyone)
	require.NoError(t, err)
	assert.Equal(t, "mine", *got.Title)
}

func TestLibraries(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	g := access.NewGroup("prf_a")
	require.NoError(t, s.CreateGroup(ctx, g))

	_, err := s.CreateLibrary(ctx, "grp_missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	lib, err := s.CreateLibrary(ctx, g.ID)
	require.NoError(t, err)
	for _, id := range []string{"msg_123", "msg_456", "msg_123"} {
		require.NoError(t, s.AppendEntry(ctx, lib, id))
	}
	ids, err := s.Entries(ctx, lib)
	require.NoError(t, err)
	assert.Equal(t, []string{"msg_123", "msg_456", "msg_123"}, ids)

	removed, err := s.RemoveEntry(ctx, lib, "msg_123")
	require.NoError(t, err)
	assert.True(t, removed)
	ids, err = s.Entries(ctx, lib)
	require.NoError(t, err)
	assert.Equal(t, []string{"msg_456", "msg_123"}, ids, "only the first occurrence goes")

	removed, err = s.RemoveEntry(ctx, lib, "msg_789")
	require.NoError(t, err)
	assert.False(t, removed)
	_, err = s.RemoveEntry(ctx, "lib_missing", "msg_1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.AppendEntry(ctx, "lib_missing", "msg_1"), store.ErrNotFound)
	_, err = s.Entries(ctx, "lib_missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLibraryRemoveOverSQL(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	g := access.NewGroup("prf_a")
	require.NoError(t, s.CreateGroup(ctx, g))
	libID, err := s.CreateLibrary(ctx, g.ID)
	require.NoError(t, err)
	lib := library.New(libID, s, s)

	var recs []*message.Record
	for i := 0; i < 2; i++ {
		rec, err := message.Create(ctx, s, message.Fields{AudioRef: "str_x", CreatedAt: time.Now().Add(time.Duration(i) * time.Second)}, g)
		require.NoError(t, err)
		require.NoError(t, lib.Append(ctx, rec))
		recs = append(recs, rec)
	}

	removed, err := lib.Remove(ctx, recs[0].ID)
	require.NoError(t, err)
	assert.True(t, removed)

	ids, err := lib.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{recs[1].ID}, ids)

	_, err = s.Record(ctx, recs[0].ID)
	assert.NoError(t, err, "removing from the library keeps the record")
}

func TestProfilesAndEnsure(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	_, err := s.ProfileByAccount(ctx, "acct_1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	p, err := account.Ensure(ctx, s, "acct_1", "")
	require.NoError(t, err)
	assert.Equal(t, account.DefaultName, p.Name)

	again, err := account.Ensure(ctx, s, "acct_1", "Someone Else")
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
	assert.Equal(t, p.LibraryID, again.LibraryID)

	g, err := s.Group(ctx, p.GroupID)
	require.NoError(t, err)
	assert.True(t, g.IsOwner(p.Principal()))
	assert.True(t, g.IsPublic())

	err = s.CreateProfile(ctx, "acct_1", &account.Profile{Name: "dup"})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	name, first := "Ada Lovelace", "Ada"
	updated, err := account.Update(ctx, s, "acct_1", &name, &first)
	require.NoError(t, err)
	assert.Equal(t, p.ID, updated.ID)
	assert.Equal(t, "Ada", updated.FirstName)

	reloaded, err := s.ProfileByAccount(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", reloaded.Name)
	assert.Equal(t, "Ada", reloaded.FirstName)
	assert.Equal(t, p.LibraryID, reloaded.LibraryID)

	_, err = s.UpdateProfile(ctx, "acct_missing", func(*account.Profile) error { return nil })
	assert.ErrorIs(t, err, store.ErrNotFound)
}
