// Package account owns the per-account profile and the explicit session
// context that every operation receives instead of a global current user.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"voxdrop/access"
	"voxdrop/library"
	"voxdrop/log"
	"voxdrop/message"
	"voxdrop/store"
)

const DefaultName = "Anonymous user"

type Profile struct {
	ID        string
	Name      string
	FirstName string
	GroupID   string
	LibraryID string
	CreatedAt time.Time
}

func (p *Profile) Principal() access.Principal { return access.Principal(p.ID) }

func (p *Profile) CreatorRef() *message.CreatorRef {
	return &message.CreatorRef{ID: p.ID, FirstName: p.FirstName}
}

type Store interface {
	ProfileByAccount(ctx context.Context, accountID string) (*Profile, error)
	CreateProfile(ctx context.Context, accountID string, p *Profile) error
	CreateGroup(ctx context.Context, g *access.Group) error
	CreateLibrary(ctx context.Context, ownerGroupID string) (string, error)
	// UpdateProfile applies fn to the stored profile under the store's lock
	// and returns the committed copy.
	UpdateProfile(ctx context.Context, accountID string, fn func(*Profile) error) (*Profile, error)
}

var ErrEmptyName = errors.New("name must not be empty")

// ensureMu serializes first-time profile creation within the process.
var ensureMu sync.Mutex

// Ensure returns the account's profile, creating it on first use: a publicly
// readable profile group owned by the new profile plus an empty message
// library.
func Ensure(ctx context.Context, st Store, accountID, name string) (*Profile, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id is required")
	}

	ensureMu.Lock()
	defer ensureMu.Unlock()

	p, err := st.ProfileByAccount(ctx, accountID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading profile: %w", err)
	}

	id := store.NewID(store.PrefixProfile)
	group := access.NewGroupWithVisibility(access.Principal(id), access.Public)
	if err := st.CreateGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("creating profile group: %w", err)
	}
	libID, err := st.CreateLibrary(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("creating message library: %w", err)
	}

	if name == "" {
		name = DefaultName
	}
	p = &Profile{
		ID:        id,
		Name:      name,
		GroupID:   group.ID,
		LibraryID: libID,
		CreatedAt: time.Now().UTC(),
	}
	if err := st.CreateProfile(ctx, accountID, p); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return st.ProfileByAccount(ctx, accountID)
		}
		return nil, fmt.Errorf("creating profile: %w", err)
	}
	log.Info("profile_created: " + p.ID)
	return p, nil
}

// Update changes the display name and first name of an existing profile.
// A nil field is left as is. Records uploaded afterwards carry the new first
// name; earlier records keep the creator snapshot they were created with.
func Update(ctx context.Context, st Store, accountID string, name, firstName *string) (*Profile, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id is required")
	}
	if name != nil && strings.TrimSpace(*name) == "" {
		return nil, ErrEmptyName
	}
	p, err := st.UpdateProfile(ctx, accountID, func(p *Profile) error {
		if name != nil {
			p.Name = strings.TrimSpace(*name)
		}
		if firstName != nil {
			p.FirstName = strings.TrimSpace(*firstName)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	log.Info("profile_updated: " + p.ID)
	return p, nil
}

// Session is the explicit "who is acting" context.
type Session struct {
	AccountID string
	Profile   *Profile
	Library   *library.Library
}

func (s *Session) Principal() access.Principal {
	if s == nil || s.Profile == nil {
		return access.Everyone
	}
	return s.Profile.Principal()
}

// Lookup binds an existing profile without creating one. It returns
// store.ErrNotFound for accounts that never opened a session.
func Lookup(ctx context.Context, st Store, entries library.Store, records library.Resolver, accountID string) (*Session, error) {
	p, err := st.ProfileByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return bind(accountID, p, entries, records), nil
}

func bind(accountID string, p *Profile, entries library.Store, records library.Resolver) *Session {
	return &Session{
		AccountID: accountID,
		Profile:   p,
		Library:   library.New(p.LibraryID, entries, records),
	}
}

// Open ensures the profile exists and binds its library.
func Open(ctx context.Context, st Store, entries library.Store, records library.Resolver, accountID, name string) (*Session, error) {
	p, err := Ensure(ctx, st, accountID, name)
	if err != nil {
		return nil, err
	}
	return bind(accountID, p, entries, records), nil
}
