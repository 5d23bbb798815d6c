package access

import (
	"errors"
	"fmt"
	"sort"
)

type Role string

const (
	RoleNone   Role = ""
	RoleReader Role = "reader"
	RoleWriter Role = "writer"
	RoleOwner  Role = "owner"
)

// Principal identifies a member of a group: a profile id or Everyone.
type Principal string

// Everyone stands for any reader, signed in or not.
const Everyone Principal = "everyone"

// Visibility is the default audience chosen when a message is created.
type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

var (
	ErrInvalidRole      = errors.New("invalid role")
	ErrInvalidPrincipal = errors.New("invalid principal")
)

func rank(r Role) int {
	switch r {
	case RoleReader:
		return 1
	case RoleWriter:
		return 2
	case RoleOwner:
		return 3
	default:
		return 0
	}
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if rank(r) == 0 {
		return RoleNone, fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

func (r Role) Valid() bool { return rank(r) > 0 }

// AtLeast reports whether r grants everything other grants.
func (r Role) AtLeast(other Role) bool { return rank(r) >= rank(other) }

type Member struct {
	Principal Principal
	Role      Role
}

// Group is a permission scope. Every stored object is created under exactly one.
type Group struct {
	ID      string
	Members map[Principal]Role
}

// NewGroup returns an unsaved group with owner as its only member. An empty
// owner yields an ownerless group (anonymous capture).
func NewGroup(owner Principal) *Group {
	g := &Group{Members: make(map[Principal]Role)}
	if owner != "" {
		g.Members[owner] = RoleOwner
	}
	return g
}

// NewGroupWithVisibility creates a group for owner and, for Public, grants
// Everyone read access.
func NewGroupWithVisibility(owner Principal, v Visibility) *Group {
	g := NewGroup(owner)
	if v == Public {
		g.Members[Everyone] = RoleReader
	}
	return g
}

// AddMember sets p's role. Roles never downgrade an existing owner.
func (g *Group) AddMember(p Principal, r Role) error {
	if p == "" {
		return ErrInvalidPrincipal
	}
	if !r.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, r)
	}
	if g.Members == nil {
		g.Members = make(map[Principal]Role)
	}
	if g.Members[p] == RoleOwner && r != RoleOwner {
		return nil
	}
	g.Members[p] = r
	return nil
}

// RoleOf returns the effective role of p: the stronger of its own role and
// the role granted to Everyone.
func (g *Group) RoleOf(p Principal) Role {
	if g == nil {
		return RoleNone
	}
	own := g.Members[p]
	pub := g.Members[Everyone]
	if rank(pub) > rank(own) {
		return pub
	}
	return own
}

func (g *Group) CanRead(p Principal) bool  { return g.RoleOf(p).AtLeast(RoleReader) }
func (g *Group) CanWrite(p Principal) bool { return g.RoleOf(p).AtLeast(RoleWriter) }
func (g *Group) IsOwner(p Principal) bool  { return g.RoleOf(p) == RoleOwner }

func (g *Group) IsPublic() bool {
	return g != nil && g.Members[Everyone].AtLeast(RoleReader)
}

// MemberList returns members sorted by principal.
func (g *Group) MemberList() []Member {
	out := make([]Member, 0, len(g.Members))
	for p, r := range g.Members {
		out = append(out, Member{Principal: p, Role: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Principal < out[j].Principal })
	return out
}

// Clone returns a deep copy so stores never share member maps with callers.
func (g *Group) Clone() *Group {
	if g == nil {
		return nil
	}
	c := &Group{ID: g.ID, Members: make(map[Principal]Role, len(g.Members))}
	for p, r := range g.Members {
		c.Members[p] = r
	}
	return c
}
