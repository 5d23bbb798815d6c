// Package invite mints and redeems capability links that grant a role in the
// group owning a voice message.
package invite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"voxdrop/access"
	"voxdrop/log"
	"voxdrop/message"
)

var (
	ErrInvalidToken = errors.New("invalid invite token")
	ErrNoSecret     = errors.New("invite secret is empty")
)

// Claims is the token payload. Expiry is optional.
type Claims struct {
	Record string      `json:"record"`
	Group  string      `json:"group"`
	Role   access.Role `json:"role"`
	jwt.RegisteredClaims
}

// GroupMembers is the store side of accepting an invite.
type GroupMembers interface {
	AddMember(ctx context.Context, groupID string, p access.Principal, r access.Role) error
}

type Issuer struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

type Option func(*Issuer)

// WithTTL makes every token expire ttl after issue. Zero means never.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) { i.ttl = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

func NewIssuer(secret []byte, baseURL string, opts ...Option) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}
	i := &Issuer{
		secret:  secret,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
	for _, o := range opts {
		o(i)
	}
	return i, nil
}

// CreateInviteLink returns {baseURL}/invite/{token}. It does not check that
// the caller may share rec.
func (i *Issuer) CreateInviteLink(rec *message.Record, role access.Role) (string, error) {
	if rec == nil || rec.ID == "" || rec.GroupID == "" {
		return "", fmt.Errorf("%w: record has no id or group", message.ErrInvalid)
	}
	if _, err := access.ParseRole(string(role)); err != nil {
		return "", err
	}

	now := i.now()
	claims := Claims{
		Record: rec.ID,
		Group:  rec.GroupID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	var expires time.Time
	if i.ttl > 0 {
		expires = now.Add(i.ttl)
		claims.ExpiresAt = jwt.NewNumericDate(expires)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing invite: %w", err)
	}
	log.InviteIssued(rec.ID, string(role), expires)
	return i.baseURL + "/invite/" + token, nil
}

// Parse verifies token and returns its claims.
func (i *Issuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Record == "" || claims.Group == "" || !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: incomplete claims", ErrInvalidToken)
	}
	return claims, nil
}

// Accept redeems token for p by adding it to the group at the granted role.
// Accepting twice is harmless.
func (i *Issuer) Accept(ctx context.Context, groups GroupMembers, token string, p access.Principal) (*Claims, error) {
	if p == "" || p == access.Everyone {
		return nil, access.ErrInvalidPrincipal
	}
	claims, err := i.Parse(token)
	if err != nil {
		return nil, err
	}
	if err := groups.AddMember(ctx, claims.Group, p, claims.Role); err != nil {
		return nil, fmt.Errorf("joining group %s: %w", claims.Group, err)
	}
	log.Infof("invite_accepted: record=%s principal=%s role=%s", claims.Record, p, claims.Role)
	return claims, nil
}

// TokenFromLink accepts either a full invite link or a bare token.
func TokenFromLink(link string) string {
	link = strings.TrimSpace(link)
	if idx := strings.LastIndex(link, "/invite/"); idx >= 0 {
		link = link[idx+len("/invite/"):]
	}
	return strings.TrimRight(link, "/")
}
