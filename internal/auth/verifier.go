// Package auth verifies bearer tokens and maps them to dispatch roles.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Roles, least to most privileged.
const (
	RoleViewer     = "viewer"
	RoleDispatcher = "dispatcher"
	RoleAdmin      = "admin"
)

var roleRank = map[string]int{RoleViewer: 1, RoleDispatcher: 2, RoleAdmin: 3}

// Modes.
const (
	ModeNone = "none"
	ModeDev  = "dev"
	ModeHMAC = "hmac"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Principal is the authenticated caller.
type Principal struct {
	Subject string
	Role    string
}

// Allows reports whether p holds at least role.
func (p Principal) Allows(role string) bool {
	return roleRank[p.Role] >= roleRank[role] && roleRank[role] > 0
}

// Claims carried by HS256 tokens.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates tokens. Supports modes: none (everyone is admin),
// dev (unsigned "name:role"), hmac (HS256 JWT).
type Verifier struct {
	Mode       string
	HMACSecret []byte
	Leeway     time.Duration
}

func NewVerifier(mode, secret string) *Verifier {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = ModeDev
	}
	return &Verifier{Mode: mode, HMACSecret: []byte(secret), Leeway: 30 * time.Second}
}

// FromHeader extracts the token from an Authorization header value.
func FromHeader(h string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(h), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(parts[1]), nil
}

func (v *Verifier) Verify(token string) (Principal, error) {
	switch v.Mode {
	case ModeNone:
		return Principal{Subject: "anonymous", Role: RoleAdmin}, nil
	case ModeDev:
		// token format: name:role
		name, role, ok := strings.Cut(token, ":")
		role = strings.ToLower(role)
		if !ok || name == "" || roleRank[role] == 0 {
			return Principal{}, fmt.Errorf("%w: expected name:role with role viewer, dispatcher or admin", ErrInvalidToken)
		}
		return Principal{Subject: name, Role: role}, nil
	case ModeHMAC:
		return v.parseJWT(token)
	default:
		return Principal{}, fmt.Errorf("unsupported auth mode %q", v.Mode)
	}
}

func (v *Verifier) parseJWT(token string) (Principal, error) {
	if len(v.HMACSecret) == 0 {
		return Principal{}, errors.New("jwt secret is empty")
	}
	tok, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return v.HMACSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(v.Leeway))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, _ := tok.Claims.(*Claims)
	if c == nil || c.Subject == "" {
		return Principal{}, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	role := strings.ToLower(c.Role)
	if role == "" {
		role = RoleViewer
	}
	if roleRank[role] == 0 {
		return Principal{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, c.Role)
	}
	return Principal{Subject: c.Subject, Role: role}, nil
}

// Sign issues an HS256 token; used by tooling and tests.
func Sign(secret []byte, subject, role string, ttl time.Duration, now time.Time) (string, error) {
	c := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
}

type principalKey struct{}

// WithPrincipal stores the principal in context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext retrieves the principal from context (if any).
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
