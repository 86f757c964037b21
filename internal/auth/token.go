package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "flyt-tribe"

// sessionClaims is the wire form of a Session inside the signed credential.
// The carrier is opaque to the rest of the core: only Codec knows it is a JWT.
type sessionClaims struct {
	Name         string   `json:"name,omitempty"`
	Email        string   `json:"email,omitempty"`
	Role         string   `json:"role"`
	Scopes       []string `json:"scopes"`
	TokenVersion int64    `json:"token_version"`
	VerifiedAt   int64    `json:"verified_at"`
	jwt.RegisteredClaims
}

// Codec signs and recalls Session payloads using HS256.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCodec constructs a Codec. Secret length is enforced by configuration
// before this point; ttl must be positive.
func NewCodec(secret string, ttl time.Duration) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("auth: session ttl must be greater than zero")
	}
	return &Codec{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL reports the configured credential lifetime.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Encode signs the session into a compact bearer credential.
func (c *Codec) Encode(sess Session) (string, error) {
	if !sess.Authenticated() {
		return "", errors.New("auth: cannot encode a session without a subject")
	}
	now := c.now().UTC()
	claims := sessionClaims{
		Name:         sess.Name,
		Email:        sess.Email,
		Role:         string(sess.Role),
		Scopes:       sess.Scopes,
		TokenVersion: sess.TokenVersion,
		VerifiedAt:   sess.VerifiedAt.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   sess.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Decode verifies the credential and rehydrates the Session, normalizing the
// claims so a tampered-but-validly-signed payload still cannot smuggle a
// malformed role or scope past this boundary.
func (c *Codec) Decode(token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(func() time.Time { return c.now() }))
	if err != nil {
		return Session{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return Session{}, ErrInvalidToken
	}
	return Session{
		Subject:      claims.Subject,
		Name:         claims.Name,
		Email:        claims.Email,
		Role:         NormalizeRole(claims.Role),
		Scopes:       NormalizeScopes(claims.Scopes),
		TokenVersion: NormalizeTokenVersion(claims.TokenVersion),
		VerifiedAt:   time.Unix(claims.VerifiedAt, 0).UTC(),
	}, nil
}
