// Package identity resolves the user key that sessions are registered under.
// Identity is trust-on-first-use: a connect frame may carry a signed token,
// a bare user id, or nothing at all, and each case maps to a stable key.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sprite-ai/spritegate/internal/logging"
)

// Token types carried in the "type" claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

const (
	defaultAccessTTL  = 30 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrWrongType    = errors.New("wrong token type")
)

// Claims is the JWT payload for both access and refresh tokens.
type Claims struct {
	Email     string `json:"email,omitempty"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// TokenPair bundles a fresh access/refresh token set.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Resolver verifies tokens and derives user keys and sprite names. A zero
// secret disables token verification entirely; connects then fall back to
// the self-reported user id or a minted guest key.
type Resolver struct {
	secret       []byte
	spritePrefix string
	accessTTL    time.Duration
	refreshTTL   time.Duration
}

// New creates a resolver. spritePrefix defaults to "sprite".
func New(secret, spritePrefix string) *Resolver {
	if spritePrefix == "" {
		spritePrefix = "sprite"
	}
	return &Resolver{
		secret:       []byte(secret),
		spritePrefix: spritePrefix,
		accessTTL:    defaultAccessTTL,
		refreshTTL:   defaultRefreshTTL,
	}
}

// Enabled reports whether token verification and signing are configured.
func (r *Resolver) Enabled() bool { return len(r.secret) > 0 }

// Resolve maps a connect frame's identity fields to the session user key.
// Priority: a valid token's subject wins, then the self-reported user id,
// then a minted guest key. A present-but-invalid token never falls through
// to the user id silently; it still falls back but is logged.
func (r *Resolver) Resolve(userID, token string) string {
	if token != "" && len(r.secret) > 0 {
		claims, err := r.Verify(token, TokenTypeAccess)
		if err == nil {
			return claims.Subject
		}
		logging.Warn().Err(err).Msg("connect token rejected, falling back to user id")
	}
	if userID != "" {
		return userID
	}
	return GuestKey()
}

// GuestKey mints an anonymous user key of the form guest_<8 hex chars>.
func GuestKey() string {
	return "guest_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// IsGuest reports whether a user key was minted rather than claimed.
func IsGuest(userKey string) bool {
	return strings.HasPrefix(userKey, "guest_")
}

// SpriteName derives the stable friendly name for a user key.
func (r *Resolver) SpriteName(userKey string) string {
	return r.spritePrefix + "-" + sanitize(userKey)
}

// sanitize keeps user keys usable as hostnames and directory names.
func sanitize(s string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(s) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
			b.WriteRune(c)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// MintPair issues a fresh access/refresh token pair for a user.
func (r *Resolver) MintPair(userID, email string) (TokenPair, error) {
	access, err := r.mint(userID, email, TokenTypeAccess, r.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := r.mint(userID, email, TokenTypeRefresh, r.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(r.accessTTL.Seconds()),
	}, nil
}

// Refresh exchanges a valid refresh token for a new pair.
func (r *Resolver) Refresh(refreshToken string) (TokenPair, error) {
	claims, err := r.Verify(refreshToken, TokenTypeRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	return r.MintPair(claims.Subject, claims.Email)
}

func (r *Resolver) mint(userID, email, tokenType string, ttl time.Duration) (string, error) {
	if len(r.secret) == 0 {
		return "", errors.New("no signing secret configured")
	}
	now := time.Now()
	claims := Claims{
		Email:     email,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, checking signature, expiry, and the
// expected token type.
func (r *Resolver) Verify(tokenString, expectedType string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) { return r.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != expectedType {
		return nil, ErrWrongType
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
