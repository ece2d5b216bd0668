package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ayoubkefii/e-learning/internal/domain"
	"github.com/golang-jwt/jwt/v4"
)

// DefaultTokenTTL is the lifetime of issued bearer tokens.
const DefaultTokenTTL = 24 * time.Hour

const issuer = "e-learning"

// Identity is the authenticated caller.
type Identity struct {
	UserID int64
	Email  string
	Role   string
}

// Claims is the bearer token payload.
type Claims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies and issues HS256 bearer tokens.
type JWTAuthenticator struct {
	secret []byte
	now    func() time.Time
}

func NewJWTAuthenticator(secret string) (*JWTAuthenticator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret not configured")
	}
	return &JWTAuthenticator{secret: []byte(secret), now: time.Now}, nil
}

// Authenticate resolves a token to an Identity. Every failure is ErrUnauthorized.
func (a *JWTAuthenticator) Authenticate(token string) (Identity, error) {
	if token == "" {
		return Identity{}, domain.ErrUnauthorized
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, domain.ErrUnauthorized
	}
	if claims.UserID <= 0 {
		return Identity{}, domain.ErrUnauthorized
	}
	return Identity{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}, nil
}

// Issue signs a token for id; a zero ttl uses DefaultTokenTTL.
func (a *JWTAuthenticator) Issue(id Identity, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	now := a.now()
	claims := &Claims{
		UserID: id.UserID,
		Email:  id.Email,
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   strconv.FormatInt(id.UserID, 10),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
