package auth

import (
	"time"

	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/flurbudurbur/Gramsight/pkg/errors"
	"github.com/golang-jwt/jwt/v5"
)

const issuer = "gramsight"

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims carry the social user id as subject.
type Claims struct {
	Username string `json:"username"`

	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 access tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	key, err := deriveKey(secret, "jwt")
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Tokens{secret: key[:], ttl: ttl, now: time.Now}, nil
}

func (t *Tokens) Sign(account *domain.Account) (string, time.Time, error) {
	now := t.now().UTC()
	expiresAt := now.Add(t.ttl)

	claims := Claims{
		Username: account.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.SocialUserID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "could not sign token")
	}
	return signed, expiresAt, nil
}

func (t *Tokens) Verify(token string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return t.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(t.now))
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	c, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || c.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return *c, nil
}
