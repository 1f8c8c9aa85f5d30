package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const sessionIssuer = "kudoku-server"

// SessionTokens issues and verifies the HS256 bearer tokens handed out at login.
type SessionTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionTokens(secret string, ttl time.Duration) (*SessionTokens, error) {
	if len(secret) < 16 {
		return nil, errors.New("session secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionTokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token whose subject is the user id.
func (t *SessionTokens) Issue(userID uuid.UUID) (string, time.Time, error) {
	issuedAt := t.now().UTC()
	expiresAt := issuedAt.Add(t.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		Issuer:    sessionIssuer,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse validates a token and returns its user id. Any failure is ErrUnauthorized.
func (t *SessionTokens) Parse(tokenString string) (uuid.UUID, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
		jwt.WithTimeFunc(t.now),
	)
	claims := &jwt.RegisteredClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, ErrUnauthorized
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrUnauthorized
	}
	return userID, nil
}
