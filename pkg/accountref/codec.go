/**
 * @description
 * Package accountref turns account ids into opaque, per-account-type signed references
 * for API clients and back. References are HS256 JWTs; a reference minted for one
 * account type never decodes under another type's secret.
 *
 * @notes
 * - References are a presentation concern only. Storage keys stay plain UUIDs.
 */
package accountref

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrUnknownType  = errors.New("no reference secret for account type")
	ErrInvalidRef   = errors.New("invalid account reference")
	ErrTypeMismatch = errors.New("account reference does not match account type")
)

const typeClaim = "typ"

// Codec encodes and decodes account references.
type Codec struct {
	secrets map[string][]byte
}

// NewCodec builds a codec from account type name to signing secret. Types with an
// empty secret are skipped.
func NewCodec(secrets map[string]string) *Codec {
	c := &Codec{secrets: make(map[string][]byte, len(secrets))}
	for accountType, secret := range secrets {
		if strings.TrimSpace(secret) == "" {
			continue
		}
		c.secrets[strings.ToLower(accountType)] = []byte(secret)
	}
	return c
}

func (c *Codec) secretFor(accountType string) ([]byte, error) {
	secret, ok := c.secrets[strings.ToLower(accountType)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, accountType)
	}
	return secret, nil
}

// Encode returns the reference for an account id of the given type.
func (c *Codec) Encode(accountType string, id uuid.UUID) (string, error) {
	secret, err := c.secretFor(accountType)
	if err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":     id.String(),
		typeClaim: strings.ToLower(accountType),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign account reference: %w", err)
	}
	return signed, nil
}

// Decode verifies ref against the type's secret and returns the account id.
func (c *Codec) Decode(accountType string, ref string) (uuid.UUID, error) {
	secret, err := c.secretFor(accountType)
	if err != nil {
		return uuid.Nil, err
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(strings.TrimSpace(ref), claims, func(token *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, ErrInvalidRef
	}

	if typ, _ := claims[typeClaim].(string); typ != strings.ToLower(accountType) {
		return uuid.Nil, ErrTypeMismatch
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return uuid.Nil, ErrInvalidRef
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, ErrInvalidRef
	}
	return id, nil
}
