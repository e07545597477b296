package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Compile-time interface check.
var _ TokenDecoder = (*JWTDecoder)(nil)

// JWTDecoder verifies HS256-signed bearer tokens. The user id is carried in
// the standard sub claim; exp and nbf are honoured when present.
type JWTDecoder struct {
	secret []byte
}

// NewJWTDecoder creates a JWTDecoder verifying signatures against secret.
func NewJWTDecoder(secret []byte) (*JWTDecoder, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: signing secret must not be empty")
	}
	return &JWTDecoder{secret: secret}, nil
}

// Decode implements [TokenDecoder].
func (d *JWTDecoder) Decode(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: no token supplied", ErrInvalidToken)
	}

	parsed, err := jwt.Parse(token,
		func(*jwt.Token) (any, error) { return d.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	return sub, nil
}
