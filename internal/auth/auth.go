// Package auth maps bearer tokens to authenticated user ids for the stream
// endpoints.
//
// Two [TokenDecoder] implementations are provided: [JWTDecoder] verifies
// HS256-signed tokens minted by the external registration service, and
// [StaticDecoder] serves fixed token→user mappings for tests and local
// development. Handlers refuse with HTTP 403 before completing the WebSocket
// upgrade when Decode fails.
package auth

import (
	"errors"
	"net/http"
	"strings"
)

// ErrInvalidToken is returned by [TokenDecoder.Decode] for tokens that are
// missing, malformed, expired, or signed with the wrong key.
var ErrInvalidToken = errors.New("auth: invalid token")

// TokenDecoder resolves a bearer token to the user it authenticates.
// Implementations must be safe for concurrent use.
type TokenDecoder interface {
	// Decode returns the user id the token authenticates, or an error
	// matching [ErrInvalidToken] via errors.Is when it does not.
	Decode(token string) (string, error)
}

// BearerToken extracts the bearer token from r: the Authorization header
// when present, otherwise the token query parameter (browser WebSocket
// clients cannot set headers). Returns "" when neither carries a token.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
