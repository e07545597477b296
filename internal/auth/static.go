package auth

// Compile-time interface check.
var _ TokenDecoder = (StaticDecoder)(nil)

// StaticDecoder maps fixed tokens to user ids. For tests and local
// development only; the map must not be mutated after construction.
type StaticDecoder map[string]string

// Decode implements [TokenDecoder].
func (d StaticDecoder) Decode(token string) (string, error) {
	if userID, ok := d[token]; ok && userID != "" {
		return userID, nil
	}
	return "", ErrInvalidToken
}
