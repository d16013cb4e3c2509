package connection

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrCredentialExpired = errors.New("credential expired")

// checkCredentialLocally rejects a JWT whose exp claim is already in the
// past without a network round trip. Opaque tokens pass through; the server
// check decides for them.
func checkCredentialLocally(token string, now time.Time) error {
	if token == "" {
		return ErrNoCredential
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !exp.After(now) {
		return ErrCredentialExpired
	}
	return nil
}
