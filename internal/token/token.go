// Package token signs HS256 tokens accepted by the API in shared-secret mode.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Sign returns a token for userID valid for ttl.
func Sign(secret []byte, userID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("signing secret must be set")
	}
	if userID == "" {
		return "", errors.New("user id must be set")
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	})
	return tok.SignedString(secret)
}
