// Package tokentest mints HS256 access tokens for tests.
package tokentest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testKey = []byte("tokentest-signing-key")

// Mint returns an HS256 token for userID expiring at exp.
func Mint(t testing.TB, userID string, exp time.Time) string {
	t.Helper()
	return MintClaims(t, jwt.MapClaims{
		"_id":  userID,
		"role": "member",
		"exp":  exp.Unix(),
	})
}

// MintClaims signs arbitrary claims.
func MintClaims(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}
