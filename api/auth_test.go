package api

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestAuthSharedSecretAcceptsValidToken(t *testing.T) {
	a := NewAuth(AuthConfig{SharedSecret: testSecret, Audience: "board", Issuer: "https://issuer/"})
	tok := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"aud": "board",
		"iss": "https://issuer/",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	sub, err := a.UserIDFromAuthHeader("Bearer " + tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub != "user-1" {
		t.Fatalf("unexpected subject %q", sub)
	}
}

func TestAuthRejectsInvalidTokens(t *testing.T) {
	a := NewAuth(AuthConfig{SharedSecret: testSecret, Audience: "board"})
	valid := jwt.MapClaims{"sub": "user-1", "aud": "board", "exp": time.Now().Add(time.Hour).Unix()}

	expired := jwt.MapClaims{"sub": "user-1", "aud": "board", "exp": time.Now().Add(-time.Hour).Unix()}
	wrongAud := jwt.MapClaims{"sub": "user-1", "aud": "other", "exp": time.Now().Add(time.Hour).Unix()}
	noSub := jwt.MapClaims{"aud": "board", "exp": time.Now().Add(time.Hour).Unix()}
	otherKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, valid).SignedString([]byte("other"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tests := map[string]string{
		"missing":   "",
		"notBearer": "Basic abc",
		"expired":   "Bearer " + signToken(t, expired),
		"audience":  "Bearer " + signToken(t, wrongAud),
		"noSub":     "Bearer " + signToken(t, noSub),
		"badKey":    "Bearer " + otherKey,
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := a.UserIDFromAuthHeader(header); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestAuthWithoutJWKSRejectsRS256Mode(t *testing.T) {
	a := NewAuth(AuthConfig{})
	tok := signToken(t, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix()})
	if _, err := a.UserIDFromAuthHeader("Bearer " + tok); err == nil {
		t.Fatal("HS256 token must be rejected when only RS256 is allowed")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr error
	}{
		{in: "", wantErr: errMissingAuthorization},
		{in: "   ", wantErr: errMissingAuthorization},
		{in: "Bearer", wantErr: errBadAuthorization},
		{in: "Bearer abc", wantErr: errBadAuthorization},
		{in: "bearer a.b.c", wantErr: errBadAuthorization},
		{in: "  Bearer a.b.c ", want: "a.b.c"},
	}
	for _, tt := range tests {
		got, err := bearerToken(tt.in)
		if err != tt.wantErr || got != tt.want {
			t.Fatalf("bearerToken(%q) = %q, %v; want %q, %v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
