package api

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func signTestToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func testClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":         "user-123",
		"channel":     "7",
		"permissions": []any{"read:settings"},
		"exp":         time.Now().Add(5 * time.Minute).Unix(),
	}
}

func TestChannelFromAuthHeaderTestMode(t *testing.T) {
	secret := []byte("test-secret")
	auth := &Auth{TestMode: true, TestSecret: secret}

	signed := signTestToken(t, secret, testClaims())
	channel, err := auth.ChannelFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if channel != "7" {
		t.Fatalf("expected channel 7, got %q", channel)
	}
}

func TestChannelFromAuthHeaderMissingPermission(t *testing.T) {
	secret := []byte("test-secret")
	auth := &Auth{TestMode: true, TestSecret: secret}

	claims := testClaims()
	claims["permissions"] = []any{"read:orders"}
	signed := signTestToken(t, secret, claims)
	if _, err := auth.ChannelFromAuthHeader("Bearer " + signed); err == nil || err.Error() != "missing settings permission" {
		t.Fatalf("expected missing permission error, got %v", err)
	}
}

func TestChannelFromAuthHeaderNoChannelClaim(t *testing.T) {
	secret := []byte("test-secret")
	auth := &Auth{TestMode: true, TestSecret: secret}

	claims := testClaims()
	delete(claims, "channel")
	signed := signTestToken(t, secret, claims)
	channel, err := auth.ChannelFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if channel != "" {
		t.Fatalf("expected empty channel, got %q", channel)
	}
}

func TestChannelFromAuthHeaderMissing(t *testing.T) {
	auth := &Auth{TestMode: true, TestSecret: []byte("s")}
	if _, err := auth.ChannelFromAuthHeader(""); err == nil || err.Error() != "missing authorization header" {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestChannelFromAuthHeaderMalformed(t *testing.T) {
	auth := &Auth{TestMode: true, TestSecret: []byte("s")}
	if _, err := auth.ChannelFromAuthHeader("Bearer not-a-jwt"); err == nil || err.Error() != "bad auth header" {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
}

func TestChannelFromAuthHeaderWrongSecret(t *testing.T) {
	auth := &Auth{TestMode: true, TestSecret: []byte("right")}
	signed := signTestToken(t, []byte("wrong"), testClaims())
	if _, err := auth.ChannelFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatal("expected signature error")
	}
}
