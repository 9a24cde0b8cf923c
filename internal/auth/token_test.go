package auth

import (
	"testing"
	"time"
)

func TestSessionTokenRoundTrip(t *testing.T) {
	token, err := NewSessionToken("secret", "portal-test", time.Minute, "sid-123")
	if err != nil {
		t.Fatalf("mint error: %v", err)
	}
	claims, err := ParseSessionToken("secret", token)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if claims.SessionID != "sid-123" {
		t.Fatalf("expected sid-123, got %s", claims.SessionID)
	}
	if claims.Issuer != "portal-test" {
		t.Fatalf("expected issuer portal-test, got %s", claims.Issuer)
	}
}

func TestSessionTokenWrongSecret(t *testing.T) {
	token, err := NewSessionToken("secret", "portal-test", time.Minute, "sid-123")
	if err != nil {
		t.Fatalf("mint error: %v", err)
	}
	if _, err := ParseSessionToken("other-secret", token); err == nil {
		t.Fatalf("expected parse failure with wrong secret")
	}
}

func TestSessionTokenExpired(t *testing.T) {
	token, err := NewSessionToken("secret", "portal-test", -time.Minute, "sid-123")
	if err != nil {
		t.Fatalf("mint error: %v", err)
	}
	if _, err := ParseSessionToken("secret", token); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}
