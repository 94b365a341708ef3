package auth

import (
	"testing"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret")

	token, err := svc.GenerateToken(42, "caio", "member")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != 42 || claims.Username != "caio" || claims.Role != "member" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		t.Error("token missing expiry or issued-at")
	}
}

func TestTokenRejectedWithWrongSecret(t *testing.T) {
	token, err := NewJWTService("secret-a").GenerateToken(1, "caio", "member")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewJWTService("secret-b").ValidateToken(token); err == nil {
		t.Error("token signed with a different secret validated")
	}
}

func TestTokenRejectedWhenMalformed(t *testing.T) {
	svc := NewJWTService("test-secret")
	for _, bad := range []string{"", "not.a.token", "eyJhbGciOiJub25lIn0.e30."} {
		if _, err := svc.ValidateToken(bad); err == nil {
			t.Errorf("token %q validated", bad)
		}
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "correct horse battery" {
		t.Fatal("password not hashed")
	}
	if !CheckPassword("correct horse battery", hash) {
		t.Error("correct password rejected")
	}
	if CheckPassword("wrong password", hash) {
		t.Error("wrong password accepted")
	}
}
