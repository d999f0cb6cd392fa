package auth

import (
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	InitJWT("test-secret")

	token, err := GenerateToken("ops", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Service != "ops" {
		t.Errorf("Expected service ops, got %q", claims.Service)
	}
}

func TestValidateExpiredToken(t *testing.T) {
	InitJWT("test-secret")

	token, err := GenerateToken("ops", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := ValidateToken(token); err == nil {
		t.Error("Expected expired token to fail validation")
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	InitJWT("test-secret")
	token, err := GenerateToken("ops", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	InitJWT("other-secret")
	if _, err := ValidateToken(token); err == nil {
		t.Error("Expected token signed with a different secret to fail")
	}
}
