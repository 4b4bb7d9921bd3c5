package services

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAuthService_RoundTrip(t *testing.T) {
	svc := NewAuthService("test-secret", time.Minute)

	token, err := svc.GenerateJoinToken("room-1", "user-1", "alice")
	if err != nil {
		t.Fatalf("GenerateJoinToken failed: %v", err)
	}

	claims, err := svc.ValidateJoinToken(token)
	if err != nil {
		t.Fatalf("ValidateJoinToken failed: %v", err)
	}
	if claims.RoomID != "room-1" || claims.UserID != "user-1" || claims.Name != "alice" {
		t.Errorf("claims mismatch: %+v", claims)
	}
}

func TestAuthService_ExpiredToken(t *testing.T) {
	svc := NewAuthService("test-secret", -time.Minute)

	token, err := svc.GenerateJoinToken("room-1", "user-1", "alice")
	if err != nil {
		t.Fatalf("GenerateJoinToken failed: %v", err)
	}

	if _, err := svc.ValidateJoinToken(token); err != ErrExpiredToken {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestAuthService_WrongSecret(t *testing.T) {
	issuer := NewAuthService("secret-a", time.Minute)
	verifier := NewAuthService("secret-b", time.Minute)

	token, _ := issuer.GenerateJoinToken("room-1", "user-1", "alice")
	if _, err := verifier.ValidateJoinToken(token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAuthService_GarbageToken(t *testing.T) {
	svc := NewAuthService("test-secret", time.Minute)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := svc.ValidateJoinToken(token); err != ErrInvalidToken {
			t.Errorf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestAuthService_RejectsUnsignedAlgorithm(t *testing.T) {
	svc := NewAuthService("test-secret", time.Minute)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &JoinClaims{RoomID: "room-1"})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing none token failed: %v", err)
	}

	if _, err := svc.ValidateJoinToken(token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for alg=none, got %v", err)
	}
}

func TestAuthService_RejectsMissingRoom(t *testing.T) {
	svc := NewAuthService("test-secret", time.Minute)

	token, err := svc.GenerateJoinToken("", "user-1", "alice")
	if err != nil {
		t.Fatalf("GenerateJoinToken failed: %v", err)
	}
	if _, err := svc.ValidateJoinToken(token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for empty room, got %v", err)
	}
}
