package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validClaims() Claims {
	return Claims{
		Sub:  "user-1",
		Name: "Avery",
		Role: "user",
		JTI:  "jti-1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	}
}

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	claims := validClaims()

	token, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	parsed, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if parsed != claims {
		t.Fatalf("parsed claims = %+v, want %+v", parsed, claims)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, err := IssueToken([]byte("secret-a"), validClaims())
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	if _, err := ParseToken([]byte("secret-b"), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ParseToken() error = %v, want ErrInvalidToken", err)
	}
}

func TestParseTokenRejectsTamperedPayload(t *testing.T) {
	secret := []byte("secret")
	token, err := IssueToken(secret, validClaims())
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	parts := strings.Split(token, ".")
	forged, err := IssueToken([]byte("attacker"), Claims{
		Sub:  "user-1",
		Name: "Avery",
		Role: "owner",
		JTI:  "jti-1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	tampered := strings.Split(forged, ".")[0] + "." + parts[1]

	if _, err := ParseToken(secret, tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ParseToken() error = %v, want ErrInvalidToken", err)
	}
}

func TestParseTokenRejectsMalformedToken(t *testing.T) {
	for _, token := range []string{"", "one-part", "a.b.c"} {
		if _, err := ParseToken([]byte("secret"), token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("ParseToken(%q) error = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	claims := validClaims()
	claims.Exp = time.Now().Add(-time.Minute).Unix()

	token, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	if _, err := ParseToken(secret, token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("ParseToken() error = %v, want ErrExpiredToken", err)
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("value") != HashToken("value") {
		t.Fatalf("hashing the same value twice differs")
	}
	if HashToken("value") == HashToken("other") {
		t.Fatalf("different values hash the same")
	}
	if len(HashToken("value")) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(HashToken("value")))
	}
}
