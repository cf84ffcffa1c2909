package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name       string
		password   string
		shouldFail bool
	}{
		{name: "valid password", password: "hunter2-garage"},
		{name: "minimum length", password: "abcdefgh"},
		{name: "too short", password: "hunter2", shouldFail: true},
		{name: "too long", password: strings.Repeat("a", MaxPasswordLen+1), shouldFail: true},
		{name: "blank", password: "            ", shouldFail: true},
		{name: "common password rejected", password: "Password123", shouldFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)

			if tt.shouldFail {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				var pve *PasswordValidationError
				if !errors.As(err, &pve) {
					t.Fatalf("expected *PasswordValidationError, got %T", err)
				}
				if err.Error() != "invalid password" {
					t.Errorf("error message leaks details: %q", err.Error())
				}
				return
			}
			if err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
		})
	}
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("SecureP@ss123")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("expected bcrypt hash, got %q", hash)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("SecureP@ss123")); err != nil {
		t.Errorf("hash does not verify: %v", err)
	}

	if _, err := HashPassword(""); err == nil {
		t.Error("empty password should be rejected")
	}
}
