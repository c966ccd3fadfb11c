package auth

import "testing"

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse 1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "correct horse 1" {
		t.Fatal("hash must not equal the plaintext")
	}
	if !CheckPassword("correct horse 1", hash) {
		t.Fatal("expected matching password to verify")
	}
	if CheckPassword("wrong horse 1", hash) {
		t.Fatal("expected mismatching password to fail")
	}
	if CheckPassword("correct horse 1", "") {
		t.Fatal("empty stored hash must never verify")
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		ok       bool
	}{
		{"longenough1", true},
		{"short1", false},
		{"nodigitshere", false},
		{"12345678", false},
		{"Abcdef12", true},
	}
	for _, tc := range tests {
		err := ValidatePassword(tc.password)
		if tc.ok && err != nil {
			t.Fatalf("ValidatePassword(%q) = %v, want nil", tc.password, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("ValidatePassword(%q) = nil, want error", tc.password)
		}
	}
}
