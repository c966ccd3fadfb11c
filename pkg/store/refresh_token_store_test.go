package store

import (
	"errors"
	"testing"
	"time"
)

func TestMemoryRefreshRotate(t *testing.T) {
	s := NewMemoryRefreshTokenStore()

	token, err := s.NewToken("user-1", time.Hour)
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	userID, next, err := s.RotateToken(token, time.Hour)
	if err != nil {
		t.Fatalf("RotateToken: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("unexpected user %q", userID)
	}
	if next == token {
		t.Fatal("rotation must issue a different token")
	}

	// the rotated-out token is a replay, and replay kills the family
	if _, _, err := s.RotateToken(token, time.Hour); !errors.Is(err, ErrRefreshTokenReplay) {
		t.Fatalf("expected replay error, got %v", err)
	}
	if _, _, err := s.RotateToken(next, time.Hour); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("family should be revoked after replay, got %v", err)
	}
}

func TestMemoryRefreshUnknownToken(t *testing.T) {
	s := NewMemoryRefreshTokenStore()
	if _, _, err := s.RotateToken("no-such-token", time.Hour); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestMemoryRefreshDelete(t *testing.T) {
	s := NewMemoryRefreshTokenStore()

	token, err := s.NewToken("user-1", time.Hour)
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	if err := s.DeleteToken(token); err != nil {
		t.Fatalf("DeleteToken: %v", err)
	}
	if _, _, err := s.RotateToken(token, time.Hour); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("deleted token should be invalid, got %v", err)
	}
	// deleting twice is fine
	if err := s.DeleteToken(token); err != nil {
		t.Fatalf("DeleteToken again: %v", err)
	}
}

func TestMemoryRefreshExpired(t *testing.T) {
	s := NewMemoryRefreshTokenStore()

	token, err := s.NewToken("user-1", -time.Minute)
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	if _, _, err := s.RotateToken(token, time.Hour); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expired token should be invalid, got %v", err)
	}
}
