package store

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

var (
	// ErrInvalidRefreshToken indicates the token is unknown or expired.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenReplay indicates reuse of an already-rotated token.
	ErrRefreshTokenReplay = errors.New("refresh token replay detected")
)

// RefreshTokenStore persists opaque refresh tokens with rotation and
// replay detection. Tokens belong to a family; presenting a stale member
// of a family revokes the whole family.
type RefreshTokenStore interface {
	NewToken(userID string, ttl time.Duration) (string, error)
	RotateToken(token string, ttl time.Duration) (userID string, newToken string, err error)
	DeleteToken(token string) error
}

type refreshFamily struct {
	userID      string
	currentHash string
	expiry      time.Time
	hashes      map[string]struct{}
}

// MemoryRefreshTokenStore keeps refresh token families in memory.
type MemoryRefreshTokenStore struct {
	mu          sync.Mutex
	families    map[string]*refreshFamily
	tokenFamily map[string]string // token hash -> family ID
}

func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{
		families:    make(map[string]*refreshFamily),
		tokenFamily: make(map[string]string),
	}
}

func (s *MemoryRefreshTokenStore) NewToken(userID string, ttl time.Duration) (string, error) {
	token, err := randomRefreshSecret(32)
	if err != nil {
		return "", err
	}
	familyID, err := randomRefreshSecret(16)
	if err != nil {
		return "", err
	}
	hash := refreshTokenHash(token)

	s.mu.Lock()
	s.families[familyID] = &refreshFamily{
		userID:      userID,
		currentHash: hash,
		expiry:      time.Now().UTC().Add(ttl),
		hashes:      map[string]struct{}{hash: {}},
	}
	s.tokenFamily[hash] = familyID
	s.mu.Unlock()
	return token, nil
}

func (s *MemoryRefreshTokenStore) RotateToken(token string, ttl time.Duration) (string, string, error) {
	hash := refreshTokenHash(token)
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	familyID, ok := s.tokenFamily[hash]
	if !ok {
		return "", "", ErrInvalidRefreshToken
	}
	family, ok := s.families[familyID]
	if !ok || now.After(family.expiry) {
		s.dropFamilyLocked(familyID)
		return "", "", ErrInvalidRefreshToken
	}
	if family.currentHash != hash {
		// A rotated-out token came back. Someone holds a stolen copy, so
		// the whole family dies.
		s.dropFamilyLocked(familyID)
		return "", "", ErrRefreshTokenReplay
	}

	newToken, err := randomRefreshSecret(32)
	if err != nil {
		return "", "", err
	}
	newHash := refreshTokenHash(newToken)
	family.currentHash = newHash
	family.expiry = now.Add(ttl)
	family.hashes[newHash] = struct{}{}
	s.tokenFamily[newHash] = familyID
	return family.userID, newToken, nil
}

func (s *MemoryRefreshTokenStore) DeleteToken(token string) error {
	hash := refreshTokenHash(token)
	s.mu.Lock()
	if familyID, ok := s.tokenFamily[hash]; ok {
		s.dropFamilyLocked(familyID)
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryRefreshTokenStore) dropFamilyLocked(familyID string) {
	if family, ok := s.families[familyID]; ok {
		for h := range family.hashes {
			delete(s.tokenFamily, h)
		}
	}
	delete(s.families, familyID)
}

func randomRefreshSecret(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func refreshTokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
