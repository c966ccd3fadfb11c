package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRefreshTokenStore shares refresh token families across auth
// instances via Redis.
type RedisRefreshTokenStore struct {
	client *redis.Client
}

func NewRedisRefreshTokenStore(addr, password string) *RedisRefreshTokenStore {
	return &RedisRefreshTokenStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

func (s *RedisRefreshTokenStore) NewToken(userID string, ttl time.Duration) (string, error) {
	token, err := randomRefreshSecret(32)
	if err != nil {
		return "", err
	}
	familyID, err := randomRefreshSecret(16)
	if err != nil {
		return "", err
	}
	hash := refreshTokenHash(token)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, refreshTokenKey(hash), familyID, ttl)
	pipe.HSet(ctx, refreshFamilyKey(familyID), map[string]any{
		"userId":      userID,
		"currentHash": hash,
	})
	pipe.Expire(ctx, refreshFamilyKey(familyID), ttl)
	pipe.SAdd(ctx, refreshFamilyTokensKey(familyID), hash)
	pipe.Expire(ctx, refreshFamilyTokensKey(familyID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return token, nil
}

func (s *RedisRefreshTokenStore) RotateToken(token string, ttl time.Duration) (string, string, error) {
	hash := refreshTokenHash(token)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	for {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}

		familyID, err := s.client.Get(ctx, refreshTokenKey(hash)).Result()
		if err == redis.Nil {
			return "", "", ErrInvalidRefreshToken
		}
		if err != nil {
			return "", "", err
		}

		familyKey := refreshFamilyKey(familyID)
		var (
			userID       string
			newToken     string
			shouldRevoke bool
		)
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			family, err := tx.HGetAll(ctx, familyKey).Result()
			if err != nil {
				return err
			}
			userID = family["userId"]
			currentHash := family["currentHash"]
			if len(family) == 0 || userID == "" || currentHash == "" {
				shouldRevoke = true
				return ErrInvalidRefreshToken
			}
			if currentHash != hash {
				shouldRevoke = true
				return ErrRefreshTokenReplay
			}

			newToken, err = randomRefreshSecret(32)
			if err != nil {
				return err
			}
			newHash := refreshTokenHash(newToken)
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, refreshTokenKey(newHash), familyID, ttl)
				pipe.HSet(ctx, familyKey, map[string]any{
					"userId":      userID,
					"currentHash": newHash,
				})
				pipe.Expire(ctx, familyKey, ttl)
				pipe.SAdd(ctx, refreshFamilyTokensKey(familyID), newHash)
				pipe.Expire(ctx, refreshFamilyTokensKey(familyID), ttl)
				return nil
			})
			return err
		}, familyKey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if shouldRevoke {
				_ = s.dropFamily(ctx, familyID)
			}
			if errors.Is(err, ErrRefreshTokenReplay) || errors.Is(err, ErrInvalidRefreshToken) {
				return "", "", err
			}
			return "", "", err
		}
		return userID, newToken, nil
	}
}

func (s *RedisRefreshTokenStore) DeleteToken(token string) error {
	hash := refreshTokenHash(token)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	familyID, err := s.client.Get(ctx, refreshTokenKey(hash)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	return s.dropFamily(ctx, familyID)
}

func (s *RedisRefreshTokenStore) dropFamily(ctx context.Context, familyID string) error {
	hashes, err := s.client.SMembers(ctx, refreshFamilyTokensKey(familyID)).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	pipe := s.client.TxPipeline()
	for _, hash := range hashes {
		pipe.Del(ctx, refreshTokenKey(hash))
	}
	pipe.Del(ctx, refreshFamilyTokensKey(familyID))
	pipe.Del(ctx, refreshFamilyKey(familyID))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

func refreshTokenKey(hash string) string {
	return fmt.Sprintf("messageai:refresh:token:%s", hash)
}

func refreshFamilyKey(familyID string) string {
	return fmt.Sprintf("messageai:refresh:family:%s", familyID)
}

func refreshFamilyTokensKey(familyID string) string {
	return fmt.Sprintf("messageai:refresh:family_tokens:%s", familyID)
}
