package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Expired tokens remain resolvable (as ErrTokenExpired) for this long after
// their expiry before the store forgets them entirely.
const tokenRetention = 30 * 24 * time.Hour

type tokenRecord struct {
	reportID string
	expiry   time.Time
}

// MemoryReportTokenStore keeps share-link tokens in memory.
type MemoryReportTokenStore struct {
	mu      sync.Mutex
	tokens  map[string]tokenRecord // token hash -> record
	current map[string]string      // report ID -> current token hash
	now     func() time.Time
}

// NewMemoryReportTokenStore constructs an in-memory token store.
func NewMemoryReportTokenStore() *MemoryReportTokenStore {
	return &MemoryReportTokenStore{
		tokens:  make(map[string]tokenRecord),
		current: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the store clock; used by expiry tests.
func (s *MemoryReportTokenStore) WithClock(now func() time.Time) *MemoryReportTokenStore {
	s.now = now
	return s
}

// Issue mints a fresh token for the report and drops any prior one in the
// same critical section, so a concurrent Resolve sees either the old token
// or ErrTokenNotFound, never a half-written record.
func (s *MemoryReportTokenStore) Issue(reportID string, ttl time.Duration) (string, time.Time, error) {
	token, err := generateShareToken()
	if err != nil {
		return "", time.Time{}, err
	}
	hash := shareTokenHash(token)
	expiry := s.now().Add(ttl)

	s.mu.Lock()
	if prior, ok := s.current[reportID]; ok {
		delete(s.tokens, prior)
	}
	s.tokens[hash] = tokenRecord{reportID: reportID, expiry: expiry}
	s.current[reportID] = hash
	s.mu.Unlock()
	return token, expiry, nil
}

// Resolve looks up a token, distinguishing unknown from expired.
func (s *MemoryReportTokenStore) Resolve(token string) (string, time.Time, error) {
	hash := shareTokenHash(token)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tokens[hash]
	if !ok {
		return "", time.Time{}, ErrTokenNotFound
	}
	if now.After(rec.expiry.Add(tokenRetention)) {
		delete(s.tokens, hash)
		if s.current[rec.reportID] == hash {
			delete(s.current, rec.reportID)
		}
		return "", time.Time{}, ErrTokenNotFound
	}
	if now.After(rec.expiry) {
		return "", time.Time{}, ErrTokenExpired
	}
	return rec.reportID, rec.expiry, nil
}

// Revoke drops the current token for a report.
func (s *MemoryReportTokenStore) Revoke(reportID string) error {
	s.mu.Lock()
	if hash, ok := s.current[reportID]; ok {
		delete(s.tokens, hash)
		delete(s.current, reportID)
	}
	s.mu.Unlock()
	return nil
}

// RedisReportTokenStore stores share-link tokens in Redis. Token values are
// stored hashed; the raw token never leaves the caller.
type RedisReportTokenStore struct {
	client *redis.Client
}

// NewRedisReportTokenStore builds a Redis-backed token store.
func NewRedisReportTokenStore(addr, password string) *RedisReportTokenStore {
	return &RedisReportTokenStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

// Issue mints a fresh token and atomically replaces the report's prior token.
func (s *RedisReportTokenStore) Issue(reportID string, ttl time.Duration) (string, time.Time, error) {
	token, err := generateShareToken()
	if err != nil {
		return "", time.Time{}, err
	}
	hash := shareTokenHash(token)
	expiry := time.Now().UTC().Add(ttl)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	prior, err := s.client.Get(ctx, shareCurrentRedisKey(reportID)).Result()
	if err != nil && err != redis.Nil {
		return "", time.Time{}, err
	}

	pipe := s.client.TxPipeline()
	if prior != "" {
		pipe.Del(ctx, shareTokenRedisKey(prior))
	}
	pipe.HSet(ctx, shareTokenRedisKey(hash), map[string]any{
		"reportId": reportID,
		"expiry":   expiry.Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, shareTokenRedisKey(hash), ttl+tokenRetention)
	pipe.Set(ctx, shareCurrentRedisKey(reportID), hash, ttl+tokenRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", time.Time{}, err
	}
	return token, expiry, nil
}

// Resolve looks up a token, distinguishing unknown from expired.
func (s *RedisReportTokenStore) Resolve(token string) (string, time.Time, error) {
	hash := shareTokenHash(token)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	data, err := s.client.HGetAll(ctx, shareTokenRedisKey(hash)).Result()
	if err != nil {
		return "", time.Time{}, err
	}
	if len(data) == 0 {
		return "", time.Time{}, ErrTokenNotFound
	}
	reportID := data["reportId"]
	expiry, err := time.Parse(time.RFC3339Nano, data["expiry"])
	if err != nil || reportID == "" {
		return "", time.Time{}, ErrTokenNotFound
	}
	if time.Now().UTC().After(expiry) {
		return "", time.Time{}, ErrTokenExpired
	}
	return reportID, expiry, nil
}

// Revoke drops the current token for a report.
func (s *RedisReportTokenStore) Revoke(reportID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	hash, err := s.client.Get(ctx, shareCurrentRedisKey(reportID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, shareTokenRedisKey(hash))
	pipe.Del(ctx, shareCurrentRedisKey(reportID))
	_, err = pipe.Exec(ctx)
	return err
}

func generateShareToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func shareTokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func shareTokenRedisKey(hash string) string {
	return fmt.Sprintf("share:token:%s", hash)
}

func shareCurrentRedisKey(reportID string) string {
	return fmt.Sprintf("share:report:%s", reportID)
}
