package session

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	userKeyPrefix = "portal:session:"
	userKeySuffix = ":user"
	pendingSuffix = ":signup"
)

type RedisStore struct {
	client     *redis.Client
	ttl        time.Duration
	pendingTTL time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, pendingTTL: pendingTTL}
}

func userKey(sid string) string {
	return userKeyPrefix + sid + userKeySuffix
}

func pendingKey(sid string) string {
	return userKeyPrefix + sid + pendingSuffix
}

func (s *RedisStore) Get(ctx context.Context, sid string) (*Session, error) {
	value, err := s.client.Get(ctx, userKey(sid)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal([]byte(value), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *RedisStore) Put(ctx context.Context, sid string, sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, userKey(sid), data, s.ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, sid string) error {
	return s.client.Del(ctx, userKey(sid)).Err()
}

func (s *RedisStore) GetPending(ctx context.Context, sid string) (*PendingSignup, error) {
	value, err := s.client.Get(ctx, pendingKey(sid)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var pending PendingSignup
	if err := json.Unmarshal([]byte(value), &pending); err != nil {
		return nil, err
	}
	return &pending, nil
}

func (s *RedisStore) PutPending(ctx context.Context, sid string, pending PendingSignup) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, pendingKey(sid), data, s.pendingTTL).Err()
}

func (s *RedisStore) DeletePending(ctx context.Context, sid string) error {
	return s.client.Del(ctx, pendingKey(sid)).Err()
}

func (s *RedisStore) SessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, userKeyPrefix+"*"+userKeySuffix, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		sid := strings.TrimSuffix(strings.TrimPrefix(key, userKeyPrefix), userKeySuffix)
		if sid != "" {
			ids = append(ids, sid)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
