package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rcliao/agriplan/internal/model"
)

const maxPutRetries = 8

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// TTL expires a session's hash after this long without writes. Zero
	// keeps it until removed.
	TTL time.Duration
}

// RedisStore keeps one hash per session, with one field per stage, so
// several server replicas can share sessions.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	ids    *idGen
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "agriplan:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: opts.TTL, ids: newIDGen()}, nil
}

func (s *RedisStore) key(session string) string {
	return s.prefix + "session:" + session
}

func (s *RedisStore) Put(ctx context.Context, p PutParams) (*model.MemoryEntry, error) {
	if err := validatePut(p); err != nil {
		return nil, err
	}
	key := s.key(p.Session)
	field := p.Stage.String()

	var out *model.MemoryEntry
	txf := func(tx *redis.Tx) error {
		prev := 0
		raw, err := tx.HGet(ctx, key, field).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var e model.MemoryEntry
			if err := json.Unmarshal([]byte(raw), &e); err != nil {
				return fmt.Errorf("decode entry: %w", err)
			}
			prev = e.Version
		}

		e := model.MemoryEntry{
			ID:        s.ids.next(),
			Session:   p.Session,
			Stage:     p.Stage,
			Summary:   p.Summary,
			Raw:       p.Raw,
			Version:   prev + 1,
			Grounding: copyGrounding(p.Grounding),
			CreatedAt: time.Now().UTC(),
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field, data)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
			return nil
		})
		if err == nil {
			out = &e
		}
		return err
	}

	// Optimistic lock on the session hash; concurrent writers retry.
	for i := 0; i < maxPutRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, fmt.Errorf("put entry: %w", err)
		}
	}
	return nil, fmt.Errorf("put entry: %w", redis.TxFailedErr)
}

func (s *RedisStore) Get(ctx context.Context, p GetParams) (*model.MemoryEntry, error) {
	raw, err := s.client.HGet(ctx, s.key(p.Session), p.Stage.String()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, p.Session, p.Stage)
	}
	if err != nil {
		return nil, err
	}
	var e model.MemoryEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &e, nil
}

func (s *RedisStore) List(ctx context.Context, p ListParams) ([]model.MemoryEntry, error) {
	var keys []string
	if p.Session != "" {
		keys = []string{s.key(p.Session)}
	} else {
		iter := s.client.Scan(ctx, 0, s.prefix+"session:*", 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
	}

	var out []model.MemoryEntry
	for _, k := range keys {
		vals, err := s.client.HGetAll(ctx, k).Result()
		if err != nil {
			return nil, err
		}
		for field, raw := range vals {
			var e model.MemoryEntry
			if err := json.Unmarshal([]byte(raw), &e); err != nil {
				return nil, fmt.Errorf("decode %s/%s: %w", strings.TrimPrefix(k, s.prefix), field, err)
			}
			out = append(out, e)
		}
	}

	sortEntries(out)
	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out, nil
}

func (s *RedisStore) Rm(ctx context.Context, p RmParams) error {
	key := s.key(p.Session)
	if p.Stage == 0 {
		return s.client.Del(ctx, key).Err()
	}
	n, err := s.client.HDel(ctx, key, p.Stage.String()).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, p.Session, p.Stage)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
