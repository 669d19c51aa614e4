package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"streamvault/internal/models"
)

const (
	sessionKeyPrefix   = "session:"
	sessionCodePrefix  = "session:code:"
	pendingSessionsKey = "sessions:pending"

	maxWatchRetries = 10
)

// NewRedisClient parses a redis URL and checks the connection.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return client, nil
}

// RedisSessionStore stores each session as a JSON string under session:<id>,
// with session:code:<code> keys pointing back at the id and a sorted set of
// pending sessions scored by creation time.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedisSessionStore(client *redis.Client, ttl time.Duration, log *zap.Logger) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl, log: log}
}

func sessionKey(id string) string       { return sessionKeyPrefix + id }
func sessionCodeKey(code string) string { return sessionCodePrefix + code }

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisSessionStore) Create(ctx context.Context, session *models.PaymentSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(session.ID), data, s.ttl)
		for _, code := range []string{session.Metadata.GatewayPaymentCode, session.Metadata.ExternalCode} {
			if code != "" {
				pipe.Set(ctx, sessionCodeKey(code), session.ID, s.ttl)
			}
		}
		if session.Status == models.SessionStatusPending {
			pipe.ZAdd(ctx, pendingSessionsKey, redis.Z{Score: float64(session.CreatedAt), Member: session.ID})
		} else {
			pipe.ZRem(ctx, pendingSessionsKey, session.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store session %s: %w", session.ID, err)
	}
	return nil
}

func (s *RedisSessionStore) Get(ctx context.Context, id string) (*models.PaymentSession, error) {
	return s.load(ctx, s.client, id)
}

func (s *RedisSessionStore) FindBySecondaryCode(ctx context.Context, code string) (*models.PaymentSession, error) {
	if code == "" {
		return nil, ErrSessionNotFound
	}

	id, err := s.client.Get(ctx, sessionCodeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup code %s: %w", code, err)
	}

	session, err := s.load(ctx, s.client, id)
	if err != nil {
		return nil, err
	}
	if !session.MatchesCode(code) {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Update runs an optimistic WATCH/MULTI transaction and retries when another
// writer touched the key in between.
func (s *RedisSessionStore) Update(ctx context.Context, id string, patch models.SessionPatch) (*models.PaymentSession, error) {
	key := sessionKey(id)

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		var (
			result   *models.PaymentSession
			patchErr error
		)

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := s.load(ctx, tx, id)
			if err != nil {
				return err
			}

			next := current.Clone()
			if patchErr = patch.Apply(next); patchErr != nil {
				result = current
				return nil
			}

			data, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("marshal session: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, redis.KeepTTL)
				if next.Status != models.SessionStatusPending {
					pipe.ZRem(ctx, pendingSessionsKey, id)
				}
				return nil
			})
			if err != nil {
				return err
			}
			result = next
			return nil
		}, key)

		switch {
		case err == nil:
			return result, patchErr
		case errors.Is(err, redis.TxFailedErr):
			if s.log != nil {
				s.log.Debug("session update conflict, retrying", zap.String("session_id", id), zap.Int("attempt", attempt+1))
			}
			continue
		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("update session %s: too many concurrent writers", id)
}

func (s *RedisSessionStore) ListPendingBefore(ctx context.Context, cutoffMs int64) ([]*models.PaymentSession, error) {
	ids, err := s.client.ZRangeByScore(ctx, pendingSessionsKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", cutoffMs),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending sessions: %w", err)
	}

	out := make([]*models.PaymentSession, 0, len(ids))
	for _, id := range ids {
		session, err := s.Get(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			// key expired, the index entry is stale
			s.client.ZRem(ctx, pendingSessionsKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if session.Status == models.SessionStatusPending {
			out = append(out, session)
		}
	}
	return out, nil
}

func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}

func (s *RedisSessionStore) load(ctx context.Context, c redisGetter, id string) (*models.PaymentSession, error) {
	data, err := c.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	var session models.PaymentSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &session, nil
}
