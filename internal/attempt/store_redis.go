package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mind-engage/mindengage-exams/internal/apperr"
)

// RedisStore shares sessions between instances. Each session is a JSON value
// with a TTL; a sorted set of deadlines feeds the sweeper, a per (user, exam)
// key points at the active session and a per-exam set holds running ones.
// State changes go through Update, which retries under WATCH so two replicas
// cannot interleave a read-modify-write of the same session.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "exams"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) sessionKey(id string) string { return r.prefix + ":attempt:" + id }
func (r *RedisStore) activeKey(userID, examID string) string {
	return r.prefix + ":active:" + activeKey(userID, examID)
}
func (r *RedisStore) deadlinesKey() string        { return r.prefix + ":deadlines" }
func (r *RedisStore) liveKey(examID string) string { return r.prefix + ":live:" + examID }

// updateRetries bounds how often Update re-reads a session that keeps
// changing under it.
const updateRetries = 5

func (r *RedisStore) Get(ctx context.Context, id string) (Session, error) {
	return decodeSession(r.client.Get(ctx, r.sessionKey(id)), id)
}

func decodeSession(cmd *redis.StringCmd, id string) (Session, error) {
	raw, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, apperr.NotFound("attempt " + id)
	}
	if err != nil {
		return Session{}, apperr.Storage("get session", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return s, nil
}

func (r *RedisStore) Active(ctx context.Context, userID, examID string) (Session, error) {
	id, err := r.client.Get(ctx, r.activeKey(userID, examID)).Result()
	if errors.Is(err, redis.Nil) {
		return Session{}, apperr.NotFound("active attempt")
	}
	if err != nil {
		return Session{}, apperr.Storage("get active session", err)
	}
	s, err := r.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if s.Status == StatusSubmitted {
		return Session{}, apperr.NotFound("active attempt")
	}
	return s, nil
}

func (r *RedisStore) Put(ctx context.Context, s Session, ttl time.Duration) error {
	val, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		r.write(ctx, p, s, val, ttl)
		return nil
	})
	return apperr.Storage("put session", err)
}

// write queues every key a session state touches.
func (r *RedisStore) write(ctx context.Context, p redis.Pipeliner, s Session, val []byte, ttl time.Duration) {
	p.Set(ctx, r.sessionKey(s.ID), val, ttl)
	ak := r.activeKey(s.UserID, s.ExamID)
	if s.Status == StatusInProgress {
		p.ZAdd(ctx, r.deadlinesKey(), redis.Z{Score: float64(s.Deadline.UnixMilli()), Member: s.ID})
		p.SAdd(ctx, r.liveKey(s.ExamID), s.ID)
	} else {
		p.ZRem(ctx, r.deadlinesKey(), s.ID)
		p.SRem(ctx, r.liveKey(s.ExamID), s.ID)
	}
	if s.Status == StatusSubmitted {
		p.Del(ctx, ak)
	} else {
		p.Set(ctx, ak, s.ID, ttl)
	}
}

func (r *RedisStore) Update(ctx context.Context, id string, fn func(*Session) (time.Duration, error)) (Session, error) {
	key := r.sessionKey(id)
	var out Session
	txf := func(tx *redis.Tx) error {
		s, err := decodeSession(tx.Get(ctx, key), id)
		if err != nil {
			return err
		}
		ttl, err := fn(&s)
		if err != nil {
			return err
		}
		val, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("encode session %s: %w", id, err)
		}
		if _, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			r.write(ctx, p, s, val, ttl)
			return nil
		}); err != nil {
			if errors.Is(err, redis.TxFailedErr) {
				return err
			}
			return apperr.Storage("update session", err)
		}
		out = s
		return nil
	}
	for i := 0; i < updateRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Session{}, err
		}
		return out, nil
	}
	return Session{}, apperr.Conflict("attempt %s keeps changing, try again", id)
}

// CountLive drops members whose session has expired or left in_progress
// while counting.
func (r *RedisStore) CountLive(ctx context.Context, examID string) (int, error) {
	lk := r.liveKey(examID)
	ids, err := r.client.SMembers(ctx, lk).Result()
	if err != nil {
		return 0, apperr.Storage("list live sessions", err)
	}
	n := 0
	for _, id := range ids {
		s, err := r.Get(ctx, id)
		switch {
		case err == nil && s.Status == StatusInProgress:
			n++
		case err == nil || errors.Is(err, apperr.ErrNotFound):
			r.client.SRem(ctx, lk, id)
		default:
			return 0, err
		}
	}
	return n, nil
}

func (r *RedisStore) Due(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := r.client.ZRangeByScore(ctx, r.deadlinesKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, apperr.Storage("list due sessions", err)
	}
	return ids, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	s, err := r.Get(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return r.client.ZRem(ctx, r.deadlinesKey(), id).Err()
	}
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.sessionKey(id))
		p.ZRem(ctx, r.deadlinesKey(), id)
		p.SRem(ctx, r.liveKey(s.ExamID), id)
		p.Del(ctx, r.activeKey(s.UserID, s.ExamID))
		return nil
	})
	return apperr.Storage("delete session", err)
}
