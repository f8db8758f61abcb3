package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyburd/redigo/redis"

	"github.com/okian/ecovision/internal/domain/model"
	"github.com/okian/ecovision/pkg/metrics"
)

const defaultRedisMaxIdle = 8

// RedisStore persists results in Redis so the offline cache survives
// restarts. Values are JSON under <prefix>:result:<fp>; a sorted set
// <prefix>:results:by_time scored by unix milliseconds is the time index.
type RedisStore struct {
	settings

	pool  *redis.Pool
	locks *keyLocks
}

var _ Store = (*RedisStore)(nil)

// NewRedisPool returns a connection pool dialing addr over TCP.
func NewRedisPool(addr string, maxIdle int) *redis.Pool {
	if maxIdle <= 0 {
		maxIdle = defaultRedisMaxIdle
	}
	return redis.NewPool(func() (redis.Conn, error) {
		return redis.Dial("tcp", addr)
	}, maxIdle)
}

// NewRedisStore wraps pool. The store owns the pool and closes it on Close.
func NewRedisStore(pool *redis.Pool, opts ...Option) *RedisStore {
	s := &RedisStore{
		settings: defaultSettings(),
		pool:     pool,
		locks:    newKeyLocks(),
	}
	for _, opt := range opts {
		opt(&s.settings)
	}
	return s
}

// Ping checks connectivity.
func (s *RedisStore) Ping(_ context.Context) error {
	conn := s.pool.Get()
	defer conn.Close()
	if _, err := conn.Do("PING"); err != nil {
		return s.fail("ping", err)
	}
	return nil
}

func (s *RedisStore) resultKey(fp model.Fingerprint) string {
	return s.prefix + ":result:" + string(fp)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":results:by_time"
}

func (s *RedisStore) fail(op string, err error) error {
	metrics.RecordCacheError()
	return fmt.Errorf("%w: redis %s: %v", ErrCache, op, err)
}

func (s *RedisStore) load(conn redis.Conn, fp model.Fingerprint) (model.InferenceResult, bool, error) {
	data, err := redis.Bytes(conn.Do("GET", s.resultKey(fp)))
	if err == redis.ErrNil {
		return model.InferenceResult{}, false, nil
	}
	if err != nil {
		return model.InferenceResult{}, false, s.fail("get", err)
	}
	var r model.InferenceResult
	if err := json.Unmarshal(data, &r); err != nil {
		return model.InferenceResult{}, false, s.fail("decode", err)
	}
	return r, true, nil
}

func (s *RedisStore) store(conn redis.Conn, r model.InferenceResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return s.fail("encode", err)
	}
	if err := conn.Send("MULTI"); err != nil {
		return s.fail("multi", err)
	}
	if err := conn.Send("SET", s.resultKey(r.Fingerprint), data); err != nil {
		return s.fail("set", err)
	}
	if err := conn.Send("ZADD", s.indexKey(), r.Timestamp.UnixMilli(), string(r.Fingerprint)); err != nil {
		return s.fail("zadd", err)
	}
	if _, err := conn.Do("EXEC"); err != nil {
		return s.fail("exec", err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(_ context.Context, fp model.Fingerprint) (model.InferenceResult, bool, error) {
	conn := s.pool.Get()
	defer conn.Close()
	return s.load(conn, fp)
}

// Put implements Store.
func (s *RedisStore) Put(_ context.Context, fp model.Fingerprint, r model.InferenceResult) (bool, error) {
	r, err := prepare(fp, r)
	if err != nil {
		return false, err
	}

	unlock := s.locks.lock(fp)
	defer unlock()

	conn := s.pool.Get()
	defer conn.Close()

	existing, ok, err := s.load(conn, fp)
	if err != nil {
		return false, err
	}
	if ok && !shouldReplace(existing, r) {
		return false, nil
	}
	if err := s.store(conn, r); err != nil {
		return false, err
	}
	s.reportEntries(conn)
	return true, nil
}

// Update implements Store.
func (s *RedisStore) Update(_ context.Context, fp model.Fingerprint, fn UpdateFunc) (model.InferenceResult, error) {
	unlock := s.locks.lock(fp)
	defer unlock()

	conn := s.pool.Get()
	defer conn.Close()

	existing, ok, err := s.load(conn, fp)
	if err != nil {
		return model.InferenceResult{}, err
	}
	if !ok {
		return model.InferenceResult{}, ErrNotFound
	}

	next := existing.Clone()
	if err := fn(&next); err != nil {
		return existing, err
	}
	next.Fingerprint = fp
	if err := s.store(conn, next); err != nil {
		return existing, err
	}
	return next, nil
}

// EvictOlderThan implements Store.
func (s *RedisStore) EvictOlderThan(_ context.Context, age time.Duration) (int, error) {
	cutoff := s.now().Add(-age)

	conn := s.pool.Get()
	defer conn.Close()

	// exclusive upper bound: strictly older than cutoff
	fps, err := redis.Strings(conn.Do("ZRANGEBYSCORE", s.indexKey(), "-inf", fmt.Sprintf("(%d", cutoff.UnixMilli())))
	if err != nil {
		return 0, s.fail("zrangebyscore", err)
	}

	evicted := 0
	for _, fp := range fps {
		ok, err := s.evict(conn, model.Fingerprint(fp), cutoff)
		if err != nil {
			return evicted, err
		}
		if ok {
			evicted++
		}
	}
	s.reportEntries(conn)
	metrics.RecordCacheEvictions(evicted)
	return evicted, nil
}

func (s *RedisStore) evict(conn redis.Conn, fp model.Fingerprint, cutoff time.Time) (bool, error) {
	unlock := s.locks.lock(fp)
	defer unlock()

	r, ok, err := s.load(conn, fp)
	if err != nil {
		return false, err
	}
	if ok && (!r.Timestamp.Before(cutoff) || r.SyncState == model.SyncPending) {
		return false, nil
	}
	if err := conn.Send("MULTI"); err != nil {
		return false, s.fail("multi", err)
	}
	if err := conn.Send("DEL", s.resultKey(fp)); err != nil {
		return false, s.fail("del", err)
	}
	if err := conn.Send("ZREM", s.indexKey(), string(fp)); err != nil {
		return false, s.fail("zrem", err)
	}
	if _, err := conn.Do("EXEC"); err != nil {
		return false, s.fail("exec", err)
	}
	return ok, nil
}

// List implements Store.
func (s *RedisStore) List(_ context.Context, state model.SyncState) ([]model.InferenceResult, error) {
	conn := s.pool.Get()
	defer conn.Close()

	fps, err := redis.Strings(conn.Do("ZRANGE", s.indexKey(), 0, -1))
	if err != nil {
		return nil, s.fail("zrange", err)
	}
	out := make([]model.InferenceResult, 0)
	for _, fp := range fps {
		r, ok, err := s.load(conn, model.Fingerprint(fp))
		if err != nil {
			return nil, err
		}
		if ok && r.SyncState == state {
			out = append(out, r)
		}
	}
	return out, nil
}

// Count implements Store.
func (s *RedisStore) Count(_ context.Context) (int, error) {
	conn := s.pool.Get()
	defer conn.Close()
	n, err := redis.Int(conn.Do("ZCARD", s.indexKey()))
	if err != nil {
		return 0, s.fail("zcard", err)
	}
	return n, nil
}

func (s *RedisStore) reportEntries(conn redis.Conn) {
	if n, err := redis.Int(conn.Do("ZCARD", s.indexKey())); err == nil {
		metrics.UpdateCacheEntries(n)
	}
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.pool.Close()
}
