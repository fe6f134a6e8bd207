package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/secure-health-portal/internal/model"
)

// StatusCache resolves an account's current role and active flag for the
// authorization gate.  Lookups go to Redis first and fall back to the store;
// any Redis failure is treated as a miss.  A nil Redis client disables caching.
//
// Read-through fills use SET NX, while Refresh overwrites.  A gate request
// that read the row before an admin change can therefore never replace the
// status the admin wrote.
type StatusCache struct {
	store  AccountStore
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	log    *zap.Logger
}

// deletedMarker is cached for an account removed by Refresh.
const deletedMarker = "deleted"

func NewStatusCache(store AccountStore, rdb *redis.Client, ttl time.Duration, log *zap.Logger) *StatusCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &StatusCache{store: store, rdb: rdb, ttl: ttl, prefix: "acct:status", log: log}
}

func (s *StatusCache) enabled() bool { return s.rdb != nil && s.ttl > 0 }

// Status returns the account's gate-relevant state.  ErrNotFound means the
// account was deleted after its token was issued.
func (s *StatusCache) Status(ctx context.Context, id uint64) (model.AccountStatus, error) {
	key := s.key(id)
	if s.enabled() {
		if raw, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
			if string(raw) == deletedMarker {
				return model.AccountStatus{}, ErrNotFound
			}
			var st model.AccountStatus
			if json.Unmarshal(raw, &st) == nil {
				return st, nil
			}
		} else if err != redis.Nil {
			s.log.Warn("status cache read failed", zap.Uint64("account_id", id), zap.Error(err))
		}
	}

	a, err := s.store.GetByID(ctx, id)
	if err != nil {
		return model.AccountStatus{}, err
	}
	st := a.Status()
	if s.enabled() {
		if raw, err := json.Marshal(st); err == nil {
			if err := s.rdb.SetNX(ctx, key, raw, s.ttl).Err(); err != nil {
				s.log.Warn("status cache write failed", zap.Uint64("account_id", id), zap.Error(err))
			}
		}
	}
	return st, nil
}

// Refresh re-reads the account after a role/status change or deletion and
// overwrites the cached entry with it.  If that fails the entry is dropped.
func (s *StatusCache) Refresh(ctx context.Context, id uint64) {
	if !s.enabled() {
		return
	}
	var val any
	a, err := s.store.GetByID(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		val = deletedMarker
	case err != nil:
		s.log.Warn("status cache refresh read failed", zap.Uint64("account_id", id), zap.Error(err))
	default:
		raw, merr := json.Marshal(a.Status())
		if merr == nil {
			val = raw
		}
	}
	key := s.key(id)
	if val != nil {
		err := s.rdb.Set(ctx, key, val, s.ttl).Err()
		if err == nil {
			return
		}
		s.log.Warn("status cache refresh failed", zap.Uint64("account_id", id), zap.Error(err))
	}
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		s.log.Error("status cache entry may be stale", zap.Uint64("account_id", id), zap.Error(err))
	}
}

func (s *StatusCache) key(id uint64) string {
	return s.prefix + ":" + strconv.FormatUint(id, 10)
}
