package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/salon-booking-engine/pkg/logging"
)

// CachedStore puts a Redis read-through cache in front of a Store. Every
// write bumps a per-appointment version and deletes the cached copy; a reader
// only fills the cache if the version it saw before loading is still current,
// so a copy loaded before a concurrent commit is never written back.
type CachedStore struct {
	Store
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewCachedStore(inner Store, client *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedStore {
	if inner == nil {
		panic("appointments: inner store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedStore{Store: inner, redis: client, ttl: ttl, logger: logger}
}

func cacheKey(id uuid.UUID) string {
	return fmt.Sprintf("booking:appointment:%s", id)
}

func versionKey(id uuid.UUID) string {
	return fmt.Sprintf("booking:appointment:%s:version", id)
}

var errStaleRead = errors.New("appointments: cache version moved")

func (c *CachedStore) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if c.redis == nil {
		return c.Store.Get(ctx, id)
	}

	data, err := c.redis.Get(ctx, cacheKey(id)).Bytes()
	switch {
	case err == nil:
		var a Appointment
		if err := json.Unmarshal(data, &a); err == nil {
			return &a, nil
		}
		c.logger.Warn("appointment cache entry unreadable", "appointment_id", id)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("appointment cache read failed", "appointment_id", id, "error", err)
		return c.Store.Get(ctx, id)
	}

	seen, err := c.version(ctx, c.redis, id)
	if err != nil {
		c.logger.Warn("appointment cache version read failed", "appointment_id", id, "error", err)
		return c.Store.Get(ctx, id)
	}
	a, err := c.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, a, seen)
	return a, nil
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (c *CachedStore) version(ctx context.Context, r stringGetter, id uuid.UUID) (string, error) {
	v, err := r.Get(ctx, versionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// fill caches a unless a write has bumped the version since seen was read.
func (c *CachedStore) fill(ctx context.Context, a *Appointment, seen string) {
	data, err := json.Marshal(a)
	if err != nil {
		return
	}
	vk := versionKey(a.ID)
	err = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := c.version(ctx, tx, a.ID)
		if err != nil {
			return err
		}
		if current != seen {
			return errStaleRead
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKey(a.ID), data, c.ttl)
			return nil
		})
		return err
	}, vk)
	switch {
	case err == nil, errors.Is(err, errStaleRead), errors.Is(err, redis.TxFailedErr):
	default:
		c.logger.Warn("appointment cache write failed", "appointment_id", a.ID, "error", err)
	}
}

func (c *CachedStore) Discard(ctx context.Context, id uuid.UUID) error {
	defer c.invalidate(ctx, id)
	return c.Store.Discard(ctx, id)
}

func (c *CachedStore) Abandon(ctx context.Context, id uuid.UUID, calendarRef string) error {
	defer c.invalidate(ctx, id)
	return c.Store.Abandon(ctx, id, calendarRef)
}

func (c *CachedStore) AttachCalendarEvent(ctx context.Context, id uuid.UUID, ref string) error {
	defer c.invalidate(ctx, id)
	return c.Store.AttachCalendarEvent(ctx, id, ref)
}

func (c *CachedStore) ClearCalendarEvent(ctx context.Context, id uuid.UUID) error {
	defer c.invalidate(ctx, id)
	return c.Store.ClearCalendarEvent(ctx, id)
}

func (c *CachedStore) AttachPaymentRequest(ctx context.Context, id uuid.UUID, req PaymentRequest) error {
	defer c.invalidate(ctx, id)
	return c.Store.AttachPaymentRequest(ctx, id, req)
}

func (c *CachedStore) Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*Appointment, error) {
	defer c.invalidate(ctx, id)
	return c.Store.Mutate(ctx, id, fn)
}

func (c *CachedStore) invalidate(ctx context.Context, id uuid.UUID) {
	if c.redis == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(id))
		pipe.Expire(ctx, versionKey(id), c.ttl)
		pipe.Del(ctx, cacheKey(id))
		return nil
	})
	if err != nil {
		c.logger.Warn("appointment cache invalidation failed", "appointment_id", id, "error", err)
	}
}
