package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/repository"
	"gym-membership/internal/infra/metrics"
	red "gym-membership/internal/infra/redis"
)

var _ repository.PlanRepository = (*planRepoCacheDecorator)(nil)

var cachedRoles = []model.Role{"", model.RoleStudent, model.RoleStaff, model.RolePublic}

// planRepoCacheDecorator caches plan reads made outside a transaction.
// Reads inside a transaction always hit the database so that a caller never
// acts on a plan another transaction has not committed yet.
type planRepoCacheDecorator struct {
	inner repository.PlanRepository
	cache red.RedisClient
	ttl   time.Duration
	log   zerolog.Logger
}

func NewPlanRepoCacheDecorator(inner repository.PlanRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.PlanRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &planRepoCacheDecorator{
		inner: inner,
		cache: cache,
		ttl:   ttl,
		log:   logger.With().Str("component", "PlanCache").Logger(),
	}
}

func planKey(id string) string { return fmt.Sprintf("plan:%s", id) }

func planListKey(f repository.PlanFilter) string {
	return fmt.Sprintf("plans:list:%t:%s", f.ActiveOnly, f.Role)
}

func (d *planRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	if tx != nil {
		return d.inner.FindByID(ctx, tx, id)
	}
	key := planKey(id)
	var plan model.Plan
	if d.get(ctx, key, "plan", &plan) {
		return &plan, nil
	}
	p, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	d.set(ctx, key, p)
	return p, nil
}

// FindByName is used for uniqueness checks and is never cached.
func (d *planRepoCacheDecorator) FindByName(ctx context.Context, tx repository.Tx, name string) (*model.Plan, error) {
	return d.inner.FindByName(ctx, tx, name)
}

func (d *planRepoCacheDecorator) List(ctx context.Context, tx repository.Tx, f repository.PlanFilter) ([]*model.Plan, error) {
	if tx != nil {
		return d.inner.List(ctx, tx, f)
	}
	key := planListKey(f)
	var plans []*model.Plan
	if d.get(ctx, key, "plan_list", &plans) {
		return plans, nil
	}
	plans, err := d.inner.List(ctx, tx, f)
	if err != nil {
		return nil, err
	}
	d.set(ctx, key, plans)
	return plans, nil
}

// For write operations, we must invalidate the cache.
func (d *planRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, plan *model.Plan) error {
	if err := d.inner.Save(ctx, tx, plan); err != nil {
		return err
	}
	d.invalidate(ctx, plan.ID)
	return nil
}

func (d *planRepoCacheDecorator) Delete(ctx context.Context, tx repository.Tx, id string) error {
	if err := d.inner.Delete(ctx, tx, id); err != nil {
		return err
	}
	d.invalidate(ctx, id)
	return nil
}

func (d *planRepoCacheDecorator) get(ctx context.Context, key, resource string, dst interface{}) bool {
	val, err := d.cache.Get(ctx, key)
	if err == nil && json.Unmarshal([]byte(val), dst) == nil {
		metrics.IncCacheRequest(resource, "hit")
		return true
	}
	if err != nil && !errors.Is(err, red.Nil) {
		d.log.Warn().Err(err).Str("key", key).Msg("plan cache read failed")
	}
	metrics.IncCacheRequest(resource, "miss")
	return false
}

func (d *planRepoCacheDecorator) set(ctx context.Context, key string, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, key, b, d.ttl); err != nil {
		d.log.Warn().Err(err).Str("key", key).Msg("plan cache write failed")
	}
}

func (d *planRepoCacheDecorator) invalidate(ctx context.Context, id string) {
	keys := []string{planKey(id)}
	for _, active := range []bool{false, true} {
		for _, role := range cachedRoles {
			keys = append(keys, planListKey(repository.PlanFilter{ActiveOnly: active, Role: role}))
		}
	}
	if err := d.cache.Del(ctx, keys...); err != nil {
		d.log.Warn().Err(err).Str("plan_id", id).Msg("plan cache invalidation failed")
	}
}
