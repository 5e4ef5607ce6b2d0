package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/compliancekit/assessment-backend/internal/domain/catalog"
	"github.com/compliancekit/assessment-backend/internal/infrastructure/config"
	"github.com/compliancekit/assessment-backend/internal/service/assessment"
)

// Key prefixes for catalog cache entries.
const (
	controlsKey    = "cae:catalog:controls"
	stigRulesKey   = "cae:catalog:stig_rules"
	controlCcisKey = "cae:catalog:control_ccis:"
	cciMappingsKey = "cae:catalog:cci_rules:"
)

// NewRedisClient creates the Redis client used by the catalog cache.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// CatalogCache is a read-through decorator over the compliance store. The
// catalog tables (controls, STIG rules, CCI mappings) are reference data that
// changes rarely but is read on every assessment run, so they are cached with
// a TTL. All other store operations pass through untouched.
//
// Degradation is graceful: any Redis failure falls back to the underlying
// store and logs, never fails a read.
type CatalogCache struct {
	assessment.ComplianceStore

	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewCatalogCache wraps a compliance store with catalog caching.
func NewCatalogCache(store assessment.ComplianceStore, client *redis.Client, logger *zap.Logger, ttl time.Duration) *CatalogCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &CatalogCache{
		ComplianceStore: store,
		client:          client,
		logger:          logger,
		ttl:             ttl,
	}
}

func (c *CatalogCache) GetControls(ctx context.Context) ([]*catalog.Control, error) {
	var controls []*catalog.Control
	if c.lookup(ctx, controlsKey, &controls) {
		return controls, nil
	}
	controls, err := c.ComplianceStore.GetControls(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, controlsKey, controls)
	return controls, nil
}

func (c *CatalogCache) GetStigRules(ctx context.Context) ([]*catalog.StigRule, error) {
	var rules []*catalog.StigRule
	if c.lookup(ctx, stigRulesKey, &rules) {
		return rules, nil
	}
	rules, err := c.ComplianceStore.GetStigRules(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, stigRulesKey, rules)
	return rules, nil
}

func (c *CatalogCache) GetCcisByControl(ctx context.Context, controlID string) ([]*catalog.CCI, error) {
	key := controlCcisKey + controlID
	var ccis []*catalog.CCI
	if c.lookup(ctx, key, &ccis) {
		return ccis, nil
	}
	ccis, err := c.ComplianceStore.GetCcisByControl(ctx, controlID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, ccis)
	return ccis, nil
}

func (c *CatalogCache) GetStigRuleCcisByCci(ctx context.Context, cciID string) ([]*catalog.StigRuleMapping, error) {
	key := cciMappingsKey + cciID
	var mappings []*catalog.StigRuleMapping
	if c.lookup(ctx, key, &mappings) {
		return mappings, nil
	}
	mappings, err := c.ComplianceStore.GetStigRuleCcisByCci(ctx, cciID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, mappings)
	return mappings, nil
}

// Invalidate drops every cached catalog entry, for use after catalog imports.
func (c *CatalogCache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "cae:catalog:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning catalog keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// lookup reports whether the key was found and unmarshaled into dest.
func (c *CatalogCache) lookup(ctx context.Context, key string, dest interface{}) bool {
	blob, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("catalog cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(blob, dest); err != nil {
		c.logger.Warn("catalog cache entry corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *CatalogCache) store(ctx context.Context, key string, value interface{}) {
	blob, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("catalog cache marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, blob, c.ttl).Err(); err != nil {
		c.logger.Warn("catalog cache write failed", zap.String("key", key), zap.Error(err))
	}
}
