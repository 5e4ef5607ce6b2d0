package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/compliancekit/assessment-backend/internal/domain/catalog"
	"github.com/compliancekit/assessment-backend/internal/service/assessment"
)

// countingStore implements only the catalog reads; everything else panics via
// the embedded nil interface, which is fine for these tests.
type countingStore struct {
	assessment.ComplianceStore

	controlCalls int
	ruleCalls    int
	cciCalls     int
	mappingCalls int
}

func (s *countingStore) GetControls(ctx context.Context) ([]*catalog.Control, error) {
	s.controlCalls++
	return []*catalog.Control{
		{ID: "AC-2", Title: "Account Management", Family: "AC", Priority: "P1"},
		{ID: "AU-3", Title: "Content of Audit Records", Family: "AU", Priority: "P1"},
	}, nil
}

func (s *countingStore) GetStigRules(ctx context.Context) ([]*catalog.StigRule, error) {
	s.ruleCalls++
	return []*catalog.StigRule{
		{ID: "SV-1001", Title: "Disable root login", Severity: "high", RuleType: catalog.RuleTypeStig},
	}, nil
}

func (s *countingStore) GetCcisByControl(ctx context.Context, controlID string) ([]*catalog.CCI, error) {
	s.cciCalls++
	return []*catalog.CCI{{ID: "CCI-000015", Definition: "Automated account management"}}, nil
}

func (s *countingStore) GetStigRuleCcisByCci(ctx context.Context, cciID string) ([]*catalog.StigRuleMapping, error) {
	s.mappingCalls++
	return []*catalog.StigRuleMapping{{CciID: cciID, StigRuleID: "SV-1001"}}, nil
}

func setupCache(t *testing.T) (*CatalogCache, *countingStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := &countingStore{}
	return NewCatalogCache(store, client, zaptest.NewLogger(t), time.Minute), store, mr
}

func TestCatalogCacheReadThrough(t *testing.T) {
	cache, store, _ := setupCache(t)
	ctx := context.Background()

	first, err := cache.GetControls(ctx)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := cache.GetControls(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.controlCalls, "second read must hit the cache")
}

func TestCatalogCachePerKeyEntries(t *testing.T) {
	cache, store, _ := setupCache(t)
	ctx := context.Background()

	_, err := cache.GetCcisByControl(ctx, "AC-2")
	require.NoError(t, err)
	_, err = cache.GetCcisByControl(ctx, "AU-3")
	require.NoError(t, err)
	_, err = cache.GetCcisByControl(ctx, "AC-2")
	require.NoError(t, err)

	assert.Equal(t, 2, store.cciCalls, "one store read per distinct control")

	mappings, err := cache.GetStigRuleCcisByCci(ctx, "CCI-000015")
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "SV-1001", mappings[0].StigRuleID)
}

func TestCatalogCacheExpiry(t *testing.T) {
	cache, store, mr := setupCache(t)
	ctx := context.Background()

	_, err := cache.GetStigRules(ctx)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = cache.GetStigRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, store.ruleCalls, "expired entry must re-read the store")
}

func TestCatalogCacheFallsBackWhenRedisDown(t *testing.T) {
	cache, store, mr := setupCache(t)
	ctx := context.Background()

	mr.Close()

	rules, err := cache.GetStigRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 1, store.ruleCalls)
}

func TestCatalogCacheInvalidate(t *testing.T) {
	cache, store, _ := setupCache(t)
	ctx := context.Background()

	_, err := cache.GetControls(ctx)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx))

	_, err = cache.GetControls(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, store.controlCalls)
}
