package cache

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"aiforge/internal/config"
	"aiforge/internal/models"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "cache.db"), filepath.Join(dir, "modules"),
		config.CodeCacheConfig{Enabled: true, RetainPerType: 2}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLookupExact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	module := models.CodeModule{
		InstructionHash: "hash-1",
		TaskType:        models.TaskTypeDataFetch,
		Action:          "search",
	}
	saved, err := s.Save(ctx, module, "package p\nfunc Run(params map[string]interface{}) (interface{}, error) { return nil, nil }")
	require.NoError(t, err)
	require.NotEmpty(t, saved.ModuleID)

	candidates, err := s.Lookup(ctx, models.StandardizedInstruction{
		CacheKey: "hash-1", TaskType: models.TaskTypeDataFetch, Action: "search",
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, models.StrategyExact, candidates[0].Strategy)
}

func TestUpdateStatsAffectsSuccessRate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	module, err := s.Save(ctx, models.CodeModule{InstructionHash: "h2", TaskType: models.TaskTypeGeneral, Action: "do"}, "package p")
	require.NoError(t, err)

	require.NoError(t, s.UpdateStats(ctx, module.ModuleID, true))
	require.NoError(t, s.UpdateStats(ctx, module.ModuleID, false))

	candidates, err := s.Lookup(ctx, models.StandardizedInstruction{TaskType: models.TaskTypeGeneral, Action: "do"})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.InDelta(t, 0.5, candidates[0].Module.SuccessRate(), 0.001)
}

func TestEvictionRetainsTopKPerType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Save(ctx, models.CodeModule{
			InstructionHash: "h", TaskType: models.TaskTypeAutomation, Action: "run",
		}, "package p")
		require.NoError(t, err)
	}

	candidates, err := s.Lookup(ctx, models.StandardizedInstruction{TaskType: models.TaskTypeAutomation, Action: "run"})
	require.NoError(t, err)
	require.LessOrEqual(t, len(candidates), 2)
}

// TestLookupCoalescesConcurrentRequests exercises the singleflight.Group
// wired into Lookup: a burst of goroutines asking for the same cache key at
// once should all observe a consistent result without racing sqlite.
func TestLookupCoalescesConcurrentRequests(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, models.CodeModule{
		InstructionHash: "hash-concurrent", TaskType: models.TaskTypeDataFetch, Action: "search",
	}, "package p")
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	results := make([][]models.CacheCandidate, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Lookup(ctx, models.StandardizedInstruction{
				CacheKey: "hash-concurrent", TaskType: models.TaskTypeDataFetch, Action: "search",
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 1)
	}
}
