// Package cache implements the parameterized code cache (spec.md §4.2): a
// sqlite-backed index of previously generated, gate-passed code modules,
// looked up by a cascade of strategies (exact cache key, task-type+action,
// optional semantic keyword overlap) and ranked by strategy priority plus
// rolling success rate.
//
// Grounded on original_source/cache/enhanced_cache.py's
// EnhancedAiForgeCodeCache: _generate_cache_key's strategy cascade,
// get_cached_modules_enhanced's multi-strategy merge, and
// _rank_and_deduplicate_results's scoring. Rebuilt over database/sql +
// mattn/go-sqlite3 since the original kept its index in a local sqlite file
// too; the Go rewrite adds a Redis-backed DistributedLock
// (internal/cache/lock.go) around stats updates, which the single-process
// Python original did not need.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"aiforge/internal/config"
	"aiforge/internal/logger"
	"aiforge/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Store is the sqlite-backed code module index.
type Store struct {
	db      *sql.DB
	workdir string
	cfg     config.CodeCacheConfig
	lock    Locker
	group   singleflight.Group
}

// Locker abstracts the distributed lock used to guard cross-process stat
// updates; NoopLock is used when no Redis endpoint is configured.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Open creates (or reuses) a sqlite database at dbPath and ensures schema.
func Open(dbPath string, workdir string, cfg config.CodeCacheConfig, lock Locker) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil && filepath.Dir(dbPath) != "." {
		return nil, fmt.Errorf("cache: create db dir: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("cache: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: create schema: %w", err)
	}

	if lock == nil {
		lock = NoopLock{}
	}

	if err := os.MkdirAll(workdir, 0o755); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: create workdir: %w", err)
	}

	return &Store{db: db, workdir: workdir, cfg: cfg, lock: lock}, nil
}

func (s *Store) Close() error { return s.db.Close() }

const schemaDDL = `
CREATE TABLE IF NOT EXISTS code_modules (
	module_id        TEXT PRIMARY KEY,
	instruction_hash TEXT NOT NULL,
	task_type        TEXT NOT NULL,
	action           TEXT NOT NULL,
	file_path        TEXT NOT NULL,
	created_at       TIMESTAMP NOT NULL,
	last_used        TIMESTAMP NOT NULL,
	success_count    INTEGER NOT NULL DEFAULT 0,
	failure_count    INTEGER NOT NULL DEFAULT 0,
	is_parameterized INTEGER NOT NULL DEFAULT 0,
	metadata         TEXT
);
CREATE INDEX IF NOT EXISTS idx_code_modules_hash ON code_modules(instruction_hash);
CREATE INDEX IF NOT EXISTS idx_code_modules_type_action ON code_modules(task_type, action);
`

// Save writes the generated code to a file under workdir and inserts its
// module row, mirroring save_enhanced_module's file-then-row write order.
func (s *Store) Save(ctx context.Context, module models.CodeModule, code string) (models.CodeModule, error) {
	if module.ModuleID == "" {
		module.ModuleID = fmt.Sprintf("module_%s_%d", module.InstructionHash, time.Now().UnixNano())
	}
	if module.FilePath == "" {
		module.FilePath = filepath.Join(s.workdir, module.ModuleID+".go")
	}
	if err := os.WriteFile(module.FilePath, []byte(code), 0o644); err != nil {
		return models.CodeModule{}, fmt.Errorf("cache: write module file: %w", err)
	}

	now := time.Now()
	module.CreatedAt = now
	module.LastUsed = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO code_modules
			(module_id, instruction_hash, task_type, action, file_path,
			 created_at, last_used, success_count, failure_count, is_parameterized, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		module.ModuleID, module.InstructionHash, string(module.TaskType), module.Action, module.FilePath,
		module.CreatedAt, module.LastUsed, module.SuccessCount, module.FailureCount,
		boolToInt(module.IsParameterized), string(module.Metadata),
	)
	if err != nil {
		return models.CodeModule{}, fmt.Errorf("cache: insert module row: %w", err)
	}

	logger.WithComponent("cache").Info("stored new code module",
		zap.String("module_id", module.ModuleID), zap.String("task_type", string(module.TaskType)))

	if s.cfg.RetainPerType > 0 {
		if err := s.evict(ctx, module.TaskType); err != nil {
			logger.WithComponent("cache").Warn("eviction pass failed", zap.Error(err))
		}
	}

	return module, nil
}

// Load reads a module's generated code from disk by module ID.
func (s *Store) Load(ctx context.Context, moduleID string) (string, error) {
	var filePath string
	err := s.db.QueryRowContext(ctx, `SELECT file_path FROM code_modules WHERE module_id = ?`, moduleID).Scan(&filePath)
	if err != nil {
		return "", fmt.Errorf("cache: module %s not found: %w", moduleID, err)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("cache: read module file: %w", err)
	}
	return string(data), nil
}

// Lookup runs the exact / type-action / semantic strategy cascade against
// instruction and returns deduplicated, ranked candidates, mirroring
// get_cached_modules_enhanced.
//
// Concurrent lookups sharing the same cache key are coalesced through a
// singleflight.Group: when several goroutines standardize to the same
// instruction at once (e.g. a burst of identical requests across sibling
// orchestrator sessions), only one of them actually hits sqlite; the rest
// share its result, per SPEC_FULL.md §B's singleflight binding.
func (s *Store) Lookup(ctx context.Context, instruction models.StandardizedInstruction) ([]models.CacheCandidate, error) {
	key := instruction.CacheKey
	if key == "" {
		key = string(instruction.TaskType) + "_" + instruction.Action
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		var all []models.CacheCandidate

		exact, err := s.queryByHash(ctx, instruction.CacheKey, models.StrategyExact)
		if err != nil {
			return nil, err
		}
		all = append(all, exact...)

		typeAction, err := s.queryByTypeAction(ctx, instruction.TaskType, instruction.Action, models.StrategyTypeAction)
		if err != nil {
			return nil, err
		}
		all = append(all, typeAction...)

		if s.cfg.SemanticCluster {
			semantic, err := s.querySemantic(ctx, instruction, models.StrategySemantic)
			if err != nil {
				return nil, err
			}
			all = append(all, semantic...)
		}

		return rankAndDedupe(all), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.CacheCandidate), nil
}

func (s *Store) queryByHash(ctx context.Context, hash string, strategy models.CacheStrategy) ([]models.CacheCandidate, error) {
	if hash == "" {
		return nil, nil
	}
	return s.query(ctx, `WHERE instruction_hash = ?`, []interface{}{hash}, strategy)
}

func (s *Store) queryByTypeAction(ctx context.Context, taskType models.TaskType, action string, strategy models.CacheStrategy) ([]models.CacheCandidate, error) {
	if taskType == "" || action == "" {
		return nil, nil
	}
	return s.query(ctx, `WHERE task_type = ? AND action = ?`, []interface{}{string(taskType), action}, strategy)
}

// querySemantic returns every stored module of the instruction's task_type,
// whatever its action, ordered like the other strategies by query. No
// keyword-overlap scoring is done: this cache has no free-text
// task_keywords table to score against.
func (s *Store) querySemantic(ctx context.Context, instruction models.StandardizedInstruction, strategy models.CacheStrategy) ([]models.CacheCandidate, error) {
	if instruction.TaskType == "" {
		return nil, nil
	}
	return s.query(ctx, `WHERE task_type = ?`, []interface{}{string(instruction.TaskType)}, strategy)
}

func (s *Store) query(ctx context.Context, where string, args []interface{}, strategy models.CacheStrategy) ([]models.CacheCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT module_id, instruction_hash, task_type, action, file_path,
		       created_at, last_used, success_count, failure_count, is_parameterized, metadata
		FROM code_modules `+where+`
		ORDER BY (CASE WHEN success_count + failure_count = 0 THEN 0.5
		               ELSE CAST(success_count AS REAL) / (success_count + failure_count) END) DESC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("cache: query: %w", err)
	}
	defer rows.Close()

	var out []models.CacheCandidate
	for rows.Next() {
		var m models.CodeModule
		var taskType, isParam string
		var metadata sql.NullString
		var isParamInt int
		if err := rows.Scan(&m.ModuleID, &m.InstructionHash, &taskType, &m.Action, &m.FilePath,
			&m.CreatedAt, &m.LastUsed, &m.SuccessCount, &m.FailureCount, &isParamInt, &metadata); err != nil {
			return nil, fmt.Errorf("cache: scan row: %w", err)
		}
		_ = isParam
		m.TaskType = models.TaskType(taskType)
		m.IsParameterized = isParamInt != 0
		if metadata.Valid {
			m.Metadata = json.RawMessage(metadata.String)
		}
		out = append(out, models.CacheCandidate{Module: m, Strategy: strategy})
	}
	return out, rows.Err()
}

// rankAndDedupe merges candidates from multiple strategies, keeping the
// highest-priority hit per module_id, then sorts by strategy_priority +
// success_rate descending, mirroring _rank_and_deduplicate_results.
func rankAndDedupe(candidates []models.CacheCandidate) []models.CacheCandidate {
	best := make(map[string]models.CacheCandidate, len(candidates))
	for _, c := range candidates {
		c.Score = c.Strategy.Priority() + c.Module.SuccessRate()
		existing, ok := best[c.Module.ModuleID]
		if !ok || c.Score > existing.Score {
			best[c.Module.ModuleID] = c
		}
	}

	out := make([]models.CacheCandidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// UpdateStats records a cache execution outcome, guarded by the distributed
// lock so concurrent orchestrator instances don't race on the same counter
// (spec.md §9's resolution of the cross-process cache-stats Open Question).
func (s *Store) UpdateStats(ctx context.Context, moduleID string, success bool) error {
	unlock, err := s.lock.Lock(ctx, "cache:stats:"+moduleID)
	if err != nil {
		return fmt.Errorf("cache: acquire stats lock: %w", err)
	}
	defer unlock()

	column := "failure_count"
	if success {
		column = "success_count"
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE code_modules SET `+column+` = `+column+` + 1, last_used = ? WHERE module_id = ?`,
		time.Now(), moduleID)
	if err != nil {
		return fmt.Errorf("cache: update stats: %w", err)
	}
	return nil
}

// evict retains only the top RetainPerType modules (by success rate) for
// taskType, deleting the rest and their backing files, mirroring the
// teacher's cache eviction sweep adapted to this module's per-type cap.
func (s *Store) evict(ctx context.Context, taskType models.TaskType) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT module_id, file_path FROM code_modules WHERE task_type = ?
		ORDER BY (CASE WHEN success_count + failure_count = 0 THEN 0.5
		               ELSE CAST(success_count AS REAL) / (success_count + failure_count) END) DESC`,
		string(taskType))
	if err != nil {
		return err
	}

	type row struct{ id, path string }
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.path); err != nil {
			rows.Close()
			return err
		}
		all = append(all, r)
	}
	rows.Close()

	if len(all) <= s.cfg.RetainPerType {
		return nil
	}

	for _, r := range all[s.cfg.RetainPerType:] {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM code_modules WHERE module_id = ?`, r.id); err != nil {
			return err
		}
		_ = os.Remove(r.path)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
