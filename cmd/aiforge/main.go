// Command aiforge is a thin composition root: it wires one instruction
// string from argv/stdin through the full engine and prints the canonical
// JSON result. It is not the CLI front end — that is explicitly out of
// scope per spec.md §1 and lives outside this module — this just proves the
// pieces built in internal/ wire together the way SPEC_FULL.md's module map
// describes.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aiforge/internal/cache"
	"aiforge/internal/config"
	"aiforge/internal/dynregistry"
	"aiforge/internal/events"
	"aiforge/internal/instruction"
	"aiforge/internal/llm"
	"aiforge/internal/logger"
	"aiforge/internal/orchestrator"
	"aiforge/internal/sandbox"
	"aiforge/internal/validator"
)

func main() {
	configPath := flag.String("config", "", "path to the TOML configuration document (spec.md §6)")
	useContainer := flag.Bool("container-sandbox", false, "run generated code in the Docker-isolated backend instead of a plain subprocess")
	flag.Parse()

	if err := logger.InitFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "aiforge: failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aiforge: %v\n", err)
		os.Exit(1)
	}

	raw, err := readInstruction(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "aiforge: %v\n", err)
		os.Exit(1)
	}

	orch, cleanup, err := build(cfg, *useContainer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aiforge: failed to build engine: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, session := orchestrator.NewSession(context.Background())
	defer session.Shutdown()

	result, err := orch.Execute(ctx, session, raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aiforge: execution error: %v\n", err)
	}

	out, marshalErr := json.MarshalIndent(result, "", "  ")
	if marshalErr != nil {
		fmt.Fprintf(os.Stderr, "aiforge: failed to render result: %v\n", marshalErr)
		os.Exit(1)
	}
	fmt.Println(string(out))

	if result.IsError() {
		os.Exit(1)
	}
}

// readInstruction takes the instruction from the positional arguments joined
// with single spaces, or failing that from stdin trimmed of surrounding
// whitespace.
func readInstruction(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	stat, err := os.Stdin.Stat()
	if err == nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		data, err := io.ReadAll(bufio.NewReader(os.Stdin))
		if err != nil {
			return "", fmt.Errorf("reading instruction from stdin: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	return "", fmt.Errorf("no instruction given: pass it as an argument or pipe it on stdin")
}

// build wires every component New/Open call spec.md §4 describes into one
// Orchestrator, following SPEC_FULL.md's module map.
func build(cfg *config.Config, useContainer bool) (*orchestrator.Orchestrator, func(), error) {
	if err := os.MkdirAll(cfg.Workdir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create workdir: %w", err)
	}

	llmClient, err := llm.NewClientFromConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build llm client: %w", err)
	}

	registry, err := dynregistry.Load(filepath.Join(cfg.Workdir, "cache", "task_types.json"))
	if err != nil {
		return nil, nil, fmt.Errorf("load dynamic task type registry: %w", err)
	}

	analyzer := instruction.NewAnalyzer(llmClient, registry)

	var lock cache.Locker = cache.NoopLock{}
	var closers []func()
	if addr := os.Getenv("AIFORGE_REDIS_ADDR"); addr != "" {
		distLock := cache.NewDistributedLock(addr, 10*time.Second)
		lock = distLock
		closers = append(closers, func() { _ = distLock.Close() })
	}

	var cacheStore *cache.Store
	if cfg.CacheCode.Enabled {
		cacheStore, err = cache.Open(filepath.Join(cfg.Workdir, "cache", "index.db"), filepath.Join(cfg.Workdir, "cache", "modules"), cfg.CacheCode, lock)
		if err != nil {
			return nil, nil, fmt.Errorf("open code cache: %w", err)
		}
		closers = append(closers, func() { _ = cacheStore.Close() })
	}

	backend := sandbox.NewBackend(cfg.Security, useContainer)
	v := validator.New(llmClient)

	orch := orchestrator.New(analyzer, cacheStore, backend, v, llmClient, cfg.MaxRounds, cfg.MaxOptimizationAttempts)

	if publisher, err := buildPublisher(); err == nil && publisher != nil {
		orch = orch.WithPublisher(publisher)
		closers = append(closers, func() { _ = publisher.Close() })
	}

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return orch, cleanup, nil
}

// buildPublisher wires an optional Kafka progress-event transport when
// KAFKA_BROKERS is set; otherwise no publisher is attached and Execute runs
// without emitting progress events, which is the common case for this
// one-shot composition root.
func buildPublisher() (events.Publisher, error) {
	if len(config.GetKafkaBrokers()) == 0 {
		return nil, nil
	}
	return events.NewKafkaPublisher()
}
