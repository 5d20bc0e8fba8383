package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"aiforge/internal/config"
	"aiforge/internal/logger"
	"aiforge/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// ProcessBackend runs one Request by compiling a generated harness program
// and executing it as a fresh child process, applying the rlimit/environment
// restrictions spec.md §4.4 calls for on platforms that support them.
type ProcessBackend struct {
	security config.SecurityConfig
	workdir  string
}

// NewProcessBackend builds a ProcessBackend rooted at the relative directory
// "aiforge_work"; WithWorkdir changes the root.
func NewProcessBackend(security config.SecurityConfig) *ProcessBackend {
	return &ProcessBackend{security: security, workdir: "aiforge_work"}
}

// WithWorkdir overrides the default working directory root.
func (p *ProcessBackend) WithWorkdir(dir string) *ProcessBackend {
	p.workdir = dir
	return p
}

const resultMarker = "__AIFORGE_RESULT__"

func (p *ProcessBackend) Execute(ctx context.Context, req Request) (models.RawExecutionResult, error) {
	log := logger.WithComponent("sandbox")

	violations, err := Scan(req.Code, req.NetworkPolicy)
	if err != nil {
		return models.RawExecutionResult{
			Success: false, Error: err.Error(), FailureTag: models.FailureParseError,
		}, nil
	}
	if len(violations) > 0 {
		detail := make([]string, len(violations))
		for i, v := range violations {
			detail[i] = v.Kind + ": " + v.Detail
		}
		log.Warn("refusing unsafe generated code", zap.Strings("violations", detail))
		return models.RawExecutionResult{
			Success: false,
			Error:   "blocked unsafe code: " + strings.Join(detail, "; "),
			FailureTag: models.FailureSecurityBlocked,
		}, nil
	}

	blockNetwork := req.NetworkPolicy != NetworkOff
	harness, err := buildHarness(req.Code, blockNetwork)
	if err != nil {
		return models.RawExecutionResult{
			Success: false, Error: err.Error(), FailureTag: models.FailureSyntaxError,
		}, nil
	}

	if err := os.MkdirAll(p.workdir, 0o755); err != nil {
		return models.RawExecutionResult{}, fmt.Errorf("sandbox: create workdir: %w", err)
	}
	dir, err := os.MkdirTemp(p.workdir, "run-*")
	if err != nil {
		return models.RawExecutionResult{}, fmt.Errorf("sandbox: create run dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte(harness), 0o644); err != nil {
		return models.RawExecutionResult{}, fmt.Errorf("sandbox: write harness: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module sandboxrun\n\ngo 1.24\n"), 0o644); err != nil {
		return models.RawExecutionResult{}, fmt.Errorf("sandbox: write go.mod: %w", err)
	}

	paramsJSON, err := json.Marshal(req.Params)
	if err != nil {
		return models.RawExecutionResult{}, fmt.Errorf("sandbox: marshal params: %w", err)
	}
	paramsPath := filepath.Join(dir, "params.json")
	if err := os.WriteFile(paramsPath, paramsJSON, 0o600); err != nil {
		return models.RawExecutionResult{}, fmt.Errorf("sandbox: write params: %w", err)
	}

	buildCtx, buildCancel := context.WithTimeout(ctx, 60*time.Second)
	defer buildCancel()

	buildCmd := exec.CommandContext(buildCtx, "go", "build", "-o", "run", ".")
	buildCmd.Dir = dir
	var buildErr bytes.Buffer
	buildCmd.Stderr = &buildErr
	if err := buildCmd.Run(); err != nil {
		return models.RawExecutionResult{
			Success: false,
			Error:   "build failed: " + buildErr.String(),
			FailureTag: models.FailureSyntaxError,
		}, nil
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = time.Duration(p.security.ExecutionTimeout) * time.Second
	}
	runCtx, runCancel := context.WithTimeout(ctx, timeout)
	defer runCancel()

	runCmd := exec.CommandContext(runCtx, filepath.Join(dir, "run"), paramsPath)
	runCmd.Dir = dir
	runCmd.Env = restrictedEnv(dir, req.NetworkPolicy, p.security.Network)
	runCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	runCmd.Stdout = &stdout
	runCmd.Stderr = &stderr

	start := time.Now()
	if err := runCmd.Start(); err != nil {
		return models.RawExecutionResult{}, fmt.Errorf("sandbox: start run: %w", err)
	}

	applyRlimits(runCmd.Process.Pid, p.security, log)

	waitErr := runCmd.Wait()
	duration := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		killGroup(runCmd.Process.Pid)
		return models.RawExecutionResult{
			Success: false,
			Error:   fmt.Sprintf("code execution timed out after %s", timeout),
			FailureTag: models.FailureTimeout,
		}, nil
	}

	if result, ok := extractResult(stdout.String()); ok {
		log.Debug("sandbox execution completed",
			zap.Bool("success", result.Success), zap.Duration("duration", duration))
		return result, nil
	}

	if waitErr != nil {
		return models.RawExecutionResult{
			Success: false,
			Error:   fmt.Sprintf("process exited abnormally: %v: %s", waitErr, stderr.String()),
			FailureTag: models.FailureRuntimeError,
		}, nil
	}

	return models.RawExecutionResult{
		Success: false,
		Error:   "no result payload produced: " + stderr.String(),
		FailureTag: models.FailureParseError,
	}, nil
}

// extractResult scans stdout for the __AIFORGE_RESULT__ line, as
// runner.py's _parse_execution_result does for its subprocess stdout.
func extractResult(stdout string) (models.RawExecutionResult, bool) {
	for _, line := range strings.Split(stdout, "\n") {
		if !strings.HasPrefix(line, resultMarker) {
			continue
		}
		var result models.RawExecutionResult
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, resultMarker)), &result); err != nil {
			continue
		}
		return result, true
	}
	return models.RawExecutionResult{}, false
}

// restrictedEnv builds the scrubbed environment spec.md §4.4 requires: a
// minimal PATH, a sandbox-rooted HOME/TMPDIR, and network-policy proxy
// overrides.
func restrictedEnv(dir string, policy NetworkPolicy, net config.NetworkConfig) []string {
	env := []string{
		"PATH=/usr/bin:/bin",
		"HOME=" + dir,
		"TMPDIR=" + dir,
	}

	if net.DisableNetworkValidation {
		return env
	}

	switch policy {
	case NetworkBlockAll:
		env = append(env,
			"HTTP_PROXY=127.0.0.1:9", "HTTPS_PROXY=127.0.0.1:9",
			"ALL_PROXY=127.0.0.1:9", "NO_PROXY=",
		)
	case NetworkRestrict:
		env = append(env,
			"HTTP_PROXY=", "HTTPS_PROXY=", "ALL_PROXY=",
			"NO_PROXY=localhost,127.0.0.1",
		)
	}

	return env
}

// applyRlimits sets the child's resource limits post-fork via prlimit(2),
// mirroring runner.py's resource.setrlimit calls. Best-effort: a platform
// or permission failure is logged, never fatal, per spec.md §4.4's
// "degrade to best-effort" note.
func applyRlimits(pid int, sec config.SecurityConfig, log *zap.Logger) {
	limits := []struct {
		resource int
		cur, max uint64
	}{
		{unix.RLIMIT_CPU, uint64(sec.CPUTimeLimit), uint64(sec.CPUTimeLimit)},
		{unix.RLIMIT_NOFILE, uint64(sec.FileDescriptorLimit), uint64(sec.FileDescriptorLimit)},
		{unix.RLIMIT_NPROC, uint64(sec.MaxProcesses), uint64(sec.MaxProcesses)},
		{unix.RLIMIT_FSIZE, uint64(sec.MaxFileSizeMB) * 1024 * 1024, uint64(sec.MaxFileSizeMB) * 1024 * 1024},
	}

	for _, l := range limits {
		rlimit := unix.Rlimit{Cur: l.cur, Max: l.max}
		if err := unix.Prlimit(pid, l.resource, &rlimit, nil); err != nil {
			log.Debug("rlimit not applied, continuing best-effort",
				zap.Int("resource", l.resource), zap.Error(err))
		}
	}
}

func killGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

// stdlibAutoImports maps an identifier the harness builder might find
// referenced in generated code to the stdlib import path providing it,
// mirroring runner.py's smart_import_missing whitelist.
var stdlibAutoImports = map[string]string{
	"strings": "strings",
	"strconv": "strconv",
	"time":    "time",
	"math":    "math",
	"sort":    "sort",
	"regexp":  "regexp",
	"errors":  "errors",
	"bytes":   "bytes",
	"io":      "io",
	"bufio":   "bufio",
	"unicode":  "unicode",
}

var networkAutoImports = map[string]string{
	"http": "net/http",
	"url":  "net/url",
}

// buildHarness wraps a generated `func Run(params map[string]interface{})
// (interface{}, error)` declaration into a runnable program that reads
// parameters from a JSON file (argv[1]) and emits the __AIFORGE_RESULT__
// line, per spec.md §4.4's result-extraction contract.
func buildHarness(code string, blockNetwork bool) (string, error) {
	imports := map[string]string{
		"encoding/json": "encoding/json",
		"fmt":           "fmt",
		"os":            "os",
	}
	for ident, path := range stdlibAutoImports {
		if astTouches(code, ident) {
			imports[path] = path
		}
	}
	if !blockNetwork {
		for ident, path := range networkAutoImports {
			if astTouches(code, ident) {
				imports[path] = path
			}
		}
	}

	var b strings.Builder
	b.WriteString("package main\n\nimport (\n")
	for path := range imports {
		fmt.Fprintf(&b, "\t%q\n", path)
	}
	b.WriteString(")\n\n")
	b.WriteString(code)
	b.WriteString("\n\n")
	b.WriteString(harnessMain)

	return b.String(), nil
}

const harnessMain = `type __sandboxResult struct {
	Success   bool        ` + "`json:\"success\"`" + `
	Result    interface{} ` + "`json:\"result\"`" + `
	Error     string      ` + "`json:\"error,omitempty\"`" + `
	Traceback string      ` + "`json:\"traceback,omitempty\"`" + `
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			out := __sandboxResult{Success: false, Error: fmt.Sprintf("%v", r), Traceback: "panic"}
			b, _ := json.Marshal(out)
			fmt.Println("` + resultMarker + `" + string(b))
		}
	}()

	params := map[string]interface{}{}
	if len(os.Args) > 1 {
		if data, err := os.ReadFile(os.Args[1]); err == nil {
			json.Unmarshal(data, &params)
		}
	} else if data := os.Getenv("AIFORGE_PARAMS_JSON"); data != "" {
		json.Unmarshal([]byte(data), &params)
	}

	result, err := Run(params)
	out := __sandboxResult{Success: err == nil, Result: result}
	if err != nil {
		out.Error = err.Error()
	}
	b, _ := json.Marshal(out)
	fmt.Println("` + resultMarker + `" + string(b))
}
`
