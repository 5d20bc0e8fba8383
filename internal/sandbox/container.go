// ContainerBackend is the optional hardened isolation backend: instead of a
// plain subprocess it runs the generated harness inside a throwaway Docker
// container with no capabilities, a writable root filesystem (the in-container
// `go run` needs a writable GOCACHE), and resource
// limits enforced by the Linux cgroup the daemon manages, rather than
// best-effort rlimits. Adapted from the teacher's internal/sandbox container
// runner (ContainerSandbox), generalized from its own command/stdin calling
// convention to this package's Request/RawExecutionResult contract so it can
// stand in for ProcessBackend behind the same sandbox.Backend interface.
package sandbox

import (
	"context"
	"encoding/json"
	"bytes"
	"fmt"
	"strings"
	"time"

	"aiforge/internal/config"
	"aiforge/internal/logger"
	"aiforge/internal/models"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

// ContainerSandbox owns one Docker container's lifecycle: create, start,
// feed stdin, wait, collect logs and cgroup stats, remove.
type ContainerSandbox struct {
	client      *client.Client
	containerID string
	config      *SandboxConfig
	metrics     *ResourceMetrics
}

// SandboxConfig describes the container a ContainerSandbox should launch.
type SandboxConfig struct {
	Image          string
	WorkingDir     string
	Environment    []string
	ResourceLimits ResourceLimits
	TimeoutSeconds int64
	ReadOnly       bool
	NoNetwork      bool
}

// ResourceLimits mirrors spec.md §4.4's resource caps, expressed the way the
// Docker HostConfig wants them instead of rlimit syscalls.
type ResourceLimits struct {
	CPUQuota   int64  // CPU quota in microseconds (100000 = 1 CPU)
	CPUPeriod  int64  // CPU period in microseconds
	Memory     int64  // Memory limit in bytes
	MemorySwap int64  // Memory + swap limit in bytes
	PidsLimit  *int64 // Maximum number of processes
	DiskQuota  int64  // tmpfs working-dir size in bytes
}

// ResourceMetrics is what the container reported about itself after running,
// carried on ExecutionResult.Metrics for callers of ContainerSandbox who want
// more than pass/fail; ContainerBackend does not copy it into
// RawExecutionResult.
type ResourceMetrics struct {
	CPUUsagePercent  float64
	MemoryUsageBytes int64
	NetworkRxBytes   int64
	NetworkTxBytes   int64
	ProcessCount     int
	StartTime        time.Time
	EndTime          *time.Time
}

// ExecutionResult is the raw outcome of one container run, before it's
// translated into a models.RawExecutionResult by ContainerBackend.
type ExecutionResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Metrics  *ResourceMetrics
}

// NewContainerSandbox connects to the local Docker daemon using the
// environment's DOCKER_HOST conventions.
func NewContainerSandbox(cfg *SandboxConfig) (*ContainerSandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return &ContainerSandbox{
		client:  cli,
		config:  cfg,
		metrics: &ResourceMetrics{},
	}, nil
}

// Execute runs command inside a fresh container, optionally feeding stdin,
// and returns its stdout/stderr/exit code plus collected resource metrics.
func (cs *ContainerSandbox) Execute(ctx context.Context, command []string, stdin string) (*ExecutionResult, error) {
	containerConfig := cs.buildContainerConfig(command)
	hostConfig := cs.buildHostConfig()
	networkConfig := cs.buildNetworkConfig()

	resp, err := cs.client.ContainerCreate(ctx, containerConfig, hostConfig, networkConfig, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	cs.containerID = resp.ID
	defer cs.cleanup(context.Background())

	if err := cs.client.ContainerStart(ctx, cs.containerID, types.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	cs.metrics.StartTime = time.Now()

	if stdin != "" {
		if err := cs.writeStdin(ctx, stdin); err != nil {
			return nil, fmt.Errorf("failed to write stdin: %w", err)
		}
	}

	result, err := cs.waitForCompletion(ctx)
	if err != nil {
		return nil, err
	}

	if err := cs.collectMetrics(ctx); err != nil {
		logger.WithComponent("sandbox").Debug("container metrics unavailable", zap.Error(err))
	} else {
		result.Metrics = cs.metrics
	}

	return result, nil
}

func (cs *ContainerSandbox) buildContainerConfig(command []string) *container.Config {
	cfg := &container.Config{
		Image:        cs.config.Image,
		Cmd:          command,
		Env:          cs.config.Environment,
		WorkingDir:   cs.config.WorkingDir,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		OpenStdin:    true,
		StdinOnce:    true,
		Tty:          false,
	}

	if cs.config.NoNetwork {
		cfg.NetworkDisabled = true
	}

	return cfg
}

func (cs *ContainerSandbox) buildHostConfig() *container.HostConfig {
	hostConfig := &container.HostConfig{
		ReadonlyRootfs: cs.config.ReadOnly,
		Resources: container.Resources{
			CPUQuota:   cs.config.ResourceLimits.CPUQuota,
			CPUPeriod:  cs.config.ResourceLimits.CPUPeriod,
			Memory:     cs.config.ResourceLimits.Memory,
			MemorySwap: cs.config.ResourceLimits.MemorySwap,
			PidsLimit:  cs.config.ResourceLimits.PidsLimit,
		},
		SecurityOpt: []string{"no-new-privileges:true"},
		CapDrop:     []string{"ALL"},
	}

	if cs.config.WorkingDir != "" {
		hostConfig.Mounts = []mount.Mount{
			{
				Type:   mount.TypeTmpfs,
				Target: cs.config.WorkingDir,
				TmpfsOptions: &mount.TmpfsOptions{
					SizeBytes: cs.config.ResourceLimits.DiskQuota,
					Mode:      0o755,
				},
			},
		}
	}

	if cs.config.NoNetwork {
		hostConfig.NetworkMode = "none"
	}

	return hostConfig
}

func (cs *ContainerSandbox) buildNetworkConfig() *network.NetworkingConfig {
	if cs.config.NoNetwork {
		return &network.NetworkingConfig{}
	}
	return &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{"bridge": {}},
	}
}

func (cs *ContainerSandbox) writeStdin(ctx context.Context, stdin string) error {
	hijacked, err := cs.client.ContainerAttach(ctx, cs.containerID, types.ContainerAttachOptions{
		Stream: true,
		Stdin:  true,
	})
	if err != nil {
		return err
	}
	defer hijacked.Close()

	if _, err := hijacked.Conn.Write([]byte(stdin)); err != nil {
		return err
	}
	return hijacked.CloseWrite()
}

func (cs *ContainerSandbox) waitForCompletion(ctx context.Context) (*ExecutionResult, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(cs.config.TimeoutSeconds)*time.Second)
	defer cancel()

	statusCh, errCh := cs.client.ContainerWait(timeoutCtx, cs.containerID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("container wait error: %w", err)
		}
		return nil, fmt.Errorf("container wait closed unexpectedly")
	case status := <-statusCh:
		now := time.Now()
		cs.metrics.EndTime = &now

		stdout, stderr, err := cs.getLogs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get logs: %w", err)
		}

		return &ExecutionResult{
			ExitCode: int(status.StatusCode),
			Stdout:   stdout,
			Stderr:   stderr,
			Duration: now.Sub(cs.metrics.StartTime),
		}, nil
	case <-timeoutCtx.Done():
		cs.kill(context.Background())
		return nil, errContainerTimeout
	}
}

var errContainerTimeout = fmt.Errorf("container execution timed out")

func (cs *ContainerSandbox) getLogs(ctx context.Context) (string, string, error) {
	logs, err := cs.client.ContainerLogs(ctx, cs.containerID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", err
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", "", err
	}
	return stdout.String(), stderr.String(), nil
}

func (cs *ContainerSandbox) collectMetrics(ctx context.Context) error {
	stats, err := cs.client.ContainerStats(ctx, cs.containerID, false)
	if err != nil {
		return err
	}
	defer stats.Body.Close()

	var containerStats types.StatsJSON
	if err := json.NewDecoder(stats.Body).Decode(&containerStats); err != nil {
		return err
	}

	cs.metrics.CPUUsagePercent = calculateCPUPercent(&containerStats)
	cs.metrics.MemoryUsageBytes = int64(containerStats.MemoryStats.Usage)
	cs.metrics.NetworkRxBytes = calculateNetworkRx(&containerStats)
	cs.metrics.NetworkTxBytes = calculateNetworkTx(&containerStats)
	cs.metrics.ProcessCount = int(containerStats.PidsStats.Current)

	return nil
}

func (cs *ContainerSandbox) kill(ctx context.Context) error {
	return cs.client.ContainerKill(ctx, cs.containerID, "SIGKILL")
}

func (cs *ContainerSandbox) cleanup(ctx context.Context) error {
	return cs.client.ContainerRemove(ctx, cs.containerID, types.ContainerRemoveOptions{Force: true})
}

func calculateCPUPercent(stats *types.StatsJSON) float64 {
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage - stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemUsage - stats.PreCPUStats.SystemUsage)
	if systemDelta > 0.0 && cpuDelta > 0.0 {
		return (cpuDelta / systemDelta) * float64(len(stats.CPUStats.CPUUsage.PercpuUsage)) * 100.0
	}
	return 0.0
}

func calculateNetworkRx(stats *types.StatsJSON) int64 {
	var rx int64
	for _, n := range stats.Networks {
		rx += int64(n.RxBytes)
	}
	return rx
}

func calculateNetworkTx(stats *types.StatsJSON) int64 {
	var tx int64
	for _, n := range stats.Networks {
		tx += int64(n.TxBytes)
	}
	return tx
}

func defaultSandboxConfig(sec config.SecurityConfig, noNetwork bool) *SandboxConfig {
	pids := int64(sec.MaxProcesses)
	return &SandboxConfig{
		Image:      "golang:1.24-alpine",
		WorkingDir: "/workspace",
		Environment: []string{
			"HOME=/tmp",
			"PATH=/usr/local/go/bin:/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
			"GOCACHE=/tmp/gocache",
		},
		ResourceLimits: ResourceLimits{
			CPUQuota:   50000,
			CPUPeriod:  100000,
			Memory:     int64(sec.MemoryLimitMB) * 1024 * 1024,
			MemorySwap: int64(sec.MemoryLimitMB) * 1024 * 1024,
			PidsLimit:  &pids,
			DiskQuota:  int64(sec.MaxFileSizeMB) * 10 * 1024 * 1024,
		},
		TimeoutSeconds: int64(sec.ExecutionTimeout),
		ReadOnly:       false, // `go build` needs a writable GOCACHE under the tmpfs working dir
		NoNetwork:      noNetwork,
	}
}

// ContainerBackend adapts ContainerSandbox to the sandbox.Backend interface
// so it's interchangeable with ProcessBackend: it wraps the same generated
// Run(params) harness process.go builds, feeds it to the container over
// stdin, and parses the same __AIFORGE_RESULT__ line out of the container's
// stdout.
type ContainerBackend struct {
	security config.SecurityConfig
}

// NewContainerBackend builds a ContainerBackend; it lazily dials the Docker
// daemon on the first Execute call so construction never fails when no
// daemon is reachable (selecting this backend without Docker just makes
// every Execute call fail with a clear error instead of panicking at boot).
func NewContainerBackend(security config.SecurityConfig) *ContainerBackend {
	return &ContainerBackend{security: security}
}

func (b *ContainerBackend) Execute(ctx context.Context, req Request) (models.RawExecutionResult, error) {
	log := logger.WithComponent("sandbox")

	violations, err := Scan(req.Code, req.NetworkPolicy)
	if err != nil {
		return models.RawExecutionResult{Success: false, Error: err.Error(), FailureTag: models.FailureParseError}, nil
	}
	if len(violations) > 0 {
		detail := make([]string, len(violations))
		for i, v := range violations {
			detail[i] = v.Kind + ": " + v.Detail
		}
		log.Warn("refusing unsafe generated code", zap.Strings("violations", detail))
		return models.RawExecutionResult{
			Success: false, Error: "blocked unsafe code: " + strings.Join(detail, "; "),
			FailureTag: models.FailureSecurityBlocked,
		}, nil
	}

	blockNetwork := req.NetworkPolicy != NetworkOff
	harness, err := buildHarness(req.Code, blockNetwork)
	if err != nil {
		return models.RawExecutionResult{Success: false, Error: err.Error(), FailureTag: models.FailureSyntaxError}, nil
	}

	paramsJSON, err := json.Marshal(req.Params)
	if err != nil {
		return models.RawExecutionResult{}, fmt.Errorf("sandbox: marshal params: %w", err)
	}

	cfg := defaultSandboxConfig(b.security, blockNetwork)
	cfg.Environment = append(cfg.Environment, "AIFORGE_PARAMS_JSON="+string(paramsJSON))

	sandbox, err := NewContainerSandbox(cfg)
	if err != nil {
		return models.RawExecutionResult{}, fmt.Errorf("sandbox: container backend unavailable: %w", err)
	}

	// The harness is piped in over stdin and written to main.go inside the
	// container; `go mod init` gives it a throwaway module so `go run`
	// resolves the stdlib imports the harness declared.
	command := []string{"sh", "-c", "cat > main.go && go mod init sandboxrun >/dev/null 2>&1 && go run main.go"}

	result, err := sandbox.Execute(ctx, command, harness)
	if err != nil {
		if err == errContainerTimeout {
			return models.RawExecutionResult{
				Success: false,
				Error:   fmt.Sprintf("code execution timed out after %ds", b.security.ExecutionTimeout),
				FailureTag: models.FailureTimeout,
			}, nil
		}
		return models.RawExecutionResult{}, err
	}

	if parsed, ok := extractResult(result.Stdout); ok {
		log.Debug("container execution completed", zap.Bool("success", parsed.Success), zap.Duration("duration", result.Duration))
		return parsed, nil
	}

	return models.RawExecutionResult{
		Success: false,
		Error:   "no result payload produced: " + result.Stderr,
		FailureTag: models.FailureParseError,
	}, nil
}

