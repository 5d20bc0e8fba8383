package sandbox

import (
	"testing"

	"aiforge/internal/config"

	"github.com/docker/docker/api/types"
)

func TestCalculateCPUPercent(t *testing.T) {
	stats := &types.StatsJSON{}
	stats.CPUStats.CPUUsage.TotalUsage = 300
	stats.PreCPUStats.CPUUsage.TotalUsage = 100
	stats.CPUStats.SystemUsage = 1000
	stats.PreCPUStats.SystemUsage = 500
	stats.CPUStats.CPUUsage.PercpuUsage = []uint64{0, 0}

	got := calculateCPUPercent(stats)
	want := (200.0 / 500.0) * 2 * 100.0
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCalculateCPUPercentZeroDelta(t *testing.T) {
	stats := &types.StatsJSON{}
	if got := calculateCPUPercent(stats); got != 0.0 {
		t.Fatalf("expected 0 with no usage delta, got %v", got)
	}
}

func TestCalculateNetworkRxTx(t *testing.T) {
	stats := &types.StatsJSON{}
	stats.Networks = map[string]types.NetworkStats{
		"eth0": {RxBytes: 100, TxBytes: 50},
		"eth1": {RxBytes: 200, TxBytes: 25},
	}

	if got := calculateNetworkRx(stats); got != 300 {
		t.Fatalf("expected summed rx 300, got %d", got)
	}
	if got := calculateNetworkTx(stats); got != 75 {
		t.Fatalf("expected summed tx 75, got %d", got)
	}
}

func TestDefaultSandboxConfigMapsSecurityConfig(t *testing.T) {
	sec := config.SecurityConfig{
		MemoryLimitMB:    256,
		MaxFileSizeMB:    10,
		ExecutionTimeout: 30,
		MaxProcesses:     20,
	}

	cfg := defaultSandboxConfig(sec, true)

	if cfg.ResourceLimits.Memory != 256*1024*1024 {
		t.Fatalf("expected memory limit to scale MemoryLimitMB, got %d", cfg.ResourceLimits.Memory)
	}
	if cfg.TimeoutSeconds != 30 {
		t.Fatalf("expected timeout 30, got %d", cfg.TimeoutSeconds)
	}
	if !cfg.NoNetwork {
		t.Fatalf("expected NoNetwork to follow the noNetwork argument")
	}
	if cfg.ReadOnly {
		t.Fatalf("expected a writable root so go build can populate GOCACHE")
	}
	if cfg.ResourceLimits.PidsLimit == nil || *cfg.ResourceLimits.PidsLimit != 20 {
		t.Fatalf("expected pids limit 20, got %v", cfg.ResourceLimits.PidsLimit)
	}
}
