// Package agents holds the concrete agent variants registered into the
// orchestrator. Each agent bundles the periodic checks, fixes and
// suggestions for one infrastructure concern.
package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nidhogg/mister-handy/internal/diag"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"
)

// SystemConfig tunes the host-level thresholds.
type SystemConfig struct {
	CPUWarn    float64       `json:"cpu_warn"`
	CPUCrit    float64       `json:"cpu_crit"`
	MemWarn    float64       `json:"mem_warn"`
	MemCrit    float64       `json:"mem_crit"`
	DiskWarn   float64       `json:"disk_warn"`
	DiskCrit   float64       `json:"disk_crit"`
	DiskPath   string        `json:"disk_path"`
	TempDir    string        `json:"temp_dir"`
	TempMaxAge time.Duration `json:"temp_max_age"`
}

func (c *SystemConfig) defaults() {
	if c.CPUWarn == 0 {
		c.CPUWarn = 85
	}
	if c.CPUCrit == 0 {
		c.CPUCrit = 97
	}
	if c.MemWarn == 0 {
		c.MemWarn = 85
	}
	if c.MemCrit == 0 {
		c.MemCrit = 95
	}
	if c.DiskWarn == 0 {
		c.DiskWarn = 85
	}
	if c.DiskCrit == 0 {
		c.DiskCrit = 95
	}
	if c.DiskPath == "" {
		c.DiskPath = "/"
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	if c.TempMaxAge == 0 {
		c.TempMaxAge = 7 * 24 * time.Hour
	}
}

// System watches host CPU, memory and disk and can clean stale temp files.
type System struct {
	*diag.BaseAgent
	cfg SystemConfig
}

// NewSystem creates the host diagnostics agent.
func NewSystem(cfg SystemConfig, logger *zap.Logger) *System {
	cfg.defaults()
	s := &System{
		BaseAgent: diag.NewBaseAgent("system", "System",
			"host CPU, memory, disk and temp hygiene", logger),
		cfg: cfg,
	}

	s.MustRegister(&diag.Task{
		ID:          "sys-cpu",
		Name:        "CPU usage",
		Type:        diag.TaskStatusCheck,
		Description: "overall CPU utilization against thresholds",
		Interval:    time.Minute,
		Handler:     s.checkCPU,
	})
	s.MustRegister(&diag.Task{
		ID:          "sys-memory",
		Name:        "Memory usage",
		Type:        diag.TaskStatusCheck,
		Description: "virtual memory utilization against thresholds",
		Interval:    time.Minute,
		Handler:     s.checkMemory,
	})
	s.MustRegister(&diag.Task{
		ID:          "sys-disk",
		Name:        "Disk usage",
		Type:        diag.TaskStatusCheck,
		Description: "filesystem utilization for the configured path",
		Interval:    5 * time.Minute,
		Handler:     s.checkDisk,
	})
	s.MustRegister(&diag.Task{
		ID:          "sys-load",
		Name:        "Load average",
		Type:        diag.TaskMonitoring,
		Description: "1-minute load average relative to CPU count",
		Interval:    5 * time.Minute,
		Handler:     s.checkLoad,
	})
	s.MustRegister(&diag.Task{
		ID:          "sys-temp-clean",
		Name:        "Temp file cleanup",
		Type:        diag.TaskErrorFix,
		Description: "remove temp files older than the configured age",
		Handler:     s.fixTempFiles,
	})
	s.MustRegister(&diag.Task{
		ID:          "sys-host-advice",
		Name:        "Host advice",
		Type:        diag.TaskDevelopment,
		Description: "non-urgent host maintenance suggestions",
		Handler:     s.developHost,
	})
	return s
}

// threshold grades a percentage against warn/crit bounds.
func threshold(what string, pct, warn, crit float64) *diag.Result {
	switch {
	case pct >= crit:
		return diag.Fail(diag.StatusCritical, "%s at %.1f%% (critical threshold %.0f%%)", what, pct, crit)
	case pct >= warn:
		return diag.Warn("%s at %.1f%% (warn threshold %.0f%%)", what, pct, warn)
	}
	return diag.Healthy("%s at %.1f%%", what, pct)
}

func (s *System) checkCPU(ctx context.Context) (*diag.Result, error) {
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(pcts) == 0 {
		return nil, fmt.Errorf("read cpu usage: %w", err)
	}
	return threshold("cpu", pcts[0], s.cfg.CPUWarn, s.cfg.CPUCrit).
		WithData("percent", pcts[0]), nil
}

func (s *System) checkMemory(ctx context.Context) (*diag.Result, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("read memory: %w", err)
	}
	return threshold("memory", vm.UsedPercent, s.cfg.MemWarn, s.cfg.MemCrit).
		WithData("used_bytes", vm.Used).
		WithData("total_bytes", vm.Total), nil
}

func (s *System) checkDisk(ctx context.Context) (*diag.Result, error) {
	usage, err := disk.UsageWithContext(ctx, s.cfg.DiskPath)
	if err != nil {
		return nil, fmt.Errorf("read disk usage %s: %w", s.cfg.DiskPath, err)
	}
	return threshold("disk "+s.cfg.DiskPath, usage.UsedPercent, s.cfg.DiskWarn, s.cfg.DiskCrit).
		WithData("free_bytes", usage.Free), nil
}

func (s *System) checkLoad(ctx context.Context) (*diag.Result, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("read load average: %w", err)
	}
	cpus, err := cpu.CountsWithContext(ctx, true)
	if err != nil || cpus == 0 {
		cpus = 1
	}
	res := diag.Healthy("load1 %.2f on %d cpus", avg.Load1, cpus)
	if avg.Load1 > 2*float64(cpus) {
		res = diag.Warn("load1 %.2f exceeds 2x cpu count (%d)", avg.Load1, cpus).
			WithSuggestions("inspect runaway processes; load is sustained above capacity")
	}
	return res.WithData("load1", avg.Load1).WithData("load5", avg.Load5), nil
}

// staleTempFiles lists files under the temp dir older than the cutoff.
func (s *System) staleTempFiles() ([]string, int64, error) {
	cutoff := time.Now().Add(-s.cfg.TempMaxAge)
	var stale []string
	var bytes int64

	entries, err := os.ReadDir(s.cfg.TempDir)
	if err != nil {
		return nil, 0, fmt.Errorf("read temp dir %s: %w", s.cfg.TempDir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, filepath.Join(s.cfg.TempDir, e.Name()))
			bytes += info.Size()
		}
	}
	return stale, bytes, nil
}

func (s *System) fixTempFiles(ctx context.Context) (*diag.Result, error) {
	stale, bytes, err := s.staleTempFiles()
	if err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return diag.Healthy("no temp files older than %s", s.cfg.TempMaxAge), nil
	}

	if !diag.ApplyEnabled(ctx) {
		return diag.Warn("would remove %d temp files (%d bytes)", len(stale), bytes).
			WithData("candidates", stale).
			WithSuggestions(fmt.Sprintf("re-run fix with apply to remove %d files", len(stale))), nil
	}

	outcomes := make(map[string]string, len(stale))
	failed := 0
	for _, path := range stale {
		if err := os.Remove(path); err != nil {
			outcomes[path] = err.Error()
			failed++
		} else {
			outcomes[path] = "removed"
		}
	}
	res := diag.Healthy("removed %d temp files (%d bytes)", len(stale)-failed, bytes)
	if failed > 0 {
		res = diag.Warn("removed %d temp files, %d failed", len(stale)-failed, failed)
	}
	return res.WithData("outcomes", outcomes), nil
}

func (s *System) developHost(ctx context.Context) (*diag.Result, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("read host info: %w", err)
	}
	res := diag.Healthy("host %s up %s", info.Hostname,
		(time.Duration(info.Uptime) * time.Second).Round(time.Hour))

	if info.Uptime > uint64((90 * 24 * time.Hour).Seconds()) {
		res.WithSuggestions("host has been up over 90 days; schedule a reboot to pick up kernel updates")
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm.SwapTotal == 0 && vm.Total < 4<<30 {
		res.WithSuggestions("host has under 4GB RAM and no swap; consider adding a swap file")
	}
	return res.WithData("uptime_seconds", info.Uptime), nil
}
