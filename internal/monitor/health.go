package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/tickerwatch/scheduler/internal/model"
	"github.com/tickerwatch/scheduler/internal/notify"
	"github.com/tickerwatch/scheduler/internal/scheduler"
)

const (
	// JobID is the interval job the monitor runs under.
	JobID = "system_health_check"

	// HandlerName is the handler registered for the health check.
	HandlerName = "system_health_check"

	cpuSampleWindow = time.Second
)

// HealthMonitor periodically samples system load and the live job set,
// alerting the dev channel when the host looks unhealthy. It runs as an
// interval job on the scheduler it watches.
type HealthMonitor struct {
	logger     *zap.Logger
	sched      *scheduler.Scheduler
	notifier   notify.Notifier
	devChannel string
	maxCPU     float64
	maxMemory  float64
}

// Options configures a HealthMonitor.
type Options struct {
	DevChannel string
	MaxCPU     float64 // percent
	MaxMemory  float64 // percent
}

// New creates a health monitor.
func New(logger *zap.Logger, sched *scheduler.Scheduler, notifier notify.Notifier, opts Options) *HealthMonitor {
	return &HealthMonitor{
		logger:     logger.Named("monitor"),
		sched:      sched,
		notifier:   notifier,
		devChannel: opts.DevChannel,
		maxCPU:     opts.MaxCPU,
		maxMemory:  opts.MaxMemory,
	}
}

// Register registers the health-check handler and its interval job.
func (m *HealthMonitor) Register(interval time.Duration) error {
	m.sched.RegisterHandler(HandlerName, scheduler.HandlerFunc(
		func(ctx context.Context, _ *model.Job) error {
			return m.Check(ctx)
		}))
	return m.sched.AddIntervalJob(JobID, HandlerName, interval, nil)
}

// Check samples CPU and memory and alerts when a threshold is exceeded.
func (m *HealthMonitor) Check(ctx context.Context) error {
	cpuPercent, err := cpu.PercentWithContext(ctx, cpuSampleWindow, false)
	if err != nil {
		return fmt.Errorf("failed to get CPU usage: %w", err)
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get memory usage: %w", err)
	}

	jobCount := len(m.sched.ListJobs())

	m.logger.Debug("Health sample",
		zap.Float64("cpu_percent", cpuPercent[0]),
		zap.Float64("memory_percent", memInfo.UsedPercent),
		zap.Int("jobs", jobCount))

	if cpuPercent[0] > m.maxCPU {
		m.alert(ctx, fmt.Sprintf("CPU usage at %.1f%% (limit %.1f%%)", cpuPercent[0], m.maxCPU))
	}
	if memInfo.UsedPercent > m.maxMemory {
		m.alert(ctx, fmt.Sprintf("Memory usage at %.1f%% (limit %.1f%%)", memInfo.UsedPercent, m.maxMemory))
	}

	return nil
}

func (m *HealthMonitor) alert(ctx context.Context, message string) {
	if m.notifier == nil {
		return
	}
	err := m.notifier.Notify(ctx, m.devChannel, &model.Alert{
		Severity: model.AlertSeverityWarning,
		Title:    "Scheduler Health",
		Message:  message,
	})
	if err != nil {
		m.logger.Error("Failed to send health alert", zap.Error(err))
	}
}
