// Package health samples local resource usage for display next to each
// device. Nothing in failover reads these values.
package health

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/vinayprograms/podium/logging"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("sampler already started")
	ErrNotStarted     = errors.New("sampler not started")
)

// Level grades one metric or a whole snapshot.
type Level string

const (
	LevelOK       Level = "OK"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Thresholds in percent.
const (
	WarningThreshold  = 80.0
	CriticalThreshold = 90.0
)

// Grade maps a usage percentage to a Level.
func Grade(percent float64) Level {
	switch {
	case percent >= CriticalThreshold:
		return LevelCritical
	case percent >= WarningThreshold:
		return LevelWarning
	default:
		return LevelOK
	}
}

// Snapshot is one sample. It travels inside heartbeats.
type Snapshot struct {
	CPU       float64   `json:"cpu"`
	Memory    float64   `json:"mem"`
	Disk      float64   `json:"disk"`
	NetworkOK bool      `json:"network_ok"`
	SampledAt time.Time `json:"sampled_at,omitempty"`
}

// Status is the worst level across all metrics. A failed network check is
// critical.
func (s Snapshot) Status() Level {
	if !s.NetworkOK {
		return LevelCritical
	}
	worst := LevelOK
	for _, l := range []Level{Grade(s.CPU), Grade(s.Memory), Grade(s.Disk)} {
		if l == LevelCritical {
			return LevelCritical
		}
		if l == LevelWarning {
			worst = LevelWarning
		}
	}
	return worst
}

// Summary is the per-metric view clients display as system_health.
func (s Snapshot) Summary() map[string]Level {
	network := LevelOK
	if !s.NetworkOK {
		network = LevelCritical
	}
	return map[string]Level{
		"cpu":     Grade(s.CPU),
		"memory":  Grade(s.Memory),
		"disk":    Grade(s.Disk),
		"network": network,
	}
}

// Probe reads raw metrics. The default probe uses gopsutil.
type Probe interface {
	CPUPercent(ctx context.Context) (float64, error)
	MemoryPercent(ctx context.Context) (float64, error)
	DiskPercent(ctx context.Context, path string) (float64, error)
	Reachable(ctx context.Context, addr string) bool
}

// SystemProbe reads metrics from the host.
type SystemProbe struct{}

func (SystemProbe) CPUPercent(ctx context.Context) (float64, error) {
	// Interval 0 compares against the previous call, so it never blocks.
	v, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return 0, nil
	}
	return v[0], nil
}

func (SystemProbe) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func (SystemProbe) DiskPercent(ctx context.Context, path string) (float64, error) {
	u, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return u.UsedPercent, nil
}

func (SystemProbe) Reachable(ctx context.Context, addr string) bool {
	if addr == "" {
		return true
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Config configures a Sampler.
type Config struct {
	// Interval between samples.
	// Default: 5 seconds
	Interval time.Duration

	// DiskPath is the filesystem to measure.
	// Default: "/"
	DiskPath string

	// NetworkAddr is dialed to check connectivity, normally the broker.
	// Empty skips the check.
	NetworkAddr string

	// Probe overrides the metric source.
	Probe Probe
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Second,
		DiskPath: "/",
	}
}

// Sampler refreshes a Snapshot in the background.
type Sampler struct {
	config Config
	logger *logging.Logger

	mu     sync.RWMutex
	latest Snapshot

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSampler creates a sampler. It reports a healthy zero snapshot until the
// first sample completes.
func NewSampler(cfg Config, logger *logging.Logger) *Sampler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = def.DiskPath
	}
	if cfg.Probe == nil {
		cfg.Probe = SystemProbe{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Sampler{
		config: cfg,
		logger: logger.WithComponent("health"),
		latest: Snapshot{NetworkOK: true},
	}
}

// Start samples once immediately, then every Interval.
func (s *Sampler) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return ErrAlreadyStarted
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(ctx)
	return nil
}

func (s *Sampler) run(ctx context.Context) {
	defer close(s.doneCh)

	s.SampleNow(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.SampleNow(ctx)
		}
	}
}

// Stop ends background sampling.
func (s *Sampler) Stop() error {
	if !s.running.Swap(false) {
		return ErrNotStarted
	}
	close(s.stopCh)
	<-s.doneCh
	return nil
}

// Latest returns the most recent snapshot.
func (s *Sampler) Latest() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// SampleNow takes a sample synchronously and stores it. Metrics that fail
// to read keep their previous value.
func (s *Sampler) SampleNow(ctx context.Context) Snapshot {
	ctx, cancel := context.WithTimeout(ctx, s.config.Interval)
	defer cancel()

	prev := s.Latest()
	next := prev
	p := s.config.Probe

	if v, err := p.CPUPercent(ctx); err == nil {
		next.CPU = v
	} else {
		s.logger.Debug("cpu_sample_failed", map[string]interface{}{"error": err.Error()})
	}
	if v, err := p.MemoryPercent(ctx); err == nil {
		next.Memory = v
	} else {
		s.logger.Debug("memory_sample_failed", map[string]interface{}{"error": err.Error()})
	}
	if v, err := p.DiskPercent(ctx, s.config.DiskPath); err == nil {
		next.Disk = v
	} else {
		s.logger.Debug("disk_sample_failed", map[string]interface{}{"error": err.Error()})
	}
	next.NetworkOK = p.Reachable(ctx, s.config.NetworkAddr)
	next.SampledAt = time.Now().UTC()

	if st := next.Status(); st != LevelOK && st != prev.Status() {
		s.logger.Warn("health_degraded", map[string]interface{}{
			"status":  st,
			"cpu":     next.CPU,
			"memory":  next.Memory,
			"disk":    next.Disk,
			"network": next.NetworkOK,
		})
	}

	s.mu.Lock()
	s.latest = next
	s.mu.Unlock()
	return next
}
