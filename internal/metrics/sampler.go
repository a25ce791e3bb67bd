package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Sample is one resource reading of the supervised server.
type Sample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// SamplerConfig holds configuration for resource sampling.
type SamplerConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxHistory int           `mapstructure:"max_history"`
}

// Sampler periodically reads CPU and memory usage of the current server PID.
type Sampler struct {
	enabled  bool
	interval time.Duration
	log      *slog.Logger

	mu      sync.RWMutex
	history []Sample
	start   int
	count   int
	proc    *process.Process

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

func NewSampler(cfg SamplerConfig, log *slog.Logger) *Sampler {
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 100
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rad",
			Subsystem: "server",
			Name:      name,
			Help:      help,
		}, []string{"pid"})
	}
	return &Sampler{
		enabled:    cfg.Enabled,
		interval:   interval,
		log:        log,
		history:    make([]Sample, maxHistory),
		stopCh:     make(chan struct{}),
		cpuPercent: gauge("cpu_percent", "CPU usage percentage of the supervised server."),
		memoryMB:   gauge("memory_mb", "Resident memory in MB of the supervised server."),
		numThreads: gauge("num_threads", "Number of threads of the supervised server."),
		numFDs:     gauge("num_fds", "Number of open file descriptors of the supervised server (Unix only)."),
	}
}

// Enabled reports whether sampling is configured.
func (s *Sampler) Enabled() bool { return s.enabled }

// RegisterMetrics registers the sampler gauges with the provided registerer.
func (s *Sampler) RegisterMetrics(r prometheus.Registerer) error {
	if !s.enabled {
		return nil
	}
	collectors := []prometheus.Collector{s.cpuPercent, s.memoryMB, s.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, s.numFDs)
	}
	for _, c := range collectors {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start samples pid() every interval until ctx is done or Stop is called.
// A pid of 0 means no server is running and clears the gauges.
func (s *Sampler) Start(ctx context.Context, pid func() int) {
	if !s.enabled {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.collect(ctx, int32(pid()))
			}
		}
	}()
}

func (s *Sampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sampler) collect(ctx context.Context, pid int32) {
	if pid <= 0 {
		s.reset()
		return
	}
	sample, err := s.read(ctx, pid, time.Now())
	if err != nil {
		s.log.Debug("resource sample failed", "pid", pid, "error", err)
		s.reset()
		return
	}
	s.record(sample)
}

// read keeps one gopsutil handle per PID so CPUPercent measures the delta
// since the previous sample.
func (s *Sampler) read(ctx context.Context, pid int32, now time.Time) (Sample, error) {
	s.mu.Lock()
	if s.proc == nil || s.proc.Pid != pid {
		p, err := process.NewProcessWithContext(ctx, pid)
		if err != nil {
			s.mu.Unlock()
			return Sample{}, fmt.Errorf("failed to create process handle: %w", err)
		}
		s.proc = p
	}
	proc := s.proc
	s.mu.Unlock()

	cpu, err := proc.PercentWithContext(ctx, 0)
	if err != nil {
		s.log.Debug("failed to get CPU percent", "pid", pid, "error", err)
		cpu = 0
	}
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	threads, err := proc.NumThreadsWithContext(ctx)
	if err != nil {
		threads = 0
	}
	out := Sample{
		PID:        pid,
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		MemoryRSS:  mem.RSS,
		MemoryVMS:  mem.VMS,
		NumThreads: threads,
		Timestamp:  now,
	}
	if runtime.GOOS != "windows" {
		if fds, err := proc.NumFDsWithContext(ctx); err == nil {
			out.NumFDs = fds
		}
	}
	return out, nil
}

func (s *Sampler) record(sample Sample) {
	label := fmt.Sprint(sample.PID)
	s.mu.Lock()
	// A new PID means the server restarted; drop the stale series.
	if s.count > 0 {
		if last := s.latestLocked(); last.PID != sample.PID {
			s.deleteSeries(fmt.Sprint(last.PID))
		}
	}
	n := len(s.history)
	if s.count < n {
		s.history[(s.start+s.count)%n] = sample
		s.count++
	} else {
		s.history[s.start] = sample
		s.start = (s.start + 1) % n
	}
	s.mu.Unlock()

	s.cpuPercent.WithLabelValues(label).Set(sample.CPUPercent)
	s.memoryMB.WithLabelValues(label).Set(sample.MemoryMB)
	s.numThreads.WithLabelValues(label).Set(float64(sample.NumThreads))
	if runtime.GOOS != "windows" {
		s.numFDs.WithLabelValues(label).Set(float64(sample.NumFDs))
	}
}

func (s *Sampler) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proc = nil
	s.cpuPercent.Reset()
	s.memoryMB.Reset()
	s.numThreads.Reset()
	s.numFDs.Reset()
}

func (s *Sampler) deleteSeries(label string) {
	s.cpuPercent.DeleteLabelValues(label)
	s.memoryMB.DeleteLabelValues(label)
	s.numThreads.DeleteLabelValues(label)
	s.numFDs.DeleteLabelValues(label)
}

func (s *Sampler) latestLocked() Sample {
	n := len(s.history)
	return s.history[(s.start+s.count-1)%n]
}

// Latest returns the most recent sample.
func (s *Sampler) Latest() (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.count == 0 {
		return Sample{}, false
	}
	return s.latestLocked(), true
}

// History returns retained samples, oldest first.
func (s *Sampler) History() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sample, s.count)
	n := len(s.history)
	for i := 0; i < s.count; i++ {
		out[i] = s.history[(s.start+i)%n]
	}
	return out
}
