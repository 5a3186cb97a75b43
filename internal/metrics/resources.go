package metrics

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// ResourceSample holds one CPU/memory observation for a managed child.
type ResourceSample struct {
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// ResourceSampler periodically samples CPU and memory usage of the managed
// children and exports them as per-slot gauges. Slot names are unique, so
// no instance labeling is needed.
type ResourceSampler struct {
	interval time.Duration

	mu     sync.RWMutex
	latest map[string]ResourceSample

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

// NewResourceSampler returns a sampler ticking at interval (default 5s).
func NewResourceSampler(interval time.Duration) *ResourceSampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ResourceSampler{
		interval: interval,
		latest:   make(map[string]ResourceSample),
		cpuPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "supervisor", Subsystem: "child", Name: "cpu_percent",
			Help: "CPU usage percentage per managed child.",
		}, []string{"name"}),
		memoryMB: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "supervisor", Subsystem: "child", Name: "memory_mb",
			Help: "Resident memory in MB per managed child.",
		}, []string{"name"}),
		numThreads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "supervisor", Subsystem: "child", Name: "num_threads",
			Help: "Thread count per managed child.",
		}, []string{"name"}),
		numFDs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "supervisor", Subsystem: "child", Name: "num_fds",
			Help: "Open file descriptors per managed child (Unix only).",
		}, []string{"name"}),
	}
}

// Register registers the sampler's gauges.
func (s *ResourceSampler) Register(r prometheus.Registerer) error {
	cs := []prometheus.Collector{s.cpuPercent, s.memoryMB, s.numThreads}
	if runtime.GOOS != "windows" {
		cs = append(cs, s.numFDs)
	}
	for _, c := range cs {
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

// Start launches the sampling loop. pids returns the current slot-name to
// PID mapping; entries with pid <= 0 are skipped.
func (s *ResourceSampler) Start(ctx context.Context, pids func() map[string]int) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sampleOnce(pids())
			}
		}
	}()
}

func (s *ResourceSampler) sampleOnce(pids map[string]int) {
	now := time.Now()
	fresh := make(map[string]ResourceSample, len(pids))
	for name, pid := range pids {
		if pid <= 0 {
			continue
		}
		sample, err := samplePID(pid, now)
		if err != nil {
			slog.Debug("resource sample failed", "name", name, "pid", pid, "error", err)
			continue
		}
		fresh[name] = sample
		s.cpuPercent.WithLabelValues(name).Set(sample.CPUPercent)
		s.memoryMB.WithLabelValues(name).Set(sample.MemoryMB)
		s.numThreads.WithLabelValues(name).Set(float64(sample.NumThreads))
		if runtime.GOOS != "windows" && sample.NumFDs > 0 {
			s.numFDs.WithLabelValues(name).Set(float64(sample.NumFDs))
		}
	}

	s.mu.Lock()
	for name := range s.latest {
		if _, still := fresh[name]; !still {
			s.cpuPercent.DeleteLabelValues(name)
			s.memoryMB.DeleteLabelValues(name)
			s.numThreads.DeleteLabelValues(name)
			s.numFDs.DeleteLabelValues(name)
		}
	}
	s.latest = fresh
	s.mu.Unlock()
}

// Latest returns the most recent sample for one slot.
func (s *ResourceSampler) Latest(name string) (ResourceSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sample, ok := s.latest[name]
	return sample, ok
}

// All returns the most recent sample per slot.
func (s *ResourceSampler) All() map[string]ResourceSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ResourceSample, len(s.latest))
	for k, v := range s.latest {
		out[k] = v
	}
	return out
}

func samplePID(pid int, now time.Time) (ResourceSample, error) {
	proc, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return ResourceSample{}, err
	}
	sample := ResourceSample{PID: pid, Timestamp: now}
	// CPU percent needs a prior observation for accuracy; first tick reads 0.
	if cpu, err := proc.CPUPercent(); err == nil {
		sample.CPUPercent = cpu
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return ResourceSample{}, err
	}
	sample.MemoryRSS = mem.RSS
	sample.MemoryMB = float64(mem.RSS) / 1024 / 1024
	if threads, err := proc.NumThreads(); err == nil {
		sample.NumThreads = threads
	}
	if runtime.GOOS != "windows" {
		if fds, err := proc.NumFDs(); err == nil {
			sample.NumFDs = fds
		}
	}
	return sample, nil
}
