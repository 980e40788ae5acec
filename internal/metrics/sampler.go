package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Usage is one resource sample of the server process tree.
type Usage struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sampler periodically measures the process returned by pidFn and keeps the
// latest sample plus the peak values of the current run.
type Sampler struct {
	pidFn    func() int
	interval time.Duration

	mu      sync.RWMutex
	last    Usage
	peakCPU float64
	peakMB  float64
	lastPID int32
	procs   map[int32]*process.Process
}

func NewSampler(pidFn func() int, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sampler{pidFn: pidFn, interval: interval, procs: make(map[int32]*process.Process)}
}

// Run samples until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sampleOnce()
		}
	}
}

// Last returns the most recent sample and the peaks since the pid changed.
func (s *Sampler) Last() (Usage, float64, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.peakCPU, s.peakMB
}

func (s *Sampler) sampleOnce() {
	pid := int32(s.pidFn())
	if pid <= 0 {
		s.mu.Lock()
		s.last = Usage{Timestamp: time.Now()}
		s.procs = make(map[int32]*process.Process)
		s.mu.Unlock()
		SetProcessUsage(0, 0)
		return
	}
	u, err := s.measure(pid)
	if err != nil {
		slog.Debug("Failed to sample server process", "pid", pid, "error", err)
		return
	}
	s.mu.Lock()
	if pid != s.lastPID {
		s.peakCPU, s.peakMB, s.lastPID = 0, 0, pid
	}
	s.last = u
	if u.CPUPercent > s.peakCPU {
		s.peakCPU = u.CPUPercent
	}
	if u.MemoryMB > s.peakMB {
		s.peakMB = u.MemoryMB
	}
	s.mu.Unlock()
	SetProcessUsage(u.CPUPercent, u.MemoryRSS)
}

// measure sums the root process and its descendants. Process handles are
// cached so gopsutil can compute CPU deltas between samples.
func (s *Sampler) measure(pid int32) (Usage, error) {
	root, err := s.handle(pid)
	if err != nil {
		return Usage{}, err
	}
	tree := []*process.Process{root}
	if kids, err := root.Children(); err == nil {
		for _, k := range kids {
			if h, err := s.handle(k.Pid); err == nil {
				tree = append(tree, h)
			}
		}
	}
	u := Usage{PID: pid, Timestamp: time.Now()}
	for _, p := range tree {
		if c, err := p.Percent(0); err == nil {
			u.CPUPercent += c
		}
		if m, err := p.MemoryInfo(); err == nil && m != nil {
			u.MemoryRSS += m.RSS
		}
		if n, err := p.NumThreads(); err == nil {
			u.NumThreads += n
		}
	}
	u.MemoryMB = float64(u.MemoryRSS) / (1024 * 1024)
	return u, nil
}

func (s *Sampler) handle(pid int32) (*process.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.procs[pid]; ok {
		return p, nil
	}
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, err
	}
	s.procs[pid] = p
	return p, nil
}
