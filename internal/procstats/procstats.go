// Package procstats samples CPU and memory usage of the running server.
package procstats

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Stats is one sample of the server process.
type Stats struct {
	PID           int32   `json:"pid"`
	CPUPercent    float64 `json:"cpuPercent"`
	RSSBytes      uint64  `json:"rssBytes"`
	Threads       int32   `json:"threads"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// Sampler reads process stats through gopsutil.
type Sampler struct {
	proc    *process.Process
	started time.Time
}

// New returns a sampler for the current process.
func New() (*Sampler, error) {
	return NewForPID(int32(os.Getpid()))
}

// NewForPID returns a sampler for an arbitrary process.
func NewForPID(pid int32) (*Sampler, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("procstats: %w", err)
	}
	started := time.Now()
	if ms, err := proc.CreateTime(); err == nil && ms > 0 {
		started = time.UnixMilli(ms)
	}
	return &Sampler{proc: proc, started: started}, nil
}

// Sample reads the current CPU share (averaged over the process lifetime),
// resident memory and thread count.
func (s *Sampler) Sample(ctx context.Context) (Stats, error) {
	cpu, err := s.proc.CPUPercentWithContext(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("procstats: cpu: %w", err)
	}
	mem, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("procstats: memory: %w", err)
	}
	threads, err := s.proc.NumThreadsWithContext(ctx)
	if err != nil {
		threads = 0
	}
	return Stats{
		PID:           s.proc.Pid,
		CPUPercent:    cpu,
		RSSBytes:      mem.RSS,
		Threads:       threads,
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: time.Since(s.started).Seconds(),
	}, nil
}
