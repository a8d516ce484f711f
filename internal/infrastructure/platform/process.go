package platform

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats reports resource usage of the running daemon.
type ProcessStats struct {
	PID         int32   `json:"pid"`
	RSSBytes    uint64  `json:"rss_bytes"`
	CPUPercent  float64 `json:"cpu_percent"`
	NumThreads  int32   `json:"num_threads"`
	Goroutines  int     `json:"goroutines"`
	OpenFiles   int     `json:"open_files,omitempty"`
	Unavailable string  `json:"unavailable,omitempty"`
}

// ProcessProbe samples the current process through gopsutil.
type ProcessProbe struct {
	proc *process.Process
	err  error
}

// NewProcessProbe attaches to the current process. Failure is not fatal:
// Sample then reports only what the Go runtime knows.
func NewProcessProbe() *ProcessProbe {
	p, err := process.NewProcess(int32(os.Getpid()))
	return &ProcessProbe{proc: p, err: err}
}

// Sample collects the current numbers.
func (p *ProcessProbe) Sample(ctx context.Context) ProcessStats {
	stats := ProcessStats{
		PID:        int32(os.Getpid()),
		Goroutines: runtime.NumGoroutine(),
	}
	if p.err != nil {
		stats.Unavailable = p.err.Error()
		return stats
	}

	if mem, err := p.proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	if cpu, err := p.proc.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = cpu
	}
	if n, err := p.proc.NumThreadsWithContext(ctx); err == nil {
		stats.NumThreads = n
	}
	// not implemented on every platform
	if files, err := p.proc.OpenFilesWithContext(ctx); err == nil {
		stats.OpenFiles = len(files)
	}
	return stats
}
