// Package observability keeps the relay counters and samples the process.
package observability

import (
	"log/slog"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/process"
)

// Stats is the JSON snapshot served on the relay debug routes.
type Stats struct {
	Clients          int     `json:"clients"`
	MessagesStored   uint64  `json:"messages_stored"`
	Rejections       uint64  `json:"rejections"`
	MessagesCensored uint64  `json:"messages_censored"`
	SlowClients      uint64  `json:"slow_clients_dropped"`
	AllocMemMb       uint64  `json:"alloc_mem_mb"`
	NumGC            uint32  `json:"num_gc"`
	RSSMb            uint64  `json:"rss_mb"`
	CPUPercent       float64 `json:"cpu_percent"`
	Uptime           string  `json:"uptime"`
}

// Monitor counts relay traffic. A nil Monitor ignores every call.
type Monitor struct {
	log     *slog.Logger
	started time.Time
	proc    *process.Process

	stored   atomic.Uint64
	rejected atomic.Uint64
	censored atomic.Uint64
	slow     atomic.Uint64
}

func NewMonitor(log *slog.Logger) *Monitor {
	m := &Monitor{log: log, started: time.Now()}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("Process sampling disabled", "error", err)
	} else {
		m.proc = p
	}
	return m
}

func (m *Monitor) IncrStored() {
	if m != nil {
		m.stored.Add(1)
	}
}

func (m *Monitor) IncrRejected() {
	if m != nil {
		m.rejected.Add(1)
	}
}

func (m *Monitor) IncrCensored() {
	if m != nil {
		m.censored.Add(1)
	}
}

func (m *Monitor) IncrSlowClient() {
	if m != nil {
		m.slow.Add(1)
	}
}

// Snapshot reads the counters and samples memory and CPU of the process.
func (m *Monitor) Snapshot(clients int) Stats {
	stats := Stats{Clients: clients}
	if m == nil {
		return stats
	}
	stats.MessagesStored = m.stored.Load()
	stats.Rejections = m.rejected.Load()
	stats.MessagesCensored = m.censored.Load()
	stats.SlowClients = m.slow.Load()
	stats.Uptime = time.Since(m.started).Round(time.Second).String()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	stats.AllocMemMb = mem.Alloc / 1024 / 1024
	stats.NumGC = mem.NumGC

	if m.proc != nil {
		if info, err := m.proc.MemoryInfo(); err == nil {
			stats.RSSMb = info.RSS / 1024 / 1024
		} else {
			m.log.Debug("Sampling memory", "error", err)
		}
		if cpu, err := m.proc.CPUPercent(); err == nil {
			stats.CPUPercent = cpu
		} else {
			m.log.Debug("Sampling cpu", "error", err)
		}
	}
	return stats
}
