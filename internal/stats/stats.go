// Package stats recomputes aggregate counts on demand. Nothing here is
// tracked incrementally; O(n) per call keeps the numbers drift-free.
package stats

import (
	"os"
	"sync"

	"github.com/shirou/gopsutil/v3/process"

	"fleettrace/hub/internal/registry"
	"fleettrace/hub/internal/roles"
)

// Collector derives observability aggregates from the session registry.
type Collector struct {
	registry *registry.Registry

	procOnce sync.Once
	proc     *process.Process
}

// NewCollector binds the collector to the registry it reads from.
func NewCollector(reg *registry.Registry) *Collector {
	return &Collector{registry: reg}
}

// TotalActive reports the number of live sessions.
func (c *Collector) TotalActive() int {
	if c == nil || c.registry == nil {
		return 0
	}
	return c.registry.Len()
}

// CountsByRole tallies live sessions per role.
func (c *Collector) CountsByRole() map[roles.Role]int {
	if c == nil || c.registry == nil {
		return map[roles.Role]int{}
	}
	return c.registry.CountByRole()
}

// TotalSubscriptions counts every (session, topic) membership pair.
func (c *Collector) TotalSubscriptions() int {
	if c == nil || c.registry == nil {
		return 0
	}
	return c.registry.TotalSubscriptions()
}

// AverageSubscriptionsPerSession is zero when no sessions are connected.
func (c *Collector) AverageSubscriptionsPerSession() float64 {
	active := c.TotalActive()
	if active == 0 {
		return 0
	}
	return float64(c.TotalSubscriptions()) / float64(active)
}

// ProcessGauges captures resource usage of this process for health output.
type ProcessGauges struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
}

// Process samples CPU and resident memory via gopsutil. Failures yield
// zero gauges rather than errors; health output degrades gracefully.
func (c *Collector) Process() ProcessGauges {
	if c == nil {
		return ProcessGauges{}
	}
	c.procOnce.Do(func() {
		if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
			c.proc = proc
		}
	})
	if c.proc == nil {
		return ProcessGauges{}
	}
	var gauges ProcessGauges
	if cpuPercent, err := c.proc.CPUPercent(); err == nil {
		gauges.CPUPercent = cpuPercent
	}
	if info, err := c.proc.MemoryInfo(); err == nil && info != nil {
		gauges.RSSBytes = info.RSS
	}
	return gauges
}
