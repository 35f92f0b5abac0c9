// Package observability aggregates routing counters and process metrics for
// the status endpoint. Counters are atomic; nothing here sits on a hot path.
package observability

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/process"

	"chatd/domain/event"
)

// Snapshot is the status payload served over REST.
type Snapshot struct {
	GroupMessages   uint64  `json:"group_messages"`
	PrivateMessages uint64  `json:"private_messages"`
	Joins           uint64  `json:"joins"`
	Leaves          uint64  `json:"leaves"`
	UptimeSeconds   int64   `json:"uptime_seconds"`
	RAMBytes        uint64  `json:"ram_bytes"`
	CPUPercent      float64 `json:"cpu_percent"`
}

// Stats counts routed traffic by consuming the event fanout and samples
// process-level metrics on demand.
type Stats struct {
	log       *slog.Logger
	startedAt time.Time
	proc      *process.Process

	groupMessages   atomic.Uint64
	privateMessages atomic.Uint64
	joins           atomic.Uint64
	leaves          atomic.Uint64
}

func NewStats(log *slog.Logger) *Stats {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("Process metrics unavailable", "error", err)
	}
	return &Stats{log: log, startedAt: time.Now().UTC(), proc: p}
}

// Consume implements the event sink contract.
func (s *Stats) Consume(_ context.Context, e event.DomainEvent) error {
	switch evt := e.(type) {
	case event.MessageStored:
		if evt.Message.Group {
			s.groupMessages.Add(1)
		} else {
			s.privateMessages.Add(1)
		}
	case event.PresenceChanged:
		if evt.Status == event.StatusJoined {
			s.joins.Add(1)
		} else {
			s.leaves.Add(1)
		}
	}
	return nil
}

// Snapshot samples the counters plus current RSS and CPU usage.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		GroupMessages:   s.groupMessages.Load(),
		PrivateMessages: s.privateMessages.Load(),
		Joins:           s.joins.Load(),
		Leaves:          s.leaves.Load(),
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
	}
	if s.proc == nil {
		return snap
	}
	if memInfo, err := s.proc.MemoryInfo(); err == nil {
		snap.RAMBytes = memInfo.RSS
	}
	if cpu, err := s.proc.CPUPercent(); err == nil {
		snap.CPUPercent = cpu
	}
	return snap
}
