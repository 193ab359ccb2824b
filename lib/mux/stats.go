package mux

import (
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

var (
	tasksOK      = metrics.GetOrCreateCounter(`infinity_mux_tasks_total{result="ok"}`)
	tasksFailed  = metrics.GetOrCreateCounter(`infinity_mux_tasks_total{result="failed"}`)
	tasksRetried = metrics.GetOrCreateCounter(`infinity_mux_tasks_total{result="retried"}`)
	tasksDead    = metrics.GetOrCreateCounter(`infinity_mux_tasks_total{result="dead"}`)
	taskSeconds  = metrics.GetOrCreateHistogram(`infinity_mux_task_seconds`)
)

// Stats is a point in time snapshot of a Mux.
type Stats struct {
	Pending map[string]int64 // not yet applied notices per identity
	Queued  int              // tasks waiting for a worker
	Running int              // tasks being applied

	Executed     uint64
	Failed       uint64 // failed attempts, including the retried ones
	Retried      uint64
	DeadLettered uint64
	Duplicates   uint64

	Mean  time.Duration // mean task duration over the rolling window
	Rate1 float64       // applied notices per second, 1 minute average
	Rate5 float64       // applied notices per second, 5 minute average
}

// Stats returns a snapshot of the counters.
func (m *Mux) Stats() Stats {
	pending := make(map[string]int64, m.pending.Size())
	m.pending.Range(func(id string, n int64) bool {
		pending[id] = n
		return true
	})

	snap := m.meter.Snapshot()
	return Stats{
		Pending:      pending,
		Queued:       m.queue.Len(),
		Running:      m.runningCount(),
		Executed:     m.executed.Load(),
		Failed:       m.failed.Load(),
		Retried:      m.retried.Load(),
		DeadLettered: m.dead.Load(),
		Duplicates:   m.duplicates.Load(),
		Mean:         m.window.Mean(),
		Rate1:        snap.Rate1(),
		Rate5:        snap.Rate5(),
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("queued=%d running=%d executed=%d failed=%d retried=%d dead=%d dup=%d mean=%s rate1=%.2f/s",
		s.Queued, s.Running, s.Executed, s.Failed, s.Retried, s.DeadLettered, s.Duplicates, s.Mean, s.Rate1)
}
