package mux

import (
	"time"
)

func (m *Mux) watchdog() {
	defer close(m.watchDone)

	ticker := m.opts.Clock.NewTicker(m.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopWatch:
			return
		case now := <-ticker.C:
			m.inspect(now)
		}
	}
}

// inspect warns about tasks older than WarnAge and cancels the ones older
// than MaxAge. A cancelled task is counted as failed once its store call
// returns.
func (m *Mux) inspect(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, it := range m.ages.OlderThan(now.Add(-m.opts.WarnAge).UnixNano()) {
		rt := m.running[it.Key]
		if rt == nil || rt.killed {
			continue
		}

		age := now.Sub(time.Unix(0, it.Since))
		if age >= m.opts.MaxAge {
			rt.killed = true
			rt.cancel()
			log.Errorf("cancelling %s, running for %s", it.Key, age.Round(time.Second))
			continue
		}
		if rt.warnings < m.opts.MaxWarnings {
			rt.warnings++
			log.Warningf("%s is running for %s (warning %d/%d)", it.Key, age.Round(time.Second), rt.warnings, m.opts.MaxWarnings)
		}
	}
}
