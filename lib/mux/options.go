package mux

import (
	"runtime"
	"time"

	"github.com/ValentinKolb/infinity/lib/clock"
	"github.com/ValentinKolb/infinity/lib/notice"
)

// DeadLetter receives notices the mux gave up on. *journal.Journal
// implements it.
type DeadLetter interface {
	Append(n notice.Notice) (uint64, error)
}

// Options configures a Mux. Zero fields are replaced by the defaults of
// DefaultOptions.
type Options struct {
	Workers     int           // size of the worker pool
	MaxAttempts int           // attempts before a notice is dead-lettered
	BackoffBase time.Duration // delay before the first retry
	BackoffMax  time.Duration // cap for the retry delay

	GracefulTimeout time.Duration // drain budget of Close
	ForceTimeout    time.Duration // budget after running tasks were cancelled

	CheckInterval time.Duration // watchdog poll interval
	WarnAge       time.Duration // tasks older than this are logged
	MaxAge        time.Duration // tasks older than this are cancelled
	MaxWarnings   int           // warnings logged per task

	WindowSize int // samples kept for the mean task duration

	DeadLetter DeadLetter  // optional
	Clock      clock.Clock // optional, defaults to clock.Real()
}

// DefaultOptions returns the options used for zero fields.
func DefaultOptions() Options {
	return Options{
		Workers:         2 * runtime.NumCPU(),
		MaxAttempts:     5,
		BackoffBase:     50 * time.Millisecond,
		BackoffMax:      5 * time.Second,
		GracefulTimeout: 5 * time.Second,
		ForceTimeout:    5 * time.Second,
		CheckInterval:   20 * time.Second,
		WarnAge:         2 * time.Minute,
		MaxAge:          8 * time.Minute,
		MaxWarnings:     10,
		WindowSize:      100,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = d.BackoffBase
	}
	if o.BackoffMax < o.BackoffBase {
		o.BackoffMax = max(d.BackoffMax, o.BackoffBase)
	}
	if o.GracefulTimeout <= 0 {
		o.GracefulTimeout = d.GracefulTimeout
	}
	if o.ForceTimeout <= 0 {
		o.ForceTimeout = d.ForceTimeout
	}
	if o.CheckInterval <= 0 {
		o.CheckInterval = d.CheckInterval
	}
	if o.WarnAge <= 0 {
		o.WarnAge = d.WarnAge
	}
	if o.MaxAge <= 0 {
		o.MaxAge = d.MaxAge
	}
	if o.MaxWarnings <= 0 {
		o.MaxWarnings = d.MaxWarnings
	}
	if o.WindowSize <= 0 {
		o.WindowSize = d.WindowSize
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	return o
}

// backoff returns the delay before attempt (1 based) is retried.
func (o Options) backoff(attempt int) time.Duration {
	d := o.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= o.BackoffMax {
			return o.BackoffMax
		}
	}
	return min(d, o.BackoffMax)
}
