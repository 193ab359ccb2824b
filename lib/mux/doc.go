/*
Package mux runs notices against a store.IStore on a fixed pool of workers.

Notices are deduplicated by name while a copy is queued or running, so
submitting the same notice twice applies it once. Every notice counts as
pending for each identity it names, which is what Eta reports on.

# Failure handling

A task that fails is put back on the queue after an exponential backoff
(Options.BackoffBase doubling up to Options.BackoffMax). Permanent errors
(see store.Permanent) and tasks that failed Options.MaxAttempts times are
handed to Options.DeadLetter and their pending counters are released. A
panic inside the store is recovered and counted as a failure.

# Watchdog

A watchdog goroutine checks the running tasks every Options.CheckInterval.
Tasks older than WarnAge are logged (at most MaxWarnings times each), tasks
older than MaxAge have their context cancelled and are counted as failed.

# Shutdown

Close stops intake and lets the workers drain the queue for up to
GracefulTimeout. If that is not enough the context of all running tasks is
cancelled and Close waits up to ForceTimeout more. Retries still waiting
on their backoff are dead-lettered.

Usage:

	m := mux.New(st, mux.DefaultOptions())
	defer m.Close()

	if err := m.Add(&notice.MessagePosted{Message: msg}); err != nil {
		// invalid notice or closed mux
	}
	wait := m.Eta("urn:user:alice")
*/
package mux
