/*
Package volume elects a single writer for a shared data directory.

Two plain text marker files in the directory carry the protocol:

	master.txt  the holder of the lease
	yield.txt   a node waiting for the lease

Both hold key=value lines:

	owner=5f0c6b1e-8f0a-4f43-9c39-4e1d1c3e4b7a
	addr=node-a/4711
	token=3
	expires=2026-10-14T09:30:15Z
	written=2026-10-14T09:30:00Z

Obtain announces itself in yield.txt, waits while a live lease of another
node exists and then writes master.txt with the previous token plus one.
The holder renews master.txt every Heartbeat (TTL/3 by default). When the
file shows another owner or a higher token the lease is lost: Lost is
closed and IsWritable reports false. Writers stamp Token on what they
persist so stale writes can be fenced off.

A yield.txt of another node makes the holder read only and closes Yield,
the holder is expected to finish its work and Close, which removes
master.txt.

All marker writes go through a temp file, fsync and rename.
*/
package volume
