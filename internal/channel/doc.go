/*
Package channel wraps one isolated execution context behind a structured
message transport and owns the READY handshake.

An Adapter drives the handshake after mount: it sends the mount signal,
waits for a single inbound READY within the configured timeout, and
retries the mount signal a fixed number of times at the configured
interval. Exhausting the retries is reported through the failure
callback; nothing is ever thrown across the isolation boundary.

Until READY is observed, pipeline deliveries to the instance are
buffered, not dropped, and flushed in order once the handshake
completes. The buffer is bounded; once the cap is exceeded the oldest
message is evicted with a warning so a misbehaving widget cannot grow
host memory without bound. Suspending an adapter buffers deliveries the
same way until Resume flushes them.

Every payload crossing the boundary is serialized and re-decoded, so no
host memory is ever shared with a sandbox by reference.
*/
package channel
