/*
Package registry owns widget manifests and live widget instances.

Manifests are immutable once registered: re-registering the same
id@version is rejected, and a new widget version is a new manifest
object. Instances are created on mount, walked through the lifecycle
state machine, and removed from the registry when destroyed.

The registry is the single writer of instance state; routing code reads
it through copy-returning accessors. It is constructor-injected, never a
package-level singleton, so multiple hosts can coexist in one process.
*/
package registry
