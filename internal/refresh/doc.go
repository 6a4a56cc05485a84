// Package refresh reloads collections on a schedule.
//
// This package is internal to statehub. A [Scheduler] runs a worker pool
// that calls each [Target] at its own interval, using a tick-and-check loop
// that ticks at the greatest common divisor of all intervals. Every run is
// reported on [Scheduler.Results].
//
// Users of the statehub library should not need to interact with this
// package directly. Refresh intervals are configured through
// statehub.WithRefreshInterval and statehub.CollectionSpec.
package refresh
