// Package remote provides the HTTP transport used by statehub collections.
//
// This package is internal to statehub. It wraps net/http with pooled
// connections, per-request timeouts, JSON request bodies and a response size
// limit, and reports non-2xx answers as [*StatusError] so callers can map
// them onto domain error kinds.
//
// The main components are:
//
//   - [Client]: HTTP client wrapper with timeout and size limits
//   - [Response]: Result of a single request
//   - [StatusError]: A request that completed with a non-2xx status
//
// Users of the statehub library should not need to interact with this
// package directly. Collections are configured through statehub.NewHTTPRemote.
package remote
