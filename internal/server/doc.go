// Package server provides the mirror server: an HTTP view of the collections
// a statehub.Hub manages.
//
// This package is internal to statehub and handles all HTTP concerns:
//
//   - REST API: collection snapshots, load status, optimistic add/remove,
//     single-entity lookup and guarded refresh under "/api/collections"
//   - Server-Sent Events: snapshot, status and notification events at "/api/sse"
//   - WebSocket: the same events at "/api/ws"
//   - Metrics: Prometheus exposition at "/metrics"
//
// Every streaming client holds subscriptions on the hub's stores and
// notification channel, released when the client disconnects or the server
// shuts down. The server supports graceful shutdown via context cancellation,
// with a 5-second timeout for in-flight requests.
//
// Users of the statehub library should not need to interact with this
// package directly. The server is started by statehub.Hub.Start.
package server
