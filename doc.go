// Package statehub keeps reactive, in-process mirrors of remote JSON
// collections.
//
// Every collection is built from a small set of primitives that can also be
// used on their own:
//
//   - [Store]: holds the latest [Snapshot] and replays it to new listeners
//   - [Channel]: broadcasts transient messages such as notifications, with
//     no replay
//   - [Gateway]: applies optimistic mutations and rolls them back when the
//     backend refuses them
//   - [Cache]: shares one fetch per key among every caller, success or
//     failure
//   - [Loader]: the Idle, Fetching, Succeeded or Failed cycle behind every
//     load
//
// Every Subscribe call returns a [Subscription] that must be released,
// either directly or through [Subscription.CloseOn] or a [Group].
//
// # Quick Start
//
// Wire a collection by hand:
//
//	remote, _ := statehub.NewHTTPRemote[Place]("http://localhost:3000/user-places",
//	    statehub.WithEnvelope("places"),
//	    statehub.WithBodyField("placeId"),
//	)
//	places := statehub.NewCollection[Place]("user-places", remote)
//
//	sub := places.Subscribe(func(s statehub.Snapshot[Place]) {
//	    fmt.Println(s.IDs())
//	})
//	defer sub.Close()
//
//	places.Load(ctx)
//	places.Add(ctx, Place{ID: "p3"}) // visible to sub before the PUT returns
//
// Or let a [Hub] manage schemaless collections and serve them over HTTP:
//
//	hub, err := statehub.New(
//	    statehub.WithCollection(statehub.CollectionSpec{
//	        Name:      "user-places",
//	        URL:       "http://localhost:3000/user-places",
//	        Envelope:  "places",
//	        BodyField: "placeId",
//	    }),
//	    statehub.WithRefreshInterval(30 * time.Second),
//	)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	hub.Start(ctx) // blocks until context is cancelled
//
// # Errors
//
// Failures are reported as [*Error] values carrying a [Kind]. Use
// errors.Is with [ErrNetwork], [ErrNotFound], [ErrMutationFailed] or
// [ErrInvalid] to branch on them.
//
// # Architecture
//
// statehub consists of several internal packages (under internal/):
//
//   - internal/remote: JSON HTTP client used by [HTTPRemote]
//   - internal/refresh: periodic collection reloads with a worker pool
//   - internal/server: REST API, Server-Sent Events and WebSocket mirror
//   - internal/backend: in-memory places and users API for local runs and
//     tests
//
// The internal packages are not part of the public API and may change
// without notice.
package statehub
