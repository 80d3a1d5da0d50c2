// Package ws implements the WebSocket hub for the fleetscore server.
//
// Hub manages a set of connected clients and broadcasts the current fleet
// snapshot to all of them on a configurable interval (stream.interval, default 5s).
//
// New(source, interval) creates a Hub.
// Hub.Run(ctx) starts the broadcast ticker and blocks until ctx is cancelled,
// then closes all active connections.
// Hub.Publish(snap) pushes a freshly rebuilt snapshot without waiting for a tick.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends the current
// snapshot immediately on connect, then streams updates.
//
// Message format sent to clients:
//
//	{
//	  "event": "snapshot",
//	  "data":  { /* same schema as GET /api/v1/fleet */ }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The endpoint is mounted at /ws/stream by the server.
package ws
