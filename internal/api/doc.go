// Package api provides the host-facing HTTP API and WebSocket feed for
// relaysync.
//
// The host reads canonical device state, issues targets and power
// commands, and receives every state change over a WebSocket. All routes
// except /health and the LAN callback mount require an HS256 bearer token
// (see package auth).
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
