// Package api serves the Hyperion bridge over HTTP and WebSocket.
//
// Two route families share one chi router:
//
//   - Short GET routes at configurable paths (default /hyperion-info,
//     /hyperion-on, /hyperion-off, /hyperion-status, /hyperion-ping) for
//     home-automation systems that can only issue plain GETs.
//   - A JSON API under /api/v1 with explicit connect, disconnect,
//     serverinfo, clear, color and effect operations, status and metrics,
//     and a WebSocket event stream at /api/v1/ws.
//
// Successful exchanges answer 200 {"result": ...}. Client errors map to
// HTTP statuses: not connected 503, transport 502, timeout 504, a reply
// that is not JSON 502 with code decode_failed, bad input 400.
//
// When security.jwt.secret is set, the mutating /api/v1 routes and the
// WebSocket require an HS256 bearer token.
//
// Lifecycle:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
