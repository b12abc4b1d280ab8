// Package api implements the HTTP REST API and WebSocket server for School Docs Core.
//
// This package provides:
//   - Sign-up, login and logout, each bound to an application session
//   - The current session and the single dashboard it is routed to
//   - Admin endpoints for role records and the audit trail
//   - A WebSocket stream of session.changed events
//
// # Sessions
//
// Every login opens a session in the session manager. The access token
// (HS256 JWT) carries the session ID in its sid claim; a token is only
// accepted while that session is open and signed in as the token subject.
// Logout closes the session, so its tokens stop working immediately.
//
// # Security
//
// WebSocket connections use single-use tickets bound to a session, so the
// JWT never appears in a URL. Login and signup are rate limited per client
// IP. Admin endpoints require the admin dashboard, which includes
// allow-listed emails even when their stored record says otherwise.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
