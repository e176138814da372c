// Package auth issues and validates the bearer tokens the host presents to
// the relaysync API.
//
// Tokens are HS256 JWTs signed with the shared security.jwt.secret. Each
// token carries a scope: "read" grants state queries and the WebSocket
// feed, "control" additionally allows commands and resyncs.
package auth
