// Package api is the HTTP surface of the assistant server. It exposes
// the streaming chat endpoint, conversation CRUD, and health probes,
// and owns request identity (signed uid cookie plus an optional admin
// token), rate limiting, and the middleware stack.
package api
