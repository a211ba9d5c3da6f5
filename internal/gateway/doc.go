// ABOUTME: Package documentation for the gateway
// ABOUTME: Describes the request path from auth through execution to SSE framing

// Package gateway assembles the devgate HTTP server.
//
// Every request passes through three layers: the CORS middleware, the
// bearer-token authentication middleware, and the route handlers. Routes
// under a protected prefix (default /v1) require a valid Entra ID token;
// /health is the only anonymous route.
//
// Execution requests (POST /v1/responses) run either synchronously,
// returning one aggregate response, or as a server-sent event stream.
// A stream carries each execution event as its own data frame in
// production order, then a terminal response.completed frame whose
// sequence_number is the count of prior events, then the literal
// "data: [DONE]" sentinel. A mid-stream fault produces a single error
// frame instead; frames already written are never retracted.
package gateway
