// Package api implements the HTTP REST API and WebSocket server for the
// Pioneer bridge.
//
// This package provides:
//   - REST endpoints to list receivers, read state, sources and history
//   - A command endpoint returning the same ack the MQTT path produces
//   - A WebSocket hub broadcasting receiver.state_changed events
//   - API key to JWT exchange, bearer auth and role checks
//   - Prometheus exposition on /metrics
//
// # Security
//
// Every /api/v1 route except health and token exchange requires a bearer
// JWT. WebSocket clients pass the JWT as ?token= or a single-use ticket
// from POST /api/v1/auth/ws-ticket as ?ticket=, since browsers cannot set
// headers on upgrade requests.
//
// # Graceful Degradation
//
// The API works without MQTT: commands go straight to the bridge, which
// talks to receivers directly.
package api
