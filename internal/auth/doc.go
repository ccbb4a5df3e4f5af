// Package auth protects the bridge HTTP API.
//
// There are no user accounts. An installer configures one API key, stored
// only as an Argon2id PHC hash in security.api_key_hash. Presenting that key
// to POST /api/v1/auth/token yields a short-lived HS256 JWT, which is then
// sent as a bearer token (or as ?token= for websocket upgrades).
//
// Two roles exist: viewer can read receiver state and history; operator can
// additionally send commands and force refreshes. Tokens minted from the API
// key are operator tokens. pioneerctl can mint either role offline from the
// shared secret.
package auth
