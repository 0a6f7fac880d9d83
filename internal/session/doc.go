// Package session supplies access tokens for the gateway connection.
//
// Providers:
//   - StaticProvider: a fixed token from configuration
//   - SupabaseProvider: GoTrue password and refresh-token grants
//
// The Keeper feeds the connection manager. It connects with the current token,
// swaps in a fresh token before the old one expires, and on an authentication
// rejection refreshes and connects again. The manager never refreshes tokens
// on its own.
package session
