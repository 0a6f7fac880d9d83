// Package connection implements the realtime Connection Manager.
//
// The Connection Manager:
//   - Owns the single websocket to the Jarvis gateway for the whole process
//   - Authenticates with a bearer token before any application frame is sent
//   - Queues outbound frames while not authenticated and flushes them in FIFO order
//   - Reconnects with bounded exponential backoff after unexpected closures
//   - Measures round-trip latency with ping/pong frames and treats a missing pong as a dead link
//   - Fans inbound frames out to handlers registered per message type
package connection
