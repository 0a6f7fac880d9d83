// Package events republishes gateway messages as named application events.
//
// A Bridge registers connection handlers for task, response and status frames
// and publishes them on a Bus as "jarvis:task", "jarvis:response" and
// "jarvis:status". Every bus subscriber owns an unbounded FIFO queue, so a slow
// consumer never blocks the connection's read goroutine and never loses events.
package events
