// Package session owns the client side of a CIMD link.
//
// Ownership boundary:
// - Connection: one transport, a reader goroutine, reply correlation
// - Dialer: TCP/TLS dial and login, the Connection factory
// - Session: lazy (re)connection, reply classification, message operations
// - retry/backoff and transport security checks
//
// Framing lives in protocol/frame; packet values live in protocol.
package session
