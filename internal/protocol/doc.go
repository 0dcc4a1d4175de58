// Package protocol owns the CIMD data model.
//
// Ownership boundary:
// - packet and parameter values
// - operation code and parameter number catalogue
// - user data and time period variants
// - peer error code texts
//
// Wire framing lives in protocol/frame; connection and session
// handling live in protocol/session.
package protocol
