// Package session owns the IDE<->editor transport helpers.
//
// Ownership boundary:
// - editor endpoint discovery (ide_messaging_meta.txt) and its file watch
// - hello/hello.ack handshake control messages
// - reconnect timeouts and backoff primitives
// - the stream adapter that hands a handshaken connection to JSON-RPC
//
// The request/response traffic that follows a successful handshake is
// JSON-RPC 2.0 and lives in internal/messaging.
package session
