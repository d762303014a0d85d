// Package messaging is the IDE side of the Godot editor messaging link.
//
// Ownership boundary:
// - Session: one reconnecting transport to the editor, lifecycle watches,
//   typed request/response calls
// - Supervisor: mirrors session lifecycle into the host-observed StateCell
// - Dispatcher: CodeCompletion operations and the inbound request entry point
// - Bridge: transport diagnostics forwarded to the host log sink
//
// Client composes the four and is what hosts construct.
package messaging
