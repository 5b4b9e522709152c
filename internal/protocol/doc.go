// Package protocol defines the wire format shared with the stream peer.
//
// Every frame is a JSON envelope over a WebSocket text message:
//
//	{ "type": "chat" | "system", "seq": 42, "timestamp": 1712345678901,
//	  "sessionId": "sess_...", "payload": { "event": "token", ... } }
//
// Chat payloads carry the turn event stream (token, tool_start, tool_end,
// todo_update, thinking, complete, error); system payloads carry the
// connection lifecycle (connected, snapshot, error). The outbound-only tags
// (send, cancel, subscribe, catch_up) are still part of the closed tag sets
// so a confused peer echoing them back parses cleanly and is ignored rather
// than crashing dispatch.
//
// Every inbound payload is validated against its declared shape before it
// reaches the accumulator; a frame failing validation is dropped by the
// caller, never partially applied.
package protocol
