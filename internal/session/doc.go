/*
Package session orchestrates one logical conversation with the stream peer.

# Overview

The Controller owns the message history, session identity, and sequence
tracking for a single conversation. It routes inbound frames to the stream
accumulator (chat events) or to catch-up handling (system events) and
exposes the public operations: Connect, Disconnect, Send, Cancel,
ClearMessages.

# Observable Surface

The presentation layer may depend on exactly: the connection status enum,
the message history, the flat streaming text, the active and completed
tool lists, the todo list, and the last error string. Everything else is
internal. Change notification happens through Hooks.OnChange; hooks may
read the controller but must not mutate it synchronously.

# Recovery

A system/snapshot frame replays its buffered events through the same
dispatch entry point used for live frames, then applies the peer's
authoritative turn state on top. Recovery is deliberately not a separate
code path, so it cannot drift from live semantics.

# Error Classes

Transport errors are absorbed by the connection manager's backoff.
Protocol errors (malformed or invalid frames) are logged and dropped.
Application errors from the peer are the only user-visible class: they set
the error state, fire Hooks.OnError, and discard the in-flight turn.
*/
package session
