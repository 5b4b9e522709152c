// Command syncline is a terminal client for a token-streaming assistant
// endpoint. It maintains one conversation over a shared WebSocket,
// renders the streamed transcript, and survives disconnects via catch-up
// snapshots. An optional localhost debug server exposes metrics and
// session stats.
package main
