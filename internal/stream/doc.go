/*
Package stream reconstructs ordered content blocks from a turn's event
stream.

# Overview

The assistant's output interleaves prose and tool calls, but the wire only
ever says "more text" or "this tool started/ended" with no end-of-text
marker. The accumulator recovers the interleaving with a flush-before-switch
rule: a tool start seals any open text run, and a tool group seals when its
last active tool ends. Text and tool activity never share a block.

# Idempotency

Duplicate tool_start events for one id (e.g. from a replayed catch-up) are
absorbed; tool_end merges completion fields into the matching active entry
by id and synthesizes the entry if the start was never seen.

# Ownership

One Accumulator instance tracks exactly one in-flight turn. The session
controller resets it on send, finalizes it on complete, and aborts it on
error. The accumulator itself is not safe for concurrent use; the
controller serializes access.
*/
package stream
