/*
Package connection manages shared WebSocket connections.

# Overview

This package owns one physical socket per distinct endpoint URL, shared by
any number of logical subscribers. Rapid construction and teardown of
session controllers against the same endpoint reuses the socket instead of
thrashing it.

# Lifecycle

Each URL's entry moves through idle, connecting, and open. A close from
open schedules a reconnect with linear-capped backoff
(BaseDelay * min(attempts, CapFactor)) while at least one frame listener
remains and the retry budget is not exhausted. The attempts counter resets
only on a successful open. Budget exhaustion stops automatic reconnection
but keeps registrations, so a later Acquire tries again.

# Teardown

Frame listeners are reference-counted: when the last one for a URL
unsubscribes, the socket is closed and pending reconnect timers cancelled.
Status listeners observe transitions but hold no reference.

# Failure Semantics

Socket errors never propagate as panics or returned errors; they funnel
into the close handler, the single place backoff is decided. Send into a
dead socket is a no-op observable only through its boolean return.
*/
package connection
