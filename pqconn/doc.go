// Package pqconn is a connection layer over an opaque libpq-style transport.
/*
pqconn serializes concurrent callers onto one physical database connection. A
Conn owns exactly one Transport session and guards every transport-touching
operation with an exclusive access gate that is reentrant for the goroutine
holding it, so multi-step operations can call back into gate-guarded helpers
without deadlocking.

Requests are a closed set of operation kinds (see Request) issued in one of
two modes. Do blocks until the server responds and returns a Result; server
side failures ride inside the Result and surface through Result.Check, while
transport-level failures are returned as errors immediately. Send issues the
request without waiting and switches the connection to single-row streaming
delivery; results are then pulled with NextResult, with IsBusy available to
avoid blocking on transport I/O. COPY streams use PutCopyData, PutCopyEnd,
and GetCopyData.

Cancel is the one operation exempt from the gate: any goroutine may interrupt
the request in flight on another goroutine. Cancellation capabilities are
bound to a session generation and reissued whenever Reset establishes a new
session.

Notifications buffered by the transport can only be observed while holding
transport access, so they are harvested into a FIFO queue whenever NextResult
runs, and on demand by Notifications, which also drains the queue. Callers
that listen for notifications should call Notifications after dispatches or
periodically.

The wire protocol itself is out of scope: Transport, ResultHandle, and
CancelToken describe the primitive surface this package requires, and
Config.ConnectTransport injects the implementation that provides it.
*/
package pqconn
