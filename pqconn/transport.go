package pqconn

// TransportStatus is the health of a transport session as reported by the
// transport itself.
type TransportStatus int

const (
	TransportBad TransportStatus = iota
	TransportOK
)

// ResultStatus is the execution status carried by a result handle.
type ResultStatus int

const (
	ResultEmptyQuery ResultStatus = iota
	ResultCommandOK
	ResultTuplesOK
	ResultSingleTuple
	ResultCopyIn
	ResultCopyOut
	ResultBadResponse
	ResultFatalError
)

// Copy primitive return conventions. The transport reports copy progress with
// small integers in the libpq manner; the Conn translates them to errors and
// CopyState values.
const (
	copyOK         = 1  // data queued / end accepted
	copyWouldBlock = 0  // retry later
	copyDone       = -1 // copy finished (GetCopyData) / failed (PutCopy*)
	copyFailed     = -2 // transport-level error (GetCopyData)
)

// Transport is one live session with the database server. It is the opaque
// external resource the Conn owns exclusively; implementations wrap whatever
// actually speaks the wire protocol (a cgo binding in production, a scripted
// fake in tests). Implementations are not required to be safe for concurrent
// use except where noted: CancelToken values derived from a Transport must be
// usable while another goroutine is blocked inside a dispatch primitive.
type Transport interface {
	// Close releases the session. It is called exactly once, at Conn
	// teardown.
	Close()

	// Status reports session health. Checked after connect and reset.
	Status() TransportStatus

	// Reset tears down and reestablishes the session in place. Success or
	// failure is observed through Status.
	Reset()

	// ErrorMessage returns the transport's current error text.
	ErrorMessage() string

	// CancelToken derives a cancellation capability bound to the current
	// session. The token goes stale when the session is reset or closed.
	CancelToken() CancelToken

	// Blocking dispatch. Each returns a handle for whatever the server
	// produced, including server-side errors; nil means a transport-level
	// failure described by ErrorMessage.
	Exec(sql string) ResultHandle
	ExecParams(sql string, params [][]byte) ResultHandle
	Prepare(name, sql string) ResultHandle
	ExecPrepared(name string, params [][]byte) ResultHandle
	DescribePrepared(name string) ResultHandle
	DescribePortal(name string) ResultHandle

	// Non-blocking dispatch. false means a transport-level failure described
	// by ErrorMessage.
	SendQuery(sql string) bool
	SendQueryParams(sql string, params [][]byte) bool
	SendPrepare(name, sql string) bool
	SendQueryPrepared(name string, params [][]byte) bool
	SendDescribePrepared(name string) bool
	SendDescribePortal(name string) bool

	// GetResult returns the next pending result for a non-blocking dispatch,
	// or nil when the request is fully drained.
	GetResult() ResultHandle

	// ConsumeInput refills the transport's receive buffer without blocking.
	// false means a transport-level failure described by ErrorMessage.
	ConsumeInput() bool

	// IsBusy reports whether GetResult would block waiting on the server.
	IsBusy() bool

	// PutCopyData queues outbound COPY bytes. PutCopyEnd terminates the COPY;
	// a non-nil errMsg aborts it with that message. Both return copyOK,
	// copyWouldBlock, or copyDone (-1, failure).
	PutCopyData(data []byte) int
	PutCopyEnd(errMsg *string) int

	// GetCopyData returns one inbound COPY chunk. n > 0 is a chunk of that
	// size, copyWouldBlock means retry later (only when block is false),
	// copyDone means the COPY finished, copyFailed is a transport-level
	// error.
	GetCopyData(block bool) (data []byte, n int)

	// Notifies pops one buffered asynchronous notification, or nil when none
	// remain.
	Notifies() *Notification

	// SetSingleRowMode switches the in-flight request to incremental
	// single-row result delivery. Only meaningful immediately after a
	// successful non-blocking dispatch.
	SetSingleRowMode() bool
}

// ResultHandle is one opaque server-produced result. The owning Result
// releases it exactly once via Close.
type ResultHandle interface {
	Close()

	Status() ResultStatus
	ErrorMessage() string

	// SQLState returns the error classification code, or "" when the result
	// does not represent a server-reported failure.
	SQLState() string

	RowCount() int
	ColumnCount() int
	ColumnName(col int) string

	// Value returns the text of a cell. IsNull must be consulted first; the
	// cell text of a NULL cell is unspecified.
	Value(row, col int) []byte
	IsNull(row, col int) bool
}

// CancelToken is a cancellation capability bound to one transport session
// generation. Cancel must be callable from any goroutine, including while
// another goroutine is blocked inside a dispatch primitive on the same
// session; this is the property that makes gate-free cancellation safe.
type CancelToken interface {
	// Cancel asks the server to interrupt the in-flight operation. On
	// failure it returns false and writes a human-readable reason into buf.
	Cancel(buf []byte) bool

	// Close releases the token. Called exactly once, when the token is
	// replaced after a reset or at Conn teardown. Close may race with a
	// Cancel still running on another goroutine; implementations must
	// tolerate that.
	Close()
}
