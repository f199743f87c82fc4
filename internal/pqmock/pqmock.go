// Package pqmock provides a scriptable fake transport for testing pqconn
// without a database server. Results, notifications, copy chunks, and
// failures are queued onto the Transport ahead of time; the fake records
// everything the connection layer does to it so tests can assert on
// serialization, dispatch order, and resource release.
package pqmock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/solidsnack/pgversion/pqconn"
)

// Result is a canned result handle.
type Result struct {
	status   pqconn.ResultStatus
	errMsg   string
	sqlState string
	columns  []string
	rows     [][][]byte // nil cell = SQL NULL

	closeCount atomic.Int32
}

// NewCommandResult returns a result for a command that produced no rows.
func NewCommandResult() *Result {
	return &Result{status: pqconn.ResultCommandOK}
}

// NewRowsResult returns a result carrying a grid of text cells. A nil cell
// is the SQL NULL.
func NewRowsResult(columns []string, rows [][][]byte) *Result {
	return &Result{status: pqconn.ResultTuplesOK, columns: columns, rows: rows}
}

// NewErrorResult returns a server-reported failure with the given
// classification code and message.
func NewErrorResult(sqlState, message string) *Result {
	return &Result{status: pqconn.ResultFatalError, sqlState: sqlState, errMsg: message}
}

func (r *Result) Close()                  { r.closeCount.Add(1) }
func (r *Result) Status() pqconn.ResultStatus { return r.status }
func (r *Result) ErrorMessage() string    { return r.errMsg }
func (r *Result) SQLState() string        { return r.sqlState }
func (r *Result) RowCount() int           { return len(r.rows) }
func (r *Result) ColumnCount() int        { return len(r.columns) }
func (r *Result) ColumnName(col int) string { return r.columns[col] }

func (r *Result) Value(row, col int) []byte { return r.rows[row][col] }
func (r *Result) IsNull(row, col int) bool  { return r.rows[row][col] == nil }

// CloseCount returns how many times Close has been called.
func (r *Result) CloseCount() int { return int(r.closeCount.Load()) }

// CancelToken is a recording cancellation capability.
type CancelToken struct {
	mu      sync.Mutex
	failMsg string
	cancels int
	closes  int
}

// FailWith makes subsequent Cancel calls fail with msg.
func (tok *CancelToken) FailWith(msg string) {
	tok.mu.Lock()
	defer tok.mu.Unlock()
	tok.failMsg = msg
}

func (tok *CancelToken) Cancel(buf []byte) bool {
	tok.mu.Lock()
	defer tok.mu.Unlock()
	tok.cancels++
	if tok.failMsg != "" {
		copy(buf, tok.failMsg)
		return false
	}
	return true
}

func (tok *CancelToken) Close() {
	tok.mu.Lock()
	defer tok.mu.Unlock()
	tok.closes++
}

// Cancels returns how many times Cancel has been called.
func (tok *CancelToken) Cancels() int {
	tok.mu.Lock()
	defer tok.mu.Unlock()
	return tok.cancels
}

// Closes returns how many times Close has been called.
func (tok *CancelToken) Closes() int {
	tok.mu.Lock()
	defer tok.mu.Unlock()
	return tok.closes
}

type copyChunk struct {
	data []byte
	n    int
}

// Transport is a scriptable in-memory pqconn.Transport.
type Transport struct {
	mu sync.Mutex

	status   pqconn.TransportStatus
	errorMsg string

	results []pqconn.ResultHandle
	notices []*pqconn.Notification
	busy    bool

	execFail      bool
	sendFail      bool
	consumeFail   bool
	resetFail     bool
	copyFail      bool
	singleRowFail bool

	singleRowMode bool
	dispatched    []string
	copyData      [][]byte
	copyEndMsgs   []*string
	copyOut       []copyChunk
	tokens        []*CancelToken
	resets        int

	closeCount atomic.Int32

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	// ExecHook, when set, runs inside every blocking dispatch before the
	// scripted result is consumed. Tests use it to hold a dispatch open.
	ExecHook func(sql string)
}

// New returns a healthy scripted transport.
func New() *Transport {
	return &Transport{status: pqconn.TransportOK}
}

// Connect is a pqconn.ConnectTransportFunc handing out this transport.
func (t *Transport) Connect(_ context.Context, _ *pqconn.Config) (pqconn.Transport, error) {
	return t, nil
}

// Scripting.

// ScriptResult queues h for consumption by the next blocking dispatch or
// GetResult call.
func (t *Transport) ScriptResult(h pqconn.ResultHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results = append(t.results, h)
}

// ScriptNotification buffers a pending notification.
func (t *Transport) ScriptNotification(n *pqconn.Notification) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notices = append(t.notices, n)
}

// ScriptCopyChunk queues one GetCopyData outcome; n follows the transport
// conventions (len(data), 0, -1, -2).
func (t *Transport) ScriptCopyChunk(data []byte, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.copyOut = append(t.copyOut, copyChunk{data: data, n: n})
}

// SetStatus sets the health the transport reports, with msg as the error
// text.
func (t *Transport) SetStatus(status pqconn.TransportStatus, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
	t.errorMsg = msg
}

// SetBusy sets the value IsBusy reports.
func (t *Transport) SetBusy(busy bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.busy = busy
}

// FailWith puts the transport in a failing state: blocking dispatch returns
// no handle, non-blocking dispatch and ConsumeInput return false, and
// ErrorMessage reports msg.
func (t *Transport) FailWith(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorMsg = msg
	t.execFail = true
	t.sendFail = true
	t.consumeFail = true
}

// FailNextReset makes the next Reset leave the transport in a bad state with
// msg as the error text. Later Resets succeed again.
func (t *Transport) FailNextReset(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetFail = true
	t.errorMsg = msg
}

// FailSingleRowMode makes SetSingleRowMode report failure with msg as the
// error text.
func (t *Transport) FailSingleRowMode(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.singleRowFail = true
	t.errorMsg = msg
}

// FailCopy makes the copy primitives report failure with msg as the error
// text.
func (t *Transport) FailCopy(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.copyFail = true
	t.errorMsg = msg
}

// pqconn.Transport implementation.

func (t *Transport) Close() { t.closeCount.Add(1) }

func (t *Transport) Status() pqconn.TransportStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resets++
	if t.resetFail {
		t.resetFail = false
		t.status = pqconn.TransportBad
	} else {
		t.status = pqconn.TransportOK
	}
}

func (t *Transport) ErrorMessage() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errorMsg
}

func (t *Transport) CancelToken() pqconn.CancelToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	tok := &CancelToken{}
	t.tokens = append(t.tokens, tok)
	return tok
}

func (t *Transport) Exec(sql string) pqconn.ResultHandle {
	return t.blockingDispatch("exec", sql)
}

func (t *Transport) ExecParams(sql string, params [][]byte) pqconn.ResultHandle {
	return t.blockingDispatch("exec params", sql)
}

func (t *Transport) Prepare(name, sql string) pqconn.ResultHandle {
	return t.blockingDispatch("prepare "+name, sql)
}

func (t *Transport) ExecPrepared(name string, params [][]byte) pqconn.ResultHandle {
	return t.blockingDispatch("exec prepared", name)
}

func (t *Transport) DescribePrepared(name string) pqconn.ResultHandle {
	return t.blockingDispatch("describe prepared", name)
}

func (t *Transport) DescribePortal(name string) pqconn.ResultHandle {
	return t.blockingDispatch("describe portal", name)
}

func (t *Transport) blockingDispatch(kind, detail string) pqconn.ResultHandle {
	n := t.inFlight.Add(1)
	defer t.inFlight.Add(-1)
	for {
		max := t.maxInFlight.Load()
		if n <= max || t.maxInFlight.CompareAndSwap(max, n) {
			break
		}
	}

	if t.ExecHook != nil {
		t.ExecHook(detail)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.dispatched = append(t.dispatched, fmt.Sprintf("%s: %s", kind, detail))
	if t.execFail {
		return nil
	}
	return t.popResult()
}

func (t *Transport) SendQuery(sql string) bool          { return t.sendDispatch("send query", sql) }
func (t *Transport) SendQueryParams(sql string, _ [][]byte) bool {
	return t.sendDispatch("send query params", sql)
}
func (t *Transport) SendPrepare(name, sql string) bool { return t.sendDispatch("send prepare "+name, sql) }
func (t *Transport) SendQueryPrepared(name string, _ [][]byte) bool {
	return t.sendDispatch("send query prepared", name)
}
func (t *Transport) SendDescribePrepared(name string) bool {
	return t.sendDispatch("send describe prepared", name)
}
func (t *Transport) SendDescribePortal(name string) bool {
	return t.sendDispatch("send describe portal", name)
}

func (t *Transport) sendDispatch(kind, detail string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dispatched = append(t.dispatched, fmt.Sprintf("%s: %s", kind, detail))
	return !t.sendFail
}

func (t *Transport) GetResult() pqconn.ResultHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.popResult()
}

// popResult pops the next scripted result. Callers must hold mu.
func (t *Transport) popResult() pqconn.ResultHandle {
	if len(t.results) == 0 {
		return nil
	}
	h := t.results[0]
	t.results = t.results[1:]
	return h
}

func (t *Transport) ConsumeInput() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.consumeFail
}

func (t *Transport) IsBusy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.busy
}

func (t *Transport) PutCopyData(data []byte) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.copyFail {
		return -1
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)
	t.copyData = append(t.copyData, chunk)
	return 1
}

func (t *Transport) PutCopyEnd(errMsg *string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.copyFail {
		return -1
	}
	t.copyEndMsgs = append(t.copyEndMsgs, errMsg)
	return 1
}

func (t *Transport) GetCopyData(block bool) ([]byte, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.copyFail {
		return nil, -2
	}
	if len(t.copyOut) == 0 {
		return nil, -1
	}
	chunk := t.copyOut[0]
	t.copyOut = t.copyOut[1:]
	return chunk.data, chunk.n
}

func (t *Transport) Notifies() *pqconn.Notification {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.notices) == 0 {
		return nil
	}
	n := t.notices[0]
	t.notices = t.notices[1:]
	return n
}

func (t *Transport) SetSingleRowMode() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.singleRowFail {
		return false
	}
	t.singleRowMode = true
	return true
}

// Recorded state accessors.

// CloseCount returns how many times Close has been called.
func (t *Transport) CloseCount() int { return int(t.closeCount.Load()) }

// MaxInFlight returns the largest number of blocking dispatches the
// transport ever observed at once.
func (t *Transport) MaxInFlight() int { return int(t.maxInFlight.Load()) }

// Dispatched returns the ordered log of dispatch calls.
func (t *Transport) Dispatched() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.dispatched...)
}

// SingleRowMode reports whether SetSingleRowMode has been called.
func (t *Transport) SingleRowMode() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.singleRowMode
}

// Tokens returns every cancel token derived from this transport, in order.
func (t *Transport) Tokens() []*CancelToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*CancelToken(nil), t.tokens...)
}

// Resets returns how many times Reset has been called.
func (t *Transport) Resets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resets
}

// CopyData returns every chunk received through PutCopyData.
func (t *Transport) CopyData() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.copyData...)
}

// CopyEndMessages returns the errMsg argument of every PutCopyEnd call.
func (t *Transport) CopyEndMessages() []*string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*string(nil), t.copyEndMsgs...)
}
