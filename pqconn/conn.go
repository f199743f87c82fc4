package pqconn

import (
	"bytes"
	"context"
	"runtime"
	"sync/atomic"

	"github.com/solidsnack/pgversion/pqconn/internal/gate"
)

// ConnStatus is the lifecycle state of a Conn.
type ConnStatus int

const (
	StatusDisconnected ConnStatus = iota
	StatusConnecting
	StatusClosed
	StatusUnhealthy
	StatusHealthy
)

func (s ConnStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusClosed:
		return "closed"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusHealthy:
		return "healthy"
	}
	return "invalid"
}

// Notification is an out-of-band message delivered by the server's
// LISTEN/NOTIFY system.
type Notification struct {
	PID     uint32 // backend pid that sent the notification
	Channel string
	Payload string
}

// CopyState classifies the outcome of GetCopyData.
type CopyState int

const (
	// CopyStateData means a chunk of COPY data was returned.
	CopyStateData CopyState = iota
	// CopyStateAgain means no data is buffered yet; retry later.
	CopyStateAgain
	// CopyStateDone means the COPY has finished.
	CopyStateDone
)

// The cancel failure reason buffer handed to the transport. The transport
// contract requires at least 256 bytes.
const cancelMessageBufSize = 512

// sessionCancelToken pairs a cancellation capability with the session
// generation it was derived under.
type sessionCancelToken struct {
	token      CancelToken
	generation uint64
}

// Conn is one connection to the database server. Unlike the transport it
// wraps, a Conn is safe for concurrent use: every transport-touching
// operation is serialized by an exclusive access gate, and Cancel is usable
// from any goroutine while another operation is in flight.
type Conn struct {
	transport Transport
	config    *Config

	gate gate.Gate

	status        ConnStatus      // guarded by gate
	sendPending   bool            // guarded by gate; a Send has produced no result yet
	notifications []*Notification // guarded by gate; FIFO in arrival order

	// generation is the session epoch, incremented by every successful
	// Reset. cancelToken always holds the token derived under the current
	// generation; it is atomic so Cancel can read it without the gate.
	generation  atomic.Uint64
	cancelToken atomic.Pointer[sessionCancelToken]
}

// Connect establishes a connection using descriptor to provide configuration.
// See ParseConfig for the descriptor forms. The returned Conn is Healthy; a
// failed connect is terminal for this Conn and reports the transport's probe
// error text.
func Connect(ctx context.Context, descriptor string) (*Conn, error) {
	config, err := ParseConfig(descriptor)
	if err != nil {
		return nil, err
	}

	return ConnectConfig(ctx, config)
}

// ConnectConfig establishes a connection using config. config must have been
// constructed with ParseConfig.
func ConnectConfig(ctx context.Context, config *Config) (*Conn, error) {
	// Default values are set in ParseConfig. Enforce initial creation by
	// ParseConfig rather than setting defaults from zero values.
	if !config.createdByParseConfig {
		panic("config must be created by ParseConfig")
	}
	if config.ConnectTransport == nil {
		return nil, &ConnError{Op: "connect", Msg: "config has no ConnectTransport"}
	}
	if err := ctxDone(ctx); err != nil {
		return nil, err
	}

	conn := &Conn{config: config, status: StatusConnecting}

	transport, err := config.ConnectTransport(ctx, config)
	if err != nil {
		return nil, &ConnError{Op: "connect", Msg: err.Error()}
	}
	if transport.Status() != TransportOK {
		msg := transport.ErrorMessage()
		transport.Close()
		return nil, &ConnError{Op: "connect", Msg: msg}
	}

	conn.transport = transport
	conn.cancelToken.Store(&sessionCancelToken{
		token:      transport.CancelToken(),
		generation: conn.generation.Load(),
	})
	conn.status = StatusHealthy

	return conn, nil
}

// Config returns the config the connection was established with.
func (c *Conn) Config() *Config {
	return c.config
}

// Status returns the connection's lifecycle state.
func (c *Conn) Status() ConnStatus {
	var s ConnStatus
	_ = c.gate.Do(func() error {
		s = c.status
		return nil
	})
	return s
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	return c.Status() == StatusClosed
}

// withGate runs fn while holding the exclusive access gate, failing first if
// the connection has been closed.
func (c *Conn) withGate(op string, fn func() error) error {
	return c.gate.Do(func() error {
		if c.status == StatusClosed {
			return &ConnError{Op: op, Msg: "conn closed"}
		}
		return fn()
	})
}

// transportFailure marks the session unhealthy and reports the transport's
// current error text.
func (c *Conn) transportFailure(op string) error {
	c.status = StatusUnhealthy
	return &ConnError{Op: op, Msg: c.transport.ErrorMessage()}
}

// Do issues req in blocking mode and returns the server's response. Server
// side failures ride inside the Result and only surface through
// Result.Check; the returned error is reserved for transport-level failures.
func (c *Conn) Do(ctx context.Context, req Request) (*Result, error) {
	if err := ctxDone(ctx); err != nil {
		return nil, err
	}

	var result *Result
	err := c.withGate("exec", func() error {
		h := c.dispatch(req)
		if h == nil {
			return c.transportFailure("exec")
		}
		result = newResult(h)
		c.harvestNotifications()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Send issues req in non-blocking mode. Results are retrieved with
// NextResult. After every successful send the connection is switched to
// single-row streaming delivery so large result sets arrive incrementally.
func (c *Conn) Send(ctx context.Context, req Request) error {
	if err := ctxDone(ctx); err != nil {
		return err
	}

	return c.withGate("send", func() error {
		if !c.dispatchSend(req) {
			return c.transportFailure("send")
		}
		if !c.transport.SetSingleRowMode() {
			// The dispatch is already on the wire; a session that cannot
			// switch delivery modes is not trustworthy for the drain either.
			return c.transportFailure("send")
		}
		c.sendPending = true
		return nil
	})
}

// dispatch maps req onto the transport's blocking primitive.
func (c *Conn) dispatch(req Request) ResultHandle {
	switch req := req.(type) {
	case Query:
		return c.transport.Exec(req.SQL)
	case QueryParams:
		return c.transport.ExecParams(req.SQL, req.Params)
	case Prepare:
		return c.transport.Prepare(req.Name, req.SQL)
	case ExecPrepared:
		return c.transport.ExecPrepared(req.Name, req.Params)
	case DescribePrepared:
		return c.transport.DescribePrepared(req.Name)
	case DescribePortal:
		return c.transport.DescribePortal(req.Name)
	}
	panic("BUG: unknown request variant")
}

// dispatchSend maps req onto the transport's non-blocking primitive.
func (c *Conn) dispatchSend(req Request) bool {
	switch req := req.(type) {
	case Query:
		return c.transport.SendQuery(req.SQL)
	case QueryParams:
		return c.transport.SendQueryParams(req.SQL, req.Params)
	case Prepare:
		return c.transport.SendPrepare(req.Name, req.SQL)
	case ExecPrepared:
		return c.transport.SendQueryPrepared(req.Name, req.Params)
	case DescribePrepared:
		return c.transport.SendDescribePrepared(req.Name)
	case DescribePortal:
		return c.transport.SendDescribePortal(req.Name)
	}
	panic("BUG: unknown request variant")
}

// NextResult returns the next pending result of a non-blocking dispatch, or
// (nil, nil) once the request is fully drained. Under single-row streaming a
// result may hold a partial slice of the full set. Buffered notifications
// are harvested into the notification queue on every call; pair NextResult
// with IsBusy to avoid blocking on transport I/O.
func (c *Conn) NextResult(ctx context.Context) (*Result, error) {
	if err := ctxDone(ctx); err != nil {
		return nil, err
	}

	var result *Result
	err := c.withGate("next result", func() error {
		h := c.transport.GetResult()
		c.harvestNotifications()
		if h == nil {
			if c.sendPending {
				// A successful send must yield at least one result before
				// the drain marker.
				c.sendPending = false
				return &InternalError{Msg: "non-blocking dispatch produced no result"}
			}
			return nil
		}
		c.sendPending = false
		result = newResult(h)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// IsBusy refills the transport's receive buffer without blocking and reports
// whether NextResult would still block waiting on the server.
func (c *Conn) IsBusy() (bool, error) {
	var busy bool
	err := c.withGate("busy check", func() error {
		if !c.transport.ConsumeInput() {
			return c.transportFailure("busy check")
		}
		busy = c.transport.IsBusy()
		return nil
	})
	return busy, err
}

// PutCopyData pushes a chunk of outbound COPY data.
func (c *Conn) PutCopyData(ctx context.Context, data []byte) error {
	if err := ctxDone(ctx); err != nil {
		return err
	}

	return c.withGate("copy data", func() error {
		if c.transport.PutCopyData(data) == copyDone {
			return c.transportFailure("copy data")
		}
		return nil
	})
}

// PutCopyEnd terminates an outbound COPY. A nil copyErr ends the COPY
// normally; a non-nil copyErr aborts it, carrying copyErr's message to the
// server.
func (c *Conn) PutCopyEnd(ctx context.Context, copyErr error) error {
	if err := ctxDone(ctx); err != nil {
		return err
	}

	var errMsg *string
	if copyErr != nil {
		s := copyErr.Error()
		errMsg = &s
	}

	return c.withGate("copy end", func() error {
		if c.transport.PutCopyEnd(errMsg) == copyDone {
			return c.transportFailure("copy end")
		}
		return nil
	})
}

// GetCopyData pulls one chunk of inbound COPY data. CopyStateAgain is only
// possible when block is false.
func (c *Conn) GetCopyData(ctx context.Context, block bool) ([]byte, CopyState, error) {
	if err := ctxDone(ctx); err != nil {
		return nil, CopyStateAgain, err
	}

	var data []byte
	state := CopyStateAgain
	err := c.withGate("copy out", func() error {
		chunk, n := c.transport.GetCopyData(block)
		switch {
		case n > 0:
			data = chunk
			state = CopyStateData
		case n == copyWouldBlock:
			state = CopyStateAgain
		case n == copyDone:
			state = CopyStateDone
		default:
			return c.transportFailure("copy out")
		}
		return nil
	})
	if err != nil {
		return nil, CopyStateAgain, err
	}
	return data, state, nil
}

// harvestNotifications drains every notification currently buffered by the
// transport into the queue. Callers must hold the gate.
func (c *Conn) harvestNotifications() {
	for {
		n := c.transport.Notifies()
		if n == nil {
			return
		}
		c.notifications = append(c.notifications, n)
	}
}

// Notifications harvests any notices buffered by the transport, then returns
// the queued notifications in arrival order and clears the queue.
// Notifications are only observable while holding transport access, so
// callers that care about them should call this after dispatches, or
// periodically.
func (c *Conn) Notifications() ([]*Notification, error) {
	var out []*Notification
	err := c.withGate("notifications", func() error {
		c.harvestNotifications()
		out = c.notifications
		c.notifications = nil
		return nil
	})
	return out, err
}

// Cancel asks the server to interrupt the operation currently executing on
// this connection. It deliberately does not take the exclusive access gate:
// interrupting an in-flight request from another goroutine is the whole
// point, and the transport guarantees the token is safe to use concurrently
// with any other operation on the session it was derived from.
func (c *Conn) Cancel() error {
	tok := c.currentCancelToken()
	if tok == nil {
		return &ConnError{Op: "cancel", Msg: "conn closed"}
	}

	buf := make([]byte, cancelMessageBufSize)
	if !tok.token.Cancel(buf) {
		msg := string(bytes.TrimRight(buf, "\x00"))
		return &ConnError{Op: "cancel", Msg: msg}
	}
	return nil
}

// currentCancelToken returns the token for the current session generation,
// waiting out a token swap in progress. A token from a previous generation
// would cancel on a session that no longer exists.
func (c *Conn) currentCancelToken() *sessionCancelToken {
	for {
		tok := c.cancelToken.Load()
		if tok == nil {
			return nil
		}
		if tok.generation == c.generation.Load() {
			return tok
		}
		runtime.Gosched()
	}
}

// Reset reestablishes the session in place. On success the connection is
// Healthy again and the cancellation token is reissued for the new session;
// on failure the connection is Unhealthy and Reset may be retried.
func (c *Conn) Reset(ctx context.Context) error {
	if err := ctxDone(ctx); err != nil {
		return err
	}

	return c.withGate("reset", func() error {
		c.transport.Reset()
		if c.transport.Status() != TransportOK {
			c.status = StatusUnhealthy
			return &ConnError{Op: "reset", Msg: c.transport.ErrorMessage()}
		}

		// The reset opened a new session, so the old token is stale. Publish
		// the new generation before the new token so Cancel never pairs the
		// old token with the new generation.
		generation := c.generation.Add(1)
		old := c.cancelToken.Swap(&sessionCancelToken{
			token:      c.transport.CancelToken(),
			generation: generation,
		})
		if old != nil {
			old.token.Close()
		}

		c.sendPending = false
		c.notifications = nil
		c.status = StatusHealthy
		return nil
	})
}

// Close releases the cancellation token and the transport handle. It is safe
// to call Close on an already closed Conn; the underlying resources are
// released exactly once.
func (c *Conn) Close() error {
	return c.gate.Do(func() error {
		if c.status == StatusClosed {
			return nil
		}
		c.status = StatusClosed

		if tok := c.cancelToken.Swap(nil); tok != nil {
			tok.token.Close()
		}
		c.transport.Close()
		return nil
	})
}

func ctxDone(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
