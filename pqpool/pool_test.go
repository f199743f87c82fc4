package pqpool_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solidsnack/pgversion/internal/pqmock"
	"github.com/solidsnack/pgversion/pqconn"
	"github.com/solidsnack/pgversion/pqpool"
)

// mockConnector hands out a fresh scripted transport per connection and
// remembers them so tests can inspect each one.
type mockConnector struct {
	mu         sync.Mutex
	transports []*pqmock.Transport

	// Script, when set, runs on every new transport before it is handed out.
	Script func(*pqmock.Transport)
}

func (mc *mockConnector) Connect(_ context.Context, _ *pqconn.Config) (pqconn.Transport, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	transport := pqmock.New()
	if mc.Script != nil {
		mc.Script(transport)
	}
	mc.transports = append(mc.transports, transport)
	return transport, nil
}

func (mc *mockConnector) Transports() []*pqmock.Transport {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return append([]*pqmock.Transport(nil), mc.transports...)
}

func newMockPool(t *testing.T, mc *mockConnector, maxConns int32) *pqpool.Pool {
	t.Helper()

	config, err := pqpool.ParseConfig("")
	require.NoError(t, err)
	config.ConnConfig.ConnectTransport = mc.Connect
	config.MaxConns = maxConns

	pool, err := pqpool.NewWithConfig(config)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPoolAcquireReusesIdleConn(t *testing.T) {
	t.Parallel()

	mc := &mockConnector{}
	pool := newMockPool(t, mc, 2)

	conn, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, pqconn.StatusHealthy, conn.Conn().Status())
	conn.Release()

	conn, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	conn.Release()

	require.Len(t, mc.Transports(), 1, "an idle healthy connection must be reused")
	require.Equal(t, int64(2), pool.Stat().AcquireCount())
}

func TestPoolDo(t *testing.T) {
	t.Parallel()

	mc := &mockConnector{
		Script: func(transport *pqmock.Transport) {
			transport.ScriptResult(pqmock.NewRowsResult([]string{"n"}, [][][]byte{{[]byte("1")}}))
		},
	}
	pool := newMockPool(t, mc, 2)

	result, err := pool.Do(context.Background(), pqconn.Query{SQL: "select 1"})
	require.NoError(t, err)
	defer result.Close()

	require.NoError(t, result.Check())
	require.Equal(t, [][][]byte{{[]byte("1")}}, result.Rows())

	stat := pool.Stat()
	require.Equal(t, int32(1), stat.TotalConns())
	require.Equal(t, int32(1), stat.IdleConns())
}

func TestPoolReleaseDropsUnhealthyConn(t *testing.T) {
	t.Parallel()

	mc := &mockConnector{}
	pool := newMockPool(t, mc, 2)

	conn, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	mc.Transports()[0].FailWith("server closed the connection unexpectedly")
	_, err = conn.Conn().Do(context.Background(), pqconn.Query{SQL: "select 1"})
	require.Error(t, err)
	require.Equal(t, pqconn.StatusUnhealthy, conn.Conn().Status())

	conn.Release()

	// The broken connection is destroyed asynchronously; wait for its
	// transport to be closed, then the next acquire dials fresh.
	require.Eventually(t, func() bool {
		return mc.Transports()[0].CloseCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	conn, err = pool.Acquire(context.Background())
	require.NoError(t, err)
	conn.Release()

	transports := mc.Transports()
	require.Len(t, transports, 2)
}

func TestPoolCreateIdleConns(t *testing.T) {
	t.Parallel()

	mc := &mockConnector{}
	pool := newMockPool(t, mc, 4)

	require.NoError(t, pool.CreateIdleConns(context.Background(), 3))

	stat := pool.Stat()
	require.Equal(t, int32(3), stat.TotalConns())
	require.Equal(t, int32(3), stat.IdleConns())
	require.Len(t, mc.Transports(), 3)
}

func TestPoolAcquireRespectsMaxConns(t *testing.T) {
	t.Parallel()

	mc := &mockConnector{}
	pool := newMockPool(t, mc, 1)

	conn, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer conn.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, mc.Transports(), 1)
}

func TestPoolCloseClosesConns(t *testing.T) {
	t.Parallel()

	mc := &mockConnector{}
	pool := newMockPool(t, mc, 4)

	require.NoError(t, pool.CreateIdleConns(context.Background(), 2))
	pool.Close()

	for _, transport := range mc.Transports() {
		require.Equal(t, 1, transport.CloseCount())
	}

	_, err := pool.Acquire(context.Background())
	require.Error(t, err)
}
