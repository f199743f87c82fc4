// Package pqpool is a concurrency-safe connection pool for pqconn. Pooled
// connections are health-checked on acquire: an unhealthy connection is reset
// in place, and replaced if the reset fails.
package pqpool

import (
	"context"

	"github.com/jackc/puddle/v2"
	"golang.org/x/sync/errgroup"

	"github.com/solidsnack/pgversion/pqconn"
)

const defaultMaxConns = 4

// Config is the configuration for a Pool. Construct it by modifying the
// result of ParseConfig.
type Config struct {
	ConnConfig *pqconn.Config

	// MaxConns is the maximum number of connections in the pool.
	MaxConns int32
}

// ParseConfig builds a pool Config from a connection descriptor. See
// pqconn.ParseConfig for the accepted forms.
func ParseConfig(descriptor string) (*Config, error) {
	connConfig, err := pqconn.ParseConfig(descriptor)
	if err != nil {
		return nil, err
	}

	return &Config{
		ConnConfig: connConfig,
		MaxConns:   defaultMaxConns,
	}, nil
}

// Pool is a pool of pqconn connections.
type Pool struct {
	p      *puddle.Pool[*pqconn.Conn]
	config *Config
}

// New creates a Pool from a connection descriptor. Connections are
// established lazily; use CreateIdleConns to open them eagerly.
func New(descriptor string) (*Pool, error) {
	config, err := ParseConfig(descriptor)
	if err != nil {
		return nil, err
	}

	return NewWithConfig(config)
}

// NewWithConfig creates a Pool from a Config built by ParseConfig.
func NewWithConfig(config *Config) (*Pool, error) {
	maxConns := config.MaxConns
	if maxConns < 1 {
		maxConns = defaultMaxConns
	}

	p, err := puddle.NewPool(&puddle.Config[*pqconn.Conn]{
		Constructor: func(ctx context.Context) (*pqconn.Conn, error) {
			return pqconn.ConnectConfig(ctx, config.ConnConfig)
		},
		Destructor: func(conn *pqconn.Conn) {
			_ = conn.Close()
		},
		MaxSize: maxConns,
	})
	if err != nil {
		return nil, err
	}

	return &Pool{p: p, config: config}, nil
}

// Config returns the configuration the pool was created with.
func (p *Pool) Config() *Config { return p.config }

// Acquire returns a healthy connection from the pool, establishing a new one
// if none is idle. The caller owns the connection exclusively until Release.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	for {
		res, err := p.p.Acquire(ctx)
		if err != nil {
			return nil, err
		}

		switch conn := res.Value(); conn.Status() {
		case pqconn.StatusHealthy:
			return &Conn{res: res}, nil
		case pqconn.StatusUnhealthy:
			if err := conn.Reset(ctx); err == nil {
				return &Conn{res: res}, nil
			}
			res.Destroy()
		default:
			res.Destroy()
		}
	}
}

// Do acquires a connection, issues req on it, and releases the connection
// back to the pool.
func (p *Pool) Do(ctx context.Context, req pqconn.Request) (*pqconn.Result, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	return conn.Conn().Do(ctx, req)
}

// CreateIdleConns opens n connections concurrently and leaves them idle in
// the pool.
func (p *Pool) CreateIdleConns(ctx context.Context, n int) error {
	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			return p.p.CreateResource(ctx)
		})
	}
	return eg.Wait()
}

// Stat returns a snapshot of the pool's counters.
func (p *Pool) Stat() *Stat {
	return &Stat{s: p.p.Stat()}
}

// Close closes all pool connections and rejects future acquires. It blocks
// until every acquired connection is released.
func (p *Pool) Close() {
	p.p.Close()
}

// Conn is a pooled connection. Release returns it to the pool.
type Conn struct {
	res *puddle.Resource[*pqconn.Conn]
}

// Conn returns the underlying connection.
func (c *Conn) Conn() *pqconn.Conn {
	return c.res.Value()
}

// Release returns the connection to the pool. A connection that is no longer
// healthy is closed and dropped instead of being handed to the next acquirer.
// Release must not be called twice.
func (c *Conn) Release() {
	res := c.res
	c.res = nil

	if res.Value().Status() == pqconn.StatusHealthy {
		res.Release()
	} else {
		res.Destroy()
	}
}

// Stat is a snapshot of pool counters.
type Stat struct {
	s *puddle.Stat
}

// TotalConns returns the number of connections currently in the pool, idle
// and acquired together.
func (s *Stat) TotalConns() int32 { return s.s.TotalResources() }

// IdleConns returns the number of idle connections in the pool.
func (s *Stat) IdleConns() int32 { return s.s.IdleResources() }

// AcquiredConns returns the number of currently acquired connections.
func (s *Stat) AcquiredConns() int32 { return s.s.AcquiredResources() }

// MaxConns returns the pool's connection limit.
func (s *Stat) MaxConns() int32 { return s.s.MaxResources() }

// AcquireCount returns the cumulative number of successful acquires.
func (s *Stat) AcquireCount() int64 { return s.s.AcquireCount() }
