// Package registrytest provides an in-memory Connector for tests that need tenant
// connections without a database.
package registrytest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kiranshivaraju/tenantrouter/internal/registry"
)

var ErrConnClosed = errors.New("fake conn closed")

// Connector counts Connect calls and hands out Conns.
type Connector struct {
	// Connects counts every Connect call, failed ones included.
	Connects atomic.Int64

	mu       sync.Mutex
	gate     chan struct{}
	failNext int
	failErr  error
	pingErr  error
	onConn   func(*Conn)
	conns    []*Conn
}

func NewConnector() *Connector {
	return &Connector{}
}

// Block makes Connect wait until the returned function is called.
func (c *Connector) Block() (unblock func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.gate = gate
	c.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// FailNext makes the next n Connect calls return err.
func (c *Connector) FailNext(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = n
	c.failErr = err
}

// PingErr makes every new Conn fail its pings with err.
func (c *Connector) PingErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingErr = err
}

// OnConnect runs fn on every new Conn before it is returned.
func (c *Connector) OnConnect(fn func(*Conn)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConn = fn
}

func (c *Connector) Connect(ctx context.Context, params registry.ConnParams) (registry.Conn, error) {
	c.Connects.Add(1)

	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext > 0 {
		c.failNext--
		return nil, c.failErr
	}
	conn := &Conn{Params: params}
	conn.pingErr = c.pingErr
	if c.onConn != nil {
		c.onConn(conn)
	}
	c.conns = append(c.conns, conn)
	return conn, nil
}

// Conns returns every Conn handed out so far.
func (c *Connector) Conns() []*Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Conn(nil), c.conns...)
}

// ConnFor returns the most recent Conn bound to schema, or nil.
func (c *Connector) ConnFor(schema string) *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.conns) - 1; i >= 0; i-- {
		if c.conns[i].Params.Schema == schema {
			return c.conns[i]
		}
	}
	return nil
}

// Conn records statements and answers QueryRow through an optional hook.
type Conn struct {
	Params registry.ConnParams

	mu       sync.Mutex
	execs    []string
	closed   bool
	pingErr  error
	execErr  error
	queryRow func(sql string, args ...any) pgx.Row
}

// NewConn returns a standalone Conn, for use as a master connection.
func NewConn(schema string) *Conn {
	return &Conn{Params: registry.ConnParams{Schema: schema}}
}

func (c *Conn) SetPingErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingErr = err
}

func (c *Conn) SetExecErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execErr = err
}

func (c *Conn) SetQueryRow(fn func(sql string, args ...any) pgx.Row) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queryRow = fn
}

// Execs returns the statements executed so far.
func (c *Conn) Execs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.execs...)
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return pgconn.CommandTag{}, ErrConnClosed
	}
	if c.execErr != nil {
		return pgconn.CommandTag{}, c.execErr
	}
	c.execs = append(c.execs, sql)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (c *Conn) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("fake conn: Query not supported")
}

func (c *Conn) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	c.mu.Lock()
	closed, fn := c.closed, c.queryRow
	c.mu.Unlock()
	if closed {
		return Row{Err: ErrConnClosed}
	}
	if fn == nil {
		return Row{Err: pgx.ErrNoRows}
	}
	return fn(sql, args...)
}

func (c *Conn) Begin(_ context.Context) (pgx.Tx, error) {
	return nil, errors.New("fake conn: Begin not supported")
}

func (c *Conn) Ping(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	return c.pingErr
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Row is a canned pgx.Row. Values are assigned to Scan destinations in order.
type Row struct {
	Values []any
	Err    error
}

func (r Row) Scan(dest ...any) error {
	if r.Err != nil {
		return r.Err
	}
	if len(dest) != len(r.Values) {
		return fmt.Errorf("fake row: %d destinations for %d values", len(dest), len(r.Values))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d)
		if dv.Kind() != reflect.Pointer || dv.IsNil() {
			return fmt.Errorf("fake row: destination %d is not a pointer", i)
		}
		v := reflect.ValueOf(r.Values[i])
		if !v.Type().AssignableTo(dv.Elem().Type()) {
			return fmt.Errorf("fake row: cannot assign %s to %s", v.Type(), dv.Elem().Type())
		}
		dv.Elem().Set(v)
	}
	return nil
}

var _ registry.Conn = (*Conn)(nil)
