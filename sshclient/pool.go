package sshclient

import (
	"context"
	"errors"
	"sync"
	"time"
)

// errPoolClosed is returned by get after close.
var errPoolClosed = errors.New("connection pool closed")

// poolEntry is one idle connection together with the time it was returned.
type poolEntry struct {
	conn       Conn
	returnedAt time.Time
}

// devicePool is the per-device idle list plus concurrency semaphore.
type devicePool struct {
	mu   sync.Mutex
	idle []poolEntry // LIFO stack

	// sem limits concurrent in-flight connections for this device. Its
	// capacity is Options.MaxPerDevice.
	sem chan struct{}
}

// connPool manages Conn values keyed by "host:port". It enforces per-device
// concurrency limits and recycles idle connections.
type connPool struct {
	opts Options

	mu    sync.RWMutex
	pools map[string]*devicePool

	closed chan struct{}
}

func newConnPool(opts Options) *connPool {
	return &connPool{
		opts:   opts,
		pools:  make(map[string]*devicePool),
		closed: make(chan struct{}),
	}
}

// get acquires a connection for addr, reusing an idle one when available and
// dialling otherwise. It blocks while the device's in-flight limit is
// reached, and respects context cancellation.
func (p *connPool) get(ctx context.Context, addr string, dial func(context.Context) (Conn, error)) (Conn, error) {
	dp := p.getOrCreatePool(addr)

	select {
	case <-p.closed:
		return nil, errPoolClosed
	default:
	}

	select {
	case dp.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		return nil, errPoolClosed
	}

	if conn := p.popIdle(dp); conn != nil {
		return conn, nil
	}

	conn, err := dial(ctx)
	if err != nil {
		<-dp.sem // release the slot on failure
		return nil, err
	}
	return conn, nil
}

// put returns a connection to the idle pool for reuse, closing it instead
// when the pool is full. It also releases the in-flight slot.
func (p *connPool) put(addr string, conn Conn) {
	dp := p.getPool(addr)
	if dp == nil {
		conn.Close()
		return
	}
	defer func() { <-dp.sem }()

	dp.mu.Lock()
	defer dp.mu.Unlock()

	if len(dp.idle) >= p.opts.MaxIdlePerDevice {
		conn.Close()
		return
	}
	dp.idle = append(dp.idle, poolEntry{conn: conn, returnedAt: time.Now()})
}

// discard closes a connection known to be broken and releases its slot.
func (p *connPool) discard(addr string, conn Conn) {
	conn.Close()
	if dp := p.getPool(addr); dp != nil {
		<-dp.sem
	}
}

// close drains all idle connections and rejects further get calls.
func (p *connPool) close() error {
	select {
	case <-p.closed:
		return nil
	default:
	}
	close(p.closed)

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, dp := range p.pools {
		dp.mu.Lock()
		for _, e := range dp.idle {
			e.conn.Close()
		}
		dp.idle = nil
		dp.mu.Unlock()
	}
	return nil
}

func (p *connPool) getOrCreatePool(addr string) *devicePool {
	p.mu.RLock()
	dp, ok := p.pools[addr]
	p.mu.RUnlock()
	if ok {
		return dp
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Double-check under write lock.
	if dp, ok = p.pools[addr]; ok {
		return dp
	}
	dp = &devicePool{
		idle: make([]poolEntry, 0, p.opts.MaxIdlePerDevice),
		sem:  make(chan struct{}, p.opts.MaxPerDevice),
	}
	p.pools[addr] = dp
	return dp
}

func (p *connPool) getPool(addr string) *devicePool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pools[addr]
}

func (p *connPool) popIdle(dp *devicePool) Conn {
	dp.mu.Lock()
	defer dp.mu.Unlock()

	for len(dp.idle) > 0 {
		n := len(dp.idle) - 1
		entry := dp.idle[n]
		dp.idle = dp.idle[:n]

		if p.opts.IdleTimeout > 0 && time.Since(entry.returnedAt) > p.opts.IdleTimeout {
			entry.conn.Close()
			continue
		}
		return entry.conn
	}
	return nil
}
