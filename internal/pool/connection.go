package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/oarkflow/smpp34/pkg/smpp"
)

// Errors
var (
	ErrPoolClosed    = errors.New("pool is closed")
	ErrNoBoundClient = errors.New("no bound client in pool")
)

// Client is the part of *smpp.Client the pool drives
type Client interface {
	Bind(ctx context.Context) (smpp.LoginResult, error)
	IsBound() bool
	SendMessage(ctx context.Context, from, to, text string) (smpp.DeliveryResult, error)
	SendKeepAlive(ctx context.Context) bool
	Unbind(ctx context.Context) error
	Close() error
}

// ClientFactory creates the client in slot index
type ClientFactory func(index int) Client

// PoolConfig defines the configuration for a client pool
type PoolConfig struct {
	Size int // number of sessions kept bound
}

// DefaultPoolConfig returns a single-session pool
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Size: 1}
}

// ClientPool spreads submissions over several bound sessions to one SMSC
type ClientPool struct {
	clients []Client
	next    atomic.Uint32

	mu     sync.Mutex
	closed bool
}

// NewClientPool creates Size clients from factory. Nothing is dialed until Bind.
func NewClientPool(config PoolConfig, factory ClientFactory) *ClientPool {
	if config.Size <= 0 {
		config.Size = 1
	}
	p := &ClientPool{clients: make([]Client, config.Size)}
	for i := range p.clients {
		p.clients[i] = factory(i)
	}
	return p
}

// Bind binds every client that is not bound yet, concurrently
func (p *ClientPool) Bind(ctx context.Context) error {
	if p.isClosed() {
		return ErrPoolClosed
	}
	var g errgroup.Group
	for i, c := range p.clients {
		if c.IsBound() {
			continue
		}
		g.Go(func() error {
			result, err := c.Bind(ctx)
			if err != nil {
				return fmt.Errorf("client %d: %w", i, err)
			}
			if result != smpp.LoginOK {
				return fmt.Errorf("client %d: bind refused: %s", i, result)
			}
			return nil
		})
	}
	return g.Wait()
}

// SendMessage submits through the next bound client in round-robin order
func (p *ClientPool) SendMessage(ctx context.Context, from, to, text string) (smpp.DeliveryResult, error) {
	c, err := p.pick()
	if err != nil {
		return smpp.DeliveryUnknownError, err
	}
	return c.SendMessage(ctx, from, to, text)
}

func (p *ClientPool) pick() (Client, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}
	n := uint32(len(p.clients))
	start := p.next.Add(1) - 1
	for i := uint32(0); i < n; i++ {
		c := p.clients[(start+i)%n]
		if c.IsBound() {
			return c, nil
		}
	}
	return nil, ErrNoBoundClient
}

// KeepAlive probes every bound client and returns how many answered
func (p *ClientPool) KeepAlive(ctx context.Context) int {
	var alive atomic.Int32
	var wg sync.WaitGroup
	for _, c := range p.clients {
		if !c.IsBound() {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.SendKeepAlive(ctx) {
				alive.Add(1)
			}
		}()
	}
	wg.Wait()
	return int(alive.Load())
}

// Close unbinds bound clients and closes all of them
func (p *ClientPool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for _, c := range p.clients {
		if c.IsBound() {
			if err := c.Unbind(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *ClientPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Stats returns pool statistics
func (p *ClientPool) Stats() PoolStats {
	stats := PoolStats{TotalClients: len(p.clients)}
	for _, c := range p.clients {
		if c.IsBound() {
			stats.BoundClients++
		}
	}
	return stats
}

// PoolStats represents pool statistics
type PoolStats struct {
	TotalClients int
	BoundClients int
}

var _ Client = (*smpp.Client)(nil)
