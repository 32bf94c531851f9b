package control

import (
	"errors"
	"io/fs"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/sideband-filter/internal/filter"
)

// Logger defines the logging interface used by the control package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Channel is one control channel instance. It is created by Factory.Create
// and is never reused after Delete.
type Channel struct {
	id     string
	cfg    Config
	namer  Namer
	logger Logger
	state  atomic.Int32

	// Resources in acquisition order. Each is nil until acquired.
	listener       net.Listener
	queue          *queue
	aliasPublished bool
	server         *http.Server

	wg         sync.WaitGroup // serve goroutine and queue worker
	deleteOnce sync.Once
	done       chan struct{}
}

var _ filter.Channel = (*Channel)(nil)

// ID returns the channel's unique identity.
func (c *Channel) ID() string {
	return c.id
}

// State returns the channel's current lifecycle state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// SocketPath returns the path the channel listens on.
func (c *Channel) SocketPath() string {
	return c.cfg.SocketPath
}

// Stats returns the number of requests completed and rejected as queue-full.
func (c *Channel) Stats() (processed, rejected uint64) {
	if c.queue == nil {
		return 0, 0
	}
	return c.queue.processed.Load(), c.queue.rejected.Load()
}

// Delete stops the channel and releases its name, alias and queue. It is
// idempotent and never waits for in-flight requests; the returned channel is
// closed once the serving goroutine and the queue worker have exited.
func (c *Channel) Delete() <-chan struct{} {
	c.deleteOnce.Do(func() {
		c.state.Store(int32(StateDeleted))
		c.logger.Info("deleting control device", "channel_id", c.id, "socket", c.cfg.SocketPath)
		c.release()
		go func() {
			c.wg.Wait()
			close(c.done)
			c.logger.Debug("control channel teardown complete", "channel_id", c.id)
		}()
	})
	return c.done
}

// release frees every acquired resource in reverse acquisition order.
func (c *Channel) release() {
	if c.server != nil {
		// Close, not Shutdown: handlers blocked on the registry must not
		// be waited for.
		if err := c.server.Close(); err != nil {
			c.logger.Warn("closing control server", "channel_id", c.id, "error", err)
		}
	}

	if c.aliasPublished {
		if err := c.namer.Unpublish(c.cfg.AliasPath); err != nil {
			c.logger.Warn("withdrawing control channel alias", "alias", c.cfg.AliasPath, "error", err)
		}
		c.aliasPublished = false
	}

	if c.queue != nil {
		c.queue.stop()
	}

	if c.listener != nil {
		//nolint:errcheck // already closed by the server in the common case
		c.listener.Close()
		if err := os.Remove(c.cfg.SocketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("removing control socket", "socket", c.cfg.SocketPath, "error", err)
		}
	}
}
