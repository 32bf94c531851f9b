package control

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/sideband-filter/internal/filter"
)

// probeTimeout bounds the liveness probe of an existing socket file.
const probeTimeout = 250 * time.Millisecond

// Factory builds control channels. It implements filter.ChannelFactory.
type Factory struct {
	cfg    Config
	namer  Namer
	logger Logger
}

var _ filter.ChannelFactory = (*Factory)(nil)

// NewFactory creates a factory for channels described by cfg. A nil namer
// selects SymlinkNamer.
func NewFactory(cfg Config, namer Namer) (*Factory, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if namer == nil {
		namer = SymlinkNamer{}
	}
	return &Factory{
		cfg:    cfg,
		namer:  namer,
		logger: noopLogger{},
	}, nil
}

// SetLogger sets the logger for the factory and every channel it creates.
func (f *Factory) SetLogger(logger Logger) {
	f.logger = logger
}

// Config returns the effective channel configuration.
func (f *Factory) Config() Config {
	return f.cfg
}

// Create builds, publishes and activates a new channel whose requests are
// answered by h. On failure every partially acquired resource is released.
//
// Create runs inside the registry's critical section; it performs only local
// filesystem and socket operations.
func (f *Factory) Create(h filter.QueryHandler) (filter.Channel, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: query handler is required", ErrInvalidConfig)
	}

	c := &Channel{
		id:     uuid.NewString(),
		cfg:    f.cfg,
		namer:  f.namer,
		logger: f.logger,
		done:   make(chan struct{}),
	}
	f.logger.Info("creating control device", "channel_id", c.id, "socket", f.cfg.SocketPath)

	if err := f.build(c, h); err != nil {
		c.state.Store(int32(StateDeleted))
		c.release()
		return nil, fmt.Errorf("creating control channel: %w", err)
	}

	c.state.Store(int32(StateActive))
	f.logger.Info("control device ready",
		"channel_id", c.id,
		"socket", f.cfg.SocketPath,
		"alias", f.cfg.AliasPath,
		"exclusive", f.cfg.Exclusive,
	)
	return c, nil
}

// build acquires the channel's resources in order, recording each on c as
// soon as it is held.
func (f *Factory) build(c *Channel, h filter.QueryHandler) error {
	ln, err := listenUnix(f.cfg.SocketPath, f.cfg.socketMode())
	if err != nil {
		return fmt.Errorf("assigning name: %w", err)
	}
	c.listener = ln

	c.queue = newQueue(c.id, h, f.cfg.QueueDepth, f.logger)
	c.queue.start(&c.wg)

	if f.cfg.AliasPath != "" {
		if err := f.namer.Publish(f.cfg.AliasPath, f.cfg.SocketPath); err != nil {
			return fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}
		c.aliasPublished = true
	}

	c.server = &http.Server{
		Handler:           c.routes(),
		ReadHeaderTimeout: f.cfg.RequestTimeout,
		WriteTimeout:      2 * f.cfg.RequestTimeout,
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			c.logger.Error("control server error", "channel_id", c.id, "error", err)
		}
	}()

	return nil
}

// listenUnix binds path with the given permissions, refusing if another
// live endpoint holds it and clearing a stale socket file left behind by a
// crashed process.
//
// The socket is bound inside a private 0700 staging directory, given its
// final mode there and only then linked to path, so it is never reachable
// with wider permissions.
func listenUnix(path string, mode fs.FileMode) (net.Listener, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}

	fi, err := os.Lstat(path)
	switch {
	case err == nil:
		if fi.Mode()&fs.ModeSocket == 0 {
			return nil, fmt.Errorf("%w: %s exists and is not a socket", ErrNameInUse, path)
		}
		if conn, dialErr := net.DialTimeout("unix", path, probeTimeout); dialErr == nil {
			conn.Close()
			return nil, fmt.Errorf("%w: %s", ErrNameInUse, path)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("removing stale socket: %w", err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("checking socket path: %w", err)
	}

	stage, err := os.MkdirTemp(dir, ".sb")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(stage)

	staged := filepath.Join(stage, "s")
	ln, err := net.Listen("unix", staged)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	// The staged name is dropped below; the channel removes path itself.
	ln.(*net.UnixListener).SetUnlinkOnClose(false)

	if err := os.Chmod(staged, mode); err != nil {
		ln.Close()
		return nil, fmt.Errorf("configuring access: %w", err)
	}
	if err := os.Link(staged, path); err != nil {
		ln.Close()
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrNameInUse, path)
		}
		return nil, fmt.Errorf("publishing socket %s: %w", path, err)
	}
	return ln, nil
}
