package control

import (
	"fmt"
	"os"
	"time"
)

// Default channel settings.
const (
	defaultQueueDepth     = 64
	defaultRequestTimeout = 5 * time.Second

	// Socket modes standing in for the channel's access descriptor.
	sharedSocketMode    os.FileMode = 0o666
	exclusiveSocketMode os.FileMode = 0o600
)

// Config holds control channel settings.
type Config struct {
	// SocketPath is the channel's name: the Unix socket path it listens on.
	SocketPath string

	// AliasPath is the symbolic alias published for SocketPath.
	// Empty disables alias publication.
	AliasPath string

	// Exclusive restricts the socket to its owner.
	Exclusive bool

	// QueueDepth bounds the number of requests waiting for the worker.
	QueueDepth int

	// RequestTimeout bounds how long a request may wait for completion.
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueDepth <= 0 {
		c.QueueDepth = defaultQueueDepth
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return c
}

func (c Config) validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("%w: socket path is required", ErrInvalidConfig)
	}
	if c.AliasPath != "" && c.AliasPath == c.SocketPath {
		return fmt.Errorf("%w: alias path must differ from socket path", ErrInvalidConfig)
	}
	return nil
}

func (c Config) socketMode() os.FileMode {
	if c.Exclusive {
		return exclusiveSocketMode
	}
	return sharedSocketMode
}
