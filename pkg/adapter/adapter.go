package adapter

import "context"

// Adapter is a network front end managed by the server process.
//
// Lifecycle:
//  1. Creation: the adapter is created with its configuration
//  2. Startup: Serve() starts listening and blocks until shutdown
//  3. Shutdown: Stop() drains active connections with a timeout
//
// Stop may be called concurrently with Serve and more than once.
type Adapter interface {
	// Serve starts the server and blocks until ctx is cancelled or an
	// unrecoverable error occurs. Cancellation triggers graceful shutdown;
	// Serve then returns nil, or an error if connections had to be
	// force-closed.
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown and waits until active connections
	// finish or ctx expires.
	Stop(ctx context.Context) error

	// Protocol returns the human-readable protocol name for logging and metrics.
	Protocol() string

	// Port returns the configured TCP port.
	Port() int
}
