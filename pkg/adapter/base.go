package adapter

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/pebld/internal/logger"
)

// ConnectionHandler serves one accepted connection. Serve blocks until the
// connection is finished or ctx is cancelled, and must close the connection
// before returning.
type ConnectionHandler interface {
	Serve(ctx context.Context)
}

// ConnectionFactory creates protocol-specific handlers for accepted TCP
// connections. id is unique per accepted connection.
type ConnectionFactory interface {
	NewConnection(conn net.Conn, id string) ConnectionHandler
}

// BaseConfig holds the TCP lifecycle settings shared by adapters.
type BaseConfig struct {
	// BindAddress is the IP address to bind to.
	// Empty string or "0.0.0.0" binds to all interfaces.
	BindAddress string

	// Port is the TCP port to listen on. 0 picks a free port.
	Port int

	// MaxConnections limits concurrently served connections.
	// 0 means unlimited; 1 serves clients strictly one after another.
	MaxConnections int

	// ShutdownTimeout is the maximum duration to wait for active connections
	// to complete during graceful shutdown.
	ShutdownTimeout time.Duration

	// MetricsLogInterval is the interval at which to log server metrics.
	// 0 disables periodic metrics logging.
	MetricsLogInterval time.Duration
}

// MetricsRecorder records connection lifecycle metrics. nil disables them.
type MetricsRecorder interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForceClosed()
	SetActiveConnections(count int32)
}

// BaseAdapter runs a TCP accept loop, dispatching every accepted connection
// to its own goroutine, and implements graceful shutdown:
//
//  1. stop accepting and close the listener
//  2. interrupt blocked reads through a short read deadline
//  3. wait up to ShutdownTimeout for handlers to return
//  4. force-close whatever is left
//
// All exported methods are safe for concurrent use.
type BaseAdapter struct {
	Config BaseConfig

	// Metrics is optional.
	Metrics MetricsRecorder

	protocolName string

	listener   net.Listener
	listenerMu sync.RWMutex

	activeConns  sync.WaitGroup
	shutdownOnce sync.Once

	// Shutdown is closed once shutdown has been initiated.
	Shutdown chan struct{}

	// ConnCount is the number of connections being served.
	ConnCount atomic.Int32

	// connSemaphore is nil when MaxConnections is 0.
	connSemaphore chan struct{}

	// ShutdownCtx is passed to every handler and cancelled on shutdown.
	ShutdownCtx    context.Context
	CancelRequests context.CancelFunc

	// ActiveConnections maps connection id to net.Conn for forced closure.
	ActiveConnections sync.Map

	// ListenerReady is closed when the listener accepts connections, or
	// when creating it failed.
	ListenerReady chan struct{}
	readyOnce     sync.Once
}

// NewBaseAdapter creates a stopped BaseAdapter. Call ServeWithFactory to start.
func NewBaseAdapter(config BaseConfig, protocol string) *BaseAdapter {
	var sem chan struct{}
	if config.MaxConnections > 0 {
		sem = make(chan struct{}, config.MaxConnections)
		logger.Debug(protocol+" connection limit", "max_connections", config.MaxConnections)
	} else {
		logger.Debug(protocol+" connection limit", "max_connections", "unlimited")
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())

	return &BaseAdapter{
		Config:         config,
		protocolName:   protocol,
		Shutdown:       make(chan struct{}),
		connSemaphore:  sem,
		ShutdownCtx:    shutdownCtx,
		CancelRequests: cancel,
		ListenerReady:  make(chan struct{}),
	}
}

// Listen binds the listening socket with SO_REUSEADDR.
func (b *BaseAdapter) Listen(ctx context.Context) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	addr := net.JoinHostPort(b.Config.BindAddress, fmt.Sprint(b.Config.Port))

	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s listener on %s: %w", b.protocolName, addr, err)
	}
	return l, nil
}

// ServeWithFactory runs the accept loop until ctx is cancelled or Stop is
// called. It returns nil after a graceful shutdown and an error when the
// listener cannot be created or connections had to be force-closed.
func (b *BaseAdapter) ServeWithFactory(ctx context.Context, factory ConnectionFactory) error {
	listener, err := b.Listen(ctx)
	if err != nil {
		b.readyOnce.Do(func() { close(b.ListenerReady) })
		return err
	}

	b.listenerMu.Lock()
	b.listener = listener
	b.listenerMu.Unlock()
	b.readyOnce.Do(func() { close(b.ListenerReady) })

	logger.Info(b.protocolName+" server listening", logger.KeyAddress, listener.Addr().String())

	go func() {
		select {
		case <-ctx.Done():
			logger.Info(b.protocolName+" shutdown signal received", logger.KeyError, ctx.Err())
			b.initiateShutdown()
		case <-b.Shutdown:
		}
	}()

	if b.Config.MetricsLogInterval > 0 {
		go b.logMetrics(ctx)
	}

	for {
		if b.connSemaphore != nil {
			select {
			case b.connSemaphore <- struct{}{}:
			case <-b.Shutdown:
				return b.gracefulShutdown()
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			b.release()

			select {
			case <-b.Shutdown:
				return b.gracefulShutdown()
			default:
				logger.Debug("Error accepting "+b.protocolName+" connection", logger.KeyError, err)
				continue
			}
		}

		b.track(tcpConn, factory)
	}
}

// track registers an accepted connection and serves it on its own goroutine.
func (b *BaseAdapter) track(tcpConn net.Conn, factory ConnectionFactory) {
	id := uuid.NewString()

	b.activeConns.Add(1)
	active := b.ConnCount.Add(1)
	b.ActiveConnections.Store(id, tcpConn)

	if b.Metrics != nil {
		b.Metrics.RecordConnectionAccepted()
		b.Metrics.SetActiveConnections(active)
	}
	logger.Debug(b.protocolName+" connection accepted",
		logger.KeyAddress, tcpConn.RemoteAddr().String(), logger.KeyConnectionID, id, logger.KeyActive, active)

	handler := factory.NewConnection(tcpConn, id)

	go func() {
		defer func() {
			b.ActiveConnections.Delete(id)
			b.activeConns.Done()
			remaining := b.ConnCount.Add(-1)
			b.release()

			if b.Metrics != nil {
				b.Metrics.RecordConnectionClosed()
				b.Metrics.SetActiveConnections(remaining)
			}
			logger.Debug(b.protocolName+" connection closed",
				logger.KeyConnectionID, id, logger.KeyActive, remaining)
		}()

		handler.Serve(b.ShutdownCtx)
	}()
}

func (b *BaseAdapter) release() {
	if b.connSemaphore != nil {
		<-b.connSemaphore
	}
}

// initiateShutdown closes the listener, interrupts blocked reads and cancels
// ShutdownCtx. Safe to call multiple times.
func (b *BaseAdapter) initiateShutdown() {
	b.shutdownOnce.Do(func() {
		logger.Debug(b.protocolName + " shutdown initiated")
		close(b.Shutdown)

		b.listenerMu.Lock()
		if b.listener != nil {
			if err := b.listener.Close(); err != nil {
				logger.Debug("Error closing "+b.protocolName+" listener", logger.KeyError, err)
			}
		}
		b.listenerMu.Unlock()

		b.interruptBlockingReads()
		b.CancelRequests()
	})
}

// interruptBlockingReads sets a short deadline on all active connections so
// handlers blocked in a read observe the shutdown.
func (b *BaseAdapter) interruptBlockingReads() {
	deadline := time.Now().Add(100 * time.Millisecond)

	b.ActiveConnections.Range(func(key, value any) bool {
		if conn, ok := value.(net.Conn); ok {
			if err := conn.SetReadDeadline(deadline); err != nil {
				logger.Debug("Error setting shutdown deadline on connection",
					logger.KeyConnectionID, key, logger.KeyError, err)
			}
		}
		return true
	})
}

// waitIdle returns a channel closed once every handler has returned.
func (b *BaseAdapter) waitIdle() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		b.activeConns.Wait()
		close(done)
	}()
	return done
}

// gracefulShutdown waits up to ShutdownTimeout for handlers, then
// force-closes the remaining connections.
func (b *BaseAdapter) gracefulShutdown() error {
	logger.Info(b.protocolName+" graceful shutdown: waiting for active connections",
		logger.KeyActive, b.ConnCount.Load(), "timeout", b.Config.ShutdownTimeout)

	select {
	case <-b.waitIdle():
		logger.Info(b.protocolName + " graceful shutdown complete")
		return nil

	case <-time.After(b.Config.ShutdownTimeout):
		remaining := b.ConnCount.Load()
		logger.Warn(b.protocolName+" shutdown timeout exceeded, forcing closure",
			logger.KeyActive, remaining, "timeout", b.Config.ShutdownTimeout)
		b.forceCloseConnections()
		return fmt.Errorf("%s shutdown timeout: %d connections force-closed", b.protocolName, remaining)
	}
}

func (b *BaseAdapter) forceCloseConnections() {
	closed := 0
	b.ActiveConnections.Range(func(key, value any) bool {
		conn := value.(net.Conn)
		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection", logger.KeyConnectionID, key, logger.KeyError, err)
			return true
		}
		closed++
		if b.Metrics != nil {
			b.Metrics.RecordConnectionForceClosed()
		}
		return true
	})

	if closed > 0 {
		logger.Info("Force-closed "+b.protocolName+" connections", "count", closed)
	}
}

// Stop initiates graceful shutdown and waits for active connections until
// ctx is done.
func (b *BaseAdapter) Stop(ctx context.Context) error {
	b.initiateShutdown()

	select {
	case <-b.waitIdle():
		return nil
	case <-ctx.Done():
		logger.Warn(b.protocolName+" shutdown context cancelled",
			logger.KeyActive, b.ConnCount.Load(), logger.KeyError, ctx.Err())
		b.forceCloseConnections()
		return ctx.Err()
	}
}

func (b *BaseAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(b.Config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.Shutdown:
			return
		case <-ticker.C:
			logger.Info(b.protocolName+" metrics", "active_connections", b.ConnCount.Load())
		}
	}
}

// GetActiveConnections returns the current number of active connections.
func (b *BaseAdapter) GetActiveConnections() int32 {
	return b.ConnCount.Load()
}

// GetListenerAddr returns the address the server is listening on.
// It blocks until the listener is ready and returns "" if listening failed.
func (b *BaseAdapter) GetListenerAddr() string {
	<-b.ListenerReady

	b.listenerMu.RLock()
	defer b.listenerMu.RUnlock()
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Port returns the configured TCP port.
func (b *BaseAdapter) Port() int {
	return b.Config.Port
}

// Protocol returns the human-readable protocol name.
func (b *BaseAdapter) Protocol() string {
	return b.protocolName
}
