package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/haukened/rr-proxy/internal/proxy/common/log"
	"github.com/haukened/rr-proxy/internal/proxy/gateways/wire"
	"github.com/haukened/rr-proxy/internal/proxy/services/admission"
)

// ErrAlreadyRunning is returned by Start on a running transport.
var ErrAlreadyRunning = errors.New("transport already running")

const (
	defaultReadTimeout    = 10 * time.Second
	defaultMaxHeaderBytes = 16 << 10
	acceptBackoff         = 5 * time.Millisecond
	lingerTimeout         = 500 * time.Millisecond
	lingerMaxBytes        = 256 << 10
	// maxRefusals bounds how many over-capacity clients are answered with a
	// 503 at once; beyond that they are closed without a response.
	maxRefusals = 32
)

// Options configures a TCPTransport.
type Options struct {
	Address        string
	ReadTimeout    time.Duration // bound on reading the request head
	MaxHeaderBytes int64
	MaxConnections int64 // 0 means unlimited
	Codec          wire.ProxyCodec
	Handoff        Handoff
	Logger         log.Logger
}

// TCPTransport implements ServerTransport for HTTP/1.x forward proxying over TCP.
// Each accepted connection runs in its own goroutine: the head is read under
// a deadline, the policy decides, and only then is the Handoff invoked.
type TCPTransport struct {
	addr           string
	readTimeout    time.Duration
	maxHeaderBytes int64
	codec          wire.ProxyCodec
	handoff        Handoff
	logger         log.Logger
	sem            *semaphore.Weighted
	refusals       *semaphore.Weighted

	// Synchronization for graceful shutdown
	mu       sync.Mutex
	running  bool
	listener net.Listener
	conns    map[net.Conn]struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewTCPTransport creates a new TCP transport instance.
func NewTCPTransport(opts Options) *TCPTransport {
	t := &TCPTransport{
		addr:           opts.Address,
		readTimeout:    opts.ReadTimeout,
		maxHeaderBytes: opts.MaxHeaderBytes,
		codec:          opts.Codec,
		handoff:        opts.Handoff,
		logger:         opts.Logger,
		conns:          make(map[net.Conn]struct{}),
	}
	if t.logger == nil {
		t.logger = log.GetLogger()
	}
	if t.codec == nil {
		t.codec = wire.NewHTTPCodec(t.logger)
	}
	if t.readTimeout <= 0 {
		t.readTimeout = defaultReadTimeout
	}
	if t.maxHeaderBytes <= 0 {
		t.maxHeaderBytes = defaultMaxHeaderBytes
	}
	if opts.MaxConnections > 0 {
		t.sem = semaphore.NewWeighted(opts.MaxConnections)
		t.refusals = semaphore.NewWeighted(maxRefusals)
	}
	return t
}

// Start binds the TCP listener and starts the accept loop. Cancelling ctx
// has the same effect as Stop.
func (t *TCPTransport) Start(ctx context.Context, policy admission.Policy) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return ErrAlreadyRunning
	}
	if policy == nil {
		return errors.New("transport requires an admission policy")
	}

	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("failed to bind TCP listener on %s: %w", t.addr, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.listener = ln
	t.cancel = cancel
	t.running = true

	t.logger.Info(map[string]any{
		"transport": "tcp",
		"address":   ln.Addr().String(),
	}, "proxy transport started")

	t.wg.Add(1)
	go t.acceptLoop(runCtx, ln, policy)

	go func() {
		<-runCtx.Done()
		_ = t.Stop()
	}()
	return nil
}

// Stop closes the listener and all tracked connections, which aborts any
// pending head reads, then waits for connection handlers to finish.
func (t *TCPTransport) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		// a concurrent Stop may still be draining handlers
		t.wg.Wait()
		return nil
	}
	t.running = false

	closeErr := t.listener.Close()
	if closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		t.logger.Warn(map[string]any{"error": closeErr}, "error closing TCP listener")
	} else {
		closeErr = nil
	}
	for c := range t.conns {
		_ = c.Close()
	}
	t.cancel()
	t.mu.Unlock()

	t.wg.Wait()

	t.logger.Info(map[string]any{
		"transport": "tcp",
		"address":   t.Address(),
	}, "proxy transport stopped")
	return closeErr
}

// Address returns the bound address once started, else the configured one.
func (t *TCPTransport) Address() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.addr
}

func (t *TCPTransport) acceptLoop(ctx context.Context, ln net.Listener, policy admission.Policy) {
	defer t.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !t.isRunning() {
				t.logger.Debug(nil, "TCP accept loop stopping")
				return
			}
			t.logger.Warn(map[string]any{"error": err}, "failed to accept connection")
			time.Sleep(acceptBackoff)
			continue
		}

		overloaded := t.sem != nil && !t.sem.TryAcquire(1)
		if overloaded && !t.refusals.TryAcquire(1) {
			t.logger.Debug(map[string]any{"client": conn.RemoteAddr().String()}, "connection limit reached, dropping client")
			_ = conn.Close()
			continue
		}
		if !t.track(conn) {
			_ = conn.Close()
			switch {
			case overloaded:
				t.refusals.Release(1)
			case t.sem != nil:
				t.sem.Release(1)
			}
			return
		}
		if overloaded {
			go t.refuse(conn)
			continue
		}
		go t.handleConn(ctx, conn, policy)
	}
}

// track registers conn for shutdown. It fails once Stop has begun.
func (t *TCPTransport) track(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return false
	}
	t.conns[conn] = struct{}{}
	t.wg.Add(1)
	return true
}

func (t *TCPTransport) untrack(conn net.Conn) {
	_ = conn.Close()
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
	t.wg.Done()
}

func (t *TCPTransport) isRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// refuse answers an over-capacity connection with 503 and closes it. It
// holds a refusal slot until the connection is gone.
func (t *TCPTransport) refuse(conn net.Conn) {
	defer t.refusals.Release(1)
	defer t.untrack(conn)
	t.logger.Warn(map[string]any{"client": conn.RemoteAddr().String()}, "connection limit reached, refusing client")
	t.writeStatus(conn, http.StatusServiceUnavailable)
}

// handleConn runs one connection through head extraction and admission.
// Nothing is dialed before the policy has returned Allow.
func (t *TCPTransport) handleConn(ctx context.Context, conn net.Conn, policy admission.Policy) {
	defer t.untrack(conn)
	if t.sem != nil {
		defer t.sem.Release(1)
	}
	client := conn.RemoteAddr().String()

	_ = conn.SetReadDeadline(time.Now().Add(t.readTimeout))
	hr := wire.NewHeadReader(conn, t.maxHeaderBytes)
	head, err := hr.Decode(t.codec, client)
	if err != nil {
		t.handleDecodeError(conn, client, err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	if !head.Attempt.HasHost() {
		t.logger.Debug(map[string]any{
			"client":   client,
			"raw_host": head.Attempt.RawHost,
		}, "request target host is unparsable")
	}

	verdict := policy.Admit(ctx, head.Attempt.RawHost)
	if verdict.IsRejected() {
		data, err := t.codec.EncodeVerdict(verdict)
		if err != nil {
			t.logger.Error(map[string]any{"client": client, "error": err}, "failed to encode rejection")
			return
		}
		t.write(conn, data)
		t.logger.Debug(map[string]any{
			"client": client,
			"host":   verdict.Host,
			"entry":  verdict.MatchedEntry,
		}, "rejected connection")
		return
	}

	if t.handoff == nil {
		t.writeStatus(conn, http.StatusBadGateway)
		return
	}
	if err := t.handoff.Handoff(ctx, wire.NewBufferedConn(conn, hr.Reader()), head.Request, head.Attempt); err != nil {
		t.logger.Debug(map[string]any{
			"client": client,
			"host":   head.Attempt.Host,
			"error":  err,
		}, "handoff ended with error")
	}
}

func (t *TCPTransport) handleDecodeError(conn net.Conn, client string, err error) {
	switch {
	case errors.Is(err, io.EOF):
		t.logger.Debug(map[string]any{"client": client}, "client closed before sending a request")
	case errors.Is(err, os.ErrDeadlineExceeded):
		t.logger.Debug(map[string]any{"client": client}, "timed out reading request head")
	case errors.Is(err, net.ErrClosed):
		// transport stopping
	case errors.Is(err, wire.ErrHeadTooLarge):
		t.logger.Warn(map[string]any{"client": client}, "request head too large")
		t.writeStatus(conn, http.StatusRequestHeaderFieldsTooLarge)
	default:
		t.logger.Warn(map[string]any{"client": client, "error": err}, "malformed proxy request")
		t.writeStatus(conn, http.StatusBadRequest)
	}
}

func (t *TCPTransport) writeStatus(conn net.Conn, code int) {
	data, err := t.codec.EncodeStatus(code)
	if err != nil {
		t.logger.Error(map[string]any{"code": code, "error": err}, "failed to encode status response")
		return
	}
	t.write(conn, data)
}

// write sends a final response and lingers so unread request bytes do not
// turn the close into a reset that discards the response. Best effort: a
// client that went away is only logged.
func (t *TCPTransport) write(conn net.Conn, data []byte) {
	_ = conn.SetWriteDeadline(time.Now().Add(t.readTimeout))
	if _, err := conn.Write(data); err != nil {
		t.logger.Debug(map[string]any{
			"client": conn.RemoteAddr().String(),
			"error":  err,
		}, "failed to write response to client")
		return
	}
	lingerClose(conn)
}

func lingerClose(conn net.Conn) {
	cw, ok := conn.(interface{ CloseWrite() error })
	if !ok {
		return
	}
	if err := cw.CloseWrite(); err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(lingerTimeout))
	_, _ = io.Copy(io.Discard, io.LimitReader(conn, lingerMaxBytes))
}

var _ ServerTransport = (*TCPTransport)(nil)
