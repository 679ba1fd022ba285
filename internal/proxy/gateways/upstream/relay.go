// Package upstream dials the destination of an admitted proxy request and
// relays traffic between it and the client.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/sync/errgroup"

	"github.com/haukened/rr-proxy/internal/proxy/common/log"
	"github.com/haukened/rr-proxy/internal/proxy/domain"
	"github.com/haukened/rr-proxy/internal/proxy/gateways/wire"
)

// Error message constants for consistent error handling
const (
	errNoTarget        = "no upstream target for %s request"
	errFailedToConnect = "failed to connect to %s: %w"
	errWriteFailed     = "write to %s failed: %w"
	errSocksDialer     = "socks5 dialer for %s: %w"
)

const connectEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"

// hopHeaders are removed before a request is forwarded.
var hopHeaders = []string{
	"Proxy-Connection",
	"Proxy-Authorization",
	"Proxy-Authenticate",
	"Keep-Alive",
	"Te",
	"Trailer",
	"Upgrade",
}

// DialFunc establishes an upstream connection.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Options configures a Relay.
type Options struct {
	DialTimeout time.Duration
	// SOCKS5 is an optional parent proxy (host:port) all dials go through.
	SOCKS5 string
	// Bypass lists hosts, domains (".example.com"), IPs and CIDRs dialed
	// directly even when SOCKS5 is set, comma separated.
	Bypass string
	Logger log.Logger
	Codec  wire.ProxyCodec
	// Dial replaces the proxy dialer; intended for tests.
	Dial DialFunc
}

// Relay is the Handoff used for admitted connections. CONNECT requests get a
// raw tunnel; other requests are forwarded once with Connection: close so
// that every request on a client connection passes admission.
type Relay struct {
	timeout time.Duration
	dial    DialFunc
	codec   wire.ProxyCodec
	logger  log.Logger
}

// NewRelay creates a Relay. The default dialer is direct; with SOCKS5 set,
// dials go through the parent proxy except for Bypass destinations.
func NewRelay(opts Options) (*Relay, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.GetLogger()
	}
	if opts.Codec == nil {
		opts.Codec = wire.NewHTTPCodec(opts.Logger)
	}
	if opts.Dial == nil {
		d, err := newDialer(opts.SOCKS5, opts.Bypass, opts.DialTimeout)
		if err != nil {
			return nil, err
		}
		opts.Dial = d
	}
	return &Relay{
		timeout: opts.DialTimeout,
		dial:    opts.Dial,
		codec:   opts.Codec,
		logger:  opts.Logger,
	}, nil
}

func newDialer(socks5, bypass string, timeout time.Duration) (DialFunc, error) {
	direct := &net.Dialer{Timeout: timeout}
	if socks5 == "" {
		return direct.DialContext, nil
	}
	parent, err := proxy.SOCKS5("tcp", socks5, nil, direct)
	if err != nil {
		return nil, fmt.Errorf(errSocksDialer, socks5, err)
	}
	var d proxy.Dialer = parent
	if strings.TrimSpace(bypass) != "" {
		perHost := proxy.NewPerHost(parent, direct)
		perHost.AddFromString(bypass)
		d = perHost
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(_ context.Context, network, address string) (net.Conn, error) {
		return d.Dial(network, address)
	}, nil
}

// Handoff implements transport.Handoff.
func (r *Relay) Handoff(ctx context.Context, client net.Conn, req *http.Request, attempt domain.ConnectionAttempt) error {
	target, err := targetAddress(req, attempt)
	if err != nil {
		r.respond(client, http.StatusBadRequest)
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, r.timeout)
	upstream, err := r.dial(dialCtx, "tcp", target)
	cancel()
	if err != nil {
		r.respond(client, http.StatusBadGateway)
		return fmt.Errorf(errFailedToConnect, target, err)
	}
	defer upstream.Close()

	r.logger.Debug(map[string]any{
		"client":  attempt.ClientAddr,
		"target":  target,
		"connect": attempt.IsConnect,
	}, "upstream connected")

	if attempt.IsConnect {
		if _, err := io.WriteString(client, connectEstablished); err != nil {
			return fmt.Errorf(errWriteFailed, "client", err)
		}
		return splice(ctx, client, upstream)
	}
	return forward(ctx, client, upstream, req, target)
}

// forward sends a single request upstream in origin form and streams the
// response back until the server closes.
func forward(ctx context.Context, client, upstream net.Conn, req *http.Request, target string) error {
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}
	req.Close = true
	if req.Host == "" {
		req.Host = req.URL.Host
	}
	if err := req.Write(upstream); err != nil {
		return fmt.Errorf(errWriteFailed, target, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = upstream.Close() })
	defer stop()
	if _, err := io.Copy(client, upstream); err != nil && !isClosed(err) {
		return err
	}
	return nil
}

// splice copies in both directions until each side is done, half-closing
// as each direction finishes.
func splice(ctx context.Context, client, upstream net.Conn) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := io.Copy(upstream, client)
		closeWrite(upstream)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(client, upstream)
		closeWrite(client)
		return err
	})
	stop := context.AfterFunc(gctx, func() {
		_ = client.Close()
		_ = upstream.Close()
	})
	defer stop()

	if err := g.Wait(); err != nil && !isClosed(err) {
		return err
	}
	return nil
}

func closeWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}

// targetAddress derives host:port to dial, defaulting the port from the
// request kind and scheme.
func targetAddress(req *http.Request, attempt domain.ConnectionAttempt) (string, error) {
	raw := attempt.RawHost
	if raw == "" {
		return "", fmt.Errorf(errNoTarget, attempt.Method)
	}
	port := "80"
	switch {
	case attempt.IsConnect:
		port = "443"
	case req != nil && req.URL != nil && req.URL.Scheme == "https":
		port = "443"
	}
	if host, p, err := net.SplitHostPort(raw); err == nil {
		if host == "" {
			return "", fmt.Errorf(errNoTarget, attempt.Method)
		}
		return net.JoinHostPort(host, p), nil
	}
	host := strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
	return net.JoinHostPort(host, port), nil
}

func (r *Relay) respond(client net.Conn, code int) {
	data, err := r.codec.EncodeStatus(code)
	if err != nil {
		return
	}
	if _, err := client.Write(data); err != nil {
		r.logger.Debug(map[string]any{"error": err}, "failed to write status to client")
	}
}
