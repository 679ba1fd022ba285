// Package transport owns the proxy's listening socket and the life of each
// accepted connection up to the admission checkpoint. Allowed connections
// are handed to a Handoff; rejected ones are answered and closed.
package transport

import (
	"context"
	"net"
	"net/http"

	"github.com/haukened/rr-proxy/internal/proxy/domain"
	"github.com/haukened/rr-proxy/internal/proxy/services/admission"
)

// ServerTransport is the contract the application drives.
type ServerTransport interface {
	// Start binds the listener and begins accepting connections. It returns
	// once the listener is bound; bind failures are returned directly.
	Start(ctx context.Context, policy admission.Policy) error

	// Stop closes the listener and every open connection and waits for
	// connection handlers to return.
	Stop() error

	// Address returns the bound address (the configured one before Start).
	Address() string
}

// Handoff takes over an admitted connection. client reads any bytes that
// were buffered while the head was parsed. The transport closes client
// after Handoff returns.
type Handoff interface {
	Handoff(ctx context.Context, client net.Conn, req *http.Request, attempt domain.ConnectionAttempt) error
}

// HandoffFunc adapts a function to Handoff.
type HandoffFunc func(ctx context.Context, client net.Conn, req *http.Request, attempt domain.ConnectionAttempt) error

func (f HandoffFunc) Handoff(ctx context.Context, client net.Conn, req *http.Request, attempt domain.ConnectionAttempt) error {
	return f(ctx, client, req, attempt)
}
