package wire

import (
	"bufio"
	"errors"
	"net/http"

	"github.com/haukened/rr-proxy/internal/proxy/domain"
)

var (
	// ErrMalformedRequest means the request head could not be parsed.
	ErrMalformedRequest = errors.New("malformed proxy request")
	// ErrHeadTooLarge means the request head exceeded the configured limit.
	ErrHeadTooLarge = errors.New("proxy request head too large")
)

type ProxyCodec interface {
	// Inbound Functions
	// DecodeRequest reads one request head and describes the connection attempt.
	// The request body, if any, is left unread on br.
	DecodeRequest(br *bufio.Reader, clientAddr string) (*http.Request, domain.ConnectionAttempt, error)

	// Outbound Functions
	// These render complete responses that are written before the connection closes.
	EncodeVerdict(v domain.Verdict) ([]byte, error)
	EncodeStatus(code int) ([]byte, error)
}
