package wire

import (
	"bufio"
	"io"
	"math"
	"net"
	"net/http"

	"github.com/haukened/rr-proxy/internal/proxy/domain"
)

// HeadReader bounds how many bytes may be consumed while reading a request
// head. Once the head is parsed the limit is lifted so the body or tunnel
// traffic can flow through the same buffered reader.
type HeadReader struct {
	lr  *io.LimitedReader
	br  *bufio.Reader
	max int64
}

// NewHeadReader wraps r with a maxHeaderBytes limit.
func NewHeadReader(r io.Reader, maxHeaderBytes int64) *HeadReader {
	lr := &io.LimitedReader{R: r, N: maxHeaderBytes}
	return &HeadReader{lr: lr, br: bufio.NewReader(lr), max: maxHeaderBytes}
}

// Reader is the buffered reader request parsing reads from.
func (h *HeadReader) Reader() *bufio.Reader { return h.br }

// Exhausted reports whether the head limit was hit.
func (h *HeadReader) Exhausted() bool { return h.lr.N <= 0 }

// Release lifts the limit after the head has been read.
func (h *HeadReader) Release() { h.lr.N = math.MaxInt64 }

// RequestHead is a parsed request head and the attempt it describes.
type RequestHead struct {
	Request *http.Request
	Attempt domain.ConnectionAttempt
}

// Decode reads one request head with codec, mapping a hit limit to ErrHeadTooLarge.
func (h *HeadReader) Decode(codec ProxyCodec, clientAddr string) (*RequestHead, error) {
	req, attempt, err := codec.DecodeRequest(h.br, clientAddr)
	if err != nil {
		if h.Exhausted() {
			return nil, ErrHeadTooLarge
		}
		return nil, err
	}
	h.Release()
	return &RequestHead{Request: req, Attempt: attempt}, nil
}

// BufferedConn is a net.Conn whose reads drain r before the socket, so
// bytes buffered while parsing the head are not lost.
type BufferedConn struct {
	net.Conn
	r *bufio.Reader
}

// NewBufferedConn returns conn reading through r.
func NewBufferedConn(conn net.Conn, r *bufio.Reader) *BufferedConn {
	return &BufferedConn{Conn: conn, r: r}
}

func (c *BufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

// CloseWrite half-closes the underlying connection when it supports it.
func (c *BufferedConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}
