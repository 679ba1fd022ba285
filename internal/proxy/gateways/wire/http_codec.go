// Package wire converts between the HTTP/1.x proxy wire format and domain
// objects: it parses request heads into ConnectionAttempts and renders
// verdicts and protocol errors as responses.
package wire

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/haukened/rr-proxy/internal/proxy/common/log"
	"github.com/haukened/rr-proxy/internal/proxy/common/utils"
	"github.com/haukened/rr-proxy/internal/proxy/domain"
)

// httpCodec implements ProxyCodec for HTTP/1.0 and HTTP/1.1 forward proxies.
type httpCodec struct {
	logger log.Logger
}

// NewHTTPCodec returns a ProxyCodec for HTTP/1.x.
func NewHTTPCodec(logger log.Logger) *httpCodec {
	return &httpCodec{logger: logger}
}

// DecodeRequest parses the request line and headers. The target host comes
// from the CONNECT authority or the absolute-form URL, falling back to the
// Host header for origin-form requests.
func (c *httpCodec) DecodeRequest(br *bufio.Reader, clientAddr string) (*http.Request, domain.ConnectionAttempt, error) {
	req, err := http.ReadRequest(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.ConnectionAttempt{}, err
		}
		return nil, domain.ConnectionAttempt{}, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	if req.ProtoMajor != 1 {
		return nil, domain.ConnectionAttempt{}, fmt.Errorf("%w: unsupported protocol %s", ErrMalformedRequest, req.Proto)
	}

	raw := req.Host
	if req.URL != nil && req.URL.Host != "" {
		raw = req.URL.Host
	}
	attempt := domain.ConnectionAttempt{
		RawHost:    raw,
		Host:       utils.CanonicalHost(raw),
		Method:     req.Method,
		Target:     req.RequestURI,
		IsConnect:  req.Method == http.MethodConnect,
		ClientAddr: clientAddr,
	}
	c.logger.Debug(map[string]any{
		"client":  clientAddr,
		"method":  attempt.Method,
		"target":  attempt.Target,
		"host":    attempt.Host,
		"connect": attempt.IsConnect,
	}, "decoded proxy request")
	return req, attempt, nil
}

// EncodeVerdict renders a rejection as a complete HTTP/1.1 response that
// closes the connection. Allow verdicts have no wire form.
func (c *httpCodec) EncodeVerdict(v domain.Verdict) ([]byte, error) {
	if !v.IsRejected() {
		return nil, fmt.Errorf("cannot encode %s verdict", v.Kind)
	}
	h := make(http.Header, len(v.Headers))
	for _, hdr := range v.Headers {
		h.Add(hdr.Name, hdr.Value)
	}
	return encode(v.StatusCode, v.Reason, h, v.Body)
}

// EncodeStatus renders a bare protocol-level response such as 400 or 502.
func (c *httpCodec) EncodeStatus(code int) ([]byte, error) {
	text := http.StatusText(code)
	if text == "" {
		return nil, fmt.Errorf("unknown status code %d", code)
	}
	h := http.Header{"Content-Type": {"text/plain; charset=utf-8"}}
	return encode(code, text, h, text+"\n")
}

func encode(code int, reason string, h http.Header, body string) ([]byte, error) {
	resp := &http.Response{
		Status:        strconv.Itoa(code) + " " + reason,
		StatusCode:    code,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Close:         true,
	}
	var buf bytes.Buffer
	if err := resp.Write(&buf); err != nil {
		return nil, fmt.Errorf("encode %d response: %w", code, err)
	}
	return buf.Bytes(), nil
}

var _ ProxyCodec = (*httpCodec)(nil)
