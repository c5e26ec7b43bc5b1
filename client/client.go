// Package client implements the HTTP-over-unix-socket control client for a
// single firecracker API endpoint. Every failure is normalized into the
// errdefs taxonomy; no transport error type escapes to callers.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/projecteru2/pupa/errdefs"
)

const (
	// requestTimeout is the per-request timeout for control endpoint calls.
	requestTimeout = 30 * time.Second
	// dialTimeout bounds the unix socket connect.
	dialTimeout = 2 * time.Second
)

// Client issues GET/PUT/PATCH calls against one VM's API socket.
// The underlying HTTP transport is created lazily on first use and must be
// released via Close; an unreleased client leaks the idle connection.
//
// A Client is safe for concurrent use, but the lifecycle controller built on
// top of it is not, see machine.Machine.
type Client struct {
	socketPath string

	mu     sync.Mutex
	hc     *http.Client
	closed bool
}

// errClientClosed is the cause attached to every call made after Close.
var errClientClosed = errors.New("client is closed")

// New creates a Client for the API socket at socketPath. No connection is
// made until the first call.
func New(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// SocketPath returns the endpoint this client talks to.
func (c *Client) SocketPath() string { return c.socketPath }

// Get issues a GET and decodes the JSON response into out.
// Unknown response fields are ignored for wire compatibility.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Put issues a PUT with in encoded as the JSON body. A nil in sends no body.
func (c *Client) Put(ctx context.Context, path string, in any) error {
	return c.do(ctx, http.MethodPut, path, in, nil)
}

// Patch issues a PATCH with in encoded as the JSON body.
func (c *Client) Patch(ctx context.Context, path string, in any) error {
	return c.do(ctx, http.MethodPatch, path, in, nil)
}

// Close releases the underlying connection and marks the client unusable.
// Any later call fails with a connection-failed error. Safe to call multiple
// times and before any request was made.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.hc != nil {
		c.hc.CloseIdleConnections()
		c.hc = nil
	}
	return nil
}

// httpClient returns the lazily-created transport, or an error once the
// client has been closed.
func (c *Client) httpClient() (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errdefs.ConnectionFailed(c.socketPath, errClientClosed)
	}
	if c.hc == nil {
		c.hc = &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					d := net.Dialer{Timeout: dialTimeout}
					return d.DialContext(ctx, "unix", c.socketPath)
				},
			},
		}
	}
	return c.hc, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	op := method + " " + path

	hc, err := c.httpClient()
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errdefs.SerializationError(op, err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://localhost"+path, reqBody)
	if err != nil {
		return errdefs.Unknown(c.socketPath, op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return c.classifyTransport(op, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errdefs.Unknown(c.socketPath, op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		return errdefs.HTTPError(resp.StatusCode, op, string(bytes.TrimSpace(body)))
	}

	if out != nil && len(body) > 0 {
		// json.Unmarshal skips unknown fields, which keeps us compatible
		// with newer VMM versions adding response fields.
		if err := json.Unmarshal(body, out); err != nil {
			return errdefs.DeserializationError(op, err)
		}
	}
	return nil
}

// classifyTransport maps a request error into exactly one transport kind:
// timeout, connection failure, or unknown.
func (c *Client) classifyTransport(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return errdefs.Timeout(c.socketPath, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errdefs.Timeout(c.socketPath, op, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errdefs.ConnectionFailed(c.socketPath, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, os.ErrNotExist) {
		return errdefs.ConnectionFailed(c.socketPath, err)
	}
	return errdefs.Unknown(c.socketPath, op, err)
}
