package adapter

import (
	"context"
	"net"
	"net/http"
	"time"
)

const (
	connectTimeout  = 10 * time.Second
	idleConnPerHost = 10
	idleConnTimeout = 90 * time.Second
)

// newHTTPClient builds the shared client shape used by every adapter. The
// overall timeout differs per provider; OAuth token endpoints get a short
// one, generation endpoints a long one.
func newHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				_ = tc.SetNoDelay(true)
			}
			return conn, nil
		},
		MaxIdleConnsPerHost:   idleConnPerHost,
		IdleConnTimeout:       idleConnTimeout,
		TLSHandshakeTimeout:   connectTimeout,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}
