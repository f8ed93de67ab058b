package client

import (
	"crypto/tls"
	"io"
	"net/http"
	"time"

	"github.com/quic-go/quic-go/http3"
)

// NewHTTPClient returns the HTTP client used for probes. With useHTTP3 set,
// requests are sent over QUIC.
func NewHTTPClient(useHTTP3 bool, timeout time.Duration) *http.Client {
	if !useHTTP3 {
		return &http.Client{Timeout: timeout}
	}
	return &http.Client{
		Transport: &http3.RoundTripper{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS13,
			},
		},
		Timeout: timeout,
	}
}

func CloseHTTPClient(c *http.Client) {
	if cl, ok := c.Transport.(io.Closer); ok {
		_ = cl.Close()
		return
	}
	c.CloseIdleConnections()
}
