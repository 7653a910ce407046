package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

const defaultTimeout = 120 * time.Second

// NewSocksClient returns an HTTP client that dials every connection through
// the SOCKS5 proxy at socksAddr. A zero timeout selects the default.
func NewSocksClient(socksAddr string, timeout time.Duration) (*http.Client, error) {
	socksAddr = strings.TrimSpace(socksAddr)
	if socksAddr == "" {
		return nil, errors.New("proxy: socks address must not be empty")
	}
	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		},
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

// HTTPClient returns a SOCKS client when socksAddr is set and a plain client
// with the given timeout otherwise.
func HTTPClient(socksAddr string, timeout time.Duration) (*http.Client, error) {
	if strings.TrimSpace(socksAddr) == "" {
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		return &http.Client{Timeout: timeout}, nil
	}
	return NewSocksClient(socksAddr, timeout)
}
