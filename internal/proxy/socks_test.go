package proxy

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewSocksClient(t *testing.T) {
	c, err := NewSocksClient("127.0.0.1:1080", 0)
	require.NoError(t, err)
	require.Equal(t, defaultTimeout, c.Timeout)
	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	require.NotNil(t, tr.DialContext)
}

func TestNewSocksClient_EmptyAddress(t *testing.T) {
	_, err := NewSocksClient("  ", time.Second)
	require.Error(t, err)
}

func TestHTTPClient(t *testing.T) {
	c, err := HTTPClient("", 5*time.Second)
	require.NoError(t, err)
	require.Nil(t, c.Transport)
	require.Equal(t, 5*time.Second, c.Timeout)

	c, err = HTTPClient("127.0.0.1:1080", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, c.Transport)
	require.Equal(t, 5*time.Second, c.Timeout)
}

func TestHTTPClient_UnreachableProxy(t *testing.T) {
	c, err := NewSocksClient("127.0.0.1:1", time.Second)
	require.NoError(t, err)
	_, err = c.Get("http://example.invalid/")
	require.Error(t, err)
}
