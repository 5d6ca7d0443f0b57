package dns

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupReturnsLiterals(t *testing.T) {
	r := &Resolver{}
	for _, host := range []string{"127.0.0.1", "::1"} {
		ip, err := r.Lookup(context.Background(), host)
		require.NoError(t, err)
		assert.Equal(t, host, ip)
	}
}

func TestLookupWithoutFallbackFails(t *testing.T) {
	r := &Resolver{LocalTimeout: 200 * time.Millisecond}
	_, err := r.Lookup(context.Background(), "does-not-exist.invalid")
	assert.Error(t, err)
}

func TestDialContextUsesLiteral(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	conn, err := Default().DialContext(context.Background(), "tcp", ln.Addr().String())
	require.NoError(t, err)
	conn.Close()
}

func TestDialContextRejectsBadAddress(t *testing.T) {
	_, err := Default().DialContext(context.Background(), "tcp", "no-port")
	assert.Error(t, err)
}
