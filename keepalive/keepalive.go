// Package keepalive wraps TCP listeners and dialers with keep-alive
// periods, so dead client connections eventually go away.
package keepalive

import (
	"context"
	"net"
	"time"
)

// Period applied to accepted and dialed connections.
const Period = 3 * time.Minute

// Dialer mirrors the configuration of http.DefaultTransport.
var Dialer = &net.Dialer{
	Timeout:   30 * time.Second,
	KeepAlive: 30 * time.Second,
}

// DialerFunc dials |addr| with |ctx|.
func DialerFunc(ctx context.Context, addr string) (net.Conn, error) {
	return Dialer.DialContext(ctx, "tcp", addr)
}

// TCPListener is a net.TCPListener which sets a keep-alive period on each
// accepted connection, so that peers which silently vanish (a laptop lid
// closed mid-session) are eventually torn down.
type TCPListener struct {
	*net.TCPListener
}

func (ln TCPListener) Accept() (net.Conn, error) {
	var conn, err = ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	if err = conn.SetKeepAlive(true); err != nil {
		return nil, err
	}
	if err = conn.SetKeepAlivePeriod(Period); err != nil {
		return nil, err
	}
	return conn, nil
}
