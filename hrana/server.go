// Package hrana implements the Hrana protocol server: WebSocket
// subprotocol negotiation, per-connection sessions with pipelined
// out-of-order request dispatch, per-stream serial SQL execution lanes,
// and the compute machine gluing them together.
package hrana

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/rilldb/rill/auth"
	"github.com/rilldb/rill/backend"
	"github.com/rilldb/rill/metrics"
	"github.com/rilldb/rill/wire"
)

// Config bounds the resources of a Server.
type Config struct {
	// MaxConnections caps concurrently served connections.
	MaxConnections int
	// MaxStreams caps open streams per connection.
	MaxStreams int
	// MaxOutstanding caps in-flight requests per connection. When the
	// window is full the connection stops reading and TCP back-pressures
	// the client.
	MaxOutstanding int
	// WriteTimeout bounds each WebSocket frame write.
	WriteTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections: 1024,
		MaxStreams:     16,
		MaxOutstanding: 128,
		WriteTimeout:   30 * time.Second,
	}
}

// Server upgrades HTTP requests into Hrana WebSocket sessions.
type Server struct {
	Config
	Backend  backend.Backend
	Verifier auth.Verifier

	ctx      context.Context
	upgrader websocket.Upgrader
	connSem  chan struct{}
}

// NewServer returns a Server using the Backend and Verifier. Connections
// are torn down when ctx is cancelled.
func NewServer(ctx context.Context, be backend.Backend, verifier auth.Verifier, cfg Config) *Server {
	var srv = &Server{
		Config:   cfg,
		Backend:  be,
		Verifier: verifier,
		ctx:      ctx,
		connSem:  make(chan struct{}, cfg.MaxConnections),
	}
	srv.upgrader = websocket.Upgrader{
		// Hrana is a server-to-server protocol; cross-origin browser
		// checks don't apply.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return srv
}

// ServeHTTP upgrades the request and serves the connection until it
// closes. The newest protocol revision offered by the client is selected;
// a client offering no known subprotocol is refused before upgrade.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case s.connSem <- struct{}{}:
		defer func() { <-s.connSem }()
	default:
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	var version, ok = negotiateVersion(websocket.Subprotocols(r))
	if !ok {
		http.Error(w, "no supported subprotocol offered", http.StatusBadRequest)
		return
	}

	var ws, err = s.upgrader.Upgrade(w, r, http.Header{
		"Sec-WebSocket-Protocol": []string{version.Subprotocol()},
	})
	if err != nil {
		// Upgrade already responded to the client.
		log.WithFields(log.Fields{"err": err, "remote": r.RemoteAddr}).
			Warn("failed to upgrade WebSocket connection")
		return
	}

	var c = newConn(s, ws, version)
	metrics.ConnectionsAcceptedTotal.Inc()
	metrics.ConnectionsLive.Inc()
	defer metrics.ConnectionsLive.Dec()

	log.WithFields(log.Fields{
		"conn":    c.id,
		"remote":  r.RemoteAddr,
		"version": version.Subprotocol(),
	}).Info("serving connection")

	c.serve()

	log.WithField("conn", c.id).Info("connection closed")
}

// negotiateVersion picks the newest protocol revision among the client's
// subprotocol offers.
func negotiateVersion(offers []string) (wire.Version, bool) {
	var best wire.Version
	var ok bool
	for _, offer := range offers {
		if v, known := wire.VersionFromSubprotocol(offer); known && v > best {
			best, ok = v, true
		}
	}
	return best, ok
}
