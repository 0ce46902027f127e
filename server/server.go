package server

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/soheilhy/cmux"

	"github.com/rilldb/rill/keepalive"
	"github.com/rilldb/rill/task"
)

// Server bundles the Hrana WebSocket endpoint and the plain-HTTP admin
// endpoint, multiplexed over a single bound TCP socket (using CMux).
type Server struct {
	// RawListener is the bound TCP listener of the Server.
	RawListener *net.TCPListener
	// CMux wraps RawListener to provide connection protocol multiplexing
	// over a single bound socket. WebSocket and HTTP Listeners are
	// provided by default. Additional Listeners may be added directly via
	// CMux.Match() -- though it is then the user's responsibility to
	// Serve the resulting Listeners.
	CMux cmux.CMux
	// WSListener is a CMux Listener for connections which ask to upgrade
	// to WebSocket. It is served with WSHandler.
	WSListener net.Listener
	// HTTPListener is a CMux Listener for all other HTTP connections.
	HTTPListener net.Listener
	// WSHandler handles WebSocket upgrade requests. Typically this is the
	// hrana.Server.
	WSHandler http.Handler
	// HTTPMux is the admin http.ServeMux which is served by QueueTasks.
	HTTPMux *http.ServeMux
	// Ctx is cancelled by the "Server.GracefulStop" task of QueueTasks,
	// once the task.Group is cancelled.
	Ctx context.Context

	cancel context.CancelFunc
}

// New builds and returns a Server of the given TCP network interface
// |iface| and |port|. |port| may be zero, in which case a random free
// port is assigned.
func New(iface string, port uint16) (*Server, error) {
	var addr = fmt.Sprintf("%s:%d", iface, port)

	var raw, err = net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to bind service address (%s)", addr)
	}

	var ctx, cancel = context.WithCancel(context.Background())

	var srv = &Server{
		HTTPMux:     http.NewServeMux(),
		RawListener: raw.(*net.TCPListener),
		Ctx:         ctx,
		cancel:      cancel,
	}

	srv.CMux = cmux.New(keepalive.TCPListener{TCPListener: srv.RawListener})

	srv.CMux.HandleError(func(err error) bool {
		if _, ok := err.(net.Error); !ok {
			log.WithField("err", err).Warn("failed to CMux client connection to a listener")
		}
		return true // Continue serving RawListener.
	})

	// WSListener sniffs HTTP/1 requests carrying "Upgrade: websocket".
	srv.WSListener = srv.CMux.Match(cmux.HTTP1HeaderFieldPrefix("Upgrade", "websocket"))

	// Remaining connections sending HTTP/1 verbs are assumed to be plain
	// HTTP (metrics, health checks).
	srv.HTTPListener = srv.CMux.Match(cmux.HTTP1Fast())

	return srv, nil
}

// Endpoint of the Server.
func (s *Server) Endpoint() string {
	return "ws://" + s.RawListener.Addr().String()
}

// QueueTasks serving the CMux and both component servers onto the
// task.Group. If additional Listeners are derived from the Server.CMux,
// attempts to Accept will block until the CMux itself begins serving.
func (s *Server) QueueTasks(tg *task.Group) {
	tg.Queue("CMux.Serve", func() error {
		if err := s.CMux.Serve(); err != nil && s.Ctx.Err() == nil {
			return err
		}
		return nil // Swallow error after GracefulStop.
	})
	tg.Queue("http.Serve(WSListener)", func() error {
		if err := http.Serve(s.WSListener, s.WSHandler); err != nil && s.Ctx.Err() == nil {
			return err
		}
		return nil // Swallow error after GracefulStop.
	})
	tg.Queue("http.Serve(HTTPListener)", func() error {
		if err := http.Serve(s.HTTPListener, s.HTTPMux); err != nil && s.Ctx.Err() == nil {
			return err
		}
		return nil // Swallow error after GracefulStop.
	})
	tg.Queue("Server.GracefulStop", func() error {
		<-tg.Context().Done() // Block until task.Group is cancelled.

		// Cancel |s.Ctx| so Serve loops recognize this as a graceful
		// closure, then close the bound socket.
		s.cancel()

		return s.RawListener.Close()
	})
}
