package hrana

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/rilldb/rill/compute"
	"github.com/rilldb/rill/metrics"
	"github.com/rilldb/rill/wire"
)

// conn is the per-WebSocket session: the run loop owns the stream table,
// the outstanding request table and the variable environment; a reader
// task feeds it decoded frames, a sender task drains its outbound queue,
// and one lane goroutine per open stream executes SQL work.
type conn struct {
	id      uuid.UUID
	srv     *Server
	ws      *websocket.Conn
	version wire.Version

	ctx    context.Context
	cancel context.CancelFunc

	// env is read and written only by the run loop. Lanes reach it
	// through envCh round trips.
	env *compute.Env

	inCh   chan readEvent
	sendCh chan wire.ServerMsg
	doneCh chan completion
	envCh  chan envCall

	// credit is the bounded window of in-flight requests. The reader
	// acquires a slot per request and stops reading when none is free;
	// completing a request releases its slot.
	credit chan struct{}

	streams     map[int32]*stream
	outstanding map[int32]struct{}
	openStreams int
	helloDone   bool

	laneWG sync.WaitGroup

	// closeCode/closeReason are set by the run loop before it cancels
	// ctx, and read by the sender after it observes the cancellation.
	closeCode   int
	closeReason string
}

// readEvent is a decoded client frame, or the error which ended reading.
type readEvent struct {
	msg wire.ClientMsg
	err error
}

// completion finalizes one outstanding request: apply (if any) runs in the
// run loop to mutate connection state, then a response_ok or
// response_error is emitted and the request's window slot is released.
type completion struct {
	requestID int32
	response  wire.Response
	err       error
	apply     func(c *conn)
}

type envCall struct {
	fn    func(env *compute.Env) (wire.Value, error)
	reply chan envReply
}

type envReply struct {
	val wire.Value
	err error
}

func newConn(srv *Server, ws *websocket.Conn, version wire.Version) *conn {
	var ctx, cancel = context.WithCancel(srv.ctx)
	return &conn{
		id:          uuid.New(),
		srv:         srv,
		ws:          ws,
		version:     version,
		ctx:         ctx,
		cancel:      cancel,
		env:         compute.NewEnv(),
		inCh:        make(chan readEvent, 8),
		sendCh:      make(chan wire.ServerMsg, srv.MaxOutstanding+8),
		doneCh:      make(chan completion, srv.MaxOutstanding),
		envCh:       make(chan envCall),
		credit:      make(chan struct{}, srv.MaxOutstanding),
		streams:     make(map[int32]*stream),
		outstanding: make(map[int32]struct{}),
		closeCode:   websocket.CloseNormalClosure,
	}
}

// serve runs the connection to completion.
func (c *conn) serve() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.readLoop()
	}()
	go func() {
		defer wg.Done()
		c.sendLoop()
	}()

	c.run()

	// run has cancelled ctx: the sender drains, says goodbye and closes
	// the socket, which in turn unblocks the reader.
	wg.Wait()
	c.laneWG.Wait()
}

// readLoop reads and decodes frames, pacing itself by the in-flight
// request window: while the window is full it does not read, and TCP
// back-pressures the client.
func (c *conn) readLoop() {
	for {
		var frameType, data, err = c.ws.ReadMessage()
		if err != nil {
			c.pushRead(readEvent{err: err})
			return
		}
		if frameType != websocket.TextMessage {
			c.pushRead(readEvent{err: protoErrorf(
				closeUnsupportedData, "only text frames are supported")})
			return
		}

		var msg wire.ClientMsg
		if msg, err = wire.UnmarshalClientMsg(data, c.version); err != nil {
			c.pushRead(readEvent{err: &ProtoError{
				Code:    closeInvalidPayload,
				Message: err.Error(),
			}})
			return
		}

		if _, ok := msg.(wire.RequestMsg); ok {
			select {
			case c.credit <- struct{}{}:
			case <-c.ctx.Done():
				return
			}
		}
		if !c.pushRead(readEvent{msg: msg}) {
			return
		}
	}
}

func (c *conn) pushRead(ev readEvent) bool {
	select {
	case c.inCh <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// sendLoop writes outbound messages. After the connection is cancelled it
// drains whatever responses are already enqueued, best-effort, then sends
// the close frame and closes the socket.
func (c *conn) sendLoop() {
	defer c.ws.Close()
	for {
		select {
		case m := <-c.sendCh:
			if !c.writeMsg(m) {
				return
			}
		case <-c.ctx.Done():
			for {
				select {
				case m := <-c.sendCh:
					if !c.writeMsg(m) {
						return
					}
				default:
					// Control frame payloads are capped at 125 bytes.
					var reason = c.closeReason
					if len(reason) > 120 {
						reason = reason[:120]
					}
					var deadline = time.Now().Add(c.srv.WriteTimeout)
					_ = c.ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(c.closeCode, reason), deadline)
					return
				}
			}
		}
	}
}

func (c *conn) writeMsg(m wire.ServerMsg) bool {
	var data, err = wire.MarshalServerMsg(m)
	if err != nil {
		log.WithFields(log.Fields{"conn": c.id, "err": err}).
			Error("failed to encode server message")
		return true
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.srv.WriteTimeout))
	if err = c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.cancel()
		return false
	}
	return true
}

// run is the connection's dispatch loop. It alone mutates the stream
// table, the outstanding table and the variable environment, so compute
// requests are strictly sequenced and environment reads observe all
// prior writes in dispatch order.
func (c *conn) run() {
	defer c.cancel()
	for {
		select {
		case ev := <-c.inCh:
			var err = ev.err
			if err == nil {
				err = c.handleMsg(ev.msg)
			}
			if err != nil {
				c.shutdown(err)
				return
			}
		case call := <-c.envCh:
			var v, err = call.fn(c.env)
			call.reply <- envReply{val: v, err: err}
		case d := <-c.doneCh:
			if err := c.finish(d); err != nil {
				c.shutdown(err)
				return
			}
		case <-c.ctx.Done():
			// Server shutdown: the construction-time close code (normal
			// closure) applies.
			return
		}
	}
}

// errHelloFailed ends the connection after a hello_error was enqueued.
var errHelloFailed = &RespError{Message: "hello failed"}

// shutdown records the close frame to send and cancels the connection.
func (c *conn) shutdown(err error) {
	if c.ctx.Err() != nil {
		// Already cancelled: the sender may be draining, and the
		// recorded close frame can no longer be changed.
		return
	}
	switch err := err.(type) {
	case *ProtoError:
		c.closeCode, c.closeReason = err.Code, err.Message
		metrics.ProtocolViolationsTotal.Inc()
		log.WithFields(log.Fields{"conn": c.id, "reason": err.Message}).
			Warn("connection terminated due to protocol violation")
	case *websocket.CloseError:
		c.closeCode, c.closeReason = websocket.CloseNormalClosure, ""
	default:
		if err == errHelloFailed {
			c.closeCode, c.closeReason = websocket.CloseNormalClosure, ""
		} else if c.ctx.Err() == nil {
			c.closeCode, c.closeReason = websocket.CloseInternalServerErr, "internal error"
			log.WithFields(log.Fields{"conn": c.id, "err": err}).
				Warn("connection failed")
		}
	}
	c.cancel()
}

func (c *conn) handleMsg(msg wire.ClientMsg) error {
	switch msg := msg.(type) {
	case wire.HelloMsg:
		return c.handleHello(msg)
	case wire.RequestMsg:
		if !c.helloDone {
			return protoErrorf(closePolicyViolation, "expected a hello message first")
		}
		return c.handleRequest(msg)
	default:
		return protoErrorf(closeInvalidPayload, "unknown client message")
	}
}

// handleHello validates the presented credential. Hello must be the first
// message, and may be repeated to refresh an expiring credential. A failed
// hello draws hello_error and then closes the connection.
func (c *conn) handleHello(msg wire.HelloMsg) error {
	if err := c.srv.Verifier.Verify(msg.JWT); err != nil {
		c.send(wire.HelloErrorMsg{Error: wire.Error{Message: err.Error()}})
		return errHelloFailed
	}
	c.helloDone = true
	c.send(wire.HelloOkMsg{})
	return nil
}

func (c *conn) handleRequest(msg wire.RequestMsg) error {
	if _, ok := c.outstanding[msg.RequestID]; ok {
		return protoErrorf(closePolicyViolation,
			"request_id %d is already in use", msg.RequestID)
	}
	c.outstanding[msg.RequestID] = struct{}{}

	switch req := msg.Request.(type) {
	case wire.OpenStreamReq:
		return c.handleOpenStream(msg.RequestID, req)
	case wire.CloseStreamReq:
		return c.handleCloseStream(msg.RequestID, req)
	case wire.ExecuteReq:
		return c.enqueueStreamWork(req.StreamID, execWork{requestID: msg.RequestID, req: req})
	case wire.ProgReq:
		return c.enqueueStreamWork(req.StreamID, progWork{requestID: msg.RequestID, req: req})
	case wire.ComputeReq:
		// Computes run inline on the dispatch loop, off any stream.
		var results, err = c.env.ApplyAll(req.Ops)
		if err != nil {
			return c.finish(completion{requestID: msg.RequestID, err: &RespError{Message: err.Error()}})
		}
		return c.finish(completion{
			requestID: msg.RequestID,
			response:  wire.ComputeResp{Results: results},
		})
	default:
		return protoErrorf(closeInvalidPayload, "unknown request")
	}
}

// finish resolves one outstanding request: responses may be emitted in any
// order across streams, as soon as their work completes.
func (c *conn) finish(d completion) error {
	if d.apply != nil {
		d.apply(c)
	}
	delete(c.outstanding, d.requestID)
	<-c.credit

	var reqType = "unknown"
	if d.response != nil {
		reqType = d.response.Type()
	}

	if d.err != nil {
		var message, ok = operationalMessage(d.err)
		if !ok {
			return d.err // Protocol violation or internal failure.
		}
		metrics.RequestsTotal.WithLabelValues(reqType, metrics.Fail).Inc()
		c.send(wire.ResponseErrorMsg{
			RequestID: d.requestID,
			Error:     wire.Error{Message: message},
		})
		return nil
	}

	metrics.RequestsTotal.WithLabelValues(reqType, metrics.Ok).Inc()
	c.send(wire.ResponseOkMsg{RequestID: d.requestID, Response: d.response})
	return nil
}

func (c *conn) send(m wire.ServerMsg) {
	select {
	case c.sendCh <- m:
	case <-c.ctx.Done():
	}
}

// complete hands a lane's finished work item to the run loop.
func (c *conn) complete(d completion) {
	select {
	case c.doneCh <- d:
	case <-c.ctx.Done():
	}
}

// evalEnv evaluates an expression against the connection's variable
// environment, from a lane goroutine, by round-tripping through the run
// loop. Evaluation failures are operational errors.
func (c *conn) evalEnv(expr wire.Expr) (wire.Value, error) {
	return c.callEnv(func(env *compute.Env) (wire.Value, error) {
		return env.Eval(expr)
	})
}

// applyEnvOps applies hook operations, discarding their results.
func (c *conn) applyEnvOps(ops []wire.Op) (wire.Value, error) {
	if len(ops) == 0 {
		return wire.Null{}, nil
	}
	return c.callEnv(func(env *compute.Env) (wire.Value, error) {
		var _, err = env.ApplyAll(ops)
		return wire.Null{}, err
	})
}

func (c *conn) callEnv(fn func(env *compute.Env) (wire.Value, error)) (wire.Value, error) {
	var call = envCall{fn: fn, reply: make(chan envReply, 1)}
	select {
	case c.envCh <- call:
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
	select {
	case r := <-call.reply:
		if r.err != nil {
			return nil, &RespError{Message: r.err.Error()}
		}
		return r.val, nil
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
}
