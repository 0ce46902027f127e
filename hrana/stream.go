package hrana

import (
	"github.com/rilldb/rill/backend"
	"github.com/rilldb/rill/metrics"
	"github.com/rilldb/rill/wire"
)

// stream is a serial SQL execution lane of a connection, bound 1:1 to one
// backend session. Its lane goroutine processes work items in FIFO order,
// so transaction state carries across items. The streams table and the
// failed flag are mutated only by the connection's run loop.
type stream struct {
	id int32
	// failed marks a stream whose session could not be acquired. The id
	// stays allocated until the client closes it, but every request
	// naming it draws an error response.
	failed bool
	// closing marks a stream with an in-flight close_stream. Its lane
	// exits after the close drains, so no further work may be enqueued.
	closing bool
	// workCh feeds the lane goroutine. It is nil for streams which failed
	// at allocation time and never got a lane. Its capacity matches the
	// connection's in-flight window, so enqueues never block.
	workCh chan streamWork
}

// streamWork is one item of a stream's serial lane.
type streamWork interface {
	isStreamWork()
}

type openWork struct{ requestID int32 }

type closeWork struct{ requestID int32 }

type execWork struct {
	requestID int32
	req       wire.ExecuteReq
}

type progWork struct {
	requestID int32
	req       wire.ProgReq
}

func (openWork) isStreamWork()  {}
func (closeWork) isStreamWork() {}
func (execWork) isStreamWork()  {}
func (progWork) isStreamWork()  {}

// runStream is a stream's lane goroutine. It acquires the backend session,
// serially executes work items against it, and releases the session on
// close or connection teardown.
func (c *conn) runStream(s *stream) {
	defer c.laneWG.Done()

	var sess backend.Session
	defer func() {
		if sess != nil {
			_ = sess.Close()
			metrics.StreamsLive.Dec()
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case w := <-s.workCh:
			switch w := w.(type) {
			case openWork:
				var err error
				if sess, err = c.srv.Backend.OpenSession(c.ctx); err != nil {
					if c.ctx.Err() != nil {
						return
					}
					c.complete(completion{
						requestID: w.requestID,
						err:       respErrorf("failed to open stream: %s", err),
						apply: func(c *conn) {
							s.failed = true
							c.openStreams--
						},
					})
				} else {
					metrics.StreamsLive.Inc()
					c.complete(completion{
						requestID: w.requestID,
						response:  wire.OpenStreamResp{},
					})
				}

			case execWork:
				if sess == nil {
					c.complete(completion{
						requestID: w.requestID,
						err:       respErrorf("stream %d is failed", s.id),
					})
					continue
				}
				var resp, err = c.runExecute(sess, w.req)
				c.complete(completion{requestID: w.requestID, response: resp, err: err})

			case progWork:
				if sess == nil {
					c.complete(completion{
						requestID: w.requestID,
						err:       respErrorf("stream %d is failed", s.id),
					})
					continue
				}
				var resp, err = c.runProg(sess, w.req)
				c.complete(completion{requestID: w.requestID, response: resp, err: err})

			case closeWork:
				var wasOpen = sess != nil
				if sess != nil {
					_ = sess.Close()
					sess = nil
					metrics.StreamsLive.Dec()
				}
				c.complete(completion{
					requestID: w.requestID,
					response:  wire.CloseStreamResp{},
					apply: func(c *conn) {
						delete(c.streams, s.id)
						if wasOpen {
							c.openStreams--
						}
					},
				})
				return
			}
		}
	}
}

// handleOpenStream allocates a stream under the requested id and starts
// its lane. Naming an id that is still allocated is a protocol violation.
// Exceeding the stream cap draws an error response, but the id becomes
// allocated in failed state until the client closes it.
func (c *conn) handleOpenStream(requestID int32, req wire.OpenStreamReq) error {
	if _, ok := c.streams[req.StreamID]; ok {
		return protoErrorf(closePolicyViolation, "stream %d is already open", req.StreamID)
	}
	if c.openStreams >= c.srv.MaxStreams {
		c.streams[req.StreamID] = &stream{id: req.StreamID, failed: true}
		return c.finish(completion{
			requestID: requestID,
			err:       respErrorf("stream limit (%d) reached", c.srv.MaxStreams),
		})
	}

	var s = &stream{
		id:     req.StreamID,
		workCh: make(chan streamWork, c.srv.MaxOutstanding),
	}
	c.streams[req.StreamID] = s
	c.openStreams++

	c.laneWG.Add(1)
	go c.runStream(s)

	s.workCh <- openWork{requestID: requestID}
	return nil
}

// handleCloseStream enqueues a drain-and-release of the stream's lane.
// Closing an id which isn't allocated is an error response, not a
// violation, so that a client may blindly clean up.
func (c *conn) handleCloseStream(requestID int32, req wire.CloseStreamReq) error {
	var s, ok = c.streams[req.StreamID]
	if !ok {
		return c.finish(completion{
			requestID: requestID,
			err:       respErrorf("stream %d is not open", req.StreamID),
		})
	}
	if s.closing {
		return c.finish(completion{
			requestID: requestID,
			err:       respErrorf("stream %d is already closing", req.StreamID),
		})
	}
	if s.workCh == nil {
		// Failed at allocation: there's no lane or session to drain.
		delete(c.streams, req.StreamID)
		return c.finish(completion{
			requestID: requestID,
			response:  wire.CloseStreamResp{},
		})
	}
	s.closing = true
	s.workCh <- closeWork{requestID: requestID}
	return nil
}

// enqueueStreamWork routes execute and prog requests onto their stream's
// lane. Naming a stream id that was never allocated is a protocol
// violation. A stream that failed at allocation (it has no lane) or is
// closing draws an error response here; a stream whose session failed to
// open draws one from its lane.
func (c *conn) enqueueStreamWork(streamID int32, w streamWork) error {
	var s, ok = c.streams[streamID]
	if !ok {
		return protoErrorf(closePolicyViolation, "stream %d is not open", streamID)
	}
	if s.workCh == nil || s.closing {
		var requestID int32
		switch w := w.(type) {
		case execWork:
			requestID = w.requestID
		case progWork:
			requestID = w.requestID
		}
		var reason = "failed"
		if s.closing {
			reason = "closing"
		}
		return c.finish(completion{
			requestID: requestID,
			err:       respErrorf("stream %d is %s", streamID, reason),
		})
	}
	s.workCh <- w
	return nil
}
