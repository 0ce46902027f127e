package hrana_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/rilldb/rill/auth"
	"github.com/rilldb/rill/backend"
	"github.com/rilldb/rill/hrana"
)

func testConfig() hrana.Config {
	var cfg = hrana.DefaultConfig()
	cfg.MaxConnections = 4
	cfg.MaxStreams = 4
	cfg.MaxOutstanding = 16
	cfg.WriteTimeout = 5 * time.Second
	return cfg
}

func newTestServer(t *testing.T, verifier auth.Verifier, cfg hrana.Config) *httptest.Server {
	var ctx, cancel = context.WithCancel(context.Background())

	var be, err = backend.OpenSQLite(ctx, backend.SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)

	var ts = httptest.NewServer(hrana.NewServer(ctx, be, verifier, cfg))
	t.Cleanup(func() {
		cancel()
		ts.Close()
		_ = be.Close()
	})
	return ts
}

func dial(t *testing.T, ts *httptest.Server, subprotocols ...string) *websocket.Conn {
	var url = "ws" + strings.TrimPrefix(ts.URL, "http")
	var dialer = websocket.Dialer{Subprotocols: subprotocols}

	var ws, _, err = dialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// client drives one Hrana connection, buffering out-of-order responses by
// request id.
type client struct {
	t       *testing.T
	ws      *websocket.Conn
	pending map[int64]map[string]interface{}
}

func newClient(t *testing.T, ws *websocket.Conn) *client {
	return &client{t: t, ws: ws, pending: make(map[int64]map[string]interface{})}
}

func startClient(t *testing.T, subprotocol string) *client {
	var ts = newTestServer(t, auth.NewNoopAuth(), testConfig())
	var c = newClient(t, dial(t, ts, subprotocol))
	c.hello()
	return c
}

func (c *client) send(raw string) {
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func (c *client) sendf(format string, args ...interface{}) {
	c.send(fmt.Sprintf(format, args...))
}

func (c *client) recv() map[string]interface{} {
	var _, data, err = c.ws.ReadMessage()
	require.NoError(c.t, err)

	var m map[string]interface{}
	require.NoError(c.t, json.Unmarshal(data, &m))
	return m
}

// response returns the response of request |id|, reading (and buffering)
// responses of other requests which arrive first.
func (c *client) response(id int64) map[string]interface{} {
	if m, ok := c.pending[id]; ok {
		delete(c.pending, id)
		return m
	}
	for {
		var m = c.recv()
		var rid, ok = m["request_id"].(float64)
		require.True(c.t, ok, "unexpected message: %v", m)

		if int64(rid) == id {
			return m
		}
		c.pending[int64(rid)] = m
	}
}

func (c *client) hello() {
	c.send(`{"type":"hello","jwt":null}`)
	require.Equal(c.t, "hello_ok", c.recv()["type"])
}

// exec runs a statement and requires response_ok, returning the result.
func (c *client) exec(id, stream int64, sql string) map[string]interface{} {
	c.sendf(`{"type":"request","request_id":%d,"request":{"type":"execute","stream_id":%d,"stmt":{"sql":%q,"want_rows":true}}}`,
		id, stream, sql)
	var m = c.response(id)
	require.Equal(c.t, "response_ok", m["type"], "response: %v", m)
	return response(m)
}

func (c *client) openStream(id, stream int64) {
	c.sendf(`{"type":"request","request_id":%d,"request":{"type":"open_stream","stream_id":%d}}`, id, stream)
	var m = c.response(id)
	require.Equal(c.t, "response_ok", m["type"], "response: %v", m)
}

// expectClose reads frames (discarding any pending responses) until the
// peer closes, and requires the given close code.
func (c *client) expectClose(code int) {
	for {
		var _, _, err = c.ws.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(c.t, err, &closeErr)
		require.Equal(c.t, code, closeErr.Code)
		return
	}
}

func response(m map[string]interface{}) map[string]interface{} {
	return m["response"].(map[string]interface{})
}

var intRow = func(v string) []interface{} {
	return []interface{}{map[string]interface{}{"type": "integer", "value": v}}
}

func TestHelloOpenAndSelect(t *testing.T) {
	var c = startClient(t, "hrana1")

	c.send(`{"type":"request","request_id":1,"request":{"type":"open_stream","stream_id":10}}`)
	c.send(`{"type":"request","request_id":2,"request":{"type":"execute","stream_id":10,"stmt":{"sql":"SELECT 1","want_rows":true}}}`)

	var r1 = c.response(1)
	require.Equal(t, "response_ok", r1["type"])
	require.Equal(t, "open_stream", response(r1)["type"])

	var r2 = c.response(2)
	require.Equal(t, "response_ok", r2["type"])
	require.Equal(t, "execute", response(r2)["type"])

	var result = response(r2)["result"].(map[string]interface{})
	require.Len(t, result["cols"], 1)
	require.Equal(t, []interface{}{intRow("1")}, result["rows"])
	require.Equal(t, float64(0), result["affected_row_count"])
	require.Nil(t, result["last_insert_rowid"])
}

func TestWantRowsFalseSuppressesRows(t *testing.T) {
	var c = startClient(t, "hrana1")
	c.openStream(1, 1)

	c.send(`{"type":"request","request_id":2,"request":{"type":"execute","stream_id":1,"stmt":{"sql":"SELECT 1, 2, 3","want_rows":false}}}`)
	var result = response(c.response(2))["result"].(map[string]interface{})
	require.Len(t, result["cols"], 3)
	require.Empty(t, result["rows"])
}

func TestIntegerPrecision(t *testing.T) {
	var c = startClient(t, "hrana1")
	c.openStream(1, 1)

	c.send(`{"type":"request","request_id":2,"request":{"type":"execute","stream_id":1,
		"stmt":{"sql":"SELECT ?","args":[{"type":"integer","value":"9223372036854775807"}],"want_rows":true}}}`)
	var result = response(c.response(2))["result"].(map[string]interface{})
	require.Equal(t, []interface{}{intRow("9223372036854775807")}, result["rows"])
}

func TestInsertReportsCountsAndRowID(t *testing.T) {
	var c = startClient(t, "hrana1")
	c.openStream(1, 1)
	c.exec(2, 1, "CREATE TABLE t (a INTEGER)")

	c.send(`{"type":"request","request_id":3,"request":{"type":"execute","stream_id":1,
		"stmt":{"sql":"INSERT INTO t VALUES (42)","want_rows":false}}}`)
	var result = response(c.response(3))["result"].(map[string]interface{})
	require.Equal(t, float64(1), result["affected_row_count"])
	require.Equal(t, "1", result["last_insert_rowid"])
}

func TestExecuteBeforeHelloCloses(t *testing.T) {
	var ts = newTestServer(t, auth.NewNoopAuth(), testConfig())
	var c = newClient(t, dial(t, ts, "hrana1"))

	c.send(`{"type":"request","request_id":1,"request":{"type":"execute","stream_id":1,"stmt":{"sql":"SELECT 1","want_rows":true}}}`)

	// The connection closes without any response frame.
	var _, _, err = c.ws.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	require.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

const slowQuery = "WITH RECURSIVE c(x) AS (SELECT 1 UNION ALL SELECT x+1 FROM c WHERE x < 3000000) SELECT max(x) FROM c"

func TestDuplicateRequestIDCloses(t *testing.T) {
	var c = startClient(t, "hrana1")
	c.openStream(1, 1)

	// The first request with id 7 is still executing when the second
	// arrives.
	c.sendf(`{"type":"request","request_id":7,"request":{"type":"execute","stream_id":1,"stmt":{"sql":%q,"want_rows":false}}}`,
		slowQuery)
	c.send(`{"type":"request","request_id":7,"request":{"type":"open_stream","stream_id":2}}`)

	c.expectClose(websocket.ClosePolicyViolation)
}

func TestResponsesInterleaveAcrossStreams(t *testing.T) {
	var c = startClient(t, "hrana2")
	c.openStream(1, 1)
	c.openStream(2, 2)

	// Stream 1 runs a slow statement; stream 2 a fast one. The fast
	// response overtakes the slow one on the wire.
	c.sendf(`{"type":"request","request_id":3,"request":{"type":"execute","stream_id":1,"stmt":{"sql":%q,"want_rows":false}}}`,
		slowQuery)
	c.send(`{"type":"request","request_id":4,"request":{"type":"execute","stream_id":2,"stmt":{"sql":"SELECT 1","want_rows":false}}}`)

	var first = c.recv()
	require.Equal(t, float64(4), first["request_id"])

	var second = c.recv()
	require.Equal(t, float64(3), second["request_id"])
	require.Equal(t, "response_ok", second["type"])
}

func TestSameStreamOrdering(t *testing.T) {
	var c = startClient(t, "hrana1")
	c.openStream(1, 1)
	c.exec(2, 1, "CREATE TABLE t (a INTEGER)")

	// Pipelined requests on one stream execute, and respond, in arrival
	// order.
	for id := int64(3); id < 13; id++ {
		c.sendf(`{"type":"request","request_id":%d,"request":{"type":"execute","stream_id":1,
			"stmt":{"sql":"INSERT INTO t VALUES (%d)","want_rows":false}}}`, id, id)
	}
	for id := int64(3); id < 13; id++ {
		var m = c.recv()
		require.Equal(t, float64(id), m["request_id"])
		require.Equal(t, "response_ok", m["type"])
	}

	var result = c.exec(13, 1, "SELECT count(*) FROM t")["result"].(map[string]interface{})
	require.Equal(t, []interface{}{intRow("10")}, result["rows"])
}

func TestTransactionAcrossRequests(t *testing.T) {
	var c = startClient(t, "hrana1")
	c.openStream(1, 1)
	c.exec(2, 1, "CREATE TABLE t (a INTEGER)")
	c.exec(3, 1, "BEGIN")
	c.exec(4, 1, "INSERT INTO t VALUES (1)")
	c.exec(5, 1, "ROLLBACK")

	var result = c.exec(6, 1, "SELECT count(*) FROM t")["result"].(map[string]interface{})
	require.Equal(t, []interface{}{intRow("0")}, result["rows"])
}

func progCommitOrRollback(requestID int64) string {
	return fmt.Sprintf(`{"type":"request","request_id":%d,"request":{"type":"prog","stream_id":1,"prog":{"steps":[
		{"type":"op","ops":[{"type":"set","var":1,"expr":{"type":"integer","value":"0"}}]},
		{"type":"execute","stmt":{"sql":"BEGIN","want_rows":false}},
		{"type":"execute","stmt":{"sql":"INSERT INTO t VALUES (?)","args":[{"type":"integer","value":"42"}],"want_rows":false},
		 "on_error":[{"type":"set","var":1,"expr":{"type":"integer","value":"1"}}]},
		{"type":"execute","stmt":{"sql":"COMMIT","want_rows":false},"condition":{"type":"not","expr":{"type":"var","var":1}}},
		{"type":"execute","stmt":{"sql":"ROLLBACK","want_rows":false},"condition":{"type":"var","var":1}},
		{"type":"output","expr":{"type":"var","var":1}}
	]}}}`, requestID)
}

func TestProgCommitPath(t *testing.T) {
	var c = startClient(t, "hrana2")
	c.openStream(1, 1)
	c.exec(2, 1, "CREATE TABLE t (a INTEGER PRIMARY KEY)")

	c.send(progCommitOrRollback(3))
	var resp = response(c.response(3))
	require.Equal(t, "prog", resp["type"])

	var results = resp["execute_results"].([]interface{})
	var errs = resp["execute_errors"].([]interface{})
	require.Len(t, results, 4)
	require.Len(t, errs, 4)

	require.NotNil(t, results[0]) // BEGIN
	require.NotNil(t, results[1]) // INSERT
	require.NotNil(t, results[2]) // COMMIT ran.
	require.Nil(t, results[3])    // ROLLBACK skipped.
	for _, e := range errs {
		require.Nil(t, e)
	}
	require.Equal(t, intRow("0")[0], resp["outputs"].([]interface{})[0])

	var result = c.exec(4, 1, "SELECT count(*) FROM t")["result"].(map[string]interface{})
	require.Equal(t, []interface{}{intRow("1")}, result["rows"])
}

func TestProgRollbackPath(t *testing.T) {
	var c = startClient(t, "hrana2")
	c.openStream(1, 1)
	c.exec(2, 1, "CREATE TABLE t (a INTEGER PRIMARY KEY)")
	c.exec(3, 1, "INSERT INTO t VALUES (42)")

	// The insert now violates the primary key: on_error fires, COMMIT is
	// skipped and ROLLBACK runs.
	c.send(progCommitOrRollback(4))
	var resp = response(c.response(4))

	var results = resp["execute_results"].([]interface{})
	var errs = resp["execute_errors"].([]interface{})
	require.NotNil(t, results[0]) // BEGIN
	require.Nil(t, results[1])    // INSERT failed.
	require.NotNil(t, errs[1])
	require.Contains(t, errs[1].(map[string]interface{})["message"], "UNIQUE")
	require.Nil(t, results[2])    // COMMIT skipped.
	require.NotNil(t, results[3]) // ROLLBACK ran.
	require.Equal(t, intRow("1")[0], resp["outputs"].([]interface{})[0])

	// The program's failure didn't leave a transaction open.
	var result = c.exec(5, 1, "SELECT count(*) FROM t")["result"].(map[string]interface{})
	require.Equal(t, []interface{}{intRow("1")}, result["rows"])
}

func TestProgComputeFailureIsFatal(t *testing.T) {
	var c = startClient(t, "hrana2")
	c.openStream(1, 1)

	// An unset variable in a condition fails the whole prog request.
	c.send(`{"type":"request","request_id":2,"request":{"type":"prog","stream_id":1,"prog":{"steps":[
		{"type":"execute","stmt":{"sql":"SELECT 1","want_rows":false},"condition":{"type":"var","var":9}}
	]}}}`)
	var m = c.response(2)
	require.Equal(t, "response_error", m["type"])
	require.Contains(t, m["error"].(map[string]interface{})["message"], "variable 9")

	// The connection stays open.
	c.exec(3, 1, "SELECT 1")
}

func TestComputeRequests(t *testing.T) {
	var c = startClient(t, "hrana1")

	c.send(`{"type":"request","request_id":1,"request":{"type":"compute","ops":[
		{"type":"set","var":1,"expr":{"type":"integer","value":"42"}},
		{"type":"eval","expr":{"type":"var","var":1}},
		{"type":"eval","expr":{"type":"not","expr":{"type":"var","var":1}}},
		{"type":"unset","var":1}
	]}}`)
	var resp = response(c.response(1))
	require.Equal(t, "compute", resp["type"])
	require.Equal(t, []interface{}{
		map[string]interface{}{"type": "null"},
		map[string]interface{}{"type": "integer", "value": "42"},
		map[string]interface{}{"type": "integer", "value": "0"},
		map[string]interface{}{"type": "null"},
	}, resp["results"])

	// Reading the now-unset variable is an operational error, not fatal.
	c.send(`{"type":"request","request_id":2,"request":{"type":"compute","ops":[
		{"type":"eval","expr":{"type":"var","var":1}}
	]}}`)
	require.Equal(t, "response_error", c.response(2)["type"])

	c.send(`{"type":"request","request_id":3,"request":{"type":"compute","ops":[]}}`)
	require.Equal(t, "response_ok", c.response(3)["type"])
}

func TestComputeWriteOrderConsistency(t *testing.T) {
	var c = startClient(t, "hrana1")

	// Pipelined computes are strictly sequenced: the final read observes
	// the last write.
	for i := 0; i < 20; i++ {
		c.sendf(`{"type":"request","request_id":%d,"request":{"type":"compute","ops":[
			{"type":"set","var":1,"expr":{"type":"integer","value":"%d"}}
		]}}`, i+1, i)
	}
	c.send(`{"type":"request","request_id":100,"request":{"type":"compute","ops":[
		{"type":"eval","expr":{"type":"var","var":1}}
	]}}`)

	var resp = response(c.response(100))
	require.Equal(t, []interface{}{
		map[string]interface{}{"type": "integer", "value": "19"},
	}, resp["results"])
}

func TestExecuteConditionAndHooks(t *testing.T) {
	var c = startClient(t, "hrana1")
	c.openStream(1, 1)

	c.send(`{"type":"request","request_id":2,"request":{"type":"compute","ops":[
		{"type":"set","var":1,"expr":{"type":"integer","value":"0"}}
	]}}`)
	require.Equal(t, "response_ok", c.response(2)["type"])

	// A false condition skips the statement: its result is null.
	c.send(`{"type":"request","request_id":3,"request":{"type":"execute","stream_id":1,
		"stmt":{"sql":"SELECT 1","want_rows":true},
		"condition":{"type":"var","var":1}}}`)
	var m = c.response(3)
	require.Equal(t, "response_ok", m["type"])
	require.Nil(t, response(m)["result"])

	// on_ok runs after a successful statement.
	c.send(`{"type":"request","request_id":4,"request":{"type":"execute","stream_id":1,
		"stmt":{"sql":"SELECT 1","want_rows":false},
		"on_ok":[{"type":"set","var":1,"expr":{"type":"integer","value":"7"}}]}}`)
	require.Equal(t, "response_ok", c.response(4)["type"])

	c.send(`{"type":"request","request_id":5,"request":{"type":"compute","ops":[
		{"type":"eval","expr":{"type":"var","var":1}}
	]}}`)
	require.Equal(t, []interface{}{
		map[string]interface{}{"type": "integer", "value": "7"},
	}, response(c.response(5))["results"])

	// A failed statement draws response_error after running on_error.
	c.send(`{"type":"request","request_id":6,"request":{"type":"execute","stream_id":1,
		"stmt":{"sql":"SELECT * FROM no_such_table","want_rows":false},
		"on_error":[{"type":"set","var":1,"expr":{"type":"integer","value":"8"}}]}}`)
	require.Equal(t, "response_error", c.response(6)["type"])

	c.send(`{"type":"request","request_id":7,"request":{"type":"compute","ops":[
		{"type":"eval","expr":{"type":"var","var":1}}
	]}}`)
	require.Equal(t, []interface{}{
		map[string]interface{}{"type": "integer", "value": "8"},
	}, response(c.response(7))["results"])
}

func TestStreamCloseAndReuse(t *testing.T) {
	var c = startClient(t, "hrana1")
	c.openStream(1, 10)
	c.exec(2, 10, "CREATE TABLE t (a INTEGER)")

	c.send(`{"type":"request","request_id":3,"request":{"type":"close_stream","stream_id":10}}`)
	var m = c.response(3)
	require.Equal(t, "response_ok", m["type"])
	require.Equal(t, "close_stream", response(m)["type"])

	// After the close response, the id may be reused.
	c.openStream(4, 10)
	c.exec(5, 10, "SELECT count(*) FROM t")
}

func TestCloseOfFreeStreamIsAnError(t *testing.T) {
	var c = startClient(t, "hrana1")

	c.send(`{"type":"request","request_id":1,"request":{"type":"close_stream","stream_id":99}}`)
	require.Equal(t, "response_error", c.response(1)["type"])

	// The connection stays open.
	c.openStream(2, 1)
}

func TestExecuteOnUnknownStreamCloses(t *testing.T) {
	var c = startClient(t, "hrana1")

	c.send(`{"type":"request","request_id":1,"request":{"type":"execute","stream_id":99,"stmt":{"sql":"SELECT 1","want_rows":true}}}`)
	c.expectClose(websocket.ClosePolicyViolation)
}

func TestOpenOfOpenStreamCloses(t *testing.T) {
	var c = startClient(t, "hrana1")
	c.openStream(1, 1)

	c.send(`{"type":"request","request_id":2,"request":{"type":"open_stream","stream_id":1}}`)
	c.expectClose(websocket.ClosePolicyViolation)
}

func TestStreamQuota(t *testing.T) {
	var cfg = testConfig()
	cfg.MaxStreams = 1

	var ts = newTestServer(t, auth.NewNoopAuth(), cfg)
	var c = newClient(t, dial(t, ts, "hrana1"))
	c.hello()

	c.openStream(1, 1)

	// Over quota: the open fails but the id stays allocated.
	c.send(`{"type":"request","request_id":2,"request":{"type":"open_stream","stream_id":2}}`)
	require.Equal(t, "response_error", c.response(2)["type"])

	// Requests naming the failed stream draw errors, not violations.
	c.send(`{"type":"request","request_id":3,"request":{"type":"execute","stream_id":2,"stmt":{"sql":"SELECT 1","want_rows":true}}}`)
	require.Equal(t, "response_error", c.response(3)["type"])

	// Closing the failed stream frees its id.
	c.send(`{"type":"request","request_id":4,"request":{"type":"close_stream","stream_id":2}}`)
	require.Equal(t, "response_ok", c.response(4)["type"])

	// Freeing the open stream makes room.
	c.send(`{"type":"request","request_id":5,"request":{"type":"close_stream","stream_id":1}}`)
	require.Equal(t, "response_ok", c.response(5)["type"])
	c.openStream(6, 2)
}

func TestHelloAuth(t *testing.T) {
	var keyed, err = auth.NewKeyedAuth("c2VjcmV0")
	require.NoError(t, err)
	var ts = newTestServer(t, keyed, testConfig())

	// A missing credential draws hello_error and the connection closes.
	var c = newClient(t, dial(t, ts, "hrana1"))
	c.send(`{"type":"hello","jwt":null}`)
	require.Equal(t, "hello_error", c.recv()["type"])
	c.expectClose(websocket.CloseNormalClosure)

	// A valid token is accepted.
	token, err := keyed.Authorize(time.Hour)
	require.NoError(t, err)

	c = newClient(t, dial(t, ts, "hrana1"))
	c.send(fmt.Sprintf(`{"type":"hello","jwt":%q}`, token))
	require.Equal(t, "hello_ok", c.recv()["type"])
}

func TestRepeatedHello(t *testing.T) {
	var c = startClient(t, "hrana1")
	c.openStream(1, 1)

	// Hello may be repeated to refresh a credential.
	c.send(`{"type":"hello","jwt":null}`)
	require.Equal(t, "hello_ok", c.recv()["type"])

	c.exec(2, 1, "SELECT 1")
}

func TestBinaryFrameCloses(t *testing.T) {
	var c = startClient(t, "hrana1")
	require.NoError(t, c.ws.WriteMessage(websocket.BinaryMessage, []byte(`{"type":"hello"}`)))
	c.expectClose(websocket.CloseUnsupportedData)
}

func TestMalformedJSONCloses(t *testing.T) {
	var c = startClient(t, "hrana1")
	c.send(`{"type":`)
	c.expectClose(websocket.CloseInvalidFramePayloadData)
}

func TestUnknownRequestTypeCloses(t *testing.T) {
	var c = startClient(t, "hrana1")
	c.send(`{"type":"request","request_id":1,"request":{"type":"mystery"}}`)
	c.expectClose(websocket.CloseInvalidFramePayloadData)
}

func TestSubprotocolNegotiation(t *testing.T) {
	var ts = newTestServer(t, auth.NewNoopAuth(), testConfig())

	// The newest offered revision is selected.
	var ws = dial(t, ts, "hrana1", "hrana2")
	require.Equal(t, "hrana2", ws.Subprotocol())

	ws = dial(t, ts, "hrana1")
	require.Equal(t, "hrana1", ws.Subprotocol())

	// A client offering no known subprotocol is refused.
	var url = "ws" + strings.TrimPrefix(ts.URL, "http")
	var dialer = websocket.Dialer{Subprotocols: []string{"hrana9"}}
	var _, _, err = dialer.Dial(url, nil)
	require.Error(t, err)
}

func TestProgRejectedOnHrana1(t *testing.T) {
	var c = startClient(t, "hrana1")
	c.openStream(1, 1)

	c.send(`{"type":"request","request_id":2,"request":{"type":"prog","stream_id":1,"prog":{"steps":[]}}}`)
	c.expectClose(websocket.CloseInvalidFramePayloadData)
}

func TestExecuteHooksRejectedOnHrana2(t *testing.T) {
	var c = startClient(t, "hrana2")
	c.openStream(1, 1)

	c.send(`{"type":"request","request_id":2,"request":{"type":"execute","stream_id":1,
		"stmt":{"sql":"SELECT 1","want_rows":true},
		"condition":{"type":"var","var":1}}}`)
	c.expectClose(websocket.CloseInvalidFramePayloadData)
}

func TestServerShutdownClosesConnections(t *testing.T) {
	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	var be, err = backend.OpenSQLite(ctx, backend.SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	defer be.Close()

	var ts = httptest.NewServer(hrana.NewServer(ctx, be, auth.NewNoopAuth(), testConfig()))
	defer ts.Close()

	var c = newClient(t, dial(t, ts, "hrana1"))
	c.hello()
	c.openStream(1, 1)

	cancel()
	c.expectClose(websocket.CloseNormalClosure)
}

func TestConnectionLimit(t *testing.T) {
	var cfg = testConfig()
	cfg.MaxConnections = 1

	var ts = newTestServer(t, auth.NewNoopAuth(), cfg)
	var c = newClient(t, dial(t, ts, "hrana1"))
	c.hello()

	var url = "ws" + strings.TrimPrefix(ts.URL, "http")
	var dialer = websocket.Dialer{Subprotocols: []string{"hrana1"}}
	var _, resp, err = dialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 503, resp.StatusCode)
}
