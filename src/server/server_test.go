package server_test

import (
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ultramatch/src/engine"
	"ultramatch/src/server"
)

// testClient speaks the wire protocol against a live server.
type testClient struct {
	t    *testing.T
	conn net.Conn
	seq  uint64
}

func dialServer(t *testing.T, srv *server.Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(msgType server.MessageType, body string) {
	c.sendStamped(msgType, body, uint64(time.Now().UnixNano()))
}

// sendStamped frames a message with an explicit header timestamp.
func (c *testClient) sendStamped(msgType server.MessageType, body string, timestamp uint64) {
	c.t.Helper()
	c.seq++
	frame, err := server.EncodeMessage(msgType, c.seq, timestamp, []byte(body))
	require.NoError(c.t, err)
	_, err = c.conn.Write(frame)
	require.NoError(c.t, err)
}

func (c *testClient) recv() (server.Header, string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	headerBuf := make([]byte, server.HeaderSize)
	_, err := io.ReadFull(c.conn, headerBuf)
	require.NoError(c.t, err)
	header, err := server.DecodeHeader(headerBuf)
	require.NoError(c.t, err)

	body := make([]byte, header.Length)
	if header.Length > 0 {
		_, err = io.ReadFull(c.conn, body)
		require.NoError(c.t, err)
	}
	return header, string(body)
}

func startIngress(t *testing.T) (*engine.Engine, *server.Server) {
	t.Helper()

	cfg := engine.DefaultConfig()
	cfg.MatchingWorkers = 1
	cfg.MarketDataWorkers = 1
	cfg.RingSize = 1024
	cfg.EnableMetrics = false

	eng, err := engine.New(cfg)
	require.NoError(t, err)
	require.NoError(t, eng.Start())
	t.Cleanup(eng.Stop)

	srv := server.New(eng, 0)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return eng, srv
}

func waitBookOrders(t *testing.T, eng *engine.Engine, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if eng.TotalOrderCount() == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d resting orders, have %d", n, eng.TotalOrderCount())
}

func TestLoginSubmitCancelOverTCP(t *testing.T) {
	eng, srv := startIngress(t)
	client := dialServer(t, srv)

	client.send(server.MsgLogin, "desk-7")
	header, body := client.recv()
	assert.Equal(t, server.MsgLogin, header.Type)
	assert.True(t, strings.HasPrefix(body, "ACK:"), "login reply %q", body)

	client.send(server.MsgOrderSubmit, "AAPL:BUY:100:150.50:LIMIT")
	header, body = client.recv()
	assert.Equal(t, server.MsgOrderSubmit, header.Type)
	require.True(t, strings.HasPrefix(body, "ACK:"), "submit reply %q", body)
	orderID := strings.TrimPrefix(body, "ACK:")

	waitBookOrders(t, eng, 1)
	snapshot, ok := eng.Snapshot("AAPL", 0)
	require.True(t, ok)
	require.Len(t, snapshot.Bids, 1)
	assert.Equal(t, 150.50, snapshot.Bids[0].Price)

	client.send(server.MsgOrderCancel, orderID+":AAPL")
	header, body = client.recv()
	assert.Equal(t, server.MsgOrderCancel, header.Type)
	assert.Equal(t, "ACK:"+orderID, body)
	assert.Equal(t, 0, eng.TotalOrderCount())
}

func TestRejectRepliesCarryReason(t *testing.T) {
	_, srv := startIngress(t)
	client := dialServer(t, srv)

	// malformed submit body
	client.send(server.MsgOrderSubmit, "AAPL:BUY:100")
	_, body := client.recv()
	assert.True(t, strings.HasPrefix(body, "REJECT:"), "reply %q", body)

	// cancel of an unknown order
	client.send(server.MsgOrderCancel, "424242:AAPL")
	_, body = client.recv()
	assert.True(t, strings.HasPrefix(body, "REJECT:"), "reply %q", body)
	assert.Contains(t, body, engine.ErrOrderNotFound.Error())
}

func TestHeartbeatEcho(t *testing.T) {
	_, srv := startIngress(t)
	client := dialServer(t, srv)

	client.send(server.MsgHeartbeat, "")
	header, body := client.recv()
	assert.Equal(t, server.MsgHeartbeat, header.Type)
	assert.Empty(t, body)
}

func TestOrderStatusOverTCP(t *testing.T) {
	eng, srv := startIngress(t)
	client := dialServer(t, srv)

	client.send(server.MsgOrderSubmit, "MSFT:SELL:50:300:LIMIT")
	_, body := client.recv()
	require.True(t, strings.HasPrefix(body, "ACK:"))
	orderID := strings.TrimPrefix(body, "ACK:")
	waitBookOrders(t, eng, 1)

	client.send(server.MsgOrderStatusRequest, orderID+":MSFT")
	header, body := client.recv()
	assert.Equal(t, server.MsgOrderStatusRequest, header.Type)
	assert.Contains(t, body, `"symbol":"MSFT"`)
	assert.Contains(t, body, `"status":"PENDING"`)
}

// TestSubmitStampsOrderAtIngress verifies the book timestamp is assigned by
// the server, not copied from the client's wire header. A skewed client clock
// would otherwise decide time priority.
func TestSubmitStampsOrderAtIngress(t *testing.T) {
	eng, srv := startIngress(t)
	client := dialServer(t, srv)

	before := time.Now().UnixNano()
	client.sendStamped(server.MsgOrderSubmit, "AAPL:BUY:10:100:LIMIT", 12345)
	_, body := client.recv()
	require.True(t, strings.HasPrefix(body, "ACK:"), "submit reply %q", body)
	orderID, err := strconv.ParseUint(strings.TrimPrefix(body, "ACK:"), 10, 64)
	require.NoError(t, err)
	waitBookOrders(t, eng, 1)

	order, ok := eng.GetOrder(orderID, "AAPL")
	require.True(t, ok)
	assert.GreaterOrEqual(t, order.Timestamp, before, "order carries the header clock instead of an ingress stamp")
}

func TestBookRequestOverTCP(t *testing.T) {
	eng, srv := startIngress(t)
	client := dialServer(t, srv)

	client.send(server.MsgOrderSubmit, "TSLA:BUY:10:200:LIMIT")
	_, body := client.recv()
	require.True(t, strings.HasPrefix(body, "ACK:"))
	waitBookOrders(t, eng, 1)

	client.send(server.MsgOrderBookRequest, "TSLA")
	header, body := client.recv()
	assert.Equal(t, server.MsgOrderBookRequest, header.Type)
	assert.Contains(t, body, `"symbol":"TSLA"`)
	assert.Contains(t, body, `"bids"`)

	// a symbol with no book is named as such, not reported as a missing order
	client.send(server.MsgOrderBookRequest, "NOPE")
	_, body = client.recv()
	assert.Equal(t, "REJECT:"+server.ErrUnknownSymbol.Error(), body)
}

func TestOrderIDsUniqueAcrossSessions(t *testing.T) {
	eng, srv := startIngress(t)
	a := dialServer(t, srv)
	b := dialServer(t, srv)

	a.send(server.MsgOrderSubmit, "AAPL:BUY:10:100:LIMIT")
	_, bodyA := a.recv()
	b.send(server.MsgOrderSubmit, "AAPL:BUY:10:101:LIMIT")
	_, bodyB := b.recv()

	require.True(t, strings.HasPrefix(bodyA, "ACK:"))
	require.True(t, strings.HasPrefix(bodyB, "ACK:"))
	assert.NotEqual(t, bodyA, bodyB, "order ids must not collide across clients")
	waitBookOrders(t, eng, 2)
}

func TestLogoutEndsSession(t *testing.T) {
	_, srv := startIngress(t)
	client := dialServer(t, srv)

	client.send(server.MsgLogin, "desk-7")
	_, _ = client.recv()
	assert.Equal(t, 1, srv.SessionCount())

	client.send(server.MsgLogout, "")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && srv.SessionCount() != 0 {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 0, srv.SessionCount())
}

func TestServerStartStop(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.EnableMetrics = false
	eng, err := engine.New(cfg)
	require.NoError(t, err)
	require.NoError(t, eng.Start())
	defer eng.Stop()

	srv := server.New(eng, 0)
	require.NoError(t, srv.Start())
	assert.ErrorIs(t, srv.Start(), engine.ErrAlreadyRunning)

	srv.Stop()
	srv.Stop() // idempotent
}
