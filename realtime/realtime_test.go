package realtime

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "plain host",
			cfg:  Config{Domain: "events.example.com"},
			want: "ws://events.example.com",
		},
		{
			name: "secure with port and namespace",
			cfg:  Config{Domain: "events.example.com", Port: 8443, Namespace: "ws", Secure: true},
			want: "wss://events.example.com:8443/ws",
		},
		{
			name: "port only",
			cfg:  Config{Domain: "localhost", Port: 9000},
			want: "ws://localhost:9000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.URL())
		})
	}
}

// wsServer поднимает httptest сервер с websocket upgrade и отдает каждое
// принятое соединение в канал
type wsServer struct {
	server *httptest.Server
	conns  chan *websocket.Conn
	dials  int32
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()

	ws := &wsServer{conns: make(chan *websocket.Conn, 8)}
	upgrader := websocket.Upgrader{}

	ws.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt32(&ws.dials, 1)
		ws.conns <- conn
	}))
	t.Cleanup(ws.server.Close)

	return ws
}

func (ws *wsServer) config(t *testing.T) Config {
	t.Helper()

	u, err := url.Parse(ws.server.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return Config{
		Domain:        host,
		Port:          port,
		RetryInterval: 20 * time.Millisecond,
	}
}

func (ws *wsServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()

	select {
	case conn := <-ws.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no websocket connection arrived")
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestChannel_ConnectAndDispatch(t *testing.T) {
	ws := newWSServer(t)

	ch := New(ws.config(t), nil)
	defer func() { _ = ch.Close() }()

	assert.Equal(t, -1, ch.State().ReconnectionCount)

	received := make(chan Event, 1)
	ch.OnEvent("orders", func(e Event) { received <- e })

	ch.Reconcile()
	server := ws.accept(t)

	waitFor(t, func() bool { return ch.State().IsConnected }, "channel never connected")
	assert.Equal(t, 0, ch.State().ReconnectionCount)

	err := server.WriteMessage(websocket.TextMessage,
		[]byte(`{"ns":"orders","event":"created","data":{"id":7}}`))
	require.NoError(t, err)

	select {
	case e := <-received:
		assert.Equal(t, "orders", e.Namespace)
		assert.Equal(t, "created", e.Event)
		assert.JSONEq(t, `{"id":7}`, string(e.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("event never dispatched")
	}
}

func TestChannel_SystemVersionFrame(t *testing.T) {
	ws := newWSServer(t)

	ch := New(ws.config(t), nil)
	defer func() { _ = ch.Close() }()

	// Системный namespace не доставляется прикладным подписчикам
	leaked := make(chan Event, 1)
	ch.OnEvent(SystemNamespace, func(e Event) { leaked <- e })

	ch.Reconcile()
	server := ws.accept(t)
	waitFor(t, func() bool { return ch.State().IsConnected }, "channel never connected")

	err := server.WriteMessage(websocket.TextMessage,
		[]byte(`{"ns":"sys","event":"version","data":"2.4.1"}`))
	require.NoError(t, err)

	waitFor(t, func() bool { return ch.State().Version == "2.4.1" }, "version never adopted")

	select {
	case <-leaked:
		t.Fatal("system frame leaked to application subscribers")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannel_MalformedFrameDropped(t *testing.T) {
	ws := newWSServer(t)

	ch := New(ws.config(t), nil)
	defer func() { _ = ch.Close() }()

	received := make(chan Event, 2)
	ch.OnEvent("orders", func(e Event) { received <- e })

	ch.Reconcile()
	server := ws.accept(t)
	waitFor(t, func() bool { return ch.State().IsConnected }, "channel never connected")

	// Мусор и кадр без namespace молча отбрасываются
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"event":"x"}`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage,
		[]byte(`{"ns":"orders","event":"ok"}`)))

	select {
	case e := <-received:
		assert.Equal(t, "ok", e.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame after malformed ones was not dispatched")
	}
	assert.Empty(t, received)
}

func TestChannel_ReconnectsAfterDrop(t *testing.T) {
	ws := newWSServer(t)

	ch := New(ws.config(t), nil)
	defer func() { _ = ch.Close() }()

	ch.Reconcile()
	first := ws.accept(t)
	waitFor(t, func() bool { return ch.State().ReconnectionCount == 0 }, "initial connection failed")

	// Сервер рвет соединение: канал должен переподключиться сам
	_ = first.Close()

	ws.accept(t)
	waitFor(t, func() bool { return ch.State().ReconnectionCount == 1 }, "channel never reconnected")
	assert.True(t, ch.State().IsConnected)
	assert.False(t, ch.State().HasError)
}

func TestChannel_PredicateGatesConnection(t *testing.T) {
	ws := newWSServer(t)

	var want atomic.Bool
	ch := New(ws.config(t), func() bool { return want.Load() })
	defer func() { _ = ch.Close() }()

	// Желания нет - reconcile не открывает соединение
	ch.Reconcile()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ws.dials))
	assert.False(t, ch.State().IsConnected)

	want.Store(true)
	ch.Reconcile()
	ws.accept(t)
	waitFor(t, func() bool { return ch.State().IsConnected }, "channel never connected")

	// Желание пропало - плановый teardown без ошибки
	want.Store(false)
	ch.Reconcile()
	waitFor(t, func() bool {
		s := ch.State()
		return !s.IsConnected && !s.IsClosing
	}, "channel never tore down")
	assert.False(t, ch.State().HasError)
}

func TestChannel_Send(t *testing.T) {
	ws := newWSServer(t)

	ch := New(ws.config(t), nil)
	defer func() { _ = ch.Close() }()

	ch.Reconcile()
	server := ws.accept(t)
	waitFor(t, func() bool { return ch.State().IsConnected }, "channel never connected")

	require.NoError(t, ch.Send("chat", "message", map[string]string{"text": "hi"}))

	_ = server.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := server.ReadMessage()
	require.NoError(t, err)

	var f struct {
		NS    string          `json:"ns"`
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &f))
	assert.Equal(t, "chat", f.NS)
	assert.Equal(t, "message", f.Event)
	assert.JSONEq(t, `{"text":"hi"}`, string(f.Data))
}

func TestChannel_SendWhileDisconnected(t *testing.T) {
	ch := New(Config{Domain: "example.com"}, nil)
	defer func() { _ = ch.Close() }()

	err := ch.Send("chat", "message", nil)
	require.Error(t, err)
}

func TestChannel_CloseIsPermanent(t *testing.T) {
	ws := newWSServer(t)

	ch := New(ws.config(t), nil)
	ch.Reconcile()
	ws.accept(t)
	waitFor(t, func() bool { return ch.State().IsConnected }, "channel never connected")

	require.NoError(t, ch.Close())
	assert.False(t, ch.State().IsConnected)

	// После Close reconcile ничего не делает
	before := atomic.LoadInt32(&ws.dials)
	ch.Reconcile()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, atomic.LoadInt32(&ws.dials))

	require.NoError(t, ch.Close())
}

func TestChannel_SubprotocolSelection(t *testing.T) {
	gotProtocol := make(chan string, 1)
	upgrader := websocket.Upgrader{
		Subprotocols: []string{"v2.events"},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotProtocol <- r.Header.Get("Sec-WebSocket-Protocol")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	ch := New(Config{
		Domain:        host,
		Port:          port,
		Protocol:      func() string { return "v2.events" },
		RetryInterval: 20 * time.Millisecond,
	}, nil)
	defer func() { _ = ch.Close() }()

	ch.Reconcile()
	waitFor(t, func() bool { return ch.State().IsConnected }, "channel never connected")

	select {
	case p := <-gotProtocol:
		assert.Equal(t, "v2.events", p)
	case <-time.After(2 * time.Second):
		t.Fatal("handshake never observed")
	}
}
