package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsim/notebook/internal/bridge"
	"github.com/gridsim/notebook/internal/logging"
	"github.com/gridsim/notebook/internal/monitoring"
	"github.com/gridsim/notebook/internal/notebook"
	"github.com/gridsim/notebook/internal/scheduler"
)

type wsFixture struct {
	handler *Handler
	runner  *notebook.Runner
	server  *httptest.Server
}

func newFixture(t *testing.T) *wsFixture {
	t.Helper()

	b := bridge.New(bridge.Config{})
	t.Cleanup(b.Terminate)

	sched := scheduler.New(scheduler.Config{})
	runner := notebook.NewRunner(b, sched, nil)
	metrics, _ := monitoring.NewMetrics()
	handler := NewHandler(runner, b, sched, metrics, logging.NewNop())

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/stream", handler.HandleConnection)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &wsFixture{handler: handler, runner: runner, server: server}
}

func (f *wsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/stream"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readUntil skips intermediate messages (progress, cell_status) until one of
// the wanted type arrives.
func readUntil(t *testing.T, ws *websocket.Conn, msgType string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	require.NoError(t, ws.SetReadDeadline(deadline))

	for {
		var msg map[string]interface{}
		require.NoError(t, ws.ReadJSON(&msg))
		if msg["type"] == msgType {
			return msg
		}
	}
}

func TestConnectionHandshake(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t)

	msg := readUntil(t, ws, "system")
	assert.NotEmpty(t, msg["conn_id"])
}

func TestPingPong(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t)
	readUntil(t, ws, "system")

	require.NoError(t, ws.WriteJSON(Message{Type: "ping"}))
	readUntil(t, ws, "pong")
}

func TestExecuteOverStream(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t)
	readUntil(t, ws, "system")

	require.NoError(t, ws.WriteJSON(Message{Type: "execute", Code: "20 + 22"}))

	msg := readUntil(t, ws, "execution_result")
	result := msg["result"].(map[string]interface{})
	assert.Equal(t, "42", result["value"])
}

func TestRunCellPushesStatusEvents(t *testing.T) {
	f := newFixture(t)

	m, err := notebook.ParseManifest("wired.yaml", []byte(`
id: wired
cells:
  - id: only
    code: "'ran'"
`))
	require.NoError(t, err)
	require.NoError(t, f.runner.RegisterManifest(m))

	ws := f.dial(t)
	readUntil(t, ws, "system")

	require.NoError(t, ws.WriteJSON(Message{Type: "run_cell", CellID: "only"}))

	// Status transitions arrive before the final result.
	ev := readUntil(t, ws, "cell_status")
	event := ev["event"].(map[string]interface{})
	assert.Equal(t, "only", event["cell_id"])

	msg := readUntil(t, ws, "cell_result")
	assert.Equal(t, true, msg["success"])
	result := msg["result"].(map[string]interface{})
	assert.Equal(t, "ran", result["value"])
}

func TestRunCellRequiresCellID(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t)
	readUntil(t, ws, "system")

	require.NoError(t, ws.WriteJSON(Message{Type: "run_cell"}))

	msg := readUntil(t, ws, "error")
	assert.Contains(t, msg["message"], "cell_id")
}

func TestPushToDeadConnectionDropsIt(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t)
	readUntil(t, ws, "system")

	f.handler.mu.Lock()
	require.Len(t, f.handler.conns, 1)
	var cn *conn
	for _, c := range f.handler.conns {
		cn = c
	}
	f.handler.mu.Unlock()

	// Kill the transport underneath the handler, then push through the
	// broadcast path: the failed write must not panic and the connection
	// must be reaped.
	require.NoError(t, cn.ws.Close())
	f.handler.broadcastProgress("installing gridsim")

	require.Eventually(t, func() bool {
		f.handler.mu.Lock()
		defer f.handler.mu.Unlock()
		return len(f.handler.conns) == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestUnknownMessageType(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t)
	readUntil(t, ws, "system")

	require.NoError(t, ws.WriteJSON(Message{Type: "subscribe"}))

	msg := readUntil(t, ws, "error")
	assert.Contains(t, msg["message"], "unknown message type")
}
