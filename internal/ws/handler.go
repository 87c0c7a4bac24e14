package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gridsim/notebook/internal/bridge"
	"github.com/gridsim/notebook/internal/logging"
	"github.com/gridsim/notebook/internal/monitoring"
	"github.com/gridsim/notebook/internal/notebook"
	"github.com/gridsim/notebook/internal/scheduler"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced by the CORS layer in front
	},
}

// Message is a client request over the stream.
type Message struct {
	Type   string `json:"type"`
	CellID string `json:"cell_id,omitempty"`
	Code   string `json:"code,omitempty"`
}

// conn wraps a websocket connection with write serialization; status
// events and request replies arrive from different goroutines.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// Handler manages WebSocket connections.
type Handler struct {
	runner  *notebook.Runner
	bridge  *bridge.Bridge
	sched   *scheduler.Scheduler
	metrics *monitoring.Metrics
	log     *logging.Logger

	mu    sync.Mutex
	conns map[string]*conn
}

// NewHandler creates a WebSocket handler and registers itself as the
// bridge's progress subscriber so init progress reaches every connection.
func NewHandler(r *notebook.Runner, b *bridge.Bridge, s *scheduler.Scheduler, m *monitoring.Metrics, log *logging.Logger) *Handler {
	h := &Handler{
		runner:  r,
		bridge:  b,
		sched:   s,
		metrics: m,
		log:     log.Component("ws"),
		conns:   make(map[string]*conn),
	}
	b.OnProgress(h.broadcastProgress)
	return h
}

// HandleConnection upgrades and serves one connection until it closes.
func (h *Handler) HandleConnection(c *gin.Context) {
	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer wsConn.Close()

	connID := uuid.NewString()
	cn := &conn{ws: wsConn}

	h.mu.Lock()
	h.conns[connID] = cn
	h.mu.Unlock()
	h.metrics.WSConnections.Inc()
	defer func() {
		h.mu.Lock()
		delete(h.conns, connID)
		h.mu.Unlock()
		h.metrics.WSConnections.Dec()
	}()

	// Push this connection's view of cell status transitions.
	unsubscribe := h.sched.Subscribe(scheduler.SinkFunc(func(ev scheduler.Event) {
		h.push(cn, map[string]interface{}{
			"type":  "cell_status",
			"event": ev,
		})
	}))
	defer unsubscribe()

	h.push(cn, map[string]interface{}{
		"type":    "system",
		"conn_id": connID,
		"message": "connected to execution backend",
	})

	reqCtx := c.Request.Context()
	for {
		var msg Message
		if err := wsConn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		h.metrics.WSMessages.WithLabelValues(msg.Type).Inc()

		switch msg.Type {
		case "run_cell":
			h.handleRunCell(cn, msg)
		case "execute":
			h.handleExecute(cn, msg, reqCtx)
		case "reset":
			h.handleReset(cn, reqCtx)
		case "ping":
			h.push(cn, map[string]interface{}{"type": "pong"})
		default:
			h.sendError(cn, "unknown message type")
		}
	}
}

func (h *Handler) handleRunCell(cn *conn, msg Message) {
	if msg.CellID == "" {
		h.sendError(cn, "run_cell requires cell_id")
		return
	}

	// Detached from the connection context: a client disconnect mid-chain
	// would otherwise abandon cells half-run. The bridge's own timeouts
	// bound the work.
	result := h.runner.Run(context.Background(), msg.CellID)
	h.metrics.ObserveCellRun(result.Success)

	payload := map[string]interface{}{
		"type":      "cell_result",
		"cell_id":   msg.CellID,
		"success":   result.Success,
		"timestamp": time.Now().Unix(),
	}
	if result.Error != "" {
		payload["error"] = result.Error
	}
	if res, ok := h.runner.Result(msg.CellID); ok {
		payload["result"] = res
	}
	h.push(cn, payload)
}

func (h *Handler) handleExecute(cn *conn, msg Message, reqCtx context.Context) {
	res, err := h.bridge.Execute(reqCtx, msg.Code)
	if err != nil {
		h.sendError(cn, err.Error())
		return
	}

	outcome := "success"
	if res.Error != nil {
		outcome = "error"
	}
	h.metrics.ObserveExecution(outcome, res.Duration, len(res.Figures))

	h.push(cn, map[string]interface{}{
		"type":      "execution_result",
		"result":    res,
		"timestamp": time.Now().Unix(),
	})
}

func (h *Handler) handleReset(cn *conn, reqCtx context.Context) {
	if err := h.runner.Reset(reqCtx); err != nil {
		h.sendError(cn, err.Error())
		return
	}
	h.push(cn, map[string]interface{}{
		"type":      "reset_complete",
		"timestamp": time.Now().Unix(),
	})
}

func (h *Handler) broadcastProgress(message string) {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for _, cn := range h.conns {
		conns = append(conns, cn)
	}
	h.mu.Unlock()

	for _, cn := range conns {
		h.push(cn, map[string]interface{}{
			"type":    "progress",
			"message": message,
		})
	}
}

func (h *Handler) sendError(cn *conn, msg string) {
	h.push(cn, map[string]interface{}{
		"type":      "error",
		"message":   msg,
		"timestamp": time.Now().Unix(),
	})
}

// push writes one message; on failure the connection is closed so the read
// loop exits instead of the peer silently missing events.
func (h *Handler) push(cn *conn, v interface{}) {
	if err := cn.send(v); err != nil {
		h.log.Debug("websocket write failed", zap.Error(err))
		cn.ws.Close()
	}
}
