package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"golang.org/x/time/rate"

	"github.com/mossy-p/rtc-coordinator/internal/logger"
	"github.com/mossy-p/rtc-coordinator/internal/models"
	"github.com/mossy-p/rtc-coordinator/internal/signaling"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// SignalingHandler upgrades connections and feeds their frames to the
// coordinator.
type SignalingHandler struct {
	coord *signaling.Coordinator
	limit rate.Limit
	burst int
	log   logging.LeveledLogger
}

// NewSignalingHandler creates a handler allowing maxPerSecond inbound
// frames per connection.
func NewSignalingHandler(coord *signaling.Coordinator, maxPerSecond int, lf logging.LoggerFactory) *SignalingHandler {
	return &SignalingHandler{
		coord: coord,
		limit: rate.Limit(maxPerSecond),
		burst: maxPerSecond,
		log:   logger.OrDefault(lf).NewLogger("http"),
	}
}

// Client is one websocket connection. It implements room.Conn.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	log     logging.LeveledLogger

	done      chan struct{}
	closeOnce sync.Once
	closeCode int
	closeText string
}

// HandleSignaling serves GET /ws. The optional token query parameter is
// handed to the coordinator untouched.
func (h *SignalingHandler) HandleSignaling(c *gin.Context) {
	token := c.Query("token")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warnf("Failed to upgrade connection: %v", err)
		return
	}

	client := &Client{
		id:      uuid.New().String(),
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		limiter: rate.NewLimiter(h.limit, h.burst),
		log:     h.log,
		done:    make(chan struct{}),
	}
	session := h.coord.Connect(client, token)
	h.log.Infof("Client %s connected from %s", client.id, c.ClientIP())

	go client.writePump()
	go h.readPump(client, session)
}

func (cl *Client) ID() string { return cl.id }

// Send queues env without blocking. A client that cannot keep up is
// disconnected.
func (cl *Client) Send(env models.Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		cl.log.Errorf("Failed to marshal %s: %v", env.Event, err)
		return false
	}

	select {
	case <-cl.done:
		return false
	default:
	}

	select {
	case cl.send <- data:
		return true
	default:
		cl.log.Warnf("Send buffer full for client %s, closing", cl.id)
		cl.closeWith(websocket.CloseTryAgainLater, "send buffer full")
		return false
	}
}

// Close flushes what is queued and closes the connection normally.
func (cl *Client) Close() {
	cl.closeWith(websocket.CloseNormalClosure, "")
}

func (cl *Client) closeWith(code int, text string) {
	cl.closeOnce.Do(func() {
		cl.closeCode = code
		cl.closeText = text
		close(cl.done)
	})
}

func (h *SignalingHandler) readPump(cl *Client, session *signaling.Session) {
	defer func() {
		h.coord.Disconnect(session)
		cl.Close()
		h.log.Infof("Client %s disconnected", cl.id)
	}()

	cl.conn.SetReadLimit(maxMessageSize)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.log.Warnf("WebSocket error: %v", err)
			}
			return
		}

		if !cl.limiter.Allow() {
			h.log.Warnf("Client %s exceeded %v messages/s, closing", cl.id, h.limit)
			cl.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
			h.log.Debugf("Failed to parse message from %s: %v", cl.id, err)
			if out, err := models.NewEnvelope(models.EventError, models.ErrorInfo{Message: "invalid message"}); err == nil {
				cl.Send(out)
			}
			continue
		}
		h.coord.Handle(session, env)
	}
}

func (cl *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case message := <-cl.send:
			if err := cl.write(websocket.TextMessage, message); err != nil {
				cl.log.Debugf("Failed to write message to %s: %v", cl.id, err)
				cl.Close()
				return
			}

		case <-ticker.C:
			if err := cl.write(websocket.PingMessage, nil); err != nil {
				cl.Close()
				return
			}

		case <-cl.done:
			if cl.flush() == nil {
				cl.write(websocket.CloseMessage, websocket.FormatCloseMessage(cl.closeCode, cl.closeText))
			}
			return
		}
	}
}

// flush writes whatever was queued before the close.
func (cl *Client) flush() error {
	for {
		select {
		case message := <-cl.send:
			if err := cl.write(websocket.TextMessage, message); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (cl *Client) write(messageType int, data []byte) error {
	cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return cl.conn.WriteMessage(messageType, data)
}
