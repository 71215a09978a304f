// Package client is a Go client for the coordinator's websocket protocol
// and its room API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"github.com/mossy-p/rtc-coordinator/internal/logger"
	"github.com/mossy-p/rtc-coordinator/internal/models"
	"github.com/mossy-p/rtc-coordinator/internal/rpc"
)

const (
	writeWait   = 10 * time.Second
	eventBuffer = 64
)

// Client is one signaling connection. Responses to Request are matched by
// id; every other frame is delivered on Events.
type Client struct {
	conn   *websocket.Conn
	req    *rpc.Requester
	events chan models.Envelope
	log    logging.LeveledLogger

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// WebsocketURL turns a server base URL (http, https, ws or wss) into the
// signaling endpoint carrying token.
func WebsocketURL(server, token string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := u.Query()
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial connects to server. timeout bounds each Request; <= 0 selects
// rpc.DefaultTimeout.
func Dial(ctx context.Context, server, token string, timeout time.Duration, lf logging.LoggerFactory) (*Client, error) {
	endpoint, err := WebsocketURL(server, token)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	lf = logger.OrDefault(lf)
	c := &Client{
		conn:   conn,
		events: make(chan models.Envelope, eventBuffer),
		log:    lf.NewLogger("client"),
		done:   make(chan struct{}),
	}
	c.req = rpc.NewRequester(c.write, timeout, lf)
	go c.readLoop()
	return c, nil
}

// Events delivers unsolicited frames. It is closed when the connection ends.
func (c *Client) Events() <-chan models.Envelope { return c.events }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Request sends event and decodes the correlated response into out, which
// may be nil. A server-side failure is an *rpc.RejectedError.
func (c *Client) Request(ctx context.Context, event string, payload, out any) error {
	data, err := c.req.Request(ctx, event, payload)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", event, err)
	}
	return nil
}

// Send writes an uncorrelated event.
func (c *Client) Send(event string, payload any) error {
	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	return c.write("", env.Event, env.Data)
}

// Join enters roomID in mesh mode.
func (c *Client) Join(roomID, nickname string) error {
	return c.Send(models.EventJoin, models.JoinRequest{RoomID: roomID, Nickname: nickname})
}

// Signal relays an offer, answer, candidate or status to the room, or to
// one peer when to is set.
func (c *Client) Signal(roomID, to string, event models.SignalType, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.Send(models.EventRTCMessage, models.RTCMessage{RoomID: roomID, Event: event, Data: raw, To: to})
}

// Close ends the connection and fails pending requests.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	c.shutdown(rpc.ErrClosed)
	return nil
}

func (c *Client) write(id, event string, data json.RawMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(models.Envelope{Event: event, ID: id, Data: data})
}

func (c *Client) readLoop() {
	defer close(c.events)
	defer c.shutdown(errors.New("connection lost"))

	for {
		var env models.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warnf("Read error: %v", err)
			}
			return
		}
		if env.Event == models.EventResponse && env.ID != "" {
			c.req.Resolve(env.ID, env.Data, env.Error)
			continue
		}
		select {
		case c.events <- env:
		default:
			c.log.Warnf("Dropping %s: event buffer full", env.Event)
		}
	}
}

func (c *Client) shutdown(reason error) {
	c.once.Do(func() {
		close(c.done)
		c.req.Close(reason)
		c.conn.Close()
	})
}
