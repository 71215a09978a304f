package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"github.com/mossy-p/rtc-coordinator/internal/logger"
	"github.com/mossy-p/rtc-coordinator/internal/models"
	"github.com/mossy-p/rtc-coordinator/internal/room"
	"github.com/mossy-p/rtc-coordinator/internal/rpc"
)

// Methods understood by a remote engine.
const (
	methodRouterCapabilities = "getRouterRtpCapabilities"
	methodCreateTransport    = "createTransport"
	methodConnectTransport   = "connectTransport"
	methodProduce            = "produce"
	methodConsume            = "consume"
	methodResumeConsumer     = "resumeConsumer"
	methodCloseConsumer      = "closeConsumer"
	methodCloseProducer      = "closeProducer"
	methodCloseTransport     = "closeTransport"
)

const (
	remoteWriteWait  = 10 * time.Second
	remotePongWait   = 60 * time.Second
	remotePingPeriod = (remotePongWait * 9) / 10
)

type createTransportParams struct {
	RoomID    string         `json:"roomId"`
	PeerID    string         `json:"peerId"`
	Direction room.Direction `json:"direction"`
}

type connectTransportParams struct {
	TransportID    string          `json:"transportId"`
	DtlsParameters json.RawMessage `json:"dtlsParameters"`
}

type produceParams struct {
	TransportID   string           `json:"transportId"`
	Kind          models.MediaKind `json:"kind"`
	RtpParameters json.RawMessage  `json:"rtpParameters"`
}

type consumeParams struct {
	TransportID     string          `json:"transportId"`
	ProducerID      string          `json:"producerId"`
	RtpCapabilities json.RawMessage `json:"rtpCapabilities,omitempty"`
}

type idParams struct {
	ID string `json:"id"`
}

// Remote drives an engine process over a websocket. Every call is a
// correlated request; engine-side failures surface as *rpc.RejectedError
// carrying the engine's own message.
type Remote struct {
	conn *websocket.Conn
	req  *rpc.Requester
	log  logging.LeveledLogger

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// DialRemote connects to the engine at url.
func DialRemote(ctx context.Context, url string, timeout time.Duration, lf logging.LoggerFactory) (*Remote, error) {
	lf = logger.OrDefault(lf)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial media engine %s: %w", url, err)
	}

	r := &Remote{
		conn: conn,
		log:  lf.NewLogger("engine"),
		done: make(chan struct{}),
	}
	r.req = rpc.NewRequester(r.send, timeout, lf)

	go r.readLoop()
	go r.pingLoop()

	r.log.Infof("Connected to media engine at %s", url)
	return r, nil
}

func (r *Remote) send(id, method string, payload json.RawMessage) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.conn.SetWriteDeadline(time.Now().Add(remoteWriteWait))
	return r.conn.WriteJSON(models.Envelope{Event: method, ID: id, Data: payload})
}

func (r *Remote) readLoop() {
	defer r.shutdown(errors.New("media engine connection lost"))

	r.conn.SetReadDeadline(time.Now().Add(remotePongWait))
	r.conn.SetPongHandler(func(string) error {
		r.conn.SetReadDeadline(time.Now().Add(remotePongWait))
		return nil
	})

	for {
		var env models.Envelope
		if err := r.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.log.Errorf("Media engine read error: %v", err)
			}
			return
		}
		if env.Event != models.EventResponse || env.ID == "" {
			r.log.Debugf("Ignoring unsolicited engine frame %q", env.Event)
			continue
		}
		r.req.Resolve(env.ID, env.Data, env.Error)
	}
}

func (r *Remote) pingLoop() {
	ticker := time.NewTicker(remotePingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.writeMu.Lock()
			err := r.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(remoteWriteWait))
			r.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-r.done:
			return
		}
	}
}

func (r *Remote) shutdown(reason error) {
	r.once.Do(func() {
		close(r.done)
		r.req.Close(reason)
		r.conn.Close()
	})
}

// Close disconnects from the engine and fails every pending call.
func (r *Remote) Close() error {
	r.writeMu.Lock()
	_ = r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(remoteWriteWait))
	r.writeMu.Unlock()
	r.shutdown(ErrClosed)
	return nil
}

func (r *Remote) call(ctx context.Context, method string, params, out any) error {
	data, err := r.req.Request(ctx, method, params)
	if err != nil {
		return remoteError(err)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	return nil
}

// A remote engine reports a missing consumer, producer or transport by
// rejecting with a message that carries ErrNotFound's text.
type notFoundError struct {
	rej *rpc.RejectedError
}

func (e *notFoundError) Error() string   { return e.rej.Message }
func (e *notFoundError) Unwrap() []error { return []error{ErrNotFound, e.rej} }

func remoteError(err error) error {
	var rej *rpc.RejectedError
	if errors.As(err, &rej) && strings.Contains(rej.Message, ErrNotFound.Error()) {
		return &notFoundError{rej: rej}
	}
	return err
}

func (r *Remote) RouterCapabilities(ctx context.Context) (json.RawMessage, error) {
	var caps json.RawMessage
	if err := r.call(ctx, methodRouterCapabilities, nil, &caps); err != nil {
		return nil, err
	}
	return caps, nil
}

func (r *Remote) CreateTransport(ctx context.Context, roomID, peerID string, dir room.Direction) (models.TransportInfo, error) {
	var info models.TransportInfo
	err := r.call(ctx, methodCreateTransport, createTransportParams{RoomID: roomID, PeerID: peerID, Direction: dir}, &info)
	if err == nil && info.ID == "" {
		err = fmt.Errorf("%s: engine returned no transport id", methodCreateTransport)
	}
	return info, err
}

func (r *Remote) ConnectTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error {
	return r.call(ctx, methodConnectTransport, connectTransportParams{TransportID: transportID, DtlsParameters: dtlsParameters}, nil)
}

func (r *Remote) Produce(ctx context.Context, transportID string, kind models.MediaKind, rtpParameters json.RawMessage) (string, error) {
	var out models.ProduceResponse
	if err := r.call(ctx, methodProduce, produceParams{TransportID: transportID, Kind: kind, RtpParameters: rtpParameters}, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("%s: engine returned no producer id", methodProduce)
	}
	return out.ID, nil
}

func (r *Remote) Consume(ctx context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (ConsumerInfo, error) {
	var out ConsumerInfo
	err := r.call(ctx, methodConsume, consumeParams{
		TransportID:     transportID,
		ProducerID:      producerID,
		RtpCapabilities: rtpCapabilities,
	}, &out)
	if err == nil && out.ID == "" {
		err = fmt.Errorf("%s: engine returned no consumer id", methodConsume)
	}
	return out, err
}

func (r *Remote) ResumeConsumer(ctx context.Context, consumerID string) error {
	return r.call(ctx, methodResumeConsumer, idParams{ID: consumerID}, nil)
}

func (r *Remote) CloseConsumer(ctx context.Context, consumerID string) error {
	return r.call(ctx, methodCloseConsumer, idParams{ID: consumerID}, nil)
}

func (r *Remote) CloseProducer(ctx context.Context, producerID string) error {
	return r.call(ctx, methodCloseProducer, idParams{ID: producerID}, nil)
}

func (r *Remote) CloseTransport(ctx context.Context, transportID string) error {
	return r.call(ctx, methodCloseTransport, idParams{ID: transportID}, nil)
}
