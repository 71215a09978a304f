package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/rtc-coordinator/internal/logger"
	"github.com/mossy-p/rtc-coordinator/internal/models"
	"github.com/mossy-p/rtc-coordinator/internal/room"
)

// LocalConfig configures the in-process engine.
type LocalConfig struct {
	// ICEServers is handed to every ICE gatherer.
	ICEServers []webrtc.ICEServer

	// Codecs overrides the router codecs. Empty selects the defaults.
	Codecs []webrtc.RTPCodecParameters

	LoggerFactory logging.LoggerFactory
}

type dtlsFingerprintJSON struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type dtlsParametersJSON struct {
	Role         string                `json:"role"`
	Fingerprints []dtlsFingerprintJSON `json:"fingerprints"`
}

type iceParametersJSON struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	ICELite          bool   `json:"iceLite"`
}

type localTransport struct {
	id     string
	roomID string
	peerID string
	dir    room.Direction

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	remote    *dtlsParametersJSON
	connected bool
}

type localProducer struct {
	id          string
	transportID string
	kind        models.MediaKind
	rtp         json.RawMessage
	mimes       map[string]bool
}

type localConsumer struct {
	id          string
	transportID string
	producerID  string
	paused      bool
}

// Local is an in-process engine. It mints real ICE and DTLS parameters
// through pion's ORTC objects and tracks the resource graph; packet
// forwarding stays with the external media stack.
type Local struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	caps       json.RawMessage
	log        logging.LeveledLogger

	mu         sync.Mutex
	closed     bool
	transports map[string]*localTransport
	producers  map[string]*localProducer
	consumers  map[string]*localConsumer
}

// NewLocal builds a Local engine.
func NewLocal(cfg LocalConfig) (*Local, error) {
	lf := logger.OrDefault(cfg.LoggerFactory)

	codecs := cfg.Codecs
	if len(codecs) == 0 {
		codecs = defaultCodecs()
	}
	m, err := registerCodecs(codecs)
	if err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	caps, err := capabilitiesJSON(codecs)
	if err != nil {
		return nil, fmt.Errorf("render capabilities: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: lf}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se))

	return &Local{
		api:        api,
		iceServers: cfg.ICEServers,
		caps:       caps,
		log:        lf.NewLogger("engine"),
		transports: make(map[string]*localTransport),
		producers:  make(map[string]*localProducer),
		consumers:  make(map[string]*localConsumer),
	}, nil
}

func (l *Local) RouterCapabilities(ctx context.Context) (json.RawMessage, error) {
	if err := l.usable(ctx); err != nil {
		return nil, err
	}
	return l.caps, nil
}

func (l *Local) CreateTransport(ctx context.Context, roomID, peerID string, dir room.Direction) (models.TransportInfo, error) {
	if err := l.usable(ctx); err != nil {
		return models.TransportInfo{}, err
	}
	if dir != room.DirectionSend && dir != room.DirectionRecv {
		return models.TransportInfo{}, fmt.Errorf("%w: direction %q", ErrInvalidParameters, dir)
	}

	gatherer, err := l.api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: l.iceServers})
	if err != nil {
		return models.TransportInfo{}, fmt.Errorf("create ice gatherer: %w", err)
	}
	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return models.TransportInfo{}, fmt.Errorf("ice parameters: %w", err)
	}
	ice := l.api.NewICETransport(gatherer)
	dtls, err := l.api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return models.TransportInfo{}, fmt.Errorf("create dtls transport: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return models.TransportInfo{}, fmt.Errorf("dtls parameters: %w", err)
	}

	t := &localTransport{
		id:       uuid.NewString(),
		roomID:   roomID,
		peerID:   peerID,
		dir:      dir,
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
	}

	info := models.TransportInfo{ID: t.id, IceCandidates: json.RawMessage("[]")}
	if info.IceParameters, err = json.Marshal(iceParametersJSON{
		UsernameFragment: iceParams.UsernameFragment,
		Password:         iceParams.Password,
		ICELite:          iceParams.ICELite,
	}); err != nil {
		t.stop()
		return models.TransportInfo{}, err
	}
	local := dtlsParametersJSON{Role: dtlsRoleString(dtlsParams.Role)}
	for _, fp := range dtlsParams.Fingerprints {
		local.Fingerprints = append(local.Fingerprints, dtlsFingerprintJSON{Algorithm: fp.Algorithm, Value: fp.Value})
	}
	if info.DtlsParameters, err = json.Marshal(local); err != nil {
		t.stop()
		return models.TransportInfo{}, err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		t.stop()
		return models.TransportInfo{}, ErrClosed
	}
	l.transports[t.id] = t
	l.mu.Unlock()

	l.log.Debugf("Created %s transport %s for peer %s in room %s", dir, t.id, peerID, roomID)
	return info, nil
}

func (l *Local) ConnectTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error {
	if err := l.usable(ctx); err != nil {
		return err
	}
	var remote dtlsParametersJSON
	if err := json.Unmarshal(dtlsParameters, &remote); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	if len(remote.Fingerprints) == 0 {
		return fmt.Errorf("%w: dtlsParameters.fingerprints is empty", ErrInvalidParameters)
	}
	switch remote.Role {
	case "", "auto", "client", "server":
	default:
		return fmt.Errorf("%w: dtls role %q", ErrInvalidParameters, remote.Role)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.transports[transportID]
	if !ok {
		return fmt.Errorf("transport %s: %w", transportID, ErrNotFound)
	}
	if t.connected {
		return fmt.Errorf("transport %s already connected", transportID)
	}
	t.remote = &remote
	t.connected = true
	return nil
}

func (l *Local) Produce(ctx context.Context, transportID string, kind models.MediaKind, rtpParameters json.RawMessage) (string, error) {
	if err := l.usable(ctx); err != nil {
		return "", err
	}
	if !kind.Valid() {
		return "", fmt.Errorf("%w: kind %q", ErrInvalidParameters, kind)
	}
	mimes, err := mimeTypes(rtpParameters)
	if err != nil {
		return "", fmt.Errorf("%w: rtpParameters: %v", ErrInvalidParameters, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.transports[transportID]
	if !ok {
		return "", fmt.Errorf("transport %s: %w", transportID, ErrNotFound)
	}
	if t.dir != room.DirectionSend {
		return "", ErrWrongDirection
	}

	p := &localProducer{
		id:          uuid.NewString(),
		transportID: transportID,
		kind:        kind,
		rtp:         rtpParameters,
		mimes:       mimes,
	}
	l.producers[p.id] = p
	l.log.Debugf("Peer %s produced %s %s", t.peerID, kind, p.id)
	return p.id, nil
}

func (l *Local) Consume(ctx context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (ConsumerInfo, error) {
	if err := l.usable(ctx); err != nil {
		return ConsumerInfo{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.transports[transportID]
	if !ok {
		return ConsumerInfo{}, fmt.Errorf("transport %s: %w", transportID, ErrNotFound)
	}
	if t.dir != room.DirectionRecv {
		return ConsumerInfo{}, ErrWrongDirection
	}
	p, ok := l.producers[producerID]
	if !ok {
		return ConsumerInfo{}, fmt.Errorf("producer %s: %w", producerID, ErrNotFound)
	}
	if len(rtpCapabilities) > 0 && len(p.mimes) > 0 {
		caps, err := mimeTypes(rtpCapabilities)
		if err != nil {
			return ConsumerInfo{}, fmt.Errorf("%w: rtpCapabilities: %v", ErrInvalidParameters, err)
		}
		if !intersects(caps, p.mimes) {
			return ConsumerInfo{}, fmt.Errorf("producer %s: %w", producerID, ErrCannotConsume)
		}
	}

	c := &localConsumer{
		id:          uuid.NewString(),
		transportID: transportID,
		producerID:  producerID,
		paused:      true,
	}
	l.consumers[c.id] = c
	return ConsumerInfo{ID: c.id, Kind: p.kind, RtpParameters: p.rtp}, nil
}

func (l *Local) ResumeConsumer(ctx context.Context, consumerID string) error {
	if err := l.usable(ctx); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.consumers[consumerID]
	if !ok {
		return fmt.Errorf("consumer %s: %w", consumerID, ErrNotFound)
	}
	c.paused = false
	return nil
}

func (l *Local) CloseConsumer(ctx context.Context, consumerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.consumers[consumerID]; !ok {
		return fmt.Errorf("consumer %s: %w", consumerID, ErrNotFound)
	}
	delete(l.consumers, consumerID)
	return nil
}

func (l *Local) CloseProducer(ctx context.Context, producerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.producers[producerID]; !ok {
		return fmt.Errorf("producer %s: %w", producerID, ErrNotFound)
	}
	l.closeProducerLocked(producerID)
	return nil
}

func (l *Local) closeProducerLocked(producerID string) {
	delete(l.producers, producerID)
	for id, c := range l.consumers {
		if c.producerID == producerID {
			delete(l.consumers, id)
		}
	}
}

func (l *Local) CloseTransport(ctx context.Context, transportID string) error {
	l.mu.Lock()
	t, ok := l.transports[transportID]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("transport %s: %w", transportID, ErrNotFound)
	}
	l.dropTransportLocked(t)
	l.mu.Unlock()

	t.stop()
	return nil
}

func (l *Local) dropTransportLocked(t *localTransport) {
	delete(l.transports, t.id)
	for id, p := range l.producers {
		if p.transportID == t.id {
			l.closeProducerLocked(id)
		}
	}
	for id, c := range l.consumers {
		if c.transportID == t.id {
			delete(l.consumers, id)
		}
	}
}

// Close releases every transport. Further calls fail with ErrClosed.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	transports := make([]*localTransport, 0, len(l.transports))
	for _, t := range l.transports {
		transports = append(transports, t)
	}
	for _, t := range transports {
		l.dropTransportLocked(t)
	}
	l.mu.Unlock()

	for _, t := range transports {
		t.stop()
	}
	return nil
}

// Stats reports the number of live transports, producers and consumers.
func (l *Local) Stats() (transports, producers, consumers int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.transports), len(l.producers), len(l.consumers)
}

// Paused reports whether a consumer exists and is paused.
func (l *Local) Paused(consumerID string) (paused, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.consumers[consumerID]
	if !ok {
		return false, false
	}
	return c.paused, true
}

func (l *Local) usable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return nil
}

func (t *localTransport) stop() {
	_ = t.dtls.Stop()
	_ = t.ice.Stop()
	_ = t.gatherer.Close()
}

func dtlsRoleString(r webrtc.DTLSRole) string {
	switch r {
	case webrtc.DTLSRoleClient:
		return "client"
	case webrtc.DTLSRoleServer:
		return "server"
	default:
		return "auto"
	}
}

func intersects(a, b map[string]bool) bool {
	for k := range a {
		if b[strings.ToLower(k)] {
			return true
		}
	}
	return false
}
