// Package engine drives the media-routing engine that owns transports,
// producers and consumers. The coordinator only ever holds opaque handles.
package engine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mossy-p/rtc-coordinator/internal/models"
	"github.com/mossy-p/rtc-coordinator/internal/room"
)

var (
	// ErrNotFound is returned for unknown transport, producer or consumer ids.
	ErrNotFound = errors.New("engine: resource not found")

	// ErrInvalidParameters is returned for malformed DTLS or RTP parameters.
	ErrInvalidParameters = errors.New("engine: invalid parameters")

	// ErrWrongDirection is returned when producing on a receive transport or
	// consuming on a send transport.
	ErrWrongDirection = errors.New("engine: wrong transport direction")

	// ErrCannotConsume is returned when the consumer capabilities share no
	// codec with the producer.
	ErrCannotConsume = errors.New("engine: cannot consume")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine: closed")
)

// ConsumerInfo describes a freshly created consumer. Consumers start paused.
type ConsumerInfo struct {
	ID            string           `json:"id"`
	Kind          models.MediaKind `json:"kind"`
	RtpParameters json.RawMessage  `json:"rtpParameters"`
}

// Engine is the contract of the media-routing engine.
type Engine interface {
	RouterCapabilities(ctx context.Context) (json.RawMessage, error)
	CreateTransport(ctx context.Context, roomID, peerID string, dir room.Direction) (models.TransportInfo, error)
	ConnectTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error
	Produce(ctx context.Context, transportID string, kind models.MediaKind, rtpParameters json.RawMessage) (string, error)
	Consume(ctx context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (ConsumerInfo, error)
	ResumeConsumer(ctx context.Context, consumerID string) error

	CloseConsumer(ctx context.Context, consumerID string) error
	CloseProducer(ctx context.Context, producerID string) error
	CloseTransport(ctx context.Context, transportID string) error

	Close() error
}

// Release closes everything in res, consumers first and transports last.
// It keeps going on failure and returns the first error.
func Release(ctx context.Context, e Engine, res room.Resources) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil && !errors.Is(err, ErrNotFound) {
			first = err
		}
	}
	for _, h := range res.Consumers {
		keep(e.CloseConsumer(ctx, h.ID))
	}
	for _, h := range res.Producers {
		keep(e.CloseProducer(ctx, h.ID))
	}
	for _, id := range res.Transports {
		keep(e.CloseTransport(ctx, id))
	}
	return first
}
