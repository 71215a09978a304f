package signaling

import "errors"

var (
	ErrNotInRoom      = errors.New("not in a room")
	ErrAlreadyInRoom  = errors.New("already in a room")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrInvalidSignal  = errors.New("invalid signal type")

	// ErrNoMediaEngine is returned for routed-mode requests when the
	// coordinator runs without an engine.
	ErrNoMediaEngine = errors.New("media engine not configured")

	ErrUnknownTransport = errors.New("unknown transport")
	ErrNoSendTransport  = errors.New("no send transport")
	ErrUnknownProducer  = errors.New("unknown producer")
	ErrUnknownConsumer  = errors.New("unknown consumer")
	ErrOwnProducer      = errors.New("cannot consume own producer")
)
