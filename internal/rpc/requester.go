package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/mossy-p/rtc-coordinator/internal/logger"
)

// DefaultTimeout bounds every request unless the requester is configured otherwise.
const DefaultTimeout = 10 * time.Second

// SendFunc writes a request frame. id is the correlation token the
// response must echo.
type SendFunc func(id, method string, payload json.RawMessage) error

type result struct {
	data json.RawMessage
	err  error
}

type call struct {
	method string
	done   chan result
}

// Requester correlates outbound requests with their responses. Concurrent
// requests are independent: each has its own token and its own timer.
type Requester struct {
	send    SendFunc
	timeout time.Duration
	log     logging.LeveledLogger

	mu      sync.Mutex
	pending map[string]*call
	closed  error
}

// NewRequester creates a Requester. timeout <= 0 selects DefaultTimeout.
func NewRequester(send SendFunc, timeout time.Duration, lf logging.LoggerFactory) *Requester {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Requester{
		send:    send,
		timeout: timeout,
		log:     logger.OrDefault(lf).NewLogger("rpc"),
		pending: make(map[string]*call),
	}
}

// Request sends method with payload and waits for the correlated response.
// It fails with ErrRequestTimeout when neither a response nor a
// cancellation arrives in time, and with a *RejectedError when the
// response carries an error.
func (r *Requester) Request(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal payload: %w", method, err)
		}
		raw = b
	}

	id := uuid.NewString()
	c := &call{method: method, done: make(chan result, 1)}

	r.mu.Lock()
	if r.closed != nil {
		err := r.closed
		r.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	r.pending[id] = c
	r.mu.Unlock()

	if err := r.send(id, method, raw); err != nil {
		r.forget(id)
		return nil, fmt.Errorf("%s: send: %w", method, err)
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case res := <-c.done:
		if res.err != nil {
			return nil, res.err
		}
		return res.data, nil
	case <-timer.C:
		r.forget(id)
		r.log.Warnf("Request %s (%s) timed out after %s", method, id, r.timeout)
		return nil, fmt.Errorf("%s: %w", method, ErrRequestTimeout)
	case <-ctx.Done():
		r.forget(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", method, ErrRequestTimeout)
		}
		return nil, ctx.Err()
	}
}

// Resolve delivers a response. It reports false when id is unknown, which
// is the case for late responses whose request already timed out.
func (r *Requester) Resolve(id string, data json.RawMessage, errMsg string) bool {
	r.mu.Lock()
	c, ok := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()

	if !ok {
		r.log.Debugf("Dropping response for unknown request %s", id)
		return false
	}

	res := result{data: data}
	if errMsg != "" {
		res = result{err: &RejectedError{Method: c.method, Message: errMsg}}
	}
	c.done <- res
	return true
}

// Close fails every pending request with err (ErrClosed if nil) and
// rejects future ones.
func (r *Requester) Close(err error) {
	if err == nil {
		err = ErrClosed
	} else if !errors.Is(err, ErrClosed) {
		err = fmt.Errorf("%w: %v", ErrClosed, err)
	}

	r.mu.Lock()
	if r.closed != nil {
		r.mu.Unlock()
		return
	}
	r.closed = err
	pending := r.pending
	r.pending = make(map[string]*call)
	r.mu.Unlock()

	for _, c := range pending {
		c.done <- result{err: fmt.Errorf("%s: %w", c.method, err)}
	}
}

// Pending returns the number of outstanding requests.
func (r *Requester) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Requester) forget(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}
