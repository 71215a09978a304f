package rpc

import "errors"

var (
	// ErrRequestTimeout is returned when no response arrives within the timeout.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrRequestRejected matches every RejectedError.
	ErrRequestRejected = errors.New("request rejected")

	// ErrClosed is returned for requests issued on, or pending at, a closed requester.
	ErrClosed = errors.New("requester closed")
)

// RejectedError carries the error the remote side answered with, verbatim.
type RejectedError struct {
	Method  string
	Message string
}

func (e *RejectedError) Error() string { return e.Message }

func (e *RejectedError) Unwrap() error { return ErrRequestRejected }
