package resilience

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// TransientError tags an error as retryable and carries the HTTP status
// that produced it, when one exists.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as transient. Pass 0 when no HTTP status
// applies.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient reports whether err, anywhere in its chain, is worth
// retrying: an explicit TransientError, a network timeout, a
// connection-level syscall failure, or a message matching known flaky
// transport phrases.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	for _, errno := range transientSyscalls {
		if errors.Is(err, errno) {
			return true
		}
	}

	return flakyTransportMessage(err)
}

var transientSyscalls = []error{
	syscall.ECONNRESET,
	syscall.ECONNREFUSED,
	syscall.ECONNABORTED,
	syscall.ETIMEDOUT,
}

var transientPhrases = []string{
	"connection reset by peer",
	"connection timed out",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
}

// flakyTransportMessage is the last resort for errors that lost their
// type somewhere in the chain and only kept their text.
func flakyTransportMessage(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether the status code is worth
// retrying.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
