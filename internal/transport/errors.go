package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrTimeout         = errors.New("request timed out")
	ErrNetwork         = errors.New("network error")
	ErrServer          = errors.New("server error")
	ErrUnknownSession  = errors.New("unknown session")
	ErrInvalidResponse = errors.New("invalid response")
)

// HTTPError carries the status and body of a non-2xx reply.
// It matches ErrServer through errors.Is.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("backend request failed: status=%d body=%s", e.StatusCode, e.Body)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrServer
}

// Kind names used in logs and metrics
const (
	KindTimeout         = "timeout"
	KindNetwork         = "network"
	KindServer          = "server"
	KindUnknownSession  = "unknown_session"
	KindInvalidResponse = "invalid_response"
	KindCanceled        = "canceled"
	KindOther           = "other"
)

// KindOf classifies err for diagnostics. It returns "" for a nil error.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownSession):
		return KindUnknownSession
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrServer):
		return KindServer
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrInvalidResponse):
		return KindInvalidResponse
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindOther
	}
}

// classify wraps a failure returned by http.Client.Do with its error kind
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
}
