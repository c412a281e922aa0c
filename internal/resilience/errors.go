package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Kind classifies a failed remote call. The kind is set where the failure
// happens and never re-derived from the rendered message.
type Kind int

const (
	// KindOther is any failure that fits no other kind. Not retryable.
	KindOther Kind = iota
	// KindTimeout is a request or dial that exceeded its deadline.
	KindTimeout
	// KindConnection is a refused, reset, or dropped connection or a DNS failure.
	KindConnection
	// KindServer is a 5xx response.
	KindServer
	// KindClient is a 4xx response.
	KindClient
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	default:
		return "other"
	}
}

// Retryable reports whether failures of this kind are worth another attempt.
func (k Kind) Retryable() bool {
	return k == KindTimeout || k == KindConnection || k == KindServer
}

// Error is a classified remote-call failure.
type Error struct {
	Kind       Kind
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s error (status %d): %v", e.Kind, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	default:
		return e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with an explicit kind.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// FromStatus classifies a non-success HTTP status. 4xx is KindClient, 5xx is
// KindServer, and anything else is KindOther carrying the raw status and body.
func FromStatus(statusCode int, body string) *Error {
	kind := KindOther
	switch {
	case statusCode >= 400 && statusCode < 500:
		kind = KindClient
	case statusCode >= 500 && statusCode < 600:
		kind = KindServer
	}
	return &Error{Kind: kind, StatusCode: statusCode, Body: body}
}

// IsSuccessStatus reports whether the status is 200, 201, or 202.
func IsSuccessStatus(statusCode int) bool {
	return statusCode == http.StatusOK ||
		statusCode == http.StatusCreated ||
		statusCode == http.StatusAccepted
}

// FromTransport classifies an error returned by http.Client.Do.
func FromTransport(err error) *Error {
	return &Error{Kind: transportKind(err), Err: err}
}

func transportKind(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return KindConnection
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnection
	}

	// Wrapped transport errors that lose their type on some platforms.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"server closed idle connection",
		"transport connection broken",
	} {
		if strings.Contains(msg, p) {
			return KindConnection
		}
	}

	return KindOther
}

// KindOf returns the kind of the first Error in err's chain, or KindOther.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// IsRetryable reports whether err carries a retryable kind.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err).Retryable()
}
