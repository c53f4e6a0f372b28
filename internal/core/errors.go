package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// FailKind is the machine-checkable failure category attached to an error at
// the point it is first observed. Retry decisions consult the kind, never the
// error text.
type FailKind string

const (
	KindOther       FailKind = "other"
	KindTimeout     FailKind = "timeout"
	KindConnReset   FailKind = "conn_reset"
	KindConnRefused FailKind = "conn_refused"
	KindDNSFailure  FailKind = "dns_failure"
	KindRateLimited FailKind = "rate_limited"
	KindServerError FailKind = "server_error"
)

// Failure wraps an underlying error with its kind and the operation that
// observed it.
type Failure struct {
	Kind FailKind
	Op   string
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Op, f.Kind)
	}
	return fmt.Sprintf("%s: %v", f.Op, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// KindOf reports the failure kind of err. An explicit Failure tag wins;
// otherwise the transport error chain is inspected for the conditions the
// kinds represent. Unrecognized errors are KindOther.
func KindOf(err error) FailKind {
	if err == nil {
		return KindOther
	}
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNSFailure
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return KindConnReset
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnRefused
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindOther
}

// ParseError indicates a malformed numeric or timestamp field in an exchange
// payload. It is a data contract violation and is never retried.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
