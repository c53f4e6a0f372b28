package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
	"time"
)

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want FailKind
	}{
		{"nil", nil, KindOther},
		{"tagged failure", &Failure{Kind: KindRateLimited, Op: "getProductTrades"}, KindRateLimited},
		{
			"wrapped failure",
			fmt.Errorf("fetch page: %w", &Failure{Kind: KindServerError, Op: "getProductTrades"}),
			KindServerError,
		},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{
			"dns",
			&net.DNSError{Err: "no such host", Name: "api.gdax.com", IsNotFound: true},
			KindDNSFailure,
		},
		{
			"conn reset",
			&net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)},
			KindConnReset,
		},
		{
			"conn refused",
			&net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)},
			KindConnRefused,
		},
		{"net timeout", timeoutNetError{}, KindTimeout},
		{"plain", errors.New("invalid request"), KindOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFailureUnwrapsSentinels(t *testing.T) {
	err := &Failure{
		Kind: KindOther,
		Op:   "cancelOrder",
		Err:  errors.Join(errors.New("Order already done"), ErrOrderDone),
	}
	if !errors.Is(err, ErrOrderDone) {
		t.Fatalf("errors.Is(err, ErrOrderDone) = false, want true")
	}
	if got := KindOf(err); got != KindOther {
		t.Fatalf("KindOf() = %v, want %v", got, KindOther)
	}
}

func TestParseError(t *testing.T) {
	_, perr := time.Parse(time.RFC3339, "not-a-time")
	err := &ParseError{Field: "time", Value: "not-a-time", Err: perr}

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("errors.As(*ParseError) = false, want true")
	}
	if parseErr.Field != "time" {
		t.Fatalf("Field = %q, want %q", parseErr.Field, "time")
	}
	if got := KindOf(err); got != KindOther {
		t.Fatalf("KindOf(parse error) = %v, want %v", got, KindOther)
	}
}
