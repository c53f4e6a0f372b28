package gdax

import (
	"errors"
	"net"
	"strings"
	"syscall"
	"testing"

	"github.com/piotras9000/gekko/internal/core"
)

func TestNormalizeResponseBodyMessageWins(t *testing.T) {
	transportErr := errors.New("unexpected EOF")
	err := normalizeResponse("buy", transportErr, 502, []byte(`{"message":"Insufficient funds"}`))
	if !errors.Is(err, core.ErrInsufficientBalance) {
		t.Fatalf("normalizeResponse() = %v, want ErrInsufficientBalance", err)
	}
	if got := core.KindOf(err); got != core.KindOther {
		t.Fatalf("KindOf() = %v, want %v", got, core.KindOther)
	}
}

func TestNormalizeResponseMessageTable(t *testing.T) {
	tests := []struct {
		message  string
		kind     core.FailKind
		sentinel error
	}{
		{"Rate limit exceeded", core.KindRateLimited, nil},
		{"Public rate limit exceeded", core.KindRateLimited, nil},
		{"Internal server error", core.KindServerError, nil},
		{"Insufficient funds", core.KindOther, core.ErrInsufficientBalance},
		{"Order already done", core.KindOther, core.ErrOrderDone},
		{"NotFound", core.KindOther, core.ErrOrderNotFound},
		{"Invalid API Key", core.KindOther, core.ErrBadCredentials},
		{"invalid signature", core.KindOther, core.ErrBadCredentials},
	}
	for _, tt := range tests {
		err := normalizeResponse("op", nil, 400, []byte(`{"message":"`+tt.message+`"}`))
		if err == nil {
			t.Fatalf("normalizeResponse(%q) = nil, want error", tt.message)
		}
		if got := core.KindOf(err); got != tt.kind {
			t.Fatalf("KindOf(%q) = %v, want %v", tt.message, got, tt.kind)
		}
		if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
			t.Fatalf("normalizeResponse(%q) = %v, want %v in chain", tt.message, err, tt.sentinel)
		}
		if !strings.Contains(err.Error(), tt.message) {
			t.Fatalf("normalizeResponse(%q) error text = %q, want original message preserved", tt.message, err.Error())
		}
	}
}

func TestNormalizeResponseUnknownMessageFallsBackToStatus(t *testing.T) {
	err := normalizeResponse("getTrades", nil, 503, []byte(`{"message":"Unexpected maintenance"}`))
	if got := core.KindOf(err); got != core.KindServerError {
		t.Fatalf("KindOf() = %v, want %v", got, core.KindServerError)
	}
	if !strings.Contains(err.Error(), "Unexpected maintenance") {
		t.Fatalf("error text = %q, want message preserved", err.Error())
	}
}

func TestNormalizeResponseStatusFallback(t *testing.T) {
	tests := []struct {
		status int
		body   string
		kind   core.FailKind
	}{
		{429, "", core.KindRateLimited},
		{500, "<html>oops</html>", core.KindServerError},
		{502, "bad gateway", core.KindServerError},
		{404, "", core.KindOther},
	}
	for _, tt := range tests {
		err := normalizeResponse("op", nil, tt.status, []byte(tt.body))
		if err == nil {
			t.Fatalf("normalizeResponse(status %d) = nil, want error", tt.status)
		}
		if got := core.KindOf(err); got != tt.kind {
			t.Fatalf("KindOf(status %d) = %v, want %v", tt.status, got, tt.kind)
		}
	}
}

func TestNormalizeResponseTransportFallback(t *testing.T) {
	dnsErr := &net.DNSError{Err: "no such host", Name: "api.gdax.com"}
	err := normalizeResponse("getTicker", dnsErr, 0, nil)
	if got := core.KindOf(err); got != core.KindDNSFailure {
		t.Fatalf("KindOf(dns) = %v, want %v", got, core.KindDNSFailure)
	}

	refused := &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	err = normalizeResponse("getTicker", refused, 0, nil)
	if got := core.KindOf(err); got != core.KindConnRefused {
		t.Fatalf("KindOf(refused) = %v, want %v", got, core.KindConnRefused)
	}
}

func TestNormalizeResponseSuccess(t *testing.T) {
	if err := normalizeResponse("getProductTrades", nil, 200, []byte(`[{"trade_id":1}]`)); err != nil {
		t.Fatalf("normalizeResponse(200) = %v, want nil", err)
	}
	if err := normalizeResponse("getOrder", nil, 200, []byte(`{"id":"abc","status":"open"}`)); err != nil {
		t.Fatalf("normalizeResponse(200 object) = %v, want nil", err)
	}
}
