package gdax

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/piotras9000/gekko/internal/core"
)

type messageKind struct {
	kind     core.FailKind
	sentinel error
}

// apiMessageKinds maps known in-band error messages (normalized to lowercase)
// to failure kinds and contract sentinels.
var apiMessageKinds = map[string]messageKind{
	"rate limit exceeded":         {kind: core.KindRateLimited},
	"public rate limit exceeded":  {kind: core.KindRateLimited},
	"private rate limit exceeded": {kind: core.KindRateLimited},
	"slow rate limit exceeded":    {kind: core.KindRateLimited},
	"internal server error":       {kind: core.KindServerError},
	"insufficient funds":          {kind: core.KindOther, sentinel: core.ErrInsufficientBalance},
	"order already done":          {kind: core.KindOther, sentinel: core.ErrOrderDone},
	"order not found":             {kind: core.KindOther, sentinel: core.ErrOrderNotFound},
	"notfound":                    {kind: core.KindOther, sentinel: core.ErrOrderNotFound},
	"invalid api key":             {kind: core.KindOther, sentinel: core.ErrBadCredentials},
	"invalid passphrase":          {kind: core.KindOther, sentinel: core.ErrBadCredentials},
	"invalid signature":           {kind: core.KindOther, sentinel: core.ErrBadCredentials},
}

// normalizeResponse reduces a raw API exchange result to a single effective
// error. Precedence: an in-band error message in the body wins, then a
// non-2xx status, then the transport error itself.
func normalizeResponse(op string, transportErr error, status int, body []byte) error {
	if msg := decodeAPIMessage(body); msg != "" {
		return classifyAPIMessage(op, msg, status)
	}
	if status != 0 && (status < 200 || status >= 300) {
		return &core.Failure{
			Kind: kindFromStatus(status),
			Op:   op,
			Err:  fmt.Errorf("http status %d", status),
		}
	}
	if transportErr != nil {
		return &core.Failure{
			Kind: core.KindOf(transportErr),
			Op:   op,
			Err:  transportErr,
		}
	}
	return nil
}

// decodeAPIMessage extracts the in-band error message, tolerating bodies that
// are not error objects (arrays, empty, non-JSON).
func decodeAPIMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var apiErr apiErrorBody
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return ""
	}
	return strings.TrimSpace(apiErr.Message)
}

func classifyAPIMessage(op, msg string, status int) error {
	normalized := strings.ToLower(strings.TrimSpace(msg))
	if mk, ok := apiMessageKinds[normalized]; ok {
		err := errors.New(msg)
		if mk.sentinel != nil {
			err = errors.Join(err, mk.sentinel)
		}
		return &core.Failure{Kind: mk.kind, Op: op, Err: err}
	}
	return &core.Failure{Kind: kindFromStatus(status), Op: op, Err: errors.New(msg)}
}

func kindFromStatus(status int) core.FailKind {
	switch {
	case status == http.StatusTooManyRequests:
		return core.KindRateLimited
	case status >= 500:
		return core.KindServerError
	default:
		return core.KindOther
	}
}
