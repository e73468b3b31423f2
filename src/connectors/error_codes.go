package connectors

import "fmt"

// ErrorKind is the local taxonomy every exchange error code is normalized
// into. Only TRANSIENT_NETWORK and RATE_LIMITED are retryable; everything
// else terminates the attempt immediately.
type ErrorKind string

const (
	KindAuthInvalid         ErrorKind = "AUTH_INVALID"
	KindInsufficientBalance ErrorKind = "INSUFFICIENT_BALANCE"
	KindRateLimited         ErrorKind = "RATE_LIMITED"
	KindSymbolInvalid       ErrorKind = "SYMBOL_INVALID"
	KindTransientNetwork    ErrorKind = "TRANSIENT_NETWORK"
	KindUnknown             ErrorKind = "UNKNOWN"
)

// exchangeErrorKinds maps the exchange's numeric result codes into the
// local taxonomy. Unmapped codes fall through to UNKNOWN, which is treated
// as non-retryable by default.
var exchangeErrorKinds = map[int]ErrorKind{
	10001: KindAuthInvalid,         // invalid API key
	10002: KindAuthInvalid,         // signature mismatch
	10003: KindAuthInvalid,         // timestamp outside recv window
	10004: KindAuthInvalid,         // API key expired or revoked
	10005: KindAuthInvalid,         // IP not whitelisted
	20001: KindInsufficientBalance, // not enough balance
	20002: KindInsufficientBalance, // not enough margin
	30001: KindRateLimited,         // request rate exceeded
	30002: KindRateLimited,         // order rate exceeded
	40001: KindSymbolInvalid,       // unknown symbol
	40002: KindSymbolInvalid,       // symbol suspended
	40003: KindSymbolInvalid,       // contract not tradable
	50001: KindTransientNetwork,    // upstream engine busy, retry later
	50002: KindTransientNetwork,    // matching engine timeout
}

// KindForCode returns the taxonomy kind for a numeric exchange code.
func KindForCode(code int) ErrorKind {
	if kind, ok := exchangeErrorKinds[code]; ok {
		return kind
	}
	return KindUnknown
}

// ExchangeError is the tagged error the gateway returns to callers. Code is
// the raw numeric code from the exchange when one was received; local
// pre-send rejections carry a negative code.
type ExchangeError struct {
	Kind ErrorKind
	Code int
	Msg  string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange error %s (code=%d): %s", e.Kind, e.Code, e.Msg)
}

// Retryable reports whether the retry policy may re-attempt the request.
func (e *ExchangeError) Retryable() bool {
	return e.Kind == KindTransientNetwork || e.Kind == KindRateLimited
}
