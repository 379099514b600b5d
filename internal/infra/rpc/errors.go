package rpc

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/txguard/internal/core/domain"
)

// JSON-RPC and EIP-1193 error codes with a fixed meaning.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeLimitExceeded  = -32005
	codeUserRejected   = 4001
)

var (
	insufficientPhrases = []string{
		"insufficient funds",
		"insufficient balance",
		"gas required exceeds allowance",
	}
	// The nonce is spent or the node already holds the transaction. Resending
	// the same payload cannot succeed, so callers look up the receipt instead.
	nonceSpentPhrases = []string{
		"nonce too low",
		"already known",
		"known transaction",
	}
	transientPhrases = []string{
		"underpriced",
		"header not found",
		"timeout",
		"temporarily unavailable",
		"try again",
	}
)

// kindForRPCError maps a JSON-RPC error object to a kind. This is the only
// place backend messages are inspected.
func (c *Client) kindForRPCError(code int, message string) domain.ErrorKind {
	lower := strings.ToLower(message)
	switch {
	case code == codeUserRejected:
		return domain.KindUserDeclined
	case code == codeLimitExceeded || c.Monitor.DetectThrottlePattern(message):
		return domain.KindRateLimited
	case code == codeParseError, code == codeInvalidRequest,
		code == codeMethodNotFound, code == codeInvalidParams:
		return domain.KindInvalidRequest
	case containsAny(lower, nonceSpentPhrases):
		return domain.KindInvalidRequest
	case containsAny(lower, insufficientPhrases):
		return domain.KindInsufficientResources
	case code == codeInternalError, containsAny(lower, transientPhrases):
		return domain.KindTransient
	default:
		return domain.KindUnknown
	}
}

// kindForHTTPStatus maps a non-200, non-throttle HTTP status to a kind.
func kindForHTTPStatus(status int) domain.ErrorKind {
	switch {
	case status >= 500, status == http.StatusRequestTimeout:
		return domain.KindTransient
	case status >= 400:
		return domain.KindInvalidRequest
	default:
		return domain.KindUnknown
	}
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// parseRetryAfter parses a Retry-After header in seconds or HTTP-date form.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
