package solana

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Upstream error kinds surfaced by RateLimitedClient.
var (
	// ErrTransient is returned when retries for a transient failure are exhausted.
	ErrTransient = errors.New("transient upstream error")

	// ErrQuotaExceeded is returned when the provider reports the usage quota is spent.
	ErrQuotaExceeded = errors.New("upstream quota exceeded")

	// ErrAuthFailure is returned when the provider rejects the credentials.
	ErrAuthFailure = errors.New("upstream authentication failure")

	// ErrMalformedResponse marks a response body that is not valid JSON-RPC.
	ErrMalformedResponse = errors.New("malformed rpc response")
)

// ErrorKind is the closed set of upstream failure classes.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTransient
	KindQuotaExceeded
	KindAuthFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindAuthFailure:
		return "auth_failure"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindTransient:
		return ErrTransient
	case KindQuotaExceeded:
		return ErrQuotaExceeded
	case KindAuthFailure:
		return ErrAuthFailure
	default:
		return nil
	}
}

// ErrorPatterns holds the message substrings used to classify upstream errors.
// Matching is case-insensitive.
type ErrorPatterns struct {
	Transient []string `yaml:"transient"`
	Quota     []string `yaml:"quota"`
	Auth      []string `yaml:"auth"`
}

// DefaultErrorPatterns returns the substrings observed from common RPC providers.
func DefaultErrorPatterns() ErrorPatterns {
	return ErrorPatterns{
		Transient: []string{
			"status 429",
			"too many requests",
			"status 502",
			"status 503",
			"status 504",
			"service unavailable",
			"bad gateway",
			"temporary internal error",
			"connection reset",
			"unexpected eof",
		},
		Quota: []string{
			"max usage reached",
			"daily limit",
			"quota exceeded",
			"credits exhausted",
		},
		Auth: []string{
			"status 401",
			"status 403",
			"unauthorized",
			"invalid api key",
		},
	}
}

// ErrorClassifier maps upstream errors to an ErrorKind.
type ErrorClassifier struct {
	transient []string
	quota     []string
	auth      []string
}

// NewErrorClassifier creates a classifier from patterns.
func NewErrorClassifier(p ErrorPatterns) *ErrorClassifier {
	return &ErrorClassifier{
		transient: lowerAll(p.Transient),
		quota:     lowerAll(p.Quota),
		auth:      lowerAll(p.Auth),
	}
}

// Classify returns the kind of err. Quota and auth patterns win over transient
// ones because providers often report an exhausted quota with a 429 status.
func (c *ErrorClassifier) Classify(err error) ErrorKind {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindUnknown
	}

	var upErr *UpstreamError
	if errors.As(err, &upErr) && upErr.Kind != KindUnknown {
		return upErr.Kind
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, c.quota):
		return KindQuotaExceeded
	case containsAny(msg, c.auth):
		return KindAuthFailure
	case containsAny(msg, c.transient):
		return KindTransient
	case errors.Is(err, ErrMalformedResponse):
		return KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}

	return KindUnknown
}

// UpstreamError is the terminal error of a rate-limited call.
type UpstreamError struct {
	Kind     ErrorKind
	Method   string
	Attempts int
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s) (%s): %v", e.Method, e.Attempts, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying error.
func (e *UpstreamError) Unwrap() []error {
	if s := e.Kind.sentinel(); s != nil {
		return []error{s, e.Err}
	}
	return []error{e.Err}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
