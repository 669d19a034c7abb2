package solana

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassifier_Classify(t *testing.T) {
	c := NewErrorClassifier(DefaultErrorPatterns())

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"rate limited status", errors.New("http status 429: Too Many Requests"), KindTransient},
		{"service unavailable", errors.New("http status 503: Service Unavailable"), KindTransient},
		{"node temporary error", &RPCError{Code: -32603, Message: "Temporary internal error"}, KindTransient},
		{"malformed body", fmt.Errorf("%w: invalid character '<'", ErrMalformedResponse), KindTransient},
		{"quota over 429", errors.New("http status 429: max usage reached"), KindQuotaExceeded},
		{"daily limit", &RPCError{Code: -32429, Message: "Daily limit exceeded for this key"}, KindQuotaExceeded},
		{"auth", errors.New("http status 401: Unauthorized"), KindAuthFailure},
		{"invalid key", errors.New("Invalid API key provided"), KindAuthFailure},
		{"context canceled", context.Canceled, KindUnknown},
		{"unknown wording", errors.New("something entirely new happened"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorClassifier_CustomPatterns(t *testing.T) {
	c := NewErrorClassifier(ErrorPatterns{
		Transient: []string{"  Slow Down "},
		Quota:     []string{"out of credits"},
	})

	if got := c.Classify(errors.New("please SLOW DOWN")); got != KindTransient {
		t.Errorf("expected transient, got %s", got)
	}
	if got := c.Classify(errors.New("account out of credits")); got != KindQuotaExceeded {
		t.Errorf("expected quota, got %s", got)
	}
	// Default wording no longer matches once patterns are replaced.
	if got := c.Classify(errors.New("http status 429")); got != KindUnknown {
		t.Errorf("expected unknown, got %s", got)
	}
}

func TestUpstreamError_Is(t *testing.T) {
	cause := errors.New("http status 429: max usage reached")
	err := fmt.Errorf("sync: %w", &UpstreamError{Kind: KindQuotaExceeded, Method: "getTransaction", Attempts: 1, Err: cause})

	if !errors.Is(err, ErrQuotaExceeded) {
		t.Error("expected errors.Is ErrQuotaExceeded")
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is cause")
	}
	if errors.Is(err, ErrTransient) {
		t.Error("did not expect ErrTransient")
	}

	unknown := &UpstreamError{Kind: KindUnknown, Method: "getTransaction", Attempts: 2, Err: cause}
	if errors.Is(unknown, ErrTransient) || errors.Is(unknown, ErrQuotaExceeded) || errors.Is(unknown, ErrAuthFailure) {
		t.Error("unknown kind must not match any sentinel")
	}

	c := NewErrorClassifier(DefaultErrorPatterns())
	if got := c.Classify(err); got != KindQuotaExceeded {
		t.Errorf("reclassifying a wrapped UpstreamError: got %s", got)
	}
}
