package provider

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy for adapter failures. RateLimited is recovered locally by
// the router; the rest surface as normalized failures.
var (
	ErrProviderUnavailable = errors.New("no provider configured")
	ErrRateLimited         = errors.New("provider rate limited")
	ErrProviderError       = errors.New("provider error")
	ErrEmptyResult         = errors.New("provider returned empty result")
)

var rateLimitPatterns = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"quota",
	"resource exhausted",
	"resource_exhausted",
	"status=429",
	"status 429",
	"error 429",
	"code 429",
}

// Classify maps an arbitrary adapter error onto the taxonomy. Explicit
// sentinel wrapping wins; otherwise the error message is pattern-matched for
// a rate-limit signal.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrEmptyResult) || errors.Is(err, ErrProviderError) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, p := range rateLimitPatterns {
		if strings.Contains(msg, p) {
			return fmt.Errorf("%w: %s", ErrRateLimited, err.Error())
		}
	}
	return fmt.Errorf("%w: %s", ErrProviderError, err.Error())
}

// IsRateLimited reports whether err carries a rate-limit signal, explicit or
// inferred.
func IsRateLimited(err error) bool {
	return errors.Is(Classify(err), ErrRateLimited)
}
