package provider

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify_NilError(t *testing.T) {
	if Classify(nil) != nil {
		t.Fatal("expected nil classification for nil error")
	}
}

func TestClassify_KeepsExplicitSentinels(t *testing.T) {
	wrapped := fmt.Errorf("adapter: %w", ErrRateLimited)
	if !errors.Is(Classify(wrapped), ErrRateLimited) {
		t.Fatal("expected explicit rate-limit sentinel to survive classification")
	}
}

func TestClassify_InfersRateLimitFromMessage(t *testing.T) {
	cases := []string{
		"gemini generate failed: googleapi: Error 429: RESOURCE_EXHAUSTED",
		"sonar completion failed: too many requests",
		"huggingface non-success status=429 body=slow down",
		"quota exceeded for model",
	}
	for _, msg := range cases {
		err := Classify(errors.New(msg))
		if !errors.Is(err, ErrRateLimited) {
			t.Fatalf("expected rate-limit classification for %q, got %v", msg, err)
		}
	}
}

func TestClassify_OtherErrorsAreProviderErrors(t *testing.T) {
	err := Classify(errors.New("connection refused"))
	if !errors.Is(err, ErrProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if errors.Is(err, ErrRateLimited) {
		t.Fatal("connection refused must not classify as rate limited")
	}
}

func TestClassify_IncidentalFourTwoNineIsNotRateLimit(t *testing.T) {
	// "429" appearing in a request id or byte count is not a rate-limit
	// signal; only the contextual forms are.
	cases := []string{
		"upload failed for request id 58429f",
		"short read: got 429 bytes",
	}
	for _, msg := range cases {
		err := Classify(errors.New(msg))
		if errors.Is(err, ErrRateLimited) {
			t.Fatalf("expected provider error for %q, got rate limited", msg)
		}
	}
}

func TestIsRateLimited(t *testing.T) {
	if !IsRateLimited(errors.New("rate limit exceeded")) {
		t.Fatal("expected rate-limit detection")
	}
	if IsRateLimited(errors.New("bad gateway")) {
		t.Fatal("unexpected rate-limit detection")
	}
}
