package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottbott/scottbott/internal/provider"
)

type fakeText struct {
	name  string
	calls int
	fn    func(call int) (provider.TextResult, error)
}

func (f *fakeText) Name() string { return f.name }
func (f *fakeText) GenerateText(_ context.Context, _ string, _ []provider.Message) (provider.TextResult, error) {
	f.calls++
	if f.fn == nil {
		return provider.TextResult{Success: true, Text: "ok from " + f.name}, nil
	}
	return f.fn(f.calls)
}
func (f *fakeText) HealthCheck(context.Context) bool { return true }
func (f *fakeText) Info() provider.AdapterInfo {
	return provider.AdapterInfo{Name: f.name, Features: []string{"text"}}
}

type fakeImage struct {
	name  string
	calls int
	fn    func(call int) (provider.ImageResult, error)
}

func (f *fakeImage) Name() string { return f.name }
func (f *fakeImage) GenerateImage(_ context.Context, _ string, _ provider.ImageOptions) (provider.ImageResult, error) {
	f.calls++
	if f.fn == nil {
		return provider.ImageResult{Success: true, Bytes: []byte{1}}, nil
	}
	return f.fn(f.calls)
}
func (f *fakeImage) HealthCheck(context.Context) bool { return true }
func (f *fakeImage) Info() provider.AdapterInfo {
	return provider.AdapterInfo{Name: f.name, Features: []string{"image"}}
}

type memUsage struct {
	entries []string
}

func (m *memUsage) Append(name, kind string, success bool) error {
	m.entries = append(m.entries, name+"/"+kind)
	return nil
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRouter(a, b provider.TextProvider, cheap, premium provider.ImageProvider, clock *fakeClock, usage UsageLog) *Router {
	return New(Options{
		PrimaryText:    a,
		SecondaryText:  b,
		CheapImage:     cheap,
		PremiumImage:   premium,
		CooldownWindow: 60 * time.Second,
		Usage:          usage,
		Logger:         zerolog.Nop(),
		Now:            clock.now,
	})
}

func TestInvokeText_PrefersPrimary(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	a := &fakeText{name: "a"}
	b := &fakeText{name: "b"}
	r := newTestRouter(a, b, nil, nil, clock, nil)

	res, err := r.InvokeText(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "a", res.Provider)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 0, b.calls)
}

func TestInvokeText_RateLimitTripsCooldownAndRoutesToSecondary(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	a := &fakeText{name: "a", fn: func(int) (provider.TextResult, error) {
		return provider.TextResult{}, errors.New("status=429 too many requests")
	}}
	b := &fakeText{name: "b"}
	r := newTestRouter(a, b, nil, nil, clock, nil)

	// First request hits the primary, gets rate limited, fails over.
	res, err := r.InvokeText(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "b", res.Provider)
	assert.Equal(t, 1, a.calls)

	// Next 5 requests inside the window must all route to the secondary.
	for i := 0; i < 5; i++ {
		clock.advance(10 * time.Second)
		res, err = r.InvokeText(context.Background(), "hi", nil)
		require.NoError(t, err)
		assert.Equal(t, "b", res.Provider)
	}
	assert.Equal(t, 1, a.calls, "primary must not be attempted while cooling down")

	// At t=61s past the trip, the primary must be attempted again.
	clock.advance(11 * time.Second)
	_, _ = r.InvokeText(context.Background(), "hi", nil)
	assert.Equal(t, 2, a.calls)
}

func TestInvokeText_PrimarySuccessClearsCooldown(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	failFirst := true
	a := &fakeText{name: "a", fn: func(int) (provider.TextResult, error) {
		if failFirst {
			failFirst = false
			return provider.TextResult{}, errors.New("rate limit exceeded")
		}
		return provider.TextResult{Success: true, Text: "recovered"}, nil
	}}
	b := &fakeText{name: "b"}
	r := newTestRouter(a, b, nil, nil, clock, nil)

	_, err := r.InvokeText(context.Background(), "hi", nil)
	require.NoError(t, err)

	clock.advance(61 * time.Second)
	res, err := r.InvokeText(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "a", res.Provider)

	// Cooldown cleared: the very next request goes straight to the primary.
	res, err = r.InvokeText(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "a", res.Provider)
}

func TestInvokeText_NonRateLimitErrorDoesNotFailOver(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	a := &fakeText{name: "a", fn: func(int) (provider.TextResult, error) {
		return provider.TextResult{}, errors.New("connection refused")
	}}
	b := &fakeText{name: "b"}
	r := newTestRouter(a, b, nil, nil, clock, nil)

	_, err := r.InvokeText(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, provider.ErrProviderError))
	assert.Equal(t, 0, b.calls)
}

func TestInvokeText_NoProvidersConfigured(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	r := newTestRouter(nil, nil, nil, nil, clock, nil)

	_, err := r.InvokeText(context.Background(), "hi", nil)
	assert.True(t, errors.Is(err, provider.ErrProviderUnavailable))
}

func TestInvokeImage_FallbackAttributesUsageToServer(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	usage := &memUsage{}
	cheap := &fakeImage{name: "huggingface", fn: func(int) (provider.ImageResult, error) {
		return provider.ImageResult{}, errors.New("model loading failed")
	}}
	premium := &fakeImage{name: "dalle"}
	r := newTestRouter(nil, nil, cheap, premium, clock, usage)

	res, err := r.InvokeImage(context.Background(), "a fox", provider.ImageOptions{})
	require.NoError(t, err)
	assert.Equal(t, "dalle", res.Provider)
	assert.NotEmpty(t, res.ImageBytes)

	require.Equal(t, []string{"dalle/image"}, usage.entries)

	stats := statsByName(r)
	assert.Equal(t, 0, stats["huggingface"].RequestsLastHour)
	assert.Equal(t, 1, stats["dalle"].RequestsLastHour)
}

func TestInvokeImage_EmptyPayloadTriggersFallback(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cheap := &fakeImage{name: "huggingface", fn: func(int) (provider.ImageResult, error) {
		return provider.ImageResult{Success: false}, nil
	}}
	premium := &fakeImage{name: "dalle"}
	r := newTestRouter(nil, nil, cheap, premium, clock, nil)

	res, err := r.InvokeImage(context.Background(), "a fox", provider.ImageOptions{})
	require.NoError(t, err)
	assert.Equal(t, "dalle", res.Provider)
}

func TestInvokeImage_BothFailSurfacesFirstError(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cheap := &fakeImage{name: "huggingface", fn: func(int) (provider.ImageResult, error) {
		return provider.ImageResult{}, errors.New("first failure")
	}}
	premium := &fakeImage{name: "dalle", fn: func(int) (provider.ImageResult, error) {
		return provider.ImageResult{}, errors.New("second failure")
	}}
	r := newTestRouter(nil, nil, cheap, premium, clock, nil)

	_, err := r.InvokeImage(context.Background(), "a fox", provider.ImageOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first failure")
}

func TestStats_RollingWindowPrunesOldRequests(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	a := &fakeText{name: "a"}
	r := newTestRouter(a, nil, nil, nil, clock, nil)

	for i := 0; i < 3; i++ {
		_, err := r.InvokeText(context.Background(), "hi", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, statsByName(r)["a"].RequestsLastHour)

	clock.advance(2 * time.Hour)
	assert.Equal(t, 0, statsByName(r)["a"].RequestsLastHour)
}

func TestRoute_ImagePrefersCheap(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	r := newTestRouter(nil, nil, &fakeImage{name: "huggingface"}, &fakeImage{name: "dalle"}, clock, nil)

	name, err := r.Route(KindImage, "a fox")
	require.NoError(t, err)
	assert.Equal(t, "huggingface", name)
}

func TestRoute_TextSkipsCoolingPrimary(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	a := &fakeText{name: "a", fn: func(int) (provider.TextResult, error) {
		return provider.TextResult{}, errors.New("quota exceeded")
	}}
	b := &fakeText{name: "b"}
	r := newTestRouter(a, b, nil, nil, clock, nil)

	_, err := r.InvokeText(context.Background(), "hi", nil)
	require.NoError(t, err)

	name, err := r.Route(KindText, "hi")
	require.NoError(t, err)
	assert.Equal(t, "b", name)
}

func TestRoute_CoolingPrimaryWithoutFallbackIsRateLimited(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	a := &fakeText{name: "a", fn: func(int) (provider.TextResult, error) {
		return provider.TextResult{}, errors.New("quota exceeded")
	}}
	r := newTestRouter(a, nil, nil, nil, clock, nil)

	_, err := r.InvokeText(context.Background(), "hi", nil)
	require.Error(t, err)

	// The adapter exists but is cooling down: rate limited, not unconfigured.
	_, err = r.Route(KindText, "hi")
	assert.True(t, errors.Is(err, provider.ErrRateLimited))

	clock.advance(61 * time.Second)
	name, err := r.Route(KindText, "hi")
	require.NoError(t, err)
	assert.Equal(t, "a", name)
}

func statsByName(r *Router) map[string]ProviderStats {
	out := make(map[string]ProviderStats)
	for _, s := range r.Stats() {
		out[s.Name] = s
	}
	return out
}
