package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scottbott/scottbott/internal/provider"
)

// Kind selects which capability a request needs.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// usageWindow is how far back the rolling request counters look.
const usageWindow = time.Hour

// NormalizedResult is the envelope the router hands back regardless of which
// adapter served the request.
type NormalizedResult struct {
	Provider   string
	Text       string
	ImageBytes []byte
	ImageURL   string
}

// ProviderStats is a per-provider observability snapshot.
type ProviderStats struct {
	Name             string
	RequestsLastHour int
	LastRequest      time.Time
	State            CooldownState
	Info             provider.AdapterInfo
}

// UsageLog receives one append per served request. Failures are logged and
// swallowed; accounting must never fail a request.
type UsageLog interface {
	Append(providerName string, kind string, success bool) error
}

type record struct {
	text     provider.TextProvider
	image    provider.ImageProvider
	info     provider.AdapterInfo
	cooldown *Cooldown

	requests    []time.Time
	lastRequest time.Time
}

// Options configures a Router. Any adapter may be nil; the router degrades
// to whatever is configured.
type Options struct {
	PrimaryText   provider.TextProvider
	SecondaryText provider.TextProvider
	CheapImage    provider.ImageProvider
	PremiumImage  provider.ImageProvider

	CooldownWindow time.Duration
	Usage          UsageLog
	Logger         zerolog.Logger
	Now            func() time.Time
}

// Router owns the provider adapters, chooses one per request kind, tracks
// rolling usage counters and implements sticky failover with timed cooldown.
type Router struct {
	mu sync.Mutex

	primaryText   string
	secondaryText string
	cheapImage    string
	premiumImage  string
	records       map[string]*record

	usage UsageLog
	log   zerolog.Logger
	now   func() time.Time
}

func New(opts Options) *Router {
	r := &Router{
		records: make(map[string]*record),
		usage:   opts.Usage,
		log:     opts.Logger.With().Str("component", "router").Logger(),
		now:     opts.Now,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if opts.PrimaryText != nil {
		r.primaryText = opts.PrimaryText.Name()
		r.records[r.primaryText] = &record{
			text:     opts.PrimaryText,
			info:     opts.PrimaryText.Info(),
			cooldown: NewCooldown(opts.CooldownWindow),
		}
	}
	if opts.SecondaryText != nil {
		r.secondaryText = opts.SecondaryText.Name()
		r.records[r.secondaryText] = &record{
			text: opts.SecondaryText,
			info: opts.SecondaryText.Info(),
		}
	}
	if opts.CheapImage != nil {
		r.cheapImage = opts.CheapImage.Name()
		r.records[r.cheapImage] = &record{
			image: opts.CheapImage,
			info:  opts.CheapImage.Info(),
		}
	}
	if opts.PremiumImage != nil {
		r.premiumImage = opts.PremiumImage.Name()
		r.records[r.premiumImage] = &record{
			image: opts.PremiumImage,
			info:  opts.PremiumImage.Info(),
		}
	}
	return r
}

// Route returns the provider the given request kind would be sent to right
// now, without invoking it.
func (r *Router) Route(kind Kind, prompt string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch kind {
	case KindText:
		name, _ := r.pickTextLocked(r.now())
		if name == "" {
			if r.primaryText == "" && r.secondaryText == "" {
				return "", provider.ErrProviderUnavailable
			}
			// Primary cooling down and nothing to fail over to.
			return "", provider.ErrRateLimited
		}
		return name, nil
	case KindImage:
		if r.cheapImage != "" {
			return r.cheapImage, nil
		}
		if r.premiumImage != "" {
			return r.premiumImage, nil
		}
		return "", provider.ErrProviderUnavailable
	default:
		return "", fmt.Errorf("unknown request kind %q", kind)
	}
}

// pickTextLocked returns the text provider to attempt first and, when
// distinct, the fallback. The primary is skipped while cooling down.
func (r *Router) pickTextLocked(now time.Time) (first, fallback string) {
	primary := r.records[r.primaryText]
	if primary != nil && primary.cooldown.Allow(now) {
		return r.primaryText, r.secondaryText
	}
	if r.secondaryText != "" {
		return r.secondaryText, ""
	}
	if primary != nil {
		// Cooling down with no fallback; nothing else is eligible.
		return "", ""
	}
	return "", ""
}

// InvokeText builds a text completion via the preferred provider, failing
// over once on a rate-limit signal. Rate limits trip the primary's cooldown;
// a single primary success clears it.
func (r *Router) InvokeText(ctx context.Context, prompt string, history []provider.Message) (NormalizedResult, error) {
	r.mu.Lock()
	now := r.now()
	first, fallback := r.pickTextLocked(now)
	r.mu.Unlock()

	if first == "" {
		if r.primaryText == "" && r.secondaryText == "" {
			return NormalizedResult{}, provider.ErrProviderUnavailable
		}
		return NormalizedResult{}, provider.ErrRateLimited
	}

	res, err := r.invokeTextOnce(ctx, first, prompt, history)
	if err == nil {
		return res, nil
	}
	if !provider.IsRateLimited(err) || fallback == "" {
		return NormalizedResult{}, err
	}

	r.log.Warn().Str("provider", first).Str("fallback", fallback).Msg("text provider rate limited, failing over")
	res, ferr := r.invokeTextOnce(ctx, fallback, prompt, history)
	if ferr != nil {
		return NormalizedResult{}, ferr
	}
	return res, nil
}

func (r *Router) invokeTextOnce(ctx context.Context, name, prompt string, history []provider.Message) (NormalizedResult, error) {
	r.mu.Lock()
	rec := r.records[name]
	r.mu.Unlock()
	if rec == nil || rec.text == nil {
		return NormalizedResult{}, provider.ErrProviderUnavailable
	}

	r.RecordUsage(name)
	res, err := rec.text.GenerateText(ctx, prompt, history)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		classified := provider.Classify(err)
		if provider.IsRateLimited(classified) && rec.cooldown != nil {
			rec.cooldown.RecordRateLimit(now)
			r.log.Warn().Str("provider", name).Time("until", rec.cooldown.Until()).Msg("cooldown started")
		}
		r.appendUsageLocked(name, KindText, false)
		return NormalizedResult{}, classified
	}
	if rec.cooldown != nil {
		rec.cooldown.RecordSuccess()
	}
	if !res.Success || res.Text == "" {
		r.appendUsageLocked(name, KindText, false)
		return NormalizedResult{}, provider.ErrEmptyResult
	}
	r.appendUsageLocked(name, KindText, true)
	return NormalizedResult{Provider: name, Text: res.Text}, nil
}

// InvokeImage attempts the cheap provider and falls back to the premium one
// on any failure, including an empty payload. Usage is attributed to the
// provider that actually served.
func (r *Router) InvokeImage(ctx context.Context, prompt string, opts provider.ImageOptions) (NormalizedResult, error) {
	if r.cheapImage == "" && r.premiumImage == "" {
		return NormalizedResult{}, provider.ErrProviderUnavailable
	}

	var firstErr error
	for _, name := range []string{r.cheapImage, r.premiumImage} {
		if name == "" {
			continue
		}
		res, err := r.invokeImageOnce(ctx, name, prompt, opts)
		if err == nil {
			return res, nil
		}
		if firstErr == nil {
			firstErr = err
		} else {
			r.log.Debug().Str("provider", name).Err(err).Msg("image fallback also failed")
		}
	}
	return NormalizedResult{}, firstErr
}

func (r *Router) invokeImageOnce(ctx context.Context, name, prompt string, opts provider.ImageOptions) (NormalizedResult, error) {
	r.mu.Lock()
	rec := r.records[name]
	r.mu.Unlock()
	if rec == nil || rec.image == nil {
		return NormalizedResult{}, provider.ErrProviderUnavailable
	}

	res, err := rec.image.GenerateImage(ctx, prompt, opts)
	if err != nil {
		return NormalizedResult{}, provider.Classify(err)
	}
	if !res.Success || (len(res.Bytes) == 0 && res.URL == "") {
		return NormalizedResult{}, provider.ErrEmptyResult
	}

	r.RecordUsage(name)
	r.mu.Lock()
	r.appendUsageLocked(name, KindImage, true)
	r.mu.Unlock()
	return NormalizedResult{Provider: name, ImageBytes: res.Bytes, ImageURL: res.URL}, nil
}

// RecordUsage appends a request timestamp to the provider's rolling window.
func (r *Router) RecordUsage(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[name]
	if rec == nil {
		return
	}
	now := r.now()
	rec.requests = append(rec.requests, now)
	rec.lastRequest = now
}

func (r *Router) appendUsageLocked(name string, kind Kind, success bool) {
	if r.usage == nil {
		return
	}
	if err := r.usage.Append(name, string(kind), success); err != nil {
		r.log.Warn().Str("provider", name).Err(err).Msg("usage log append failed")
	}
}

// Stats returns a per-provider snapshot: requests in the last hour, last
// request time, cooldown state and static adapter metadata.
func (r *Router) Stats() []ProviderStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	names := []string{r.primaryText, r.secondaryText, r.cheapImage, r.premiumImage}
	out := make([]ProviderStats, 0, len(r.records))
	seen := make(map[string]bool, len(r.records))
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		rec := r.records[name]
		rec.requests = pruneBefore(rec.requests, now.Add(-usageWindow))
		state := StateAvailable
		if rec.cooldown != nil && !rec.cooldown.Allow(now) {
			state = StateCoolingDown
		}
		out = append(out, ProviderStats{
			Name:             name,
			RequestsLastHour: len(rec.requests),
			LastRequest:      rec.lastRequest,
			State:            state,
			Info:             rec.info,
		})
	}
	return out
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(ts) && ts[idx].Before(cutoff) {
		idx++
	}
	if idx == 0 {
		return ts
	}
	return append(ts[:0:0], ts[idx:]...)
}
