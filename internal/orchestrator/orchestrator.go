// Package orchestrator wires inbound chat events to the conversation
// pipeline, the provider router and the image job engine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/scottbott/scottbott/internal/conversation"
	"github.com/scottbott/scottbott/internal/gateway"
	"github.com/scottbott/scottbott/internal/jobs"
	"github.com/scottbott/scottbott/internal/provider"
	"github.com/scottbott/scottbott/internal/reminder"
	"github.com/scottbott/scottbott/internal/router"
)

// Discord rejects bodies past 4000 characters on the message endpoints the
// bot uses, so overlong replies get one rewrite attempt, then a hard cut.
const maxReplyChars = 4000

// TextInvoker is the router surface the orchestrator needs.
type TextInvoker interface {
	InvokeText(ctx context.Context, prompt string, history []provider.Message) (router.NormalizedResult, error)
	Stats() []router.ProviderStats
}

// JobSubmitter is the job-engine surface the orchestrator needs.
type JobSubmitter interface {
	Submit(requesterID, prompt string, params jobs.Params, target jobs.StatusTarget) (*jobs.Job, error)
	Stats() jobs.Stats
	SweepDebounce(now time.Time) int
}

// Prefs stores per-user settings, currently just the persona override.
type Prefs interface {
	GetPref(userID, key string) (string, error)
	SetPref(userID, key, value string) error
}

// Reminders schedules reminders and sweeps the due ones.
type Reminders interface {
	Schedule(userID, channelID, text string) (reply string, ok bool, err error)
	Sweep(ctx context.Context, now time.Time) int
}

// Messenger is the outbound gateway surface.
type Messenger interface {
	gateway.Replier
	RespondToInteraction(ctx context.Context, interactionID, token, content string) error
}

// Options configures an Orchestrator.
type Options struct {
	TriggerWord string
	BotUserID   string
	TextTimeout time.Duration

	Builder   *conversation.Builder
	Store     *conversation.Store
	Router    TextInvoker
	Engine    JobSubmitter
	Reminders Reminders
	Prefs     Prefs
	Messenger Messenger
	Logger    zerolog.Logger
	Now       func() time.Time
}

type Orchestrator struct {
	trigger     string
	triggerRe   *regexp.Regexp
	botUserID   string
	textTimeout time.Duration

	builder   *conversation.Builder
	store     *conversation.Store
	router    TextInvoker
	engine    JobSubmitter
	reminders Reminders
	prefs     Prefs
	messenger Messenger
	log       zerolog.Logger
	now       func() time.Time
}

func New(opts Options) *Orchestrator {
	trigger := strings.ToLower(opts.TriggerWord)
	if trigger == "" {
		trigger = "scottbott"
	}
	o := &Orchestrator{
		trigger:     trigger,
		triggerRe:   regexp.MustCompile(`(?i)` + regexp.QuoteMeta(trigger)),
		botUserID:   opts.BotUserID,
		textTimeout: opts.TextTimeout,
		builder:     opts.Builder,
		store:       opts.Store,
		router:      opts.Router,
		engine:      opts.Engine,
		reminders:   opts.Reminders,
		prefs:       opts.Prefs,
		messenger:   opts.Messenger,
		log:         opts.Logger.With().Str("component", "orchestrator").Logger(),
		now:         opts.Now,
	}
	if o.textTimeout <= 0 {
		o.textTimeout = 20 * time.Second
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// HandleMessage processes one inbound chat message end to end: reminder
// requests first, then the addressed-to-the-bot gate, then the conversation
// pipeline.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg gateway.InboundMessage) {
	if msg.IsBot {
		return
	}

	if o.reminders != nil && reminder.Matches(msg.Content) {
		reply, ok, err := o.reminders.Schedule(msg.AuthorID, msg.ChannelID, msg.Content)
		if ok {
			if err != nil {
				o.log.Error().Err(err).Msg("reminder scheduling failed")
				reply = "Sorry, I couldn't save that reminder."
			}
			o.reply(ctx, msg.ChannelID, reply)
			return
		}
		// Not a well-formed reminder phrase; treat it as a normal message.
	}

	if !o.addressed(msg) {
		return
	}

	input := o.cleanInput(msg)
	if input == "" {
		o.reply(ctx, msg.ChannelID, "What's up?")
		return
	}

	identity := msg.Identity
	if identity == "" && o.prefs != nil {
		if v, err := o.prefs.GetPref(msg.AuthorID, "identity"); err == nil {
			identity = v
		}
	}

	built := o.builder.BuildContext(msg.AuthorID, msg.ChannelID, input, identity)
	// Adapters append the prompt as the final user message themselves.
	history := built.Messages[:len(built.Messages)-1]

	tctx, cancel := context.WithTimeout(ctx, o.textTimeout)
	defer cancel()
	res, err := o.router.InvokeText(tctx, input, history)
	if err != nil {
		o.log.Warn().Str("channel", msg.ChannelID).Err(err).Msg("text invocation failed")
		o.reply(ctx, msg.ChannelID, friendlyTextFailure(err))
		return
	}

	text := o.fitReply(tctx, res.Text)
	o.reply(ctx, msg.ChannelID, text)

	o.builder.AddTurn(msg.AuthorID, msg.ChannelID, input, false)
	o.builder.AddTurn(msg.AuthorID, msg.ChannelID, text, true)
}

// addressed reports whether the message is directed at the bot: trigger word
// in the body, an explicit mention, a reply to the bot, or a reply to a
// message naming it.
func (o *Orchestrator) addressed(msg gateway.InboundMessage) bool {
	if strings.Contains(strings.ToLower(msg.Content), o.trigger) {
		return true
	}
	if msg.MentionsBot {
		return true
	}
	if o.botUserID != "" && msg.ReferencedAuthor == o.botUserID {
		return true
	}
	return msg.ReferencedContent != "" && strings.Contains(strings.ToLower(msg.ReferencedContent), o.trigger)
}

// cleanInput strips mention markup and the trigger word, then prefixes the
// replied-to text so the model sees what the user is reacting to.
func (o *Orchestrator) cleanInput(msg gateway.InboundMessage) string {
	cleaned := msg.Content
	if o.botUserID != "" {
		cleaned = strings.ReplaceAll(cleaned, "<@"+o.botUserID+">", "")
		cleaned = strings.ReplaceAll(cleaned, "<@!"+o.botUserID+">", "")
	}
	cleaned = o.triggerRe.ReplaceAllString(cleaned, "")

	if ref := strings.TrimSpace(msg.ReferencedContent); ref != "" {
		cleaned = fmt.Sprintf("[Replying to: %s]\n%s", ref, cleaned)
	}
	return strings.TrimSpace(cleaned)
}

// fitReply keeps the reply under the platform limit: one rewrite attempt
// through the router, then a hard truncate with an ellipsis.
func (o *Orchestrator) fitReply(ctx context.Context, text string) string {
	if utf8.RuneCountInString(text) <= maxReplyChars {
		return text
	}
	o.log.Debug().Int("chars", utf8.RuneCountInString(text)).Msg("reply over limit, attempting rewrite")

	prompt := fmt.Sprintf(
		"Please rewrite the following response to be under 4000 characters while keeping the key points and tone: %s...",
		firstRunes(text, 1500),
	)
	res, err := o.router.InvokeText(ctx, prompt, nil)
	if err == nil && utf8.RuneCountInString(res.Text) <= maxReplyChars {
		return res.Text
	}
	return firstRunes(text, maxReplyChars-3) + "..."
}

// HandleInteraction dispatches a slash-command invocation.
func (o *Orchestrator) HandleInteraction(ctx context.Context, itx gateway.Interaction) {
	switch itx.Command {
	case "imagine":
		o.handleImagine(ctx, itx)
	case "stats":
		o.respond(ctx, itx, o.renderStats())
	case "identity":
		o.handleIdentity(ctx, itx)
	default:
		o.respond(ctx, itx, fmt.Sprintf("Unknown command %q.", itx.Command))
	}
}

func (o *Orchestrator) handleImagine(ctx context.Context, itx gateway.Interaction) {
	prompt := strings.TrimSpace(itx.Options["prompt"])
	if prompt == "" {
		o.respond(ctx, itx, "Give me a prompt to draw.")
		return
	}

	statusID, err := o.messenger.CreateMessage(ctx, itx.ChannelID, fmt.Sprintf("Queued image for %q...", prompt))
	if err != nil {
		o.log.Error().Err(err).Msg("failed to create status message")
		o.respond(ctx, itx, "Failed to generate image.")
		return
	}

	params := jobs.Params{AspectRatio: itx.Options["aspect"], Tier: itx.Options["tier"]}
	job, err := o.engine.Submit(itx.UserID, prompt, params, jobs.StatusTarget{
		ChannelID: itx.ChannelID,
		MessageID: statusID,
	})
	if err != nil {
		o.log.Error().Err(err).Msg("job submission failed")
		o.respond(ctx, itx, "Failed to generate image.")
		return
	}
	o.respond(ctx, itx, fmt.Sprintf("Working on it. Job %s.", job.ID))
}

func (o *Orchestrator) handleIdentity(ctx context.Context, itx gateway.Interaction) {
	persona := strings.TrimSpace(itx.Options["persona"])
	if o.prefs == nil {
		o.respond(ctx, itx, "Personas are not available.")
		return
	}
	if err := o.prefs.SetPref(itx.UserID, "identity", persona); err != nil {
		o.log.Error().Err(err).Msg("failed to store persona")
		o.respond(ctx, itx, "Couldn't save that persona.")
		return
	}
	if persona == "" {
		o.respond(ctx, itx, "Persona cleared.")
		return
	}
	o.respond(ctx, itx, fmt.Sprintf("From now on I'm %q for you.", persona))
}

func (o *Orchestrator) renderStats() string {
	var b strings.Builder
	js := o.engine.Stats()
	fmt.Fprintf(&b, "Jobs: %d active, %d completed, %d failed, %d cancelled\n",
		js.Active, js.Completed, js.Failed, js.Cancelled)
	for _, ps := range o.router.Stats() {
		fmt.Fprintf(&b, "%s: %d requests last hour, %s\n", ps.Name, ps.RequestsLastHour, ps.State)
	}
	return strings.TrimRight(b.String(), "\n")
}

// SweepOptions sets the periods of the lifecycle tickers.
type SweepOptions struct {
	ConversationSweep time.Duration
	DebounceSweep     time.Duration
	ReminderSweep     time.Duration
}

// Run drives the periodic sweeps until the context is cancelled: idle
// conversation purge, stale debounce records and due reminders. Owning the
// tickers here keeps teardown deterministic.
func (o *Orchestrator) Run(ctx context.Context, opts SweepOptions) {
	if opts.ConversationSweep <= 0 {
		opts.ConversationSweep = time.Minute
	}
	if opts.DebounceSweep <= 0 {
		opts.DebounceSweep = 5 * time.Second
	}
	if opts.ReminderSweep <= 0 {
		opts.ReminderSweep = 15 * time.Second
	}

	convTick := time.NewTicker(opts.ConversationSweep)
	defer convTick.Stop()
	debounceTick := time.NewTicker(opts.DebounceSweep)
	defer debounceTick.Stop()
	reminderTick := time.NewTicker(opts.ReminderSweep)
	defer reminderTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-convTick.C:
			if n := o.store.SweepIdle(o.now()); n > 0 {
				o.log.Debug().Int("purged", n).Msg("idle conversations purged")
			}
		case <-debounceTick.C:
			o.engine.SweepDebounce(o.now())
		case <-reminderTick.C:
			if o.reminders != nil {
				o.reminders.Sweep(ctx, o.now())
			}
		}
	}
}

func (o *Orchestrator) reply(ctx context.Context, channelID, text string) {
	if _, err := o.messenger.CreateMessage(ctx, channelID, text); err != nil {
		o.log.Error().Str("channel", channelID).Err(err).Msg("reply failed")
	}
}

func (o *Orchestrator) respond(ctx context.Context, itx gateway.Interaction, text string) {
	if err := o.messenger.RespondToInteraction(ctx, itx.ID, itx.Token, text); err != nil {
		o.log.Error().Str("interaction", itx.ID).Err(err).Msg("interaction response failed")
	}
}

func friendlyTextFailure(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "LLM request timed out. Try again or increase LLM_TIMEOUT."
	case errors.Is(err, provider.ErrProviderUnavailable):
		return "No language model is configured right now."
	case provider.IsRateLimited(err):
		return "Everything is rate limited right now, give it a minute."
	default:
		return "Sorry, I encountered an error while processing your message."
	}
}

func firstRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
