package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottbott/scottbott/internal/conversation"
	"github.com/scottbott/scottbott/internal/gateway"
	"github.com/scottbott/scottbott/internal/jobs"
	"github.com/scottbott/scottbott/internal/provider"
	"github.com/scottbott/scottbott/internal/router"
)

type fakeRouter struct {
	prompts   []string
	histories [][]provider.Message
	results   []router.NormalizedResult
	errs      []error
	stats     []router.ProviderStats
}

func (f *fakeRouter) InvokeText(_ context.Context, prompt string, history []provider.Message) (router.NormalizedResult, error) {
	idx := len(f.prompts)
	f.prompts = append(f.prompts, prompt)
	f.histories = append(f.histories, history)
	if idx < len(f.errs) && f.errs[idx] != nil {
		return router.NormalizedResult{}, f.errs[idx]
	}
	if idx < len(f.results) {
		return f.results[idx], nil
	}
	return router.NormalizedResult{Provider: "gemini", Text: "ok"}, nil
}

func (f *fakeRouter) Stats() []router.ProviderStats { return f.stats }

type fakeEngine struct {
	requester string
	prompt    string
	params    jobs.Params
	target    jobs.StatusTarget
	submitErr error
	stats     jobs.Stats
	swept     atomic.Int32
}

func (f *fakeEngine) Submit(requesterID, prompt string, params jobs.Params, target jobs.StatusTarget) (*jobs.Job, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.requester, f.prompt, f.params, f.target = requesterID, prompt, params, target
	return &jobs.Job{ID: "job-1", RequesterID: requesterID, Prompt: prompt}, nil
}

func (f *fakeEngine) Stats() jobs.Stats { return f.stats }

func (f *fakeEngine) SweepDebounce(_ time.Time) int {
	f.swept.Add(1)
	return 0
}

type fakeReminders struct {
	scheduled []string
	reply     string
	ok        bool
	sweeps    atomic.Int32
}

func (f *fakeReminders) Schedule(_, _, text string) (string, bool, error) {
	f.scheduled = append(f.scheduled, text)
	return f.reply, f.ok, nil
}

func (f *fakeReminders) Sweep(_ context.Context, _ time.Time) int {
	f.sweeps.Add(1)
	return 0
}

type fakePrefs struct{ vals map[string]string }

func (f *fakePrefs) GetPref(userID, key string) (string, error) { return f.vals[userID+"/"+key], nil }
func (f *fakePrefs) SetPref(userID, key, value string) error {
	f.vals[userID+"/"+key] = value
	return nil
}

type fakeMessenger struct {
	channels  []string
	messages  []string
	responses []string
	createErr error
}

func (f *fakeMessenger) CreateMessage(_ context.Context, channelID, content string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.channels = append(f.channels, channelID)
	f.messages = append(f.messages, content)
	return "status-1", nil
}

func (f *fakeMessenger) RespondToInteraction(_ context.Context, _, _, content string) error {
	f.responses = append(f.responses, content)
	return nil
}

type fixture struct {
	orc       *Orchestrator
	router    *fakeRouter
	engine    *fakeEngine
	reminders *fakeReminders
	prefs     *fakePrefs
	messenger *fakeMessenger
	store     *conversation.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := conversation.NewStore(100, 30*time.Minute)
	f := &fixture{
		router:    &fakeRouter{},
		engine:    &fakeEngine{},
		reminders: &fakeReminders{},
		prefs:     &fakePrefs{vals: map[string]string{}},
		messenger: &fakeMessenger{},
		store:     st,
	}
	f.orc = New(Options{
		TriggerWord: "scottbott",
		BotUserID:   "bot-id",
		TextTimeout: time.Second,
		Builder:     conversation.NewBuilder(st, 4000, "you are a test bot"),
		Store:       st,
		Router:      f.router,
		Engine:      f.engine,
		Reminders:   f.reminders,
		Prefs:       f.prefs,
		Messenger:   f.messenger,
		Logger:      zerolog.Nop(),
	})
	return f
}

func message(content string) gateway.InboundMessage {
	return gateway.InboundMessage{
		MessageID: "m1",
		ChannelID: "c1",
		AuthorID:  "u1",
		Content:   content,
	}
}

func TestHandleMessage_IgnoresBots(t *testing.T) {
	f := newFixture(t)
	msg := message("scottbott hello")
	msg.IsBot = true
	f.orc.HandleMessage(context.Background(), msg)
	assert.Empty(t, f.messenger.messages)
	assert.Empty(t, f.router.prompts)
}

func TestHandleMessage_IgnoresUnaddressed(t *testing.T) {
	f := newFixture(t)
	f.orc.HandleMessage(context.Background(), message("just chatting with friends"))
	assert.Empty(t, f.messenger.messages)
}

func TestHandleMessage_TriggerWordGetsReply(t *testing.T) {
	f := newFixture(t)
	f.router.results = []router.NormalizedResult{{Provider: "gemini", Text: "hello back"}}

	f.orc.HandleMessage(context.Background(), message("hey scottbott how are you"))

	require.Len(t, f.messenger.messages, 1)
	assert.Equal(t, "hello back", f.messenger.messages[0])
	assert.Equal(t, "c1", f.messenger.channels[0])

	// Both sides of the exchange land in the transcript.
	turns := f.store.Turns("u1", "c1")
	require.Len(t, turns, 2)
	assert.Equal(t, conversation.RoleUser, turns[0].Role)
	assert.Equal(t, conversation.RoleAssistant, turns[1].Role)
	assert.Equal(t, "hello back", turns[1].Text)
}

func TestHandleMessage_StripsTriggerAndMentions(t *testing.T) {
	f := newFixture(t)
	f.orc.HandleMessage(context.Background(), message("<@bot-id> ScottBott what's the capital of France"))

	require.Len(t, f.router.prompts, 1)
	prompt := f.router.prompts[0]
	assert.NotContains(t, strings.ToLower(prompt), "scottbott")
	assert.NotContains(t, prompt, "<@bot-id>")
	assert.Contains(t, prompt, "capital of France")
}

func TestHandleMessage_BareTriggerGetsAck(t *testing.T) {
	f := newFixture(t)
	f.orc.HandleMessage(context.Background(), message("scottbott"))

	require.Len(t, f.messenger.messages, 1)
	assert.Equal(t, "What's up?", f.messenger.messages[0])
	assert.Empty(t, f.router.prompts, "no model call for an empty prompt")
}

func TestHandleMessage_ReplyToBotIsAddressed(t *testing.T) {
	f := newFixture(t)
	msg := message("why do you say that")
	msg.ReferencedAuthor = "bot-id"
	msg.ReferencedContent = "because reasons"

	f.orc.HandleMessage(context.Background(), msg)

	require.Len(t, f.router.prompts, 1)
	assert.Contains(t, f.router.prompts[0], "[Replying to: because reasons]")
	assert.Contains(t, f.router.prompts[0], "why do you say that")
}

func TestHandleMessage_ReminderShortCircuits(t *testing.T) {
	f := newFixture(t)
	f.reminders.ok = true
	f.reminders.reply = "Okay, I will remind you to 'stretch' in 5 min."

	f.orc.HandleMessage(context.Background(), message("remind me to stretch in 5 min"))

	require.Len(t, f.messenger.messages, 1)
	assert.Contains(t, f.messenger.messages[0], "stretch")
	assert.Empty(t, f.router.prompts, "reminder requests never reach the model")
}

func TestHandleMessage_MalformedReminderFallsThrough(t *testing.T) {
	f := newFixture(t)
	f.reminders.ok = false

	// Contains "remind " but no parsable shape, and names the bot.
	f.orc.HandleMessage(context.Background(), message("scottbott remind me of that song"))

	require.Len(t, f.router.prompts, 1)
	assert.Contains(t, f.router.prompts[0], "remind me of that song")
}

func TestHandleMessage_TimeoutMessage(t *testing.T) {
	f := newFixture(t)
	f.router.errs = []error{context.DeadlineExceeded}

	f.orc.HandleMessage(context.Background(), message("scottbott think hard"))

	require.Len(t, f.messenger.messages, 1)
	assert.Contains(t, f.messenger.messages[0], "timed out")
	assert.Empty(t, f.store.Turns("u1", "c1"), "failed exchanges stay out of the transcript")
}

func TestHandleMessage_RateLimitedMessage(t *testing.T) {
	f := newFixture(t)
	f.router.errs = []error{provider.ErrRateLimited}

	f.orc.HandleMessage(context.Background(), message("scottbott hello"))

	require.Len(t, f.messenger.messages, 1)
	assert.Contains(t, f.messenger.messages[0], "rate limited")
}

func TestHandleMessage_OverlongReplyIsRewritten(t *testing.T) {
	f := newFixture(t)
	long := strings.Repeat("a", 4500)
	f.router.results = []router.NormalizedResult{
		{Provider: "gemini", Text: long},
		{Provider: "gemini", Text: "short version"},
	}

	f.orc.HandleMessage(context.Background(), message("scottbott write an essay"))

	require.Len(t, f.router.prompts, 2)
	assert.Contains(t, f.router.prompts[1], "rewrite")
	require.Len(t, f.messenger.messages, 1)
	assert.Equal(t, "short version", f.messenger.messages[0])
}

func TestHandleMessage_OverlongRewriteFailureTruncates(t *testing.T) {
	f := newFixture(t)
	long := strings.Repeat("b", 4500)
	f.router.results = []router.NormalizedResult{{Provider: "gemini", Text: long}}
	f.router.errs = []error{nil, errors.New("also failing")}

	f.orc.HandleMessage(context.Background(), message("scottbott write an essay"))

	require.Len(t, f.messenger.messages, 1)
	got := f.messenger.messages[0]
	assert.Len(t, got, maxReplyChars)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestHandleMessage_PersonaFromPrefs(t *testing.T) {
	f := newFixture(t)
	f.prefs.vals["u1/identity"] = "a grumpy pirate"

	f.orc.HandleMessage(context.Background(), message("scottbott ahoy"))

	require.Len(t, f.router.histories, 1)
	history := f.router.histories[0]
	require.NotEmpty(t, history)
	assert.Equal(t, conversation.RoleSystem, history[0].Role)
	assert.Equal(t, "a grumpy pirate", history[0].Content)
}

func TestHandleInteraction_Imagine(t *testing.T) {
	f := newFixture(t)
	f.orc.HandleInteraction(context.Background(), gateway.Interaction{
		ID: "i1", Token: "tok", ChannelID: "c1", UserID: "u1",
		Command: "imagine",
		Options: map[string]string{"prompt": "a fox", "aspect": "16:9"},
	})

	assert.Equal(t, "u1", f.engine.requester)
	assert.Equal(t, "a fox", f.engine.prompt)
	assert.Equal(t, "16:9", f.engine.params.AspectRatio)
	assert.Equal(t, jobs.StatusTarget{ChannelID: "c1", MessageID: "status-1"}, f.engine.target)

	require.Len(t, f.messenger.responses, 1)
	assert.Contains(t, f.messenger.responses[0], "job-1")
}

func TestHandleInteraction_ImagineWithoutPrompt(t *testing.T) {
	f := newFixture(t)
	f.orc.HandleInteraction(context.Background(), gateway.Interaction{
		ID: "i1", Command: "imagine", Options: map[string]string{},
	})
	require.Len(t, f.messenger.responses, 1)
	assert.Contains(t, f.messenger.responses[0], "prompt")
	assert.Empty(t, f.engine.prompt)
}

func TestHandleInteraction_Stats(t *testing.T) {
	f := newFixture(t)
	f.engine.stats = jobs.Stats{Active: 1, Completed: 7, Failed: 2}
	f.router.stats = []router.ProviderStats{
		{Name: "gemini", RequestsLastHour: 12, State: router.StateAvailable},
	}

	f.orc.HandleInteraction(context.Background(), gateway.Interaction{ID: "i1", Command: "stats"})

	require.Len(t, f.messenger.responses, 1)
	out := f.messenger.responses[0]
	assert.Contains(t, out, "7 completed")
	assert.Contains(t, out, "gemini: 12 requests last hour")
}

func TestHandleInteraction_IdentitySetsPref(t *testing.T) {
	f := newFixture(t)
	f.orc.HandleInteraction(context.Background(), gateway.Interaction{
		ID: "i1", UserID: "u1", Command: "identity",
		Options: map[string]string{"persona": "a polite librarian"},
	})

	assert.Equal(t, "a polite librarian", f.prefs.vals["u1/identity"])
	require.Len(t, f.messenger.responses, 1)
	assert.Contains(t, f.messenger.responses[0], "a polite librarian")
}

func TestHandleInteraction_Unknown(t *testing.T) {
	f := newFixture(t)
	f.orc.HandleInteraction(context.Background(), gateway.Interaction{ID: "i1", Command: "dance"})
	require.Len(t, f.messenger.responses, 1)
	assert.Contains(t, f.messenger.responses[0], "Unknown command")
}

func TestRun_DrivesSweeps(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.orc.Run(ctx, SweepOptions{
			ConversationSweep: 5 * time.Millisecond,
			DebounceSweep:     5 * time.Millisecond,
			ReminderSweep:     5 * time.Millisecond,
		})
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for f.engine.swept.Load() == 0 || f.reminders.sweeps.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("sweeps never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
