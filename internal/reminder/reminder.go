// Package reminder schedules and delivers natural-language reminders
// ("remind me to stretch in 20 minutes").
package reminder

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scottbott/scottbott/internal/gateway"
	"github.com/scottbott/scottbott/internal/store"
)

// MaxLead caps how far in the future a reminder may be set.
const MaxLead = 30 * 24 * time.Hour

// Request is a successfully parsed reminder phrase.
type Request struct {
	Text string
	Lead time.Duration
	// When is the friendly rendering of the lead time ("20 minutes").
	When string
}

var (
	// "... to [task] in/after [time]"
	taskFirst = regexp.MustCompile(`(?i)to (.+?)\s(?:in|after)\s+(\d+)\s*(s|sec|second|seconds|m|min|minute|minutes|h|hr|hour|hours)`)
	// "... in/after [time] to [task]"
	timeFirst = regexp.MustCompile(`(?i)(?:in|after)\s+(\d+)\s*(s|sec|second|seconds|m|min|minute|minutes|h|hr|hour|hours)\s+to\s+(.+)`)
)

// Matches reports whether the message looks like a reminder request at all.
// Cheap gate before the full parse.
func Matches(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "remind ") || strings.Contains(lower, "set a reminder")
}

// Parse extracts the reminder task and lead time from a natural-language
// phrase. Returns ok=false when neither supported shape is present.
func Parse(text string) (Request, bool) {
	var task, value, unit string
	if m := taskFirst.FindStringSubmatch(text); m != nil {
		task, value, unit = m[1], m[2], m[3]
	} else if m := timeFirst.FindStringSubmatch(text); m != nil {
		value, unit, task = m[1], m[2], m[3]
	} else {
		return Request{}, false
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return Request{}, false
	}

	var lead time.Duration
	switch strings.ToLower(unit)[0] {
	case 's':
		lead = time.Duration(n) * time.Second
	case 'm':
		lead = time.Duration(n) * time.Minute
	case 'h':
		lead = time.Duration(n) * time.Hour
	}

	when := fmt.Sprintf("%d %s", n, strings.ToLower(unit))
	if n == 1 && strings.HasSuffix(when, "s") {
		when = strings.TrimSuffix(when, "s")
	}

	return Request{Text: strings.TrimSpace(task), Lead: lead, When: when}, true
}

// Service persists reminders and delivers the due ones.
type Service struct {
	store   *store.Store
	replier gateway.Replier
	log     zerolog.Logger
	now     func() time.Time
}

func NewService(st *store.Store, replier gateway.Replier, log zerolog.Logger) *Service {
	return &Service{
		store:   st,
		replier: replier,
		log:     log.With().Str("component", "reminder").Logger(),
		now:     time.Now,
	}
}

// SetClock replaces the time source, for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Schedule parses the message and stores a reminder. It returns the reply
// the bot should post, or ok=false when the message is not a well-formed
// reminder request.
func (s *Service) Schedule(userID, channelID, text string) (reply string, ok bool, err error) {
	req, ok := Parse(text)
	if !ok || req.Text == "" {
		return "", false, nil
	}
	if req.Lead > MaxLead {
		return "Sorry, I can only set reminders up to 30 days in the future.", true, nil
	}

	r := store.Reminder{
		ID:        uuid.NewString(),
		UserID:    userID,
		ChannelID: channelID,
		Text:      req.Text,
		DueAt:     s.now().Add(req.Lead),
	}
	if err := s.store.InsertReminder(r); err != nil {
		return "", true, fmt.Errorf("schedule reminder: %w", err)
	}

	s.log.Info().Str("user", userID).Dur("lead", req.Lead).Msg("reminder scheduled")
	return fmt.Sprintf("Okay, I will remind you to '%s' in %s.", req.Text, req.When), true, nil
}

// Sweep delivers every due reminder and deletes the delivered rows. A
// delivery failure leaves the row in place for the next sweep. Returns the
// number delivered.
func (s *Service) Sweep(ctx context.Context, now time.Time) int {
	due, err := s.store.DueReminders(now)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load due reminders")
		return 0
	}

	delivered := 0
	for _, r := range due {
		text := fmt.Sprintf("<@%s>, here is your reminder: **%s**", r.UserID, r.Text)
		if _, err := s.replier.CreateMessage(ctx, r.ChannelID, text); err != nil {
			s.log.Warn().Str("reminder", r.ID).Err(err).Msg("reminder delivery failed")
			continue
		}
		if err := s.store.DeleteReminder(r.ID); err != nil {
			s.log.Error().Str("reminder", r.ID).Err(err).Msg("failed to delete delivered reminder")
			continue
		}
		delivered++
	}
	return delivered
}
