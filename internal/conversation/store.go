package conversation

import (
	"sync"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is one message in a conversation transcript.
type Turn struct {
	Role string
	Text string
	At   time.Time
}

type convKey struct {
	userID    string
	channelID string
}

type transcript struct {
	turns      []Turn
	lastActive time.Time
}

// Store holds per-(user, channel) rolling transcripts. Turns are insertion
// ordered and capped; whole conversations are purged once idle.
type Store struct {
	mu     sync.Mutex
	maxLen int
	idle   time.Duration
	convs  map[convKey]*transcript
	now    func() time.Time
}

// NewStore creates a transcript store. maxLen is clamped to [1, 500].
func NewStore(maxLen int, idle time.Duration) *Store {
	if maxLen < 1 {
		maxLen = 1
	}
	if maxLen > 500 {
		maxLen = 500
	}
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	return &Store{
		maxLen: maxLen,
		idle:   idle,
		convs:  make(map[convKey]*transcript),
		now:    time.Now,
	}
}

// SetClock overrides the store's time source, for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AddTurn appends one turn, truncating the oldest turns past the cap.
func (s *Store) AddTurn(userID, channelID, text string, isAssistant bool) {
	role := RoleUser
	if isAssistant {
		role = RoleAssistant
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := convKey{userID: userID, channelID: channelID}
	tr := s.convs[key]
	if tr == nil {
		tr = &transcript{}
		s.convs[key] = tr
	}
	now := s.now()
	tr.turns = append(tr.turns, Turn{Role: role, Text: text, At: now})
	if len(tr.turns) > s.maxLen {
		tr.turns = append(tr.turns[:0:0], tr.turns[len(tr.turns)-s.maxLen:]...)
	}
	tr.lastActive = now
}

// Clear removes the conversation entirely.
func (s *Store) Clear(userID, channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, convKey{userID: userID, channelID: channelID})
}

// Turns returns a copy of the transcript in insertion order.
func (s *Store) Turns(userID, channelID string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr := s.convs[convKey{userID: userID, channelID: channelID}]
	if tr == nil {
		return nil
	}
	return append([]Turn(nil), tr.turns...)
}

// SweepIdle purges conversations whose last activity is older than the idle
// timeout and returns how many were removed. Called from the orchestrator's
// lifecycle ticker, never from ambient timers.
func (s *Store) SweepIdle(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, tr := range s.convs {
		if now.Sub(tr.lastActive) > s.idle {
			delete(s.convs, key)
			removed++
		}
	}
	return removed
}

// Active returns the number of live conversations.
func (s *Store) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}
