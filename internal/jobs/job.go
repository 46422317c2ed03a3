package jobs

import (
	"time"

	"github.com/scottbott/scottbott/internal/provider"
)

// State is a job lifecycle state. Transitions are one-directional:
// active moves to exactly one of completed, failed or cancelled.
type State string

const (
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Progress checkpoints emitted as staged status updates.
const (
	ProgressSubmitted  = 10
	ProgressGenerating = 30
	ProgressUploading  = 70
	ProgressDelivered  = 90
	ProgressDone       = 100
)

// Params are the parsed generation parameters of a request.
type Params struct {
	AspectRatio string
	Tier        string
}

// ImageOptions maps the request parameters onto concrete dimensions.
func (p Params) ImageOptions() provider.ImageOptions {
	opts := provider.ImageOptions{Width: 1024, Height: 1024, Tier: p.Tier}
	switch p.AspectRatio {
	case "16:9", "wide", "landscape":
		opts.Width, opts.Height = 1792, 1024
	case "9:16", "tall", "portrait":
		opts.Width, opts.Height = 1024, 1792
	}
	return opts
}

// StatusTarget identifies where progress updates for a job are posted.
type StatusTarget struct {
	ChannelID string
	MessageID string
}

// Job is one image-generation attempt. Mutable fields are guarded by the
// engine's mutex; callers outside the engine only see View snapshots.
type Job struct {
	ID          string
	RequesterID string
	Prompt      string
	Params      Params
	Target      StatusTarget

	state       State
	progress    int
	err         string
	submittedAt time.Time
	finishedAt  time.Time
}

// transition applies the single authoritative state change. Only an active
// job can move, and only to a terminal state; anything else is a no-op
// returning false.
func (j *Job) transition(to State, now time.Time) bool {
	if j.state != StateActive || to == StateActive {
		return false
	}
	j.state = to
	j.finishedAt = now
	if to == StateCompleted {
		j.progress = ProgressDone
	}
	return true
}

// View is a read-only snapshot of a job.
type View struct {
	ID          string
	RequesterID string
	Prompt      string
	State       State
	Progress    int
	Error       string
	SubmittedAt time.Time
	FinishedAt  time.Time
}

func (j *Job) view() View {
	return View{
		ID:          j.ID,
		RequesterID: j.RequesterID,
		Prompt:      j.Prompt,
		State:       j.state,
		Progress:    j.progress,
		Error:       j.err,
		SubmittedAt: j.submittedAt,
		FinishedAt:  j.finishedAt,
	}
}

// HistoryEntry records a retired job in the bounded FIFO history.
type HistoryEntry struct {
	ID          string
	RequesterID string
	Prompt      string
	State       State
	Success     bool
	SubmittedAt time.Time
	Duration    time.Duration
}
