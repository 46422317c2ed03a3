package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scottbott/scottbott/internal/provider"
	"github.com/scottbott/scottbott/internal/router"
)

// Generator produces an image with multi-tier fallback. Satisfied by the
// provider router.
type Generator interface {
	InvokeImage(ctx context.Context, prompt string, opts provider.ImageOptions) (router.NormalizedResult, error)
}

// Notifier is the messaging collaborator surface the engine needs: edit the
// status message of a job and deliver the finished image.
type Notifier interface {
	EditStatus(ctx context.Context, target StatusTarget, text string) error
	DeliverImage(ctx context.Context, target StatusTarget, data []byte, url string) error
}

// Stats counts jobs by outcome. Completed and failed are cumulative.
type Stats struct {
	Active    int
	Completed int
	Failed    int
	Cancelled int
}

type debounceRecord struct {
	job         *Job
	submittedAt time.Time
	cancelled   bool
}

// Engine accepts image-generation requests, collapses rapid repeats from the
// same requester, executes generation detached from the submission path and
// keeps a bounded history of retired jobs.
type Engine struct {
	mu sync.Mutex

	gen            Generator
	notify         Notifier
	log            zerolog.Logger
	debounceWindow time.Duration
	historyCap     int

	active   map[string]*Job
	debounce map[string]*debounceRecord
	history  []HistoryEntry

	completed int
	failed    int
	cancelled int

	seq    uint64
	closed bool
	wg     sync.WaitGroup
	now    func() time.Time
}

// Options configures an Engine.
type Options struct {
	Generator      Generator
	Notifier       Notifier
	DebounceWindow time.Duration
	HistoryCap     int
	Logger         zerolog.Logger
	Now            func() time.Time
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		gen:            opts.Generator,
		notify:         opts.Notifier,
		log:            opts.Logger.With().Str("component", "jobs").Logger(),
		debounceWindow: opts.DebounceWindow,
		historyCap:     opts.HistoryCap,
		active:         make(map[string]*Job),
		debounce:       make(map[string]*debounceRecord),
		now:            opts.Now,
	}
	if e.debounceWindow <= 0 {
		e.debounceWindow = 2500 * time.Millisecond
	}
	if e.historyCap <= 0 {
		e.historyCap = 100
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Submit accepts a generation request and returns immediately with the job
// handle; execution runs detached. A submission inside the debounce window
// flags the requester's previous job cancelled, best-effort: an already
// dispatched generation still runs to completion and is ignored on arrival.
func (e *Engine) Submit(requesterID, prompt string, params Params, target StatusTarget) (*Job, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, fmt.Errorf("job engine is closed")
	}

	now := e.now()
	if rec := e.debounce[requesterID]; rec != nil && now.Sub(rec.submittedAt) < e.debounceWindow {
		rec.cancelled = true
		e.cancelLocked(rec.job, now)
		e.log.Debug().Str("requester", requesterID).Str("job", rec.job.ID).Msg("debounced previous job")
	}

	e.seq++
	job := &Job{
		ID:          fmt.Sprintf("%s-%d-%d", requesterID, now.UnixMilli(), e.seq),
		RequesterID: requesterID,
		Prompt:      prompt,
		Params:      params,
		Target:      target,
		state:       StateActive,
		progress:    ProgressSubmitted,
		submittedAt: now,
	}
	e.active[job.ID] = job
	e.debounce[requesterID] = &debounceRecord{job: job, submittedAt: now}
	e.wg.Add(1)
	e.mu.Unlock()

	go e.run(job)
	return job, nil
}

func (e *Engine) run(job *Job) {
	defer e.wg.Done()
	ctx := context.Background()

	if !e.advance(job, ProgressSubmitted, "queued") {
		return
	}
	if !e.advance(job, ProgressGenerating, "generating") {
		return
	}

	started := e.now()
	res, err := e.gen.InvokeImage(ctx, job.Prompt, job.Params.ImageOptions())
	e.log.Debug().Str("job", job.ID).Dur("took", e.now().Sub(started)).Err(err).Msg("generation finished")

	if err != nil {
		e.fail(job, err)
		return
	}
	// A cancelled-in-flight job stops here and its result is dropped.
	if !e.advance(job, ProgressUploading, "uploading") {
		return
	}

	if derr := e.notify.DeliverImage(ctx, job.Target, res.ImageBytes, res.ImageURL); derr != nil {
		e.fail(job, fmt.Errorf("delivery failed: %w", derr))
		return
	}
	if !e.advance(job, ProgressDelivered, "delivered") {
		return
	}

	e.mu.Lock()
	done := job.transition(StateCompleted, e.now())
	if done {
		e.completed++
		e.retireLocked(job, true)
	}
	e.mu.Unlock()
	if done {
		e.emitStatus(job, "done", statusText(job.Prompt, "done", ProgressDone))
	}
}

// advance moves the job to the next progress checkpoint and emits the status
// update with the mutex released, so a slow edit never blocks Submit,
// GetStatus or other jobs. Returns false once the job is no longer active.
func (e *Engine) advance(job *Job, progress int, stage string) bool {
	e.mu.Lock()
	if job.state != StateActive {
		e.mu.Unlock()
		return false
	}
	if progress > job.progress {
		job.progress = progress
	}
	text := statusText(job.Prompt, stage, job.progress)
	e.mu.Unlock()

	e.emitStatus(job, stage, text)
	return true
}

// fail marks the job failed retaining the original error message, then emits
// a failure status update outside the lock. A no-op when the job was already
// cancelled.
func (e *Engine) fail(job *Job, cause error) {
	e.mu.Lock()
	if !job.transition(StateFailed, e.now()) {
		e.mu.Unlock()
		return
	}
	job.err = cause.Error()
	e.failed++
	e.retireLocked(job, false)
	e.mu.Unlock()

	e.log.Warn().Str("job", job.ID).Str("error", cause.Error()).Msg("job failed")
	e.emitStatus(job, "failed", fmt.Sprintf("Image generation failed: %s", friendlyReason(cause)))
}

func (e *Engine) cancelLocked(job *Job, now time.Time) {
	if job.transition(StateCancelled, now) {
		e.cancelled++
		e.retireLocked(job, false)
	}
}

// retireLocked moves a terminal job from the active set into the bounded
// FIFO history.
func (e *Engine) retireLocked(job *Job, success bool) {
	delete(e.active, job.ID)
	entry := HistoryEntry{
		ID:          job.ID,
		RequesterID: job.RequesterID,
		Prompt:      truncate(job.Prompt, 80),
		State:       job.state,
		Success:     success,
		SubmittedAt: job.submittedAt,
		Duration:    job.finishedAt.Sub(job.submittedAt),
	}
	e.history = append(e.history, entry)
	if len(e.history) > e.historyCap {
		e.history = append(e.history[:0:0], e.history[len(e.history)-e.historyCap:]...)
	}
}

func statusText(prompt, stage string, progress int) string {
	return fmt.Sprintf("Generating %q - %s (%d%%)", truncate(prompt, 60), stage, progress)
}

// emitStatus edits the job's status message. Failures are logged and
// swallowed; progress is not critical. Never called with the mutex held.
func (e *Engine) emitStatus(job *Job, stage, text string) {
	if err := e.notify.EditStatus(context.Background(), job.Target, text); err != nil {
		e.log.Debug().Str("job", job.ID).Str("stage", stage).Err(err).Msg("status update failed")
	}
}

// GetStatus returns a snapshot of the job, or nil when the id is unknown.
// Retired jobs are answered from history.
func (e *Engine) GetStatus(jobID string) *View {
	e.mu.Lock()
	defer e.mu.Unlock()
	if job := e.active[jobID]; job != nil {
		v := job.view()
		return &v
	}
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].ID == jobID {
			h := e.history[i]
			v := View{
				ID:          h.ID,
				RequesterID: h.RequesterID,
				Prompt:      h.Prompt,
				State:       h.State,
				SubmittedAt: h.SubmittedAt,
				FinishedAt:  h.SubmittedAt.Add(h.Duration),
			}
			if h.Success {
				v.Progress = ProgressDone
			}
			return &v
		}
	}
	return nil
}

// History returns a copy of the retired-job ring, oldest first.
func (e *Engine) History() []HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]HistoryEntry(nil), e.history...)
}

// Stats returns active count and cumulative outcome counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Active:    len(e.active),
		Completed: e.completed,
		Failed:    e.failed,
		Cancelled: e.cancelled,
	}
}

// SweepDebounce drops debounce records older than the window. Invoked by the
// orchestrator's lifecycle ticker so teardown stays deterministic.
func (e *Engine) SweepDebounce(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for requester, rec := range e.debounce {
		if now.Sub(rec.submittedAt) >= e.debounceWindow {
			delete(e.debounce, requester)
			removed++
		}
	}
	return removed
}

// Close marks every still-active job cancelled and clears all tracking maps.
// Used only at process shutdown; there is no per-job cancellation.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	now := e.now()
	for _, job := range e.active {
		e.cancelLocked(job, now)
	}
	e.active = make(map[string]*Job)
	e.debounce = make(map[string]*debounceRecord)
}

// Wait blocks until all dispatched generation goroutines have returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func friendlyReason(err error) string {
	if provider.IsRateLimited(err) {
		return "the image service is busy right now, try again in a minute"
	}
	return "the image service had a problem, try again later"
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
