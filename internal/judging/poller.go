// Package judging drives submissions from PENDING to a terminal verdict by polling
// their status until the judge is done, the poll times out or the caller cancels.
package judging

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-praktikum-api/internal/models"
	"github.com/noah-isme/gema-praktikum-api/internal/observability"
)

// ErrNotFound is returned by a StatusSource when the submission no longer exists.
// The loop stops immediately instead of retrying.
var ErrNotFound = errors.New("submission not found")

// Default cadence and bound of a poll loop.
const (
	DefaultPendingInterval = time.Second
	DefaultJudgingInterval = 2 * time.Second
	DefaultTimeout         = 5 * time.Minute
)

// Snapshot is one observation of a submission's status.
type Snapshot struct {
	SubmissionID uint                    `json:"submission_id"`
	Status       models.SubmissionStatus `json:"status"`
	Score        int                     `json:"score"`
	Message      string                  `json:"message,omitempty"`
}

// StatusSource reads and, on timeout, finalizes submission status.
type StatusSource interface {
	GetStatus(ctx context.Context, submissionID uint) (Snapshot, error)
	// ExpireSubmission marks a still non-terminal submission as JUDGE_ERROR and returns
	// the resulting snapshot. A submission that already finished is returned unchanged.
	ExpireSubmission(ctx context.Context, submissionID uint) (Snapshot, error)
}

// Outcome is delivered once when a loop ends without being cancelled.
type Outcome struct {
	SubmissionID uint
	Snapshot     Snapshot
	TimedOut     bool
	Polls        int
	Err          error
}

// Config tunes the poll loop.
type Config struct {
	PendingInterval time.Duration
	JudgingInterval time.Duration
	Timeout         time.Duration
	// TransportRetries is how many consecutive failed status reads are retried on the
	// normal cadence before the loop gives up and reports the error.
	TransportRetries int
	// OnTransition is called for every accepted status change, including the first observation.
	OnTransition func(from, to Snapshot)
}

func (c Config) withDefaults() Config {
	if c.PendingInterval <= 0 {
		c.PendingInterval = DefaultPendingInterval
	}
	if c.JudgingInterval <= 0 {
		c.JudgingInterval = DefaultJudgingInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.TransportRetries < 0 {
		c.TransportRetries = 0
	}
	return c
}

// Key identifies whose loop supersedes whose: one live loop per student and problem.
type Key struct {
	StudentID uint
	ProblemID uint
}

// Poller runs and tracks poll loops.
type Poller struct {
	source StatusSource
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	byKey  map[Key]*Handle
	byID   map[uint]*Handle
	wg     sync.WaitGroup
	closed bool
}

// NewPoller constructs a poller reading from source.
func NewPoller(source StatusSource, cfg Config, logger zerolog.Logger) *Poller {
	return &Poller{
		source: source,
		cfg:    cfg.withDefaults(),
		logger: logger.With().Str("component", "submission_poller").Logger(),
		byKey:  make(map[Key]*Handle),
		byID:   make(map[uint]*Handle),
	}
}

// Watch starts polling submissionID and cancels any loop still running for key.
// onDone runs exactly once on the loop goroutine unless the handle is cancelled first.
func (p *Poller) Watch(parent context.Context, key Key, submissionID uint, onDone func(Outcome)) *Handle {
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{
		submissionID: submissionID,
		key:          key,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		h.Cancel()
		close(h.done)
		return h
	}
	if previous, ok := p.byKey[key]; ok {
		previous.Cancel()
		p.logger.Debug().
			Uint("submission_id", previous.submissionID).
			Uint("superseded_by", submissionID).
			Msg("poll loop superseded")
	}
	if previous, ok := p.byID[submissionID]; ok {
		previous.Cancel()
	}
	p.byKey[key] = h
	p.byID[submissionID] = h
	p.wg.Add(1)
	p.mu.Unlock()

	observability.PollLoopsActive().Inc()
	go p.run(ctx, h, onDone)
	return h
}

// Cancel stops the loop watching submissionID. It reports whether a loop was running.
func (p *Poller) Cancel(submissionID uint) bool {
	p.mu.Lock()
	h, ok := p.byID[submissionID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	h.Cancel()
	return true
}

// Watching reports whether a loop is currently running for submissionID.
func (p *Poller) Watching(submissionID uint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byID[submissionID]
	return ok
}

// Active returns the number of running loops.
func (p *Poller) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}

// Shutdown cancels every loop and waits for them to exit or for ctx to end.
func (p *Poller) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	handles := make([]*Handle, 0, len(p.byID))
	for _, h := range p.byID {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) release(h *Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.byKey[h.key] == h {
		delete(p.byKey, h.key)
	}
	if p.byID[h.submissionID] == h {
		delete(p.byID, h.submissionID)
	}
}

func (p *Poller) run(ctx context.Context, h *Handle, onDone func(Outcome)) {
	defer p.wg.Done()
	defer close(h.done)
	defer p.release(h)
	defer observability.PollLoopsActive().Dec()
	defer h.cancel()

	logger := p.logger.With().Uint("submission_id", h.submissionID).Logger()

	deadline := time.NewTimer(p.cfg.Timeout)
	defer deadline.Stop()
	tick := time.NewTimer(0)
	defer tick.Stop()

	var current Snapshot
	observed := false
	polls := 0
	failures := 0

	deliver := func(outcome Outcome) {
		outcome.SubmissionID = h.submissionID
		outcome.Polls = polls
		if !h.finish() {
			return
		}
		observability.PollOutcomes().WithLabelValues(outcomeLabel(outcome)).Inc()
		if onDone != nil {
			onDone(outcome)
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Int("polls", polls).Msg("poll loop cancelled")
			return
		case <-deadline.C:
			snapshot, err := p.source.ExpireSubmission(ctx, h.submissionID)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				logger.Error().Err(err).Msg("failed to expire submission after poll timeout")
				deliver(Outcome{Snapshot: current, TimedOut: true, Err: err})
				return
			}
			logger.Warn().Dur("timeout", p.cfg.Timeout).Str("status", string(snapshot.Status)).Msg("poll loop timed out")
			p.transition(current, snapshot, observed)
			deliver(Outcome{Snapshot: snapshot, TimedOut: true})
			return
		case <-tick.C:
		}

		polls++
		snapshot, err := p.source.GetStatus(ctx, h.submissionID)
		if ctx.Err() != nil {
			// cancelled or superseded while the read was in flight
			return
		}

		if err != nil {
			failures++
			logger.Warn().Err(err).Int("consecutive_failures", failures).Msg("status read failed")
			if errors.Is(err, ErrNotFound) || failures > p.cfg.TransportRetries {
				deliver(Outcome{Snapshot: current, Err: err})
				return
			}
			tick.Reset(p.interval(current.Status))
			continue
		}
		failures = 0

		if observed && snapshot.Status.Rank() < current.Status.Rank() {
			logger.Debug().
				Str("current", string(current.Status)).
				Str("stale", string(snapshot.Status)).
				Msg("discarding stale status")
		} else if !observed || snapshot.Status != current.Status {
			p.transition(current, snapshot, observed)
			current = snapshot
			observed = true
		} else {
			current = snapshot
		}

		if current.Status.IsTerminal() {
			deliver(Outcome{Snapshot: current})
			return
		}

		tick.Reset(p.interval(current.Status))
	}
}

func (p *Poller) transition(from, to Snapshot, observed bool) {
	if p.cfg.OnTransition == nil {
		return
	}
	if !observed {
		from = Snapshot{SubmissionID: to.SubmissionID}
	}
	p.cfg.OnTransition(from, to)
}

func (p *Poller) interval(status models.SubmissionStatus) time.Duration {
	if status == models.StatusJudging {
		return p.cfg.JudgingInterval
	}
	return p.cfg.PendingInterval
}

func outcomeLabel(outcome Outcome) string {
	switch {
	case outcome.TimedOut:
		return "timeout"
	case outcome.Err != nil:
		return "error"
	default:
		return string(outcome.Snapshot.Status)
	}
}

type handleState int

const (
	handleRunning handleState = iota
	handleCancelled
	handleFinished
)

// Handle controls one poll loop.
type Handle struct {
	submissionID uint
	key          Key
	cancel       context.CancelFunc
	done         chan struct{}

	mu    sync.Mutex
	state handleState
}

// Cancel stops the loop. No status read starts afterwards and the completion callback
// is never invoked. Cancelling a finished loop is a no-op.
func (h *Handle) Cancel() {
	h.mu.Lock()
	if h.state == handleRunning {
		h.state = handleCancelled
	}
	h.mu.Unlock()
	h.cancel()
}

// Done is closed when the loop goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// SubmissionID returns the watched submission.
func (h *Handle) SubmissionID() uint {
	return h.submissionID
}

// Cancelled reports whether the loop was cancelled before finishing.
func (h *Handle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == handleCancelled
}

// finish claims the right to deliver the outcome.
func (h *Handle) finish() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != handleRunning {
		return false
	}
	h.state = handleFinished
	return true
}
