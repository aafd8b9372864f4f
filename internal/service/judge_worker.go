package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-praktikum-api/internal/grading"
	"github.com/noah-isme/gema-praktikum-api/internal/models"
	"github.com/noah-isme/gema-praktikum-api/internal/repository"
	"github.com/noah-isme/gema-praktikum-api/pkg/judge"
)

const maxStoredOutput = 4 << 10

// ErrJudgeQueueUnavailable indicates a submission could not be handed to the judge worker.
var ErrJudgeQueueUnavailable = errors.New("judge queue unavailable")

// JudgeDispatcher hands PENDING submissions to whatever runs the judge.
type JudgeDispatcher interface {
	Dispatch(ctx context.Context, submissionID uint) error
}

// JudgeWorkerConfig tunes the worker pool.
type JudgeWorkerConfig struct {
	Workers   int
	QueueSize int
	// Retries is how many times a transport failure is retried before JUDGE_ERROR is stored.
	Retries      int
	RetryBackoff time.Duration
	// ChannelBase enables the NATS work queue when a connection is also given.
	ChannelBase string
}

// JudgeWorker moves submissions PENDING → JUDGING → terminal by calling the judge engine.
type JudgeWorker struct {
	submissions repository.SubmissionRepository
	problems    repository.ProblemRepository
	engine      judge.Judge
	nats        *nats.Conn
	subject     string
	cfg         JudgeWorkerConfig
	jobs        chan uint
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time

	startOnce sync.Once
	wg        sync.WaitGroup
}

type judgeJob struct {
	SubmissionID uint `json:"submission_id"`
}

// NewJudgeWorker constructs a worker. natsConn may be nil, in which case dispatch stays in process.
func NewJudgeWorker(submissions repository.SubmissionRepository, problems repository.ProblemRepository, engine judge.Judge, natsConn *nats.Conn, cfg JudgeWorkerConfig, logger zerolog.Logger) *JudgeWorker {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}

	subject := ""
	if natsConn != nil && cfg.ChannelBase != "" {
		subject = strings.ReplaceAll(cfg.ChannelBase, ":", ".") + ".judge.jobs"
	}

	return &JudgeWorker{
		submissions: submissions,
		problems:    problems,
		engine:      engine,
		nats:        natsConn,
		subject:     subject,
		cfg:         cfg,
		jobs:        make(chan uint, cfg.QueueSize),
		logger:      logger.With().Str("component", "judge_worker").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-praktikum-api/internal/service/judge_worker"),
		now:         time.Now,
	}
}

// Start launches the worker pool and, with NATS, joins the shared work queue. Workers stop when ctx ends.
func (w *JudgeWorker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		for i := 0; i < w.cfg.Workers; i++ {
			w.wg.Add(1)
			go w.loop(ctx)
		}

		if w.subject != "" {
			w.consumeNATS(ctx)
		}
	})
}

// Wait blocks until every worker goroutine has exited.
func (w *JudgeWorker) Wait() {
	w.wg.Wait()
}

// Dispatch enqueues a submission for judging.
func (w *JudgeWorker) Dispatch(ctx context.Context, submissionID uint) error {
	if w.subject != "" {
		payload, err := json.Marshal(judgeJob{SubmissionID: submissionID})
		if err != nil {
			return err
		}
		if err := w.nats.Publish(w.subject, payload); err != nil {
			return fmt.Errorf("%w: %v", ErrJudgeQueueUnavailable, err)
		}
		return nil
	}

	return w.enqueue(ctx, submissionID)
}

func (w *JudgeWorker) enqueue(ctx context.Context, submissionID uint) error {
	select {
	case w.jobs <- submissionID:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrJudgeQueueUnavailable, ctx.Err())
	}
}

func (w *JudgeWorker) consumeNATS(ctx context.Context) {
	sub, err := w.nats.QueueSubscribe(w.subject, "praktikum-judge", func(msg *nats.Msg) {
		var job judgeJob
		if err := json.Unmarshal(msg.Data, &job); err != nil || job.SubmissionID == 0 {
			w.logger.Warn().Msg("invalid judge job payload")
			return
		}
		if err := w.enqueue(ctx, job.SubmissionID); err != nil {
			w.logger.Warn().Err(err).Uint("submission_id", job.SubmissionID).Msg("dropping judge job during shutdown")
		}
	})
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to subscribe to judge job queue")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			w.logger.Warn().Err(err).Msg("failed to drain judge job subscription")
		}
	}()
}

func (w *JudgeWorker) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-w.jobs:
			if err := w.Process(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error().Err(err).Uint("submission_id", id).Msg("judge job failed")
			}
		}
	}
}

// Process judges one submission. Submissions that are no longer PENDING are skipped, so a
// redelivered job is harmless.
func (w *JudgeWorker) Process(ctx context.Context, submissionID uint) error {
	ctx, span := w.tracer.Start(ctx, "judge.process", trace.WithAttributes(
		attribute.Int64("submission.id", int64(submissionID)),
	))
	defer span.End()

	logger := w.logger.With().Uint("submission_id", submissionID).Logger()

	submission, err := w.submissions.GetByID(ctx, submissionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_lookup_failed")
		return err
	}
	if submission.Status != models.StatusPending {
		logger.Debug().Str("status", string(submission.Status)).Msg("submission already picked up")
		return nil
	}

	if err := w.submissions.UpdateStatus(ctx, submissionID, models.StatusPending, repository.StatusUpdate{Status: models.StatusJudging}); err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition_failed")
		return err
	}

	problem, err := w.problems.GetByID(ctx, submission.ProblemID)
	if err != nil {
		span.RecordError(err)
		return w.fail(ctx, submissionID, "problem unavailable for judging")
	}

	request := judge.Request{
		Code:      submission.Source,
		Language:  submission.Language,
		TestCases: make([]judge.TestCase, 0, len(problem.TestCases)),
	}
	for _, tc := range problem.TestCases {
		request.TestCases = append(request.TestCases, judge.TestCase{Input: tc.Input, ExpectedOutput: tc.ExpectedOutput})
	}

	response, err := w.callJudge(ctx, request)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// left in JUDGING; the poll timeout settles it
			return err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "judge_failed")
		logger.Warn().Err(err).Msg("judge call failed")
		return w.fail(ctx, submissionID, judgeFailureMessage(err))
	}

	update := VerdictFromResponse(problem, response)
	judgedAt := w.now().UTC()
	update.JudgedAt = &judgedAt

	if err := w.submissions.UpdateStatus(ctx, submissionID, models.StatusJudging, update); err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			logger.Warn().Msg("verdict arrived after the submission was finalised; discarding")
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "verdict_persist_failed")
		return err
	}

	span.SetAttributes(
		attribute.String("submission.status", string(update.Status)),
		attribute.Int("submission.score", update.Score),
	)
	logger.Info().Str("status", string(update.Status)).Int("score", update.Score).Msg("submission judged")
	return nil
}

func (w *JudgeWorker) callJudge(ctx context.Context, request judge.Request) (judge.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= w.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return judge.Response{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * w.cfg.RetryBackoff):
			}
		}

		response, err := w.engine.Judge(ctx, request)
		if err == nil {
			return response, nil
		}
		if !errors.Is(err, judge.ErrTransport) {
			return judge.Response{}, err
		}
		lastErr = err
	}
	return judge.Response{}, lastErr
}

func (w *JudgeWorker) fail(ctx context.Context, submissionID uint, message string) error {
	judgedAt := w.now().UTC()
	err := w.submissions.UpdateStatus(ctx, submissionID, models.StatusJudging, repository.StatusUpdate{
		Status:   models.StatusJudgeError,
		Message:  message,
		JudgedAt: &judgedAt,
	})
	if errors.Is(err, repository.ErrStaleTransition) {
		return nil
	}
	return err
}

func judgeFailureMessage(err error) string {
	switch {
	case errors.Is(err, judge.ErrTransport):
		return "judge engine unavailable"
	case errors.Is(err, judge.ErrRejected):
		return "judge engine rejected the submission"
	case errors.Is(err, judge.ErrInvalidRequest):
		return "submission could not be sent to the judge"
	default:
		return "judging failed"
	}
}

// VerdictFromResponse turns the engine response into the terminal update of a submission.
func VerdictFromResponse(problem models.Problem, response judge.Response) repository.StatusUpdate {
	update := repository.StatusUpdate{
		Message: strings.TrimSpace(response.ErrorMessage),
		Raw:     datatypes.JSON(response.Raw),
		Results: make([]models.TestCaseResult, 0, len(response.Results)),
	}

	if response.Status == judge.StatusError {
		update.Status = models.StatusJudgeError
		if update.Message == "" {
			update.Message = "judge engine reported an internal error"
		}
		return update
	}

	failure := grading.FailureNone
	switch response.Status {
	case judge.StatusCompileError:
		failure = grading.FailureCompile
	case judge.StatusRuntimeError:
		failure = grading.FailureRuntime
	}

	outcomes := make([]grading.CaseOutcome, 0, len(response.Results))
	for i, result := range response.Results {
		verdict := caseVerdict(result)
		points := 0
		if i < len(problem.TestCases) {
			points = problem.TestCases[i].Points
		}
		outcomes = append(outcomes, grading.CaseOutcome{Verdict: verdict, Points: points})

		executionMs := int64(math.Round(result.ExecutionTime))
		if executionMs > update.MaxTimeMs {
			update.MaxTimeMs = executionMs
		}
		if result.Memory > update.MaxMemoryKB {
			update.MaxMemoryKB = result.Memory
		}

		update.Results = append(update.Results, models.TestCaseResult{
			Position:    i + 1,
			Verdict:     verdict,
			ExecutionMs: executionMs,
			MemoryKB:    result.Memory,
			Output:      truncate(result.ActualOutput, maxStoredOutput),
		})
	}

	// cases the judge left out count as failed, never as skipped
	if len(outcomes) > 0 {
		total := max(len(problem.TestCases), response.TotalCase)
		for i := len(outcomes); i < total; i++ {
			points := 0
			if i < len(problem.TestCases) {
				points = problem.TestCases[i].Points
			}
			outcomes = append(outcomes, grading.CaseOutcome{Verdict: models.VerdictWrongAnswer, Points: points})
		}
	}

	score := grading.ExtractScore(outcomes, problem.EffectiveWeight(), problem.Weighting, failure)
	update.Status = score.Verdict
	update.Score = score.Value
	return update
}

func caseVerdict(result judge.CaseResult) models.SubmissionStatus {
	switch strings.ToUpper(strings.TrimSpace(result.Status)) {
	case judge.CaseAccepted:
		return models.VerdictAccepted
	case judge.CaseWrongAnswer:
		return models.VerdictWrongAnswer
	case judge.CaseTimeLimitExceeded:
		return models.VerdictTimeLimitExceeded
	case judge.CaseMemoryLimitExceeded:
		return models.VerdictMemoryLimitExceeded
	case judge.CaseRuntimeError:
		return models.VerdictRuntimeError
	}
	if result.Passed {
		return models.VerdictAccepted
	}
	return models.VerdictWrongAnswer
}

// truncate cuts value to at most limit bytes without splitting a rune.
func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return strings.ToValidUTF8(value[:cut], "")
}
