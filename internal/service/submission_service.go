package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-praktikum-api/internal/dto"
	"github.com/noah-isme/gema-praktikum-api/internal/judging"
	"github.com/noah-isme/gema-praktikum-api/internal/models"
	"github.com/noah-isme/gema-praktikum-api/internal/observability"
	"github.com/noah-isme/gema-praktikum-api/internal/repository"
	"github.com/noah-isme/gema-praktikum-api/internal/utils"
)

var (
	// ErrSubmissionInvalid wraps payload validation failures.
	ErrSubmissionInvalid = errors.New("invalid submission")
	// ErrProblemNotFound indicates the submitted problem does not exist.
	ErrProblemNotFound = errors.New("problem not found")
	// ErrSubmissionNotFound indicates the submission was not located.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrNotEnrolled indicates the student is not enrolled in the praktikum of the problem.
	ErrNotEnrolled = errors.New("student is not enrolled in this praktikum")
	// ErrDeadlinePassed rejects submissions after the assignment deadline.
	ErrDeadlinePassed = errors.New("assignment deadline has passed")
	// ErrAttemptLimitReached rejects submissions beyond the per problem attempt limit.
	ErrAttemptLimitReached = errors.New("attempt limit reached")
	// ErrSubmissionForbidden indicates the actor may not access the submission.
	ErrSubmissionForbidden = errors.New("not allowed to access this submission")
	// ErrSubmissionNotJudged rejects overrides on submissions without a gradable verdict.
	ErrSubmissionNotJudged = errors.New("submission has no gradable verdict")
	// ErrScoreOutOfRange indicates an override outside 0..max weight.
	ErrScoreOutOfRange = errors.New("score outside the problem weight")
)

// RecapInvalidator drops cached recaps after grades change.
type RecapInvalidator interface {
	Invalidate(ctx context.Context, praktikumID uint) error
}

// SubmissionService drives submissions from intake to verdict.
type SubmissionService interface {
	Submit(ctx context.Context, actor Actor, req dto.SubmitRequest) (dto.SubmissionStatusResponse, error)
	Get(ctx context.Context, id uint, actor Actor) (dto.SubmissionDetailResponse, error)
	GetStatus(ctx context.Context, id uint, actor Actor) (dto.SubmissionStatusResponse, error)
	Watch(ctx context.Context, id uint, actor Actor) (dto.SubmissionStatusResponse, error)
	CancelWatch(ctx context.Context, id uint, actor Actor) (bool, error)
	OverrideScore(ctx context.Context, id uint, req dto.ScoreOverrideRequest, actor Actor) (dto.SubmissionDetailResponse, error)
	Subscribe(ctx context.Context, id uint, actor Actor) (dto.SubmissionStatusResponse, <-chan dto.SubmissionStatusResponse, func(), error)
	ResumePending(ctx context.Context) (int, error)
	Shutdown(ctx context.Context) error
}

// SubmissionServiceDeps groups the collaborators of the submission service.
type SubmissionServiceDeps struct {
	Submissions repository.SubmissionRepository
	Problems    repository.ProblemRepository
	Praktikums  repository.PraktikumRepository
	Dispatcher  JudgeDispatcher
	Broker      *StatusBroker
	Recaps      RecapInvalidator
	Activity    ActivityRecorder
	Validator   *validator.Validate
}

type submissionService struct {
	submissions repository.SubmissionRepository
	problems    repository.ProblemRepository
	praktikums  repository.PraktikumRepository
	dispatcher  JudgeDispatcher
	broker      *StatusBroker
	recaps      RecapInvalidator
	activity    ActivityRecorder
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	poller      *judging.Poller
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time

	// poll loops outlive the request that started them
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// NewSubmissionService constructs the submission service and its poller.
func NewSubmissionService(deps SubmissionServiceDeps, pollCfg judging.Config, logger zerolog.Logger) SubmissionService {
	baseCtx, cancel := context.WithCancel(context.Background())
	svc := &submissionService{
		submissions: deps.Submissions,
		problems:    deps.Problems,
		praktikums:  deps.Praktikums,
		dispatcher:  deps.Dispatcher,
		broker:      deps.Broker,
		recaps:      deps.Recaps,
		activity:    deps.Activity,
		validator:   deps.Validator,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger.With().Str("component", "submission_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-praktikum-api/internal/service/submission"),
		now:         time.Now,
		baseCtx:     baseCtx,
		cancelBase:  cancel,
	}
	if svc.validator == nil {
		svc.validator = utils.NewValidator()
	}

	pollCfg.OnTransition = svc.onTransition
	svc.poller = judging.NewPoller(&pollSource{
		submissions: deps.Submissions,
		now:         svc.clock,
		logger:      svc.logger,
	}, pollCfg, logger)

	return svc
}

func (s *submissionService) clock() time.Time {
	return s.now()
}

func (s *submissionService) Submit(ctx context.Context, actor Actor, req dto.SubmitRequest) (dto.SubmissionStatusResponse, error) {
	ctx, span := s.tracer.Start(ctx, "submissions.submit", trace.WithAttributes(
		attribute.Int64("submission.student_id", int64(actor.ID)),
		attribute.Int64("submission.problem_id", int64(req.ProblemID)),
	))
	defer span.End()

	fail := func(reason string, err error) (dto.SubmissionStatusResponse, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		return dto.SubmissionStatusResponse{}, err
	}

	req.Language = strings.ToLower(strings.TrimSpace(req.Language))
	if strings.TrimSpace(req.Code) == "" {
		req.Code = ""
	}
	if err := s.validator.Struct(req); err != nil {
		return fail("validation_failed", fmt.Errorf("%w: %w", ErrSubmissionInvalid, err))
	}

	problem, err := s.problems.GetByID(ctx, req.ProblemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fail("problem_not_found", ErrProblemNotFound)
		}
		return fail("problem_lookup_failed", err)
	}

	if _, err := s.praktikums.GetEnrollment(ctx, problem.Assignment.PraktikumID, actor.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fail("not_enrolled", ErrNotEnrolled)
		}
		return fail("enrollment_lookup_failed", err)
	}

	now := s.now().UTC()
	if problem.Assignment.IsPastDue(now) {
		return fail("deadline_passed", ErrDeadlinePassed)
	}

	used, err := s.submissions.CountAttempts(ctx, actor.ID, problem.ID)
	if err != nil {
		return fail("attempt_count_failed", err)
	}
	if problem.Assignment.AttemptsExhausted(used) {
		return fail("attempt_limit_reached", ErrAttemptLimitReached)
	}

	submission := models.Submission{
		ProblemID:   problem.ID,
		StudentID:   actor.ID,
		Language:    req.Language,
		Source:      req.Code,
		Status:      models.StatusPending,
		SubmittedAt: now,
	}
	if err := s.submissions.Create(ctx, &submission); err != nil {
		return fail("submission_create_failed", err)
	}
	submission.Problem = problem
	span.SetAttributes(attribute.Int64("submission.id", int64(submission.ID)))

	s.record(ctx, actor, "submission.created", submission.ID, map[string]interface{}{
		"problem_id": problem.ID,
		"language":   submission.Language,
		"attempt":    used + 1,
	})

	handle := s.watch(submission, problem.Assignment.PraktikumID)
	if err := s.dispatcher.Dispatch(ctx, submission.ID); err != nil {
		handle.Cancel()
		s.logger.Error().Err(err).Uint("submission_id", submission.ID).Msg("failed to dispatch submission")
		judgedAt := s.now().UTC()
		if updateErr := s.submissions.UpdateStatus(context.WithoutCancel(ctx), submission.ID, models.StatusPending, repository.StatusUpdate{
			Status:   models.StatusJudgeError,
			Message:  "judge queue unavailable",
			JudgedAt: &judgedAt,
		}); updateErr != nil {
			s.logger.Error().Err(updateErr).Uint("submission_id", submission.ID).Msg("failed to mark undispatched submission")
		}
		return fail("dispatch_failed", fmt.Errorf("%w: %w", ErrJudgeQueueUnavailable, err))
	}

	return dto.NewSubmissionStatusResponse(submission, true), nil
}

func (s *submissionService) Get(ctx context.Context, id uint, actor Actor) (dto.SubmissionDetailResponse, error) {
	submission, err := s.load(ctx, id)
	if err != nil {
		return dto.SubmissionDetailResponse{}, err
	}
	if err := s.authorize(ctx, submission, actor, false); err != nil {
		return dto.SubmissionDetailResponse{}, err
	}

	overrides, err := s.submissions.ListOverrides(ctx, id)
	if err != nil {
		return dto.SubmissionDetailResponse{}, err
	}

	return dto.NewSubmissionDetailResponse(submission, overrides, true), nil
}

func (s *submissionService) GetStatus(ctx context.Context, id uint, actor Actor) (dto.SubmissionStatusResponse, error) {
	submission, err := s.load(ctx, id)
	if err != nil {
		return dto.SubmissionStatusResponse{}, err
	}
	if err := s.authorize(ctx, submission, actor, false); err != nil {
		return dto.SubmissionStatusResponse{}, err
	}

	return dto.NewSubmissionStatusResponse(submission, s.poller.Watching(id)), nil
}

// Watch restarts polling for a submission whose loop stopped, e.g. after repeated store failures.
// PENDING submissions are dispatched again; the worker ignores jobs that were already picked up.
func (s *submissionService) Watch(ctx context.Context, id uint, actor Actor) (dto.SubmissionStatusResponse, error) {
	submission, err := s.load(ctx, id)
	if err != nil {
		return dto.SubmissionStatusResponse{}, err
	}
	if err := s.authorize(ctx, submission, actor, false); err != nil {
		return dto.SubmissionStatusResponse{}, err
	}

	if submission.Status.IsTerminal() {
		return dto.NewSubmissionStatusResponse(submission, false), nil
	}

	if !s.poller.Watching(id) {
		s.watch(submission, submission.Problem.Assignment.PraktikumID)
	}
	if submission.Status == models.StatusPending {
		if err := s.dispatcher.Dispatch(ctx, id); err != nil {
			s.logger.Warn().Err(err).Uint("submission_id", id).Msg("failed to re-dispatch pending submission")
		}
	}

	return dto.NewSubmissionStatusResponse(submission, true), nil
}

func (s *submissionService) CancelWatch(ctx context.Context, id uint, actor Actor) (bool, error) {
	submission, err := s.load(ctx, id)
	if err != nil {
		return false, err
	}
	if err := s.authorize(ctx, submission, actor, false); err != nil {
		return false, err
	}

	return s.poller.Cancel(id), nil
}

func (s *submissionService) OverrideScore(ctx context.Context, id uint, req dto.ScoreOverrideRequest, actor Actor) (dto.SubmissionDetailResponse, error) {
	ctx, span := s.tracer.Start(ctx, "submissions.override_score", trace.WithAttributes(
		attribute.Int64("grading.submission_id", int64(id)),
		attribute.Int64("grading.actor_id", int64(actor.ID)),
	))
	defer span.End()

	fail := func(reason string, err error) (dto.SubmissionDetailResponse, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		return dto.SubmissionDetailResponse{}, err
	}

	if err := s.validator.Struct(req); err != nil {
		return fail("validation_failed", fmt.Errorf("%w: %w", ErrSubmissionInvalid, err))
	}
	reason := strings.TrimSpace(s.sanitizer.Sanitize(req.Reason))
	if reason == "" {
		return fail("validation_failed", fmt.Errorf("%w: reason is empty after sanitization", ErrSubmissionInvalid))
	}

	submission, err := s.load(ctx, id)
	if err != nil {
		return fail("submission_lookup_failed", err)
	}
	if err := s.authorize(ctx, submission, actor, true); err != nil {
		return fail("forbidden", err)
	}

	if !submission.Status.IsTerminal() || submission.Status == models.StatusJudgeError {
		return fail("not_judged", ErrSubmissionNotJudged)
	}

	score := *req.Score
	if score < 0 || score > submission.Problem.EffectiveWeight() {
		return fail("score_out_of_range", ErrScoreOutOfRange)
	}

	overrides, err := s.submissions.ListOverrides(ctx, id)
	if err != nil {
		return fail("history_lookup_failed", err)
	}

	if submission.ManualScore != nil && *submission.ManualScore == score && len(overrides) > 0 && overrides[0].GradedBy == actor.ID {
		span.SetAttributes(attribute.Bool("grading.idempotent", true))
		return dto.NewSubmissionDetailResponse(submission, overrides, true), nil
	}

	override := models.ScoreOverride{
		PreviousScore: submission.EffectiveScore(),
		Score:         score,
		Reason:        reason,
		GradedBy:      actor.ID,
		GradedAt:      s.now().UTC(),
	}
	if err := s.submissions.ApplyOverride(ctx, id, &override); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fail("submission_not_found", ErrSubmissionNotFound)
		}
		return fail("override_failed", err)
	}

	submission.ManualScore = &score
	overrides = append([]models.ScoreOverride{override}, overrides...)

	s.record(ctx, actor, "submission.score_overridden", id, map[string]interface{}{
		"previous_score": override.PreviousScore,
		"score":          score,
	})
	s.invalidate(ctx, submission.Problem.Assignment.PraktikumID)
	if s.broker != nil {
		s.broker.Publish(dto.NewSubmissionStatusResponse(submission, false))
	}

	span.SetAttributes(attribute.Int("grading.score", score))
	return dto.NewSubmissionDetailResponse(submission, overrides, true), nil
}

func (s *submissionService) Subscribe(ctx context.Context, id uint, actor Actor) (dto.SubmissionStatusResponse, <-chan dto.SubmissionStatusResponse, func(), error) {
	if s.broker == nil {
		return dto.SubmissionStatusResponse{}, nil, nil, errors.New("status streaming is not configured")
	}

	// subscribe first so no transition slips between the snapshot and the stream
	updates, cleanup := s.broker.Subscribe(id)

	submission, err := s.load(ctx, id)
	if err != nil {
		cleanup()
		return dto.SubmissionStatusResponse{}, nil, nil, err
	}
	if err := s.authorize(ctx, submission, actor, false); err != nil {
		cleanup()
		return dto.SubmissionStatusResponse{}, nil, nil, err
	}

	return dto.NewSubmissionStatusResponse(submission, s.poller.Watching(id)), updates, cleanup, nil
}

// ResumePending restarts poll loops for submissions left unfinished by a previous process and
// re-dispatches the ones that never reached the judge.
func (s *submissionService) ResumePending(ctx context.Context) (int, error) {
	resumed := 0
	for _, status := range []models.SubmissionStatus{models.StatusPending, models.StatusJudging} {
		current := status
		rows, err := s.submissions.List(ctx, repository.SubmissionFilter{Status: &current})
		if err != nil {
			return resumed, err
		}

		for _, row := range rows {
			submission, err := s.submissions.GetByID(ctx, row.ID)
			if err != nil {
				s.logger.Warn().Err(err).Uint("submission_id", row.ID).Msg("failed to load unfinished submission")
				continue
			}
			s.watch(submission, submission.Problem.Assignment.PraktikumID)
			if current == models.StatusPending {
				if err := s.dispatcher.Dispatch(ctx, submission.ID); err != nil {
					s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("failed to re-dispatch pending submission")
				}
			}
			resumed++
		}
	}

	if resumed > 0 {
		s.logger.Info().Int("count", resumed).Msg("resumed unfinished submissions")
	}
	return resumed, nil
}

func (s *submissionService) Shutdown(ctx context.Context) error {
	s.cancelBase()
	return s.poller.Shutdown(ctx)
}

func (s *submissionService) watch(submission models.Submission, praktikumID uint) *judging.Handle {
	key := judging.Key{StudentID: submission.StudentID, ProblemID: submission.ProblemID}
	return s.poller.Watch(s.baseCtx, key, submission.ID, func(outcome judging.Outcome) {
		s.complete(outcome, praktikumID)
	})
}

// complete runs once per finished poll loop on the loop goroutine.
func (s *submissionService) complete(outcome judging.Outcome, praktikumID uint) {
	ctx := s.baseCtx
	logger := s.logger.With().Uint("submission_id", outcome.SubmissionID).Logger()

	if outcome.Err != nil {
		logger.Warn().Err(outcome.Err).Int("polls", outcome.Polls).Msg("poll loop stopped before a verdict")
		if s.broker != nil {
			s.broker.Publish(dto.SubmissionStatusResponse{
				SubmissionID: outcome.SubmissionID,
				Status:       string(outcome.Snapshot.Status),
				Message:      "status polling stopped; resume to keep watching",
				UpdatedAt:    s.now().UTC(),
			})
		}
		return
	}

	observability.Verdicts().WithLabelValues(string(outcome.Snapshot.Status)).Inc()
	s.invalidate(ctx, praktikumID)

	if outcome.TimedOut {
		s.record(ctx, Actor{Role: ActorRoleSystem}, "submission.expired", outcome.SubmissionID, map[string]interface{}{
			"polls": outcome.Polls,
		})
	}

	if s.broker == nil {
		return
	}
	submission, err := s.submissions.GetByID(ctx, outcome.SubmissionID)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load judged submission for broadcast")
		return
	}
	s.broker.Publish(dto.NewSubmissionStatusResponse(submission, false))
}

func (s *submissionService) onTransition(from, to judging.Snapshot) {
	if s.broker == nil || to.Status.IsTerminal() {
		return
	}
	s.broker.Publish(dto.SubmissionStatusResponse{
		SubmissionID: to.SubmissionID,
		Status:       string(to.Status),
		Watching:     true,
		UpdatedAt:    s.now().UTC(),
	})
}

func (s *submissionService) load(ctx context.Context, id uint) (models.Submission, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrSubmissionNotFound
		}
		return models.Submission{}, err
	}
	return submission, nil
}

// authorize lets owners read their submissions, assistants of the section read and grade them,
// and admins do everything.
func (s *submissionService) authorize(ctx context.Context, submission models.Submission, actor Actor, grader bool) error {
	role := normalizeRole(actor.Role)
	if role == ActorRoleAdmin {
		return nil
	}
	if !grader && actor.ID != 0 && actor.ID == submission.StudentID {
		return nil
	}
	if role != ActorRoleAsisten {
		return ErrSubmissionForbidden
	}

	enrollment, err := s.praktikums.GetEnrollment(ctx, submission.Problem.Assignment.PraktikumID, actor.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubmissionForbidden
		}
		return err
	}
	if enrollment.IsParticipant() {
		return ErrSubmissionForbidden
	}
	return nil
}

func (s *submissionService) invalidate(ctx context.Context, praktikumID uint) {
	if s.recaps == nil || praktikumID == 0 {
		return
	}
	if err := s.recaps.Invalidate(ctx, praktikumID); err != nil {
		s.logger.Warn().Err(err).Uint("praktikum_id", praktikumID).Msg("failed to invalidate recap cache")
	}
}

func (s *submissionService) record(ctx context.Context, actor Actor, action string, submissionID uint, metadata map[string]interface{}) {
	if s.activity == nil {
		return
	}
	entityID := submissionID
	if _, err := s.activity.Record(ctx, ActivityEntry{
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: "submission",
		EntityID:   &entityID,
		Metadata:   metadata,
	}); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("failed to record activity")
	}
}

// pollSource adapts the submission repository to the poller.
type pollSource struct {
	submissions repository.SubmissionRepository
	now         func() time.Time
	logger      zerolog.Logger
}

func (p *pollSource) GetStatus(ctx context.Context, submissionID uint) (judging.Snapshot, error) {
	submission, err := p.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return judging.Snapshot{}, fmt.Errorf("%w: %d", judging.ErrNotFound, submissionID)
		}
		return judging.Snapshot{}, err
	}
	return snapshotOf(submission), nil
}

func (p *pollSource) ExpireSubmission(ctx context.Context, submissionID uint) (judging.Snapshot, error) {
	submission, err := p.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return judging.Snapshot{}, err
	}
	if submission.Status.IsTerminal() {
		return snapshotOf(submission), nil
	}

	judgedAt := p.now().UTC()
	err = p.submissions.UpdateStatus(ctx, submissionID, submission.Status, repository.StatusUpdate{
		Status:   models.StatusJudgeError,
		Message:  "judging timed out",
		JudgedAt: &judgedAt,
	})
	if errors.Is(err, repository.ErrStaleTransition) {
		return p.GetStatus(ctx, submissionID)
	}
	if err != nil {
		return judging.Snapshot{}, err
	}

	p.logger.Warn().Uint("submission_id", submissionID).Str("from", string(submission.Status)).Msg("submission expired")
	return judging.Snapshot{
		SubmissionID: submissionID,
		Status:       models.StatusJudgeError,
		Message:      "judging timed out",
	}, nil
}

func snapshotOf(submission models.Submission) judging.Snapshot {
	return judging.Snapshot{
		SubmissionID: submission.ID,
		Status:       submission.Status,
		Score:        submission.EffectiveScore(),
		Message:      submission.JudgeMessage,
	}
}
