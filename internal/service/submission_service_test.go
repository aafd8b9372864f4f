package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-praktikum-api/internal/dto"
	"github.com/noah-isme/gema-praktikum-api/internal/judging"
	"github.com/noah-isme/gema-praktikum-api/internal/models"
	"github.com/noah-isme/gema-praktikum-api/internal/repository"
	"github.com/noah-isme/gema-praktikum-api/pkg/judge"
)

type submissionHarness struct {
	db          *gorm.DB
	fixture     sectionFixture
	submissions repository.SubmissionRepository
	problems    repository.ProblemRepository
	dispatcher  *fakeDispatcher
	activity    *recordingActivity
	recaps      *countingInvalidator
	broker      *StatusBroker
	svc         SubmissionService
}

func newSubmissionHarness(t *testing.T, due time.Time, maxAttempts int, pollCfg judging.Config) *submissionHarness {
	t.Helper()
	db := setupServiceDB(t)
	h := &submissionHarness{
		db:          db,
		fixture:     seedSection(t, db, due, maxAttempts),
		submissions: repository.NewSubmissionRepository(db),
		problems:    repository.NewProblemRepository(db),
		dispatcher:  &fakeDispatcher{},
		activity:    &recordingActivity{},
		recaps:      &countingInvalidator{},
		broker:      NewStatusBroker(nil, "", testLogger()),
	}
	if pollCfg.PendingInterval == 0 {
		pollCfg.PendingInterval = 5 * time.Millisecond
	}
	if pollCfg.JudgingInterval == 0 {
		pollCfg.JudgingInterval = 5 * time.Millisecond
	}
	h.svc = NewSubmissionService(SubmissionServiceDeps{
		Submissions: h.submissions,
		Problems:    h.problems,
		Praktikums:  repository.NewPraktikumRepository(db),
		Dispatcher:  h.dispatcher,
		Broker:      h.broker,
		Recaps:      h.recaps,
		Activity:    h.activity,
	}, pollCfg, testLogger())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.svc.Shutdown(ctx)
	})
	return h
}

func (h *submissionHarness) student() Actor {
	return Actor{ID: h.fixture.Student.ID, Role: ActorRoleStudent}
}

func (h *submissionHarness) assistant() Actor {
	return Actor{ID: h.fixture.Assistant.ID, Role: ActorRoleAsisten}
}

func (h *submissionHarness) submit(t *testing.T) dto.SubmissionStatusResponse {
	t.Helper()
	resp, err := h.svc.Submit(context.Background(), h.student(), dto.SubmitRequest{
		ProblemID: h.fixture.Problem.ID,
		Language:  "Python",
		Code:      "print(3)",
	})
	require.NoError(t, err)
	return resp
}

func (h *submissionHarness) countSubmissions(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.db.Model(&models.Submission{}).Count(&count).Error)
	return count
}

func (h *submissionHarness) judgeAll(t *testing.T, response judge.Response) {
	t.Helper()
	worker := NewJudgeWorker(h.submissions, h.problems, &fakeEngine{responses: []judge.Response{response}}, nil, JudgeWorkerConfig{}, testLogger())
	for _, id := range h.dispatcher.dispatched() {
		require.NoError(t, worker.Process(context.Background(), id))
	}
}

func TestSubmissionServiceSubmitReachesVerdict(t *testing.T) {
	h := newSubmissionHarness(t, time.Now().Add(time.Hour), 0, judging.Config{})

	resp := h.submit(t)
	require.Equal(t, string(models.StatusPending), resp.Status)
	require.True(t, resp.Watching)
	require.False(t, resp.Terminal)
	require.Equal(t, []uint{resp.SubmissionID}, h.dispatcher.dispatched())

	updates, cleanup := h.broker.Subscribe(resp.SubmissionID)
	defer cleanup()

	h.judgeAll(t, judge.Response{
		Status:  judge.StatusSuccess,
		Results: []judge.CaseResult{{Status: "AC"}, {Status: "AC"}},
	})

	var final dto.SubmissionStatusResponse
	require.Eventually(t, func() bool {
		select {
		case update := <-updates:
			if update.Terminal {
				final = update
				return true
			}
		default:
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, string(models.StatusAccepted), final.Status)
	require.Equal(t, 100, final.Score)
	require.NotNil(t, final.Verdict)

	require.Eventually(t, func() bool { return h.recaps.count(h.fixture.Praktikum.ID) == 1 }, time.Second, 5*time.Millisecond)
	require.Contains(t, h.activity.recorded(), "submission.created")

	status, err := h.svc.GetStatus(context.Background(), resp.SubmissionID, h.student())
	require.NoError(t, err)
	require.True(t, status.Terminal)
	require.False(t, status.Watching)
}

func TestSubmissionServiceSubmitRejections(t *testing.T) {
	t.Run("invalid payload", func(t *testing.T) {
		h := newSubmissionHarness(t, time.Now().Add(time.Hour), 0, judging.Config{})
		_, err := h.svc.Submit(context.Background(), h.student(), dto.SubmitRequest{ProblemID: h.fixture.Problem.ID, Language: "cobol", Code: "x"})
		require.ErrorIs(t, err, ErrSubmissionInvalid)

		_, err = h.svc.Submit(context.Background(), h.student(), dto.SubmitRequest{ProblemID: h.fixture.Problem.ID, Language: "go", Code: "   "})
		require.ErrorIs(t, err, ErrSubmissionInvalid)
		require.Zero(t, h.countSubmissions(t))
	})

	t.Run("unknown problem", func(t *testing.T) {
		h := newSubmissionHarness(t, time.Now().Add(time.Hour), 0, judging.Config{})
		_, err := h.svc.Submit(context.Background(), h.student(), dto.SubmitRequest{ProblemID: 999, Language: "go", Code: "package main"})
		require.ErrorIs(t, err, ErrProblemNotFound)
		require.Zero(t, h.countSubmissions(t))
	})

	t.Run("not enrolled", func(t *testing.T) {
		h := newSubmissionHarness(t, time.Now().Add(time.Hour), 0, judging.Config{})
		outsider := models.Student{NIM: "2209999", Name: "Citra", Email: "citra@kampus.ac.id"}
		require.NoError(t, h.db.Create(&outsider).Error)

		_, err := h.svc.Submit(context.Background(), Actor{ID: outsider.ID, Role: ActorRoleStudent}, dto.SubmitRequest{ProblemID: h.fixture.Problem.ID, Language: "go", Code: "package main"})
		require.ErrorIs(t, err, ErrNotEnrolled)
		require.Zero(t, h.countSubmissions(t))
	})

	t.Run("deadline passed", func(t *testing.T) {
		h := newSubmissionHarness(t, time.Now().Add(-time.Hour), 0, judging.Config{})
		_, err := h.svc.Submit(context.Background(), h.student(), dto.SubmitRequest{ProblemID: h.fixture.Problem.ID, Language: "go", Code: "package main"})
		require.ErrorIs(t, err, ErrDeadlinePassed)
		require.Zero(t, h.countSubmissions(t))
	})

	t.Run("attempt limit", func(t *testing.T) {
		h := newSubmissionHarness(t, time.Now().Add(time.Hour), 1, judging.Config{})
		h.submit(t)

		_, err := h.svc.Submit(context.Background(), h.student(), dto.SubmitRequest{ProblemID: h.fixture.Problem.ID, Language: "go", Code: "package main"})
		require.ErrorIs(t, err, ErrAttemptLimitReached)
		require.Equal(t, int64(1), h.countSubmissions(t))
	})
}

func TestSubmissionServiceJudgeErrorDoesNotConsumeAttempt(t *testing.T) {
	h := newSubmissionHarness(t, time.Now().Add(time.Hour), 1, judging.Config{})
	h.submit(t)
	h.judgeAll(t, judge.Response{Status: judge.StatusError})

	second := h.submit(t)
	require.NotZero(t, second.SubmissionID)
}

func TestSubmissionServiceDispatchFailureMarksJudgeError(t *testing.T) {
	h := newSubmissionHarness(t, time.Now().Add(time.Hour), 0, judging.Config{})
	h.dispatcher.err = errors.New("nats: connection closed")

	_, err := h.svc.Submit(context.Background(), h.student(), dto.SubmitRequest{ProblemID: h.fixture.Problem.ID, Language: "go", Code: "package main"})
	require.ErrorIs(t, err, ErrJudgeQueueUnavailable)

	var stored models.Submission
	require.NoError(t, h.db.First(&stored).Error)
	require.Equal(t, models.StatusJudgeError, stored.Status)
	require.Equal(t, "judge queue unavailable", stored.JudgeMessage)
}

func TestSubmissionServicePollTimeoutExpiresSubmission(t *testing.T) {
	h := newSubmissionHarness(t, time.Now().Add(time.Hour), 0, judging.Config{Timeout: 40 * time.Millisecond})

	resp := h.submit(t)

	require.Eventually(t, func() bool {
		stored, err := h.submissions.GetByID(context.Background(), resp.SubmissionID)
		return err == nil && stored.Status == models.StatusJudgeError && stored.JudgeMessage == "judging timed out"
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, action := range h.activity.recorded() {
			if action == "submission.expired" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// a late verdict is discarded
	h.judgeAll(t, judge.Response{Status: judge.StatusSuccess, Results: []judge.CaseResult{{Status: "AC"}}})
	stored, err := h.submissions.GetByID(context.Background(), resp.SubmissionID)
	require.NoError(t, err)
	require.Equal(t, models.StatusJudgeError, stored.Status)
}

func TestSubmissionServiceCancelWatch(t *testing.T) {
	h := newSubmissionHarness(t, time.Now().Add(time.Hour), 0, judging.Config{})
	resp := h.submit(t)

	cancelled, err := h.svc.CancelWatch(context.Background(), resp.SubmissionID, h.student())
	require.NoError(t, err)
	require.True(t, cancelled)

	status, err := h.svc.GetStatus(context.Background(), resp.SubmissionID, h.student())
	require.NoError(t, err)
	require.False(t, status.Watching)
	require.Equal(t, string(models.StatusPending), status.Status)

	resumed, err := h.svc.Watch(context.Background(), resp.SubmissionID, h.student())
	require.NoError(t, err)
	require.True(t, resumed.Watching)
	require.Len(t, h.dispatcher.dispatched(), 2)
}

func TestSubmissionServiceAccessControl(t *testing.T) {
	h := newSubmissionHarness(t, time.Now().Add(time.Hour), 0, judging.Config{})
	resp := h.submit(t)

	other := models.Student{NIM: "2201002", Name: "Dewi", Email: "dewi@kampus.ac.id"}
	require.NoError(t, h.db.Create(&other).Error)

	_, err := h.svc.Get(context.Background(), resp.SubmissionID, Actor{ID: other.ID, Role: ActorRoleStudent})
	require.ErrorIs(t, err, ErrSubmissionForbidden)

	// an assistant of another section is not a grader here
	_, err = h.svc.Get(context.Background(), resp.SubmissionID, Actor{ID: other.ID, Role: ActorRoleAsisten})
	require.ErrorIs(t, err, ErrSubmissionForbidden)

	detail, err := h.svc.Get(context.Background(), resp.SubmissionID, h.assistant())
	require.NoError(t, err)
	require.Equal(t, "print(3)", detail.Source)
	require.Len(t, detail.Samples, 1)
	require.Equal(t, "1 2", detail.Samples[0].Input)
	require.Equal(t, "3", detail.Samples[0].ExpectedOutput)

	_, err = h.svc.Get(context.Background(), resp.SubmissionID, Actor{ID: 42, Role: ActorRoleAdmin})
	require.NoError(t, err)

	_, err = h.svc.Get(context.Background(), 999, h.student())
	require.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestSubmissionServiceOverrideScore(t *testing.T) {
	h := newSubmissionHarness(t, time.Now().Add(time.Hour), 0, judging.Config{})
	resp := h.submit(t)
	score := 80
	request := dto.ScoreOverrideRequest{Score: &score, Reason: "<b>manual</b> review of output format"}

	_, err := h.svc.OverrideScore(context.Background(), resp.SubmissionID, request, h.assistant())
	require.ErrorIs(t, err, ErrSubmissionNotJudged)

	h.judgeAll(t, judge.Response{Status: judge.StatusSuccess, Results: []judge.CaseResult{{Status: "AC"}, {Status: "WA"}}})

	_, err = h.svc.OverrideScore(context.Background(), resp.SubmissionID, request, h.student())
	require.ErrorIs(t, err, ErrSubmissionForbidden)

	tooHigh := 101
	_, err = h.svc.OverrideScore(context.Background(), resp.SubmissionID, dto.ScoreOverrideRequest{Score: &tooHigh, Reason: "bonus points"}, h.assistant())
	require.ErrorIs(t, err, ErrScoreOutOfRange)

	detail, err := h.svc.OverrideScore(context.Background(), resp.SubmissionID, request, h.assistant())
	require.NoError(t, err)
	require.Equal(t, 50, detail.Score)
	require.Equal(t, 80, detail.EffectiveScore)
	require.Len(t, detail.Overrides, 1)
	require.Equal(t, 50, detail.Overrides[0].PreviousScore)
	require.Equal(t, "manual review of output format", detail.Overrides[0].Reason)

	again, err := h.svc.OverrideScore(context.Background(), resp.SubmissionID, request, h.assistant())
	require.NoError(t, err)
	require.Len(t, again.Overrides, 1)

	require.GreaterOrEqual(t, h.recaps.count(h.fixture.Praktikum.ID), 1)
	require.Contains(t, h.activity.recorded(), "submission.score_overridden")
}

func TestSubmissionServiceResumePending(t *testing.T) {
	h := newSubmissionHarness(t, time.Now().Add(time.Hour), 0, judging.Config{})
	pending := createPendingSubmission(t, h.submissions, h.fixture)
	judgingRow := createPendingSubmission(t, h.submissions, h.fixture)
	require.NoError(t, h.submissions.UpdateStatus(context.Background(), judgingRow.ID, models.StatusPending, repository.StatusUpdate{Status: models.StatusJudging}))

	resumed, err := h.svc.ResumePending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, resumed)
	require.Equal(t, []uint{pending.ID}, h.dispatcher.dispatched())
}
