package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-praktikum-api/internal/models"
	"github.com/noah-isme/gema-praktikum-api/internal/repository"
	"github.com/noah-isme/gema-praktikum-api/pkg/judge"
)

func TestVerdictFromResponseMapsCases(t *testing.T) {
	problem := models.Problem{MaxWeight: 100, Weighting: models.WeightingUniform, TestCases: make([]models.TestCase, 4)}

	update := VerdictFromResponse(problem, judge.Response{
		Status: judge.StatusSuccess,
		Results: []judge.CaseResult{
			{Status: "AC", Passed: true, ExecutionTime: 12.4, Memory: 1024},
			{Status: "WA", ActualOutput: "5"},
			{Status: "tle", ExecutionTime: 2000},
			{Passed: true, Memory: 4096},
		},
		Raw: []byte(`{"status":"success"}`),
	})

	require.Equal(t, models.StatusPartial, update.Status)
	require.Equal(t, 50, update.Score)
	require.Equal(t, int64(2000), update.MaxTimeMs)
	require.Equal(t, int64(4096), update.MaxMemoryKB)
	require.Len(t, update.Results, 4)
	require.Equal(t, 1, update.Results[0].Position)
	require.Equal(t, int64(12), update.Results[0].ExecutionMs)
	require.Equal(t, models.VerdictWrongAnswer, update.Results[1].Verdict)
	require.Equal(t, models.VerdictTimeLimitExceeded, update.Results[2].Verdict)
	require.Equal(t, models.VerdictAccepted, update.Results[3].Verdict)
	require.JSONEq(t, `{"status":"success"}`, string(update.Raw))
}

func TestVerdictFromResponseCompileError(t *testing.T) {
	update := VerdictFromResponse(models.Problem{MaxWeight: 100}, judge.Response{
		Status:       judge.StatusCompileError,
		ErrorMessage: "  main.c:1: error  ",
	})

	require.Equal(t, models.StatusCompileError, update.Status)
	require.Zero(t, update.Score)
	require.Equal(t, "main.c:1: error", update.Message)
}

func TestVerdictFromResponseEngineError(t *testing.T) {
	update := VerdictFromResponse(models.Problem{MaxWeight: 100}, judge.Response{Status: judge.StatusError})

	require.Equal(t, models.StatusJudgeError, update.Status)
	require.NotEmpty(t, update.Message)
}

func TestVerdictFromResponseTruncatesOutput(t *testing.T) {
	update := VerdictFromResponse(models.Problem{MaxWeight: 10, TestCases: make([]models.TestCase, 1)}, judge.Response{
		Status:  judge.StatusSuccess,
		Results: []judge.CaseResult{{Status: "AC", ActualOutput: strings.Repeat("x", maxStoredOutput+10)}},
	})

	require.Equal(t, models.StatusAccepted, update.Status)
	require.Equal(t, 10, update.Score)
	require.Len(t, update.Results[0].Output, maxStoredOutput)
}

func TestVerdictFromResponseCountsMissingCasesAsFailed(t *testing.T) {
	problem := models.Problem{MaxWeight: 100, Weighting: models.WeightingUniform, TestCases: make([]models.TestCase, 5)}

	update := VerdictFromResponse(problem, judge.Response{
		Status:         judge.StatusSuccess,
		TotalCase:      5,
		TotalCaseBenar: 1,
		Results:        []judge.CaseResult{{Status: "AC", Passed: true}},
	})

	require.Equal(t, models.StatusPartial, update.Status)
	require.Equal(t, 20, update.Score)
	require.Len(t, update.Results, 1)
}

func TestVerdictFromResponseUsesReportedTotalWhenLarger(t *testing.T) {
	problem := models.Problem{MaxWeight: 100, Weighting: models.WeightingUniform, TestCases: make([]models.TestCase, 2)}

	update := VerdictFromResponse(problem, judge.Response{
		Status:    judge.StatusSuccess,
		TotalCase: 4,
		Results:   []judge.CaseResult{{Status: "AC"}, {Status: "AC"}},
	})

	require.Equal(t, models.StatusPartial, update.Status)
	require.Equal(t, 50, update.Score)
}

func TestVerdictFromResponseTruncatesOnRuneBoundary(t *testing.T) {
	output := strings.Repeat("a", maxStoredOutput-1) + "é"

	update := VerdictFromResponse(models.Problem{MaxWeight: 10, TestCases: make([]models.TestCase, 1)}, judge.Response{
		Status:  judge.StatusSuccess,
		Results: []judge.CaseResult{{Status: "AC", ActualOutput: output}},
	})

	stored := update.Results[0].Output
	require.True(t, utf8.ValidString(stored))
	require.Len(t, stored, maxStoredOutput-1)
	require.Equal(t, strings.Repeat("a", maxStoredOutput-1), stored)
}

func createPendingSubmission(t *testing.T, repo repository.SubmissionRepository, fixture sectionFixture) models.Submission {
	t.Helper()
	submission := models.Submission{
		ProblemID:   fixture.Problem.ID,
		StudentID:   fixture.Student.ID,
		Language:    "python",
		Source:      "print(sum(map(int, input().split())))",
		Status:      models.StatusPending,
		SubmittedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Create(context.Background(), &submission))
	return submission
}

func TestJudgeWorkerProcessStoresVerdict(t *testing.T) {
	db := setupServiceDB(t)
	fixture := seedSection(t, db, time.Now().Add(time.Hour), 0)
	submissions := repository.NewSubmissionRepository(db)
	engine := &fakeEngine{responses: []judge.Response{{
		Status:  judge.StatusSuccess,
		Results: []judge.CaseResult{{Status: "AC", Passed: true}, {Status: "AC", Passed: true}},
	}}}
	worker := NewJudgeWorker(submissions, repository.NewProblemRepository(db), engine, nil, JudgeWorkerConfig{}, testLogger())

	submission := createPendingSubmission(t, submissions, fixture)
	require.NoError(t, worker.Process(context.Background(), submission.ID))

	stored, err := submissions.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusAccepted, stored.Status)
	require.Equal(t, 100, stored.Score)
	require.NotNil(t, stored.JudgedAt)
	require.Len(t, stored.Results, 2)

	require.Len(t, engine.requests, 1)
	require.Len(t, engine.requests[0].TestCases, 2)
	require.Equal(t, "3", engine.requests[0].TestCases[0].ExpectedOutput)

	// redelivery is a no-op
	require.NoError(t, worker.Process(context.Background(), submission.ID))
	require.Equal(t, 1, engine.calls)
}

func TestJudgeWorkerRetriesTransportThenStoresJudgeError(t *testing.T) {
	db := setupServiceDB(t)
	fixture := seedSection(t, db, time.Now().Add(time.Hour), 0)
	submissions := repository.NewSubmissionRepository(db)
	transport := &judge.TransportError{Err: errors.New("connection refused")}
	engine := &fakeEngine{errs: []error{transport, transport, transport}}
	worker := NewJudgeWorker(submissions, repository.NewProblemRepository(db), engine, nil, JudgeWorkerConfig{
		Retries:      2,
		RetryBackoff: time.Millisecond,
	}, testLogger())

	submission := createPendingSubmission(t, submissions, fixture)
	require.NoError(t, worker.Process(context.Background(), submission.ID))

	stored, err := submissions.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusJudgeError, stored.Status)
	require.Equal(t, "judge engine unavailable", stored.JudgeMessage)
	require.Equal(t, 3, engine.calls)
}

func TestJudgeWorkerRecoversAfterTransientTransportError(t *testing.T) {
	db := setupServiceDB(t)
	fixture := seedSection(t, db, time.Now().Add(time.Hour), 0)
	submissions := repository.NewSubmissionRepository(db)
	engine := &fakeEngine{
		errs: []error{&judge.TransportError{Err: errors.New("timeout")}},
		responses: []judge.Response{{}, {
			Status:  judge.StatusSuccess,
			Results: []judge.CaseResult{{Status: "AC"}, {Status: "WA"}},
		}},
	}
	worker := NewJudgeWorker(submissions, repository.NewProblemRepository(db), engine, nil, JudgeWorkerConfig{
		Retries:      1,
		RetryBackoff: time.Millisecond,
	}, testLogger())

	submission := createPendingSubmission(t, submissions, fixture)
	require.NoError(t, worker.Process(context.Background(), submission.ID))

	stored, err := submissions.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusPartial, stored.Status)
	require.Equal(t, 50, stored.Score)
}

func TestJudgeWorkerPoolDrainsQueue(t *testing.T) {
	db := setupServiceDB(t)
	fixture := seedSection(t, db, time.Now().Add(time.Hour), 0)
	submissions := repository.NewSubmissionRepository(db)
	engine := &fakeEngine{responses: []judge.Response{{
		Status:  judge.StatusSuccess,
		Results: []judge.CaseResult{{Status: "WA"}, {Status: "WA"}},
	}}}
	worker := NewJudgeWorker(submissions, repository.NewProblemRepository(db), engine, nil, JudgeWorkerConfig{Workers: 1, QueueSize: 4}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)

	submission := createPendingSubmission(t, submissions, fixture)
	require.NoError(t, worker.Dispatch(ctx, submission.ID))

	require.Eventually(t, func() bool {
		stored, err := submissions.GetByID(context.Background(), submission.ID)
		return err == nil && stored.Status == models.StatusWrongAnswer
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	worker.Wait()
}
