package dto

import (
	"time"

	"github.com/noah-isme/gema-praktikum-api/internal/grading"
	"github.com/noah-isme/gema-praktikum-api/internal/models"
)

// SubmitRequest is the payload of a new code submission.
type SubmitRequest struct {
	ProblemID uint   `json:"problem_id" validate:"required,gt=0"`
	Language  string `json:"language" validate:"required,oneof=c cpp python java go javascript"`
	Code      string `json:"code" validate:"required,max=65536"`
}

// ScoreOverrideRequest is used by graders to replace a judged score.
type ScoreOverrideRequest struct {
	Score  *int   `json:"score" validate:"required,gte=0"`
	Reason string `json:"reason" validate:"required,min=3,max=1000"`
}

// TestCaseResultResponse serializes the outcome of one test case.
type TestCaseResultResponse struct {
	Position    int    `json:"position"`
	Verdict     string `json:"verdict"`
	ExecutionMs int64  `json:"execution_ms"`
	MemoryKB    int64  `json:"memory_kb"`
	Output      string `json:"output,omitempty"`
}

// SampleCaseResponse is a visible test case of the submitted problem.
type SampleCaseResponse struct {
	Position       int    `json:"position"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

// SubmissionStatusResponse is the lightweight status snapshot used for polling.
type SubmissionStatusResponse struct {
	SubmissionID   uint                     `json:"submission_id"`
	ProblemID      uint                     `json:"problem_id"`
	Status         string                   `json:"status"`
	Terminal       bool                     `json:"terminal"`
	Verdict        *string                  `json:"verdict"`
	Score          int                      `json:"score"`
	EffectiveScore int                      `json:"effective_score"`
	Message        string                   `json:"message,omitempty"`
	Watching       bool                     `json:"watching"`
	Results        []TestCaseResultResponse `json:"results,omitempty"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// ScoreOverrideResponse serializes one entry of the override history.
type ScoreOverrideResponse struct {
	PreviousScore int       `json:"previous_score"`
	Score         int       `json:"score"`
	Reason        string    `json:"reason"`
	GradedBy      uint      `json:"graded_by"`
	GradedAt      time.Time `json:"graded_at"`
}

// SubmissionDetailResponse is the full view of a submission.
type SubmissionDetailResponse struct {
	ID             uint                     `json:"id"`
	ProblemID      uint                     `json:"problem_id"`
	AssignmentID   uint                     `json:"assignment_id"`
	StudentID      uint                     `json:"student_id"`
	Language       string                   `json:"language"`
	Source         string                   `json:"source,omitempty"`
	Status         string                   `json:"status"`
	Score          int                      `json:"score"`
	ManualScore    *int                     `json:"manual_score"`
	EffectiveScore int                      `json:"effective_score"`
	MaxWeight      int                      `json:"max_weight"`
	JudgeMessage   string                   `json:"judge_message,omitempty"`
	MaxTimeMs      int64                    `json:"max_time_ms"`
	MaxMemoryKB    int64                    `json:"max_memory_kb"`
	SubmittedAt    time.Time                `json:"submitted_at"`
	JudgedAt       *time.Time               `json:"judged_at"`
	Results        []TestCaseResultResponse `json:"results"`
	Samples        []SampleCaseResponse     `json:"samples"`
	Overrides      []ScoreOverrideResponse  `json:"overrides"`
}

// NewSubmissionStatusResponse maps a submission to its status snapshot.
func NewSubmissionStatusResponse(submission models.Submission, watching bool) SubmissionStatusResponse {
	response := SubmissionStatusResponse{
		SubmissionID:   submission.ID,
		ProblemID:      submission.ProblemID,
		Status:         string(submission.Status),
		Terminal:       submission.Status.IsTerminal(),
		Score:          submission.Score,
		EffectiveScore: submission.EffectiveScore(),
		Message:        submission.JudgeMessage,
		Watching:       watching,
		UpdatedAt:      submission.UpdatedAt,
	}
	if response.Terminal {
		verdict := string(submission.Status)
		response.Verdict = &verdict
		response.Results = newTestCaseResults(submission.Results, false)
	}
	return response
}

// NewSubmissionDetailResponse maps a submission to its full view. Source is included only when requested.
func NewSubmissionDetailResponse(submission models.Submission, overrides []models.ScoreOverride, includeSource bool) SubmissionDetailResponse {
	response := SubmissionDetailResponse{
		ID:             submission.ID,
		ProblemID:      submission.ProblemID,
		AssignmentID:   submission.Problem.AssignmentID,
		StudentID:      submission.StudentID,
		Language:       submission.Language,
		Status:         string(submission.Status),
		Score:          submission.Score,
		ManualScore:    submission.ManualScore,
		EffectiveScore: submission.EffectiveScore(),
		MaxWeight:      submission.Problem.EffectiveWeight(),
		JudgeMessage:   submission.JudgeMessage,
		MaxTimeMs:      submission.MaxTimeMs,
		MaxMemoryKB:    submission.MaxMemoryKB,
		SubmittedAt:    submission.SubmittedAt,
		JudgedAt:       submission.JudgedAt,
		Results:        newTestCaseResults(submission.Results, includeSource),
		Samples:        make([]SampleCaseResponse, 0),
		Overrides:      make([]ScoreOverrideResponse, 0, len(overrides)),
	}
	if includeSource {
		response.Source = submission.Source
	}
	for _, sample := range submission.Problem.Samples() {
		response.Samples = append(response.Samples, SampleCaseResponse{
			Position:       sample.Position,
			Input:          sample.Input,
			ExpectedOutput: sample.ExpectedOutput,
		})
	}
	for _, item := range overrides {
		response.Overrides = append(response.Overrides, ScoreOverrideResponse{
			PreviousScore: item.PreviousScore,
			Score:         item.Score,
			Reason:        item.Reason,
			GradedBy:      item.GradedBy,
			GradedAt:      item.GradedAt,
		})
	}
	return response
}

func newTestCaseResults(results []models.TestCaseResult, withOutput bool) []TestCaseResultResponse {
	items := make([]TestCaseResultResponse, 0, len(results))
	for _, result := range results {
		item := TestCaseResultResponse{
			Position:    result.Position,
			Verdict:     string(result.Verdict),
			ExecutionMs: result.ExecutionMs,
			MemoryKB:    result.MemoryKB,
		}
		if withOutput {
			item.Output = result.Output
		}
		items = append(items, item)
	}
	return items
}

// AssignmentRecapRow is one participant's grade for a single assignment.
type AssignmentRecapRow struct {
	StudentID uint                     `json:"student_id"`
	NIM       string                   `json:"nim"`
	Name      string                   `json:"name"`
	Available bool                     `json:"available"`
	Error     string                   `json:"error,omitempty"`
	Grade     *grading.AssignmentGrade `json:"grade"`
}

// AssignmentRecapResponse lists every participant's grade for one assignment.
type AssignmentRecapResponse struct {
	PraktikumID    uint                 `json:"praktikum_id"`
	AssignmentID   uint                 `json:"assignment_id"`
	Title          string               `json:"title"`
	DueDate        time.Time            `json:"due_date"`
	TotalProblems  int                  `json:"total_problems"`
	AveragePercent int                  `json:"average_percent"`
	Rows           []AssignmentRecapRow `json:"rows"`
}

// StudentRecapResponse is one participant's profile within a section.
type StudentRecapResponse struct {
	PraktikumID uint                     `json:"praktikum_id"`
	Role        string                   `json:"role"`
	Recap       grading.ParticipantRecap `json:"recap"`
}

// SectionOverview summarises one section of a term.
type SectionOverview struct {
	PraktikumID      uint   `json:"praktikum_id"`
	Name             string `json:"name"`
	ClassName        string `json:"class_name"`
	ClassAverage     int    `json:"class_average"`
	ParticipantCount int    `json:"participant_count"`
	Error            string `json:"error,omitempty"`
}

// TermOverviewResponse aggregates every section of a term.
type TermOverviewResponse struct {
	Term     string            `json:"term"`
	Sections []SectionOverview `json:"sections"`
}
