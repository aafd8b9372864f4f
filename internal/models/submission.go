package models

import (
	"time"

	"gorm.io/datatypes"
)

// SubmissionStatus is the lifecycle state of a judged submission.
type SubmissionStatus string

// Submission lifecycle states. Everything other than pending and judging is terminal.
const (
	StatusPending      SubmissionStatus = "PENDING"
	StatusJudging      SubmissionStatus = "JUDGING"
	StatusAccepted     SubmissionStatus = "ACCEPTED"
	StatusWrongAnswer  SubmissionStatus = "WRONG_ANSWER"
	StatusPartial      SubmissionStatus = "PARTIAL"
	StatusCompileError SubmissionStatus = "COMPILE_ERROR"
	StatusRuntimeError SubmissionStatus = "RUNTIME_ERROR"
	StatusJudgeError   SubmissionStatus = "JUDGE_ERROR"
)

// Per test case verdicts. Accepted, wrong answer and runtime error share the submission values.
const (
	VerdictAccepted            SubmissionStatus = StatusAccepted
	VerdictWrongAnswer         SubmissionStatus = StatusWrongAnswer
	VerdictRuntimeError        SubmissionStatus = StatusRuntimeError
	VerdictTimeLimitExceeded   SubmissionStatus = "TIME_LIMIT_EXCEEDED"
	VerdictMemoryLimitExceeded SubmissionStatus = "MEMORY_LIMIT_EXCEEDED"
)

// IsTerminal reports whether the status is a final verdict.
func (s SubmissionStatus) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusWrongAnswer, StatusPartial, StatusCompileError, StatusRuntimeError, StatusJudgeError:
		return true
	default:
		return false
	}
}

// Rank orders statuses along the lifecycle: pending < judging < terminal.
func (s SubmissionStatus) Rank() int {
	switch {
	case s == StatusPending:
		return 0
	case s == StatusJudging:
		return 1
	case s.IsTerminal():
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next is allowed.
// Pending may fail straight to JUDGE_ERROR when the judge never picks it up.
func (s SubmissionStatus) CanTransition(next SubmissionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusJudging || next == StatusJudgeError
	case StatusJudging:
		return next.IsTerminal()
	default:
		return false
	}
}

// Submission is one code evaluation attempt for a problem.
type Submission struct {
	ID           uint             `gorm:"primaryKey" json:"id"`
	ProblemID    uint             `gorm:"not null;index:idx_submission_owner" json:"problem_id"`
	StudentID    uint             `gorm:"not null;index:idx_submission_owner" json:"student_id"`
	Language     string           `gorm:"size:32;not null" json:"language"`
	Source       string           `gorm:"type:text" json:"source"`
	Score        int              `gorm:"not null;default:0" json:"score"`
	ManualScore  *int             `json:"manual_score"`
	Status       SubmissionStatus `gorm:"size:32;not null;index" json:"status"`
	JudgeMessage string           `gorm:"type:text" json:"judge_message"`
	JudgeRaw     datatypes.JSON   `json:"judge_raw"`
	MaxTimeMs    int64            `gorm:"default:0" json:"max_time_ms"`
	MaxMemoryKB  int64            `gorm:"default:0" json:"max_memory_kb"`
	SubmittedAt  time.Time        `gorm:"not null;index" json:"submitted_at"`
	JudgedAt     *time.Time       `json:"judged_at"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	Problem      Problem          `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Results      []TestCaseResult `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"results,omitempty"`
}

// EffectiveScore returns the grader override when present, otherwise the judged score.
func (s Submission) EffectiveScore() int {
	if s.ManualScore != nil {
		return *s.ManualScore
	}
	return s.Score
}

// TestCaseResult is the judge outcome for one test case of a submission.
type TestCaseResult struct {
	ID           uint             `gorm:"primaryKey" json:"id"`
	SubmissionID uint             `gorm:"not null;index" json:"submission_id"`
	Position     int              `gorm:"not null" json:"position"`
	Verdict      SubmissionStatus `gorm:"size:32;not null" json:"verdict"`
	ExecutionMs  int64            `gorm:"default:0" json:"execution_ms"`
	MemoryKB     int64            `gorm:"default:0" json:"memory_kb"`
	Output       string           `gorm:"type:text" json:"output"`
	CreatedAt    time.Time        `json:"created_at"`
}

// ScoreOverride records a grader changing the score of a judged submission.
type ScoreOverride struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	SubmissionID  uint      `gorm:"not null;index" json:"submission_id"`
	PreviousScore int       `gorm:"not null" json:"previous_score"`
	Score         int       `gorm:"not null" json:"score"`
	Reason        string    `gorm:"type:text" json:"reason"`
	GradedBy      uint      `gorm:"not null" json:"graded_by"`
	GradedAt      time.Time `gorm:"not null" json:"graded_at"`
}
