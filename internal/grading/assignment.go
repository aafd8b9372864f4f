package grading

import (
	"fmt"
	"sort"
	"time"

	"github.com/noah-isme/gema-praktikum-api/internal/models"
)

// Options tunes aggregation.
type Options struct {
	// PenalizeMissingSubmissions divides by the full problem (or assignment) count so that
	// anything not attempted pulls the average down. When false only attempted items count.
	PenalizeMissingSubmissions bool
}

// DefaultOptions returns the grading rules used by the portal.
func DefaultOptions() Options {
	return Options{PenalizeMissingSubmissions: true}
}

// ProblemSpec is the grading view of a problem.
type ProblemSpec struct {
	ID        uint   `json:"id"`
	Title     string `json:"title"`
	Position  int    `json:"position"`
	MaxWeight int    `json:"max_weight"`
}

// AssignmentSpec is the grading view of an assignment.
type AssignmentSpec struct {
	ID          uint          `json:"id"`
	Title       string        `json:"title"`
	Position    int           `json:"position"`
	DueDate     time.Time     `json:"due_date"`
	MaxAttempts int           `json:"max_attempts"`
	Problems    []ProblemSpec `json:"problems"`
}

// SubmissionRecord is the grading view of a stored submission. Score is the effective
// score (grader override applied).
type SubmissionRecord struct {
	ID          uint
	ProblemID   uint
	Score       int
	Status      models.SubmissionStatus
	SubmittedAt time.Time
}

// ProblemGrade is the best-attempt result of one problem.
type ProblemGrade struct {
	ProblemID        uint                    `json:"problem_id"`
	Title            string                  `json:"title"`
	MaxWeight        int                     `json:"max_weight"`
	Submitted        bool                    `json:"submitted"`
	SubmissionCount  int                     `json:"submission_count"`
	BestSubmissionID *uint                   `json:"best_submission_id"`
	BestScore        int                     `json:"best_score"`
	Percent          int                     `json:"percent"`
	Verdict          models.SubmissionStatus `json:"verdict,omitempty"`
	Outcome          Outcome                 `json:"outcome"`
}

// AssignmentGrade is the percentage grade of one participant for one assignment.
type AssignmentGrade struct {
	AssignmentID      uint           `json:"assignment_id"`
	Title             string         `json:"title"`
	Percent           int            `json:"percent"`
	Submitted         bool           `json:"submitted"`
	Problems          []ProblemGrade `json:"problems"`
	SubmissionCounts  []int          `json:"submission_counts"`
	CompletedProblems int            `json:"completed_problems"`
	SolvedProblems    int            `json:"solved_problems"`
	TotalProblems     int            `json:"total_problems"`
	TotalSubmissions  int            `json:"total_submissions"`
	LastSubmittedAt   *time.Time     `json:"last_submitted_at"`
}

// AggregateAssignment grades one participant's submissions against one assignment.
// submissions may contain records for any problem of the assignment; records for other
// problems or with out-of-range scores yield ErrMalformedRecord.
func AggregateAssignment(assignment AssignmentSpec, submissions []SubmissionRecord, opts Options) (AssignmentGrade, error) {
	grade := AssignmentGrade{
		AssignmentID:     assignment.ID,
		Title:            assignment.Title,
		TotalProblems:    len(assignment.Problems),
		Problems:         make([]ProblemGrade, 0, len(assignment.Problems)),
		SubmissionCounts: make([]int, 0, len(assignment.Problems)),
	}

	problems := sortedProblems(assignment.Problems)
	byProblem := make(map[uint][]SubmissionRecord, len(problems))
	weights := make(map[uint]int, len(problems))
	for _, p := range problems {
		byProblem[p.ID] = nil
		weights[p.ID] = p.MaxWeight
	}

	for _, sub := range submissions {
		weight, ok := weights[sub.ProblemID]
		if !ok {
			return AssignmentGrade{}, fmt.Errorf("%w: submission %d references problem %d outside assignment %d", ErrMalformedRecord, sub.ID, sub.ProblemID, assignment.ID)
		}
		if sub.Score < 0 || (weight > 0 && sub.Score > weight) {
			return AssignmentGrade{}, fmt.Errorf("%w: submission %d score %d outside 0..%d", ErrMalformedRecord, sub.ID, sub.Score, weight)
		}
		byProblem[sub.ProblemID] = append(byProblem[sub.ProblemID], sub)
	}

	percentSum := 0
	for _, problem := range problems {
		eligible := eligibleAttempts(assignment, byProblem[problem.ID])
		pg := gradeProblem(problem, eligible)
		for _, sub := range eligible {
			ts := sub.SubmittedAt
			if grade.LastSubmittedAt == nil || ts.After(*grade.LastSubmittedAt) {
				grade.LastSubmittedAt = &ts
			}
		}

		if pg.Submitted {
			grade.CompletedProblems++
			grade.Submitted = true
		}
		if pg.Outcome == OutcomePerfect {
			grade.SolvedProblems++
		}
		grade.TotalSubmissions += pg.SubmissionCount
		percentSum += pg.Percent

		grade.Problems = append(grade.Problems, pg)
		grade.SubmissionCounts = append(grade.SubmissionCounts, pg.SubmissionCount)
	}

	divisor := grade.TotalProblems
	if !opts.PenalizeMissingSubmissions {
		divisor = grade.CompletedProblems
	}
	grade.Percent = roundedMean(percentSum, divisor)

	return grade, nil
}

// attempt is an eligible submission together with its 1-based attempt ordinal.
type attempt struct {
	SubmissionRecord
	ordinal int
}

func gradeProblem(problem ProblemSpec, eligible []attempt) ProblemGrade {
	pg := ProblemGrade{
		ProblemID:       problem.ID,
		Title:           problem.Title,
		MaxWeight:       problem.MaxWeight,
		Submitted:       len(eligible) > 0,
		SubmissionCount: len(eligible),
		Outcome:         OutcomeNotSubmitted,
	}

	candidates := make([]Attempt, 0, len(eligible))
	for _, sub := range eligible {
		ts := sub.SubmittedAt
		candidates = append(candidates, Attempt{
			SubmissionID: sub.ID,
			Score:        sub.Score,
			Attempts:     sub.ordinal,
			SubmittedAt:  &ts,
			Verdict:      sub.Status,
		})
	}

	best, ok := SelectBest(candidates)
	if !ok {
		return pg
	}

	id := best.SubmissionID
	pg.BestSubmissionID = &id
	pg.BestScore = best.Score
	pg.Verdict = best.Verdict
	pg.Outcome = Classify(best.Verdict)
	pg.Percent = Percent(best.Score, problem.MaxWeight)
	return pg
}

// eligibleAttempts orders one problem's submissions by time and drops what the intake would
// have rejected: judge failures (they never consume an attempt), submissions after the
// deadline and submissions past the attempt limit. Attempts still pending or judging use up
// their ordinal but are not graded until they finish.
func eligibleAttempts(assignment AssignmentSpec, submissions []SubmissionRecord) []attempt {
	ordered := make([]SubmissionRecord, 0, len(submissions))
	for _, sub := range submissions {
		if sub.Status == models.StatusJudgeError {
			continue
		}
		ordered = append(ordered, sub)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].SubmittedAt.Equal(ordered[j].SubmittedAt) {
			return ordered[i].SubmittedAt.Before(ordered[j].SubmittedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	eligible := make([]attempt, 0, len(ordered))
	used := 0
	for _, sub := range ordered {
		if !assignment.DueDate.IsZero() && sub.SubmittedAt.After(assignment.DueDate) {
			continue
		}
		if assignment.MaxAttempts > 0 && used >= assignment.MaxAttempts {
			break
		}
		used++
		if !sub.Status.IsTerminal() {
			continue
		}
		eligible = append(eligible, attempt{SubmissionRecord: sub, ordinal: used})
	}
	return eligible
}

func sortedProblems(problems []ProblemSpec) []ProblemSpec {
	sorted := make([]ProblemSpec, len(problems))
	copy(sorted, problems)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Position != sorted[j].Position {
			return sorted[i].Position < sorted[j].Position
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}
