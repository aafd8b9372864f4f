package grading

import (
	"math"

	"github.com/noah-isme/gema-praktikum-api/internal/models"
)

// Failure is a submission-wide failure reported by the judge.
type Failure int

const (
	FailureNone Failure = iota
	FailureCompile
	FailureRuntime
)

// CaseOutcome is the judged verdict of one test case. Points only matter for per-case weighting.
type CaseOutcome struct {
	Verdict models.SubmissionStatus
	Points  int
}

// Score is the result of extracting a single score from per-case outcomes.
type Score struct {
	Value    int                     `json:"value"`
	Verdict  models.SubmissionStatus `json:"verdict"`
	Accepted int                     `json:"accepted"`
	Total    int                     `json:"total"`
}

// ExtractScore sums the value of accepted cases and derives the submission verdict.
//
// Uniform weighting gives every case maxWeight/total. Per-case weighting scales the
// configured points so that all points together are worth maxWeight; when no case has
// points it falls back to uniform.
func ExtractScore(cases []CaseOutcome, maxWeight int, weighting string, failure Failure) Score {
	score := Score{Total: len(cases)}
	if maxWeight < 0 {
		maxWeight = 0
	}

	values := caseValues(cases, maxWeight, weighting)

	var sum float64
	for i, c := range cases {
		if c.Verdict == models.VerdictAccepted {
			score.Accepted++
			sum += values[i]
		}
	}

	score.Value = int(math.Round(sum))
	if score.Value > maxWeight {
		score.Value = maxWeight
	}
	score.Verdict = classifyCases(score.Accepted, score.Total, failure)
	return score
}

func caseValues(cases []CaseOutcome, maxWeight int, weighting string) []float64 {
	values := make([]float64, len(cases))
	if len(cases) == 0 {
		return values
	}

	if weighting == models.WeightingPerCase {
		totalPoints := 0
		for _, c := range cases {
			if c.Points > 0 {
				totalPoints += c.Points
			}
		}
		if totalPoints > 0 {
			for i, c := range cases {
				if c.Points > 0 {
					values[i] = float64(c.Points) * float64(maxWeight) / float64(totalPoints)
				}
			}
			return values
		}
	}

	each := float64(maxWeight) / float64(len(cases))
	for i := range values {
		values[i] = each
	}
	return values
}

func classifyCases(accepted, total int, failure Failure) models.SubmissionStatus {
	switch {
	case total > 0 && accepted == total:
		return models.StatusAccepted
	case accepted > 0:
		return models.StatusPartial
	case failure == FailureCompile:
		return models.StatusCompileError
	case failure == FailureRuntime:
		return models.StatusRuntimeError
	case total == 0:
		return models.StatusJudgeError
	default:
		return models.StatusWrongAnswer
	}
}

// Outcome buckets terminal verdicts for class statistics.
type Outcome string

const (
	OutcomePerfect      Outcome = "perfect"
	OutcomePartial      Outcome = "partial"
	OutcomeFailed       Outcome = "failed"
	OutcomeNotSubmitted Outcome = "not_submitted"
)

// Classify maps a verdict onto the perfect/partial/failed buckets.
func Classify(verdict models.SubmissionStatus) Outcome {
	switch verdict {
	case models.StatusAccepted:
		return OutcomePerfect
	case models.StatusPartial:
		return OutcomePartial
	case "":
		return OutcomeNotSubmitted
	default:
		return OutcomeFailed
	}
}

// Percent returns round(score / max * 100), or 0 when max is not positive.
func Percent(score, max int) int {
	if max <= 0 {
		return 0
	}
	return int(math.Round(float64(score) / float64(max) * 100))
}

func roundedMean(sum, count int) int {
	if count <= 0 {
		return 0
	}
	return int(math.Round(float64(sum) / float64(count)))
}
