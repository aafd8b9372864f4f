package grading

import (
	"time"

	"github.com/noah-isme/gema-praktikum-api/internal/models"
)

// Attempt is a candidate for best attempt selection. For submissions of one participant on
// one problem Attempts is the 1-based ordinal of the submission; at profile level it is the
// participant's total submission count.
type Attempt struct {
	SubmissionID uint
	Score        int
	Attempts     int
	SubmittedAt  *time.Time
	Verdict      models.SubmissionStatus
}

// Better reports whether a ranks strictly before b: higher score, then fewer attempts,
// then earlier timestamp (missing timestamps last), then lower submission id.
func Better(a, b Attempt) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Attempts != b.Attempts {
		return a.Attempts < b.Attempts
	}
	if c := compareTimes(a.SubmittedAt, b.SubmittedAt); c != 0 {
		return c < 0
	}
	return a.SubmissionID < b.SubmissionID
}

// SelectBest returns the best attempt under Better. The second value is false for an empty input.
func SelectBest(attempts []Attempt) (Attempt, bool) {
	if len(attempts) == 0 {
		return Attempt{}, false
	}

	best := attempts[0]
	for _, candidate := range attempts[1:] {
		if Better(candidate, best) {
			best = candidate
		}
	}
	return best, true
}

// compareTimes orders nil after any concrete time.
func compareTimes(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.Before(*b):
		return -1
	case a.After(*b):
		return 1
	default:
		return 0
	}
}
