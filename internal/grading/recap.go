package grading

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/noah-isme/gema-praktikum-api/internal/models"
)

// SectionSpec is the grading view of a praktikum section.
type SectionSpec struct {
	ID          uint             `json:"id"`
	Name        string           `json:"name"`
	Assignments []AssignmentSpec `json:"assignments"`
}

// ParticipantRecord carries everything needed to grade one enrolled student.
type ParticipantRecord struct {
	StudentID   uint
	NIM         string
	Name        string
	Role        string
	Submissions []SubmissionRecord
}

// ParticipantRecap is one row of the class recap.
type ParticipantRecap struct {
	StudentID        uint              `json:"student_id"`
	NIM              string            `json:"nim"`
	Name             string            `json:"name"`
	Rank             int               `json:"rank"`
	Available        bool              `json:"available"`
	Error            string            `json:"error,omitempty"`
	OverallPercent   int               `json:"overall_percent"`
	TotalSubmissions int               `json:"total_submissions"`
	LastSubmittedAt  *time.Time        `json:"last_submitted_at"`
	Assignments      []AssignmentGrade `json:"assignments"`
}

// AssignmentStat summarises one assignment across the class.
type AssignmentStat struct {
	AssignmentID   uint   `json:"assignment_id"`
	Title          string `json:"title"`
	Position       int    `json:"position"`
	AveragePercent int    `json:"average_percent"`
	Submitters     int    `json:"submitters"`
	Perfect        int    `json:"perfect"`
	Partial        int    `json:"partial"`
	Failed         int    `json:"failed"`
	NotSubmitted   int    `json:"not_submitted"`
}

// Anomaly records a participant row skipped because its data could not be graded.
type Anomaly struct {
	StudentID uint   `json:"student_id"`
	Reason    string `json:"reason"`
}

// ClassRecap aggregates every participant's grades for a section.
type ClassRecap struct {
	SectionID         uint               `json:"section_id"`
	Name              string             `json:"name"`
	ClassAverage      int                `json:"class_average"`
	ParticipantCount  int                `json:"participant_count"`
	TotalAssignments  int                `json:"total_assignments"`
	HighestAssignment *AssignmentStat    `json:"highest_assignment"`
	LowestAssignment  *AssignmentStat    `json:"lowest_assignment"`
	Assignments       []AssignmentStat   `json:"assignments"`
	Participants      []ParticipantRecap `json:"participants"`
	Anomalies         []Anomaly          `json:"anomalies"`
}

// BuildParticipantRecap grades one participant across all assignments of the section.
// The overall percent divides by the number of assignments in the section.
func BuildParticipantRecap(section SectionSpec, participant ParticipantRecord, opts Options) (ParticipantRecap, error) {
	row := ParticipantRecap{
		StudentID:   participant.StudentID,
		NIM:         participant.NIM,
		Name:        participant.Name,
		Assignments: make([]AssignmentGrade, 0, len(section.Assignments)),
	}

	assignments := sortedAssignments(section.Assignments)
	owner := make(map[uint]uint)
	for _, assignment := range assignments {
		for _, problem := range assignment.Problems {
			owner[problem.ID] = assignment.ID
		}
	}

	grouped := make(map[uint][]SubmissionRecord, len(assignments))
	for _, sub := range participant.Submissions {
		assignmentID, ok := owner[sub.ProblemID]
		if !ok {
			return ParticipantRecap{}, fmt.Errorf("%w: submission %d references problem %d outside section %d", ErrMalformedRecord, sub.ID, sub.ProblemID, section.ID)
		}
		grouped[assignmentID] = append(grouped[assignmentID], sub)
	}

	percentSum := 0
	attempted := 0
	for _, assignment := range assignments {
		grade, err := AggregateAssignment(assignment, grouped[assignment.ID], opts)
		if err != nil {
			return ParticipantRecap{}, err
		}
		percentSum += grade.Percent
		if grade.Submitted {
			attempted++
		}
		row.TotalSubmissions += grade.TotalSubmissions
		if grade.LastSubmittedAt != nil && (row.LastSubmittedAt == nil || grade.LastSubmittedAt.After(*row.LastSubmittedAt)) {
			ts := *grade.LastSubmittedAt
			row.LastSubmittedAt = &ts
		}
		row.Assignments = append(row.Assignments, grade)
	}

	divisor := len(assignments)
	if !opts.PenalizeMissingSubmissions {
		divisor = attempted
	}
	row.OverallPercent = roundedMean(percentSum, divisor)
	row.Available = true
	return row, nil
}

// BuildClassRecap grades every participant of the section. Assistants are excluded, rows
// with malformed data fail closed (Available=false) and are left out of the statistics.
func BuildClassRecap(section SectionSpec, participants []ParticipantRecord, opts Options) ClassRecap {
	assignments := sortedAssignments(section.Assignments)
	recap := ClassRecap{
		SectionID:        section.ID,
		Name:             section.Name,
		TotalAssignments: len(assignments),
		Assignments:      make([]AssignmentStat, 0, len(assignments)),
		Participants:     make([]ParticipantRecap, 0, len(participants)),
		Anomalies:        make([]Anomaly, 0),
	}

	available := make([]ParticipantRecap, 0, len(participants))
	failed := make([]ParticipantRecap, 0)
	for _, participant := range participants {
		if !models.IsParticipantRole(participant.Role) {
			continue
		}
		recap.ParticipantCount++

		row, err := BuildParticipantRecap(section, participant, opts)
		if err != nil {
			recap.Anomalies = append(recap.Anomalies, Anomaly{StudentID: participant.StudentID, Reason: err.Error()})
			failed = append(failed, ParticipantRecap{
				StudentID: participant.StudentID,
				NIM:       participant.NIM,
				Name:      participant.Name,
				Error:     "n/a",
			})
			continue
		}
		available = append(available, row)
	}

	overallSum := 0
	for _, row := range available {
		overallSum += row.OverallPercent
	}
	recap.ClassAverage = roundedMean(overallSum, len(available))

	means := make([]float64, len(assignments))
	for idx, assignment := range assignments {
		stat := AssignmentStat{
			AssignmentID: assignment.ID,
			Title:        assignment.Title,
			Position:     assignment.Position,
		}
		sum := 0
		for _, row := range available {
			grade := row.Assignments[idx]
			if grade.Submitted {
				stat.Submitters++
				sum += grade.Percent
			}
			for _, problem := range grade.Problems {
				switch problem.Outcome {
				case OutcomePerfect:
					stat.Perfect++
				case OutcomePartial:
					stat.Partial++
				case OutcomeFailed:
					stat.Failed++
				default:
					stat.NotSubmitted++
				}
			}
		}
		if stat.Submitters > 0 {
			means[idx] = float64(sum) / float64(stat.Submitters)
			stat.AveragePercent = int(math.Round(means[idx]))
		}
		recap.Assignments = append(recap.Assignments, stat)
	}

	recap.HighestAssignment, recap.LowestAssignment = extremes(recap.Assignments, means)
	recap.Participants = append(RankParticipants(available), failed...)
	return recap
}

// RankParticipants sorts rows by overall percent descending, then fewer submissions, then
// earlier last submission (missing last), then student id, and assigns 1-based ranks.
func RankParticipants(rows []ParticipantRecap) []ParticipantRecap {
	ranked := make([]ParticipantRecap, len(rows))
	copy(ranked, rows)

	sort.SliceStable(ranked, func(i, j int) bool {
		return Better(profileAttempt(ranked[i]), profileAttempt(ranked[j]))
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

func profileAttempt(row ParticipantRecap) Attempt {
	return Attempt{
		SubmissionID: row.StudentID,
		Score:        row.OverallPercent,
		Attempts:     row.TotalSubmissions,
		SubmittedAt:  row.LastSubmittedAt,
	}
}

// extremes picks the assignments with the highest and lowest unrounded mean among those
// that received submissions. Ties keep the earlier assignment.
func extremes(stats []AssignmentStat, means []float64) (*AssignmentStat, *AssignmentStat) {
	high, low := -1, -1
	for i := range stats {
		if stats[i].Submitters == 0 {
			continue
		}
		if high < 0 || means[i] > means[high] {
			high = i
		}
		if low < 0 || means[i] < means[low] {
			low = i
		}
	}
	if high < 0 {
		return nil, nil
	}
	highest, lowest := stats[high], stats[low]
	return &highest, &lowest
}

func sortedAssignments(assignments []AssignmentSpec) []AssignmentSpec {
	sorted := make([]AssignmentSpec, len(assignments))
	copy(sorted, assignments)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Position != sorted[j].Position {
			return sorted[i].Position < sorted[j].Position
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}
