package models

import "time"

// Problem weighting modes.
const (
	WeightingUniform = "uniform"
	WeightingPerCase = "per_case"
)

// DefaultProblemWeight is used when a problem has no positive max weight configured.
const DefaultProblemWeight = 100

// Problem (soal) is a single coding exercise inside an assignment.
type Problem struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	AssignmentID uint       `gorm:"not null;index" json:"assignment_id"`
	Title        string     `gorm:"size:255;not null" json:"title"`
	Statement    string     `gorm:"type:text" json:"statement"`
	Position     int        `gorm:"not null;default:0" json:"position"`
	MaxWeight    int        `gorm:"not null;default:100" json:"max_weight"`
	Weighting    string     `gorm:"size:16;not null;default:uniform" json:"weighting"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Assignment   Assignment `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	TestCases    []TestCase `json:"test_cases,omitempty"`
}

// EffectiveWeight returns the max weight, falling back to the default for unset values.
func (p Problem) EffectiveWeight() int {
	if p.MaxWeight <= 0 {
		return DefaultProblemWeight
	}
	return p.MaxWeight
}

// Samples returns the visible test cases.
func (p Problem) Samples() []TestCase {
	samples := make([]TestCase, 0)
	for _, tc := range p.TestCases {
		if tc.IsSample {
			samples = append(samples, tc)
		}
	}
	return samples
}

// TestCase is one input/expected output pair used by the judge.
type TestCase struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ProblemID      uint      `gorm:"not null;index" json:"problem_id"`
	Position       int       `gorm:"not null;default:0" json:"position"`
	Input          string    `gorm:"type:text" json:"input"`
	ExpectedOutput string    `gorm:"type:text" json:"expected_output"`
	Points         int       `gorm:"not null;default:0" json:"points"`
	IsSample       bool      `gorm:"not null;default:false" json:"is_sample"`
	CreatedAt      time.Time `json:"created_at"`
}
