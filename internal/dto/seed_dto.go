package dto

import "time"

// SectionSeed describes a praktikum section to import, usually loaded from a JSON file.
type SectionSeed struct {
	Name        string           `json:"name" validate:"required,max=255"`
	ClassName   string           `json:"class_name" validate:"required,max=64"`
	Semester    string           `json:"semester" validate:"required,oneof=ganjil genap"`
	Year        int              `json:"year" validate:"required,gte=2000,lte=2100"`
	Activate    bool             `json:"activate"`
	Members     []MemberSeed     `json:"members" validate:"dive"`
	Assignments []AssignmentSeed `json:"assignments" validate:"dive"`
}

// MemberSeed enrolls a student, creating it when the NIM is unknown.
type MemberSeed struct {
	NIM   string `json:"nim" validate:"required,max=32"`
	Name  string `json:"name" validate:"required,max=255"`
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"omitempty,oneof=peserta asisten"`
}

// AssignmentSeed is one assignment with its problems.
type AssignmentSeed struct {
	Title       string        `json:"title" validate:"required,max=255"`
	Description string        `json:"description"`
	DueDate     time.Time     `json:"due_date" validate:"required"`
	MaxAttempts int           `json:"max_attempts" validate:"gte=0"`
	Problems    []ProblemSeed `json:"problems" validate:"min=1,dive"`
}

// ProblemSeed is one problem with its judge test cases.
type ProblemSeed struct {
	Title     string         `json:"title" validate:"required,max=255"`
	Statement string         `json:"statement"`
	MaxWeight int            `json:"max_weight" validate:"gte=0"`
	Weighting string         `json:"weighting" validate:"omitempty,oneof=uniform per_case"`
	TestCases []TestCaseSeed `json:"test_cases" validate:"min=1,dive"`
}

// TestCaseSeed is one input/expected output pair.
type TestCaseSeed struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	Points         int    `json:"points" validate:"gte=0"`
	Sample         bool   `json:"sample"`
}

// SeedResult reports what an import created.
type SeedResult struct {
	PraktikumID     uint `json:"praktikum_id"`
	StudentsCreated int  `json:"students_created"`
	Enrollments     int  `json:"enrollments"`
	Assignments     int  `json:"assignments"`
	Problems        int  `json:"problems"`
}
