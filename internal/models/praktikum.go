package models

import (
	"fmt"
	"strings"
	"time"
)

// Semester values used by praktikum sections.
const (
	SemesterGanjil = "ganjil"
	SemesterGenap  = "genap"
)

// Enrollment roles. Only participants are graded.
const (
	RolePeserta = "peserta"
	RoleAsisten = "asisten"
)

// SettingActiveTerm is the settings key holding the active term, formatted as "<year>/<semester>".
const SettingActiveTerm = "active_term"

// Term identifies an academic period.
type Term struct {
	Year     int    `json:"year"`
	Semester string `json:"semester"`
}

// String formats the term the same way it is stored in settings.
func (t Term) String() string {
	return fmt.Sprintf("%d/%s", t.Year, t.Semester)
}

// IsZero reports whether no term is set.
func (t Term) IsZero() bool {
	return t.Year == 0 && t.Semester == ""
}

// ParseTerm parses a "<year>/<semester>" value.
func ParseTerm(value string) (Term, error) {
	parts := strings.Split(strings.TrimSpace(value), "/")
	if len(parts) != 2 {
		return Term{}, fmt.Errorf("invalid term %q", value)
	}

	var year int
	if _, err := fmt.Sscanf(parts[0], "%d", &year); err != nil || year <= 0 {
		return Term{}, fmt.Errorf("invalid term year %q", parts[0])
	}

	semester := strings.ToLower(strings.TrimSpace(parts[1]))
	if semester != SemesterGanjil && semester != SemesterGenap {
		return Term{}, fmt.Errorf("invalid term semester %q", parts[1])
	}

	return Term{Year: year, Semester: semester}, nil
}

// Praktikum is a scheduled course-lab section (class + semester + year).
type Praktikum struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	Name        string       `gorm:"size:255;not null" json:"name"`
	ClassName   string       `gorm:"size:64;not null" json:"class_name"`
	Semester    string       `gorm:"size:16;not null;index:idx_praktikum_term" json:"semester"`
	Year        int          `gorm:"not null;index:idx_praktikum_term" json:"year"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Assignments []Assignment `json:"assignments,omitempty"`
	Enrollments []Enrollment `json:"enrollments,omitempty"`
}

// Term returns the academic period of the section.
func (p Praktikum) Term() Term {
	return Term{Year: p.Year, Semester: p.Semester}
}

// Enrollment binds a student to a praktikum with a role.
type Enrollment struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	PraktikumID uint      `gorm:"not null;uniqueIndex:idx_enrollment_member" json:"praktikum_id"`
	StudentID   uint      `gorm:"not null;uniqueIndex:idx_enrollment_member" json:"student_id"`
	Role        string    `gorm:"size:16;not null" json:"role"`
	CreatedAt   time.Time `json:"created_at"`
	Student     Student   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"student"`
}

// IsParticipant reports whether the enrollment is graded.
func (e Enrollment) IsParticipant() bool {
	return IsParticipantRole(e.Role)
}

// IsParticipantRole reports whether an enrollment role is graded. Only peserta are.
func IsParticipantRole(role string) bool {
	return strings.EqualFold(strings.TrimSpace(role), RolePeserta)
}

// Setting stores a system-wide key/value pair.
type Setting struct {
	Key       string    `gorm:"primaryKey;size:64" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
