package models

import "time"

// Assignment (tugas) groups the problems students solve within a praktikum.
type Assignment struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	PraktikumID uint      `gorm:"not null;index" json:"praktikum_id"`
	Title       string    `gorm:"size:255;not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Position    int       `gorm:"not null;default:0" json:"position"`
	DueDate     time.Time `gorm:"not null" json:"due_date"`
	MaxAttempts int       `gorm:"not null;default:0" json:"max_attempts"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Problems    []Problem `json:"problems,omitempty"`
}

// IsPastDue returns true when the assignment deadline has already passed.
func (a Assignment) IsPastDue(reference time.Time) bool {
	return !a.DueDate.IsZero() && reference.After(a.DueDate)
}

// AttemptsExhausted reports whether another attempt would exceed the limit. Zero means unlimited.
func (a Assignment) AttemptsExhausted(used int64) bool {
	return a.MaxAttempts > 0 && used >= int64(a.MaxAttempts)
}
