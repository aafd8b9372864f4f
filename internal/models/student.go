package models

import "time"

// Student represents a learner that can join a praktikum either as participant or assistant.
type Student struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	NIM       string    `gorm:"size:32;uniqueIndex;not null" json:"nim"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Email     string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
