package models

import "time"

// DeadLetterTaskModel persists a task that exhausted its retry budget, for
// operator inspection (read back through DeadLetterRepository.Recent).
type DeadLetterTaskModel struct {
	ID             uint `gorm:"primarykey"`
	Kind           string `gorm:"size:64"`
	PayloadSummary string `gorm:"size:512"`
	Error          string `gorm:"size:512"`
	Attempts       int
	FailedAt       time.Time
}

// TableName overrides gorm's pluralization default.
func (DeadLetterTaskModel) TableName() string {
	return "dead_letter_tasks"
}
