package persistence

import (
	"time"

	"gorm.io/gorm"

	"github.com/relaywing/mediator/internal/domain/entity"
	"github.com/relaywing/mediator/internal/infrastructure/persistence/models"
)

// DeadLetterRepository implements taskrunner.DeadLetterSink backed by gorm.
type DeadLetterRepository struct {
	db *gorm.DB
}

// NewDeadLetterRepository constructs the repository.
func NewDeadLetterRepository(db *gorm.DB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

// RecordDeadLetter implements taskrunner.DeadLetterSink.
func (r *DeadLetterRepository) RecordDeadLetter(kind entity.TaskKind, payloadSummary string, finalErr error, attempts int) {
	errText := ""
	if finalErr != nil {
		errText = finalErr.Error()
	}
	r.db.Create(&models.DeadLetterTaskModel{
		Kind:           string(kind),
		PayloadSummary: payloadSummary,
		Error:          errText,
		Attempts:       attempts,
		FailedAt:       nowUTC(),
	})
}

// Recent returns the most recent dead-lettered tasks, newest first. No admin
// CLI command calls it.
func (r *DeadLetterRepository) Recent(limit int) ([]models.DeadLetterTaskModel, error) {
	var rows []models.DeadLetterTaskModel
	err := r.db.Order("failed_at desc").Limit(limit).Find(&rows).Error
	return rows, err
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
