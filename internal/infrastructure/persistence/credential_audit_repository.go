package persistence

import (
	"gorm.io/gorm"

	"github.com/relaywing/mediator/internal/infrastructure/persistence/models"
)

// CredentialAuditRepository implements credential.AuditSink backed by gorm.
type CredentialAuditRepository struct {
	db *gorm.DB
}

// NewCredentialAuditRepository constructs the repository.
func NewCredentialAuditRepository(db *gorm.DB) *CredentialAuditRepository {
	return &CredentialAuditRepository{db: db}
}

// RecordCredentialEvent implements credential.AuditSink.
func (r *CredentialAuditRepository) RecordCredentialEvent(fingerprint, event, reason string) {
	r.db.Create(&models.CredentialAuditModel{
		CredentialID: fingerprint,
		Event:        event,
		Reason:       reason,
		OccurredAt:   nowUTC(),
	})
}

// Recent returns the most recent audit entries, newest first. No admin CLI
// command calls it.
func (r *CredentialAuditRepository) Recent(limit int) ([]models.CredentialAuditModel, error) {
	var rows []models.CredentialAuditModel
	err := r.db.Order("occurred_at desc").Limit(limit).Find(&rows).Error
	return rows, err
}
