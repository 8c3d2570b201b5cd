package models

import "time"

// CredentialAuditModel persists a single credential block/unblock
// transition for operator review. It never stores the credential secret
// itself, only a caller-supplied identifier (e.g. a truncated fingerprint).
type CredentialAuditModel struct {
	ID           uint `gorm:"primarykey"`
	CredentialID string `gorm:"index;size:128"`
	Event        string `gorm:"size:32"` // blocked | unblocked
	Reason       string `gorm:"size:256"`
	OccurredAt   time.Time
}

// TableName overrides gorm's pluralization default.
func (CredentialAuditModel) TableName() string {
	return "credential_audit_log"
}
