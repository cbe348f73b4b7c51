package automation

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"shareplate/models"
)

// AuditRecorder records mutating operations. Implementations are
// best-effort: a failed write must never fail the operation being audited.
type AuditRecorder interface {
	Record(actorID uint, action, resourceType string, resourceID uint, metadata map[string]interface{})
}

// GormAuditRecorder appends audit rows to the primary database. Errors are
// logged and swallowed.
type GormAuditRecorder struct {
	db  *gorm.DB
	log *logrus.Logger
}

func NewGormAuditRecorder(db *gorm.DB, log *logrus.Logger) *GormAuditRecorder {
	return &GormAuditRecorder{db: db, log: log}
}

func (r *GormAuditRecorder) Record(actorID uint, action, resourceType string, resourceID uint, metadata map[string]interface{}) {
	entry := models.AuditLog{
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
	}
	if err := r.db.Create(&entry).Error; err != nil {
		r.log.WithFields(logrus.Fields{
			"action":      action,
			"resource":    resourceType,
			"resource_id": resourceID,
		}).WithError(err).Warn("audit write failed")
	}
}

// NopAuditRecorder discards everything. Used in tests.
type NopAuditRecorder struct{}

func (NopAuditRecorder) Record(uint, string, string, uint, map[string]interface{}) {}
