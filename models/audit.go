package models

import "time"

// AuditLog is an append-only record of a mutating operation. Rows are only
// ever inserted; there is deliberately no update or delete path.
type AuditLog struct {
	ID           uint                   `gorm:"primaryKey" json:"id"`
	ActorID      uint                   `gorm:"not null;index" json:"actor_id"`
	Action       string                 `gorm:"not null;index" json:"action"` // flow.create, flow.pause, enrollment.exit, ...
	ResourceType string                 `gorm:"not null" json:"resource_type"`
	ResourceID   uint                   `gorm:"index" json:"resource_id"`
	Metadata     map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"metadata"`
	CreatedAt    time.Time              `json:"created_at"`
}
