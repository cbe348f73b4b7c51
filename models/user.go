package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a staff account that manages automations
type User struct {
	gorm.Model

	Email        string  `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string  `gorm:"not null" json:"-"`
	Name         *string `json:"name,omitempty"`
	Timezone     string  `gorm:"default:'UTC'" json:"timezone"`

	// Account status
	IsActive     bool `gorm:"default:true" json:"is_active"`
	IsAdmin      bool `gorm:"default:false" json:"is_admin"`
	TokenVersion int  `gorm:"default:0" json:"-"`
}

// MemberProfile is a marketplace member that flows enroll. Attributes holds
// the denormalized profile fields condition steps evaluate against
// (listings_count, city, verified, ...).
type MemberProfile struct {
	gorm.Model

	Email       string  `gorm:"uniqueIndex;not null" json:"email"`
	DisplayName string  `json:"display_name"`
	City        *string `json:"city,omitempty"`

	Attributes map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"attributes"`

	EmailOptOut bool       `gorm:"default:false" json:"email_opt_out"`
	LastSeenAt  *time.Time `json:"last_seen_at"`

	// Relations
	Enrollments []FlowEnrollment `gorm:"foreignKey:ProfileID" json:"enrollments,omitempty"`
}
