package models

import (
	"time"

	"gorm.io/gorm"
)

// Flow statuses
const (
	FlowStatusDraft    = "draft"
	FlowStatusActive   = "active"
	FlowStatusPaused   = "paused"
	FlowStatusArchived = "archived"
)

// Step kinds
const (
	StepTypeEmail     = "email"
	StepTypeDelay     = "delay"
	StepTypeCondition = "condition"
	StepTypeAction    = "action"
)

// Enrollment statuses
const (
	EnrollmentStatusActive    = "active"
	EnrollmentStatusCompleted = "completed"
	EnrollmentStatusExited    = "exited"
)

// Queue item statuses
const (
	QueueStatusPending    = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusSent       = "sent"
	QueueStatusFailed     = "failed"
	QueueStatusCancelled  = "cancelled"
)

// AutomationFlow is a named email sequence members get enrolled into
type AutomationFlow struct {
	gorm.Model
	Name        string `gorm:"not null;index" json:"name"`
	Description string `json:"description"`

	// Trigger that enrolls members (evaluated outside this service)
	TriggerType   string                 `gorm:"not null" json:"trigger_type"` // signup, first_listing, inactivity, ...
	TriggerConfig map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"trigger_config"`

	// Ordered step list; position is significant once queue items reference it
	Steps []FlowStep `gorm:"type:jsonb;serializer:json" json:"steps"`

	Status string `gorm:"default:'draft';index" json:"status"` // draft, active, paused, archived

	// Statistics (denormalized, only ever incremented)
	TotalEnrolled  int `gorm:"default:0" json:"total_enrolled"`
	TotalCompleted int `gorm:"default:0" json:"total_completed"`
	TotalConverted int `gorm:"default:0" json:"total_converted"`

	CreatedBy uint `gorm:"index" json:"created_by"`

	// Relations
	Enrollments []FlowEnrollment `gorm:"foreignKey:FlowID" json:"enrollments,omitempty"`
	QueueItems  []EmailQueueItem `gorm:"foreignKey:FlowID" json:"queue_items,omitempty"`
}

// FlowStep is one unit of a flow. Type selects which payload fields apply:
// email uses Template/Subject, delay uses DelayMinutes, condition uses
// Field/Operator/Value, action uses ActionType.
type FlowStep struct {
	Type string `json:"type"`

	// Email step fields
	Template string `json:"template,omitempty"`
	Subject  string `json:"subject,omitempty"`

	// Delay step fields
	DelayMinutes int `json:"delay_minutes,omitempty"`

	// Condition step fields
	Field    string `json:"field,omitempty"`
	Operator string `json:"operator,omitempty"` // eq, neq, gt, lt, contains, exists
	Value    string `json:"value,omitempty"`

	// Action step fields
	ActionType string                 `json:"action_type,omitempty"` // add_tag, award_credit, ...
	ActionArgs map[string]interface{} `json:"action_args,omitempty"`
}

// FlowEnrollment binds one member to one traversal of a flow. The partial
// unique index is the storage primitive that keeps enrollment at most once
// active per (flow, member) without a check-then-insert race.
type FlowEnrollment struct {
	gorm.Model
	FlowID    uint `gorm:"not null;index;uniqueIndex:uniq_active_enrollment,where:status = 'active'" json:"flow_id"`
	ProfileID uint `gorm:"not null;index;uniqueIndex:uniq_active_enrollment,where:status = 'active'" json:"profile_id"`

	Status     string     `gorm:"default:'active';index" json:"status"` // active, completed, exited
	EnrolledAt time.Time  `gorm:"not null" json:"enrolled_at"`
	ExitedAt   *time.Time `json:"exited_at"`
	ExitReason string     `json:"exit_reason"`

	// Relations
	Flow       AutomationFlow   `json:"-"`
	Profile    MemberProfile    `json:"-"`
	QueueItems []EmailQueueItem `gorm:"foreignKey:EnrollmentID" json:"queue_items,omitempty"`
}

// EmailQueueItem is one scheduled send derived from one email step for one
// enrollment. Items move pending -> processing -> sent|failed; cancelled is
// reachable from pending only.
type EmailQueueItem struct {
	gorm.Model
	FlowID       uint `gorm:"not null;index" json:"flow_id"`
	EnrollmentID uint `gorm:"not null;index" json:"enrollment_id"`

	StepIndex int    `gorm:"not null" json:"step_index"`
	Template  string `gorm:"not null" json:"template"`
	Subject   string `gorm:"not null" json:"subject"`

	Status       string    `gorm:"default:'pending';index" json:"status"`
	ScheduledFor time.Time `gorm:"not null;index" json:"scheduled_for"`

	Attempts     int    `gorm:"default:0" json:"attempts"`
	MaxAttempts  int    `gorm:"default:3" json:"max_attempts"`
	ErrorMessage string `json:"error_message"`
	MessageID    string `json:"message_id"`

	// Relations
	Flow       AutomationFlow `json:"-"`
	Enrollment FlowEnrollment `json:"-"`
}
