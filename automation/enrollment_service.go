package automation

import (
	"errors"
	"time"

	"github.com/badoux/checkmail"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"shareplate/models"
)

// DefaultExitReason is recorded when an admin exits an enrollment without
// giving one.
const DefaultExitReason = "Manual exit by admin"

// EnrollmentService admits members into flows and ends their traversals.
type EnrollmentService struct {
	db        *gorm.DB
	scheduler *Scheduler
	audit     AuditRecorder
	cache     CacheInvalidator
	log       *logrus.Logger
}

func NewEnrollmentService(db *gorm.DB, scheduler *Scheduler, audit AuditRecorder, cache CacheInvalidator, log *logrus.Logger) *EnrollmentService {
	return &EnrollmentService{db: db, scheduler: scheduler, audit: audit, cache: cache, log: log}
}

// Enroll admits one member into a flow and eagerly materializes the
// delivery queue for the whole traversal. The flow must be active right
// now, not merely when the trigger fired. Uniqueness of the active
// enrollment rides on the partial unique index, so a concurrent duplicate
// surfaces as AlreadyEnrolled instead of a second row.
func (s *EnrollmentService) Enroll(actorID, flowID, profileID uint) (*models.FlowEnrollment, error) {
	var flow models.AutomationFlow
	if err := s.db.First(&flow, flowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, Errf(KindNotFound, "flow %d not found", flowID)
		}
		return nil, storeErr(err)
	}
	if flow.Status != models.FlowStatusActive {
		return nil, Errf(KindNotActive, "flow %d is %s, not active", flowID, flow.Status)
	}

	var profile models.MemberProfile
	if err := s.db.First(&profile, profileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, Errf(KindNotFound, "member %d not found", profileID)
		}
		return nil, storeErr(err)
	}
	if profile.EmailOptOut {
		return nil, FieldErr("profile_id", "member %d has opted out of email", profileID)
	}
	if err := checkmail.ValidateFormat(profile.Email); err != nil {
		return nil, FieldErr("profile_id", "member %d has an invalid email address: %v", profileID, err)
	}

	enrollment := models.FlowEnrollment{
		FlowID:     flowID,
		ProfileID:  profileID,
		Status:     models.EnrollmentStatusActive,
		EnrolledAt: time.Now().UTC(),
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&enrollment).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.AutomationFlow{}).
			Where("id = ?", flowID).
			Update("total_enrolled", gorm.Expr("total_enrolled + ?", 1)).Error; err != nil {
			return err
		}
		_, err := s.scheduler.Materialize(tx, &flow, &enrollment, &profile, 0)
		return err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, Errf(KindAlreadyEnrolled, "member %d is already enrolled in flow %d", profileID, flowID)
		}
		return nil, storeErr(err)
	}

	s.audit.Record(actorID, "enrollment.create", "flow_enrollment", enrollment.ID, map[string]interface{}{
		"flow_id":    flowID,
		"profile_id": profileID,
	})
	s.cache.Invalidate(FlowTag(flowID))
	s.cache.Invalidate(QueueTag)
	return &enrollment, nil
}

// Exit ends an enrollment and cancels its not-yet-claimed queue items.
// Exiting an enrollment that already reached a terminal state is a no-op
// success, so retried admin actions stay safe.
func (s *EnrollmentService) Exit(actorID, enrollmentID uint, reason string) error {
	var enrollment models.FlowEnrollment
	if err := s.db.First(&enrollment, enrollmentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Errf(KindNotFound, "enrollment %d not found", enrollmentID)
		}
		return storeErr(err)
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return nil
	}

	if reason == "" {
		reason = DefaultExitReason
	}
	now := time.Now().UTC()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.FlowEnrollment{}).
			Where("id = ? AND status = ?", enrollmentID, models.EnrollmentStatusActive).
			Updates(map[string]interface{}{
				"status":      models.EnrollmentStatusExited,
				"exited_at":   now,
				"exit_reason": reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost a race with another exit or with completion; nothing
			// left to cancel that the winner did not already handle.
			return nil
		}
		return cancelPendingItems(tx, "enrollment_id = ?", enrollmentID)
	})
	if err != nil {
		return storeErr(err)
	}

	s.audit.Record(actorID, "enrollment.exit", "flow_enrollment", enrollmentID, map[string]interface{}{
		"reason": reason,
	})
	s.cache.Invalidate(FlowTag(enrollment.FlowID))
	s.cache.Invalidate(QueueTag)
	return nil
}

// Get loads one enrollment.
func (s *EnrollmentService) Get(id uint) (*models.FlowEnrollment, error) {
	var enrollment models.FlowEnrollment
	if err := s.db.First(&enrollment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, Errf(KindNotFound, "enrollment %d not found", id)
		}
		return nil, storeErr(err)
	}
	return &enrollment, nil
}

// ListByFlow returns a flow's enrollments, newest first.
func (s *EnrollmentService) ListByFlow(flowID uint) ([]models.FlowEnrollment, error) {
	var enrollments []models.FlowEnrollment
	if err := s.db.Where("flow_id = ?", flowID).
		Order("enrolled_at DESC").
		Find(&enrollments).Error; err != nil {
		return nil, storeErr(err)
	}
	return enrollments, nil
}
