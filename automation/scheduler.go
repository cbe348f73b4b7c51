package automation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"shareplate/models"
)

// DefaultMaxAttempts is the per-item send retry budget.
const DefaultMaxAttempts = 3

// ActionRunner executes the side effect of an action step. Implementations
// run synchronously at scheduling time; a failure is logged and scheduling
// continues.
type ActionRunner interface {
	Run(actionType string, args map[string]interface{}, profile *models.MemberProfile) error
}

// LogActionRunner records the action and does nothing else. The concrete
// marketplace actions (tagging, credit awards) live outside this subsystem.
type LogActionRunner struct {
	Log *logrus.Logger
}

func (r *LogActionRunner) Run(actionType string, args map[string]interface{}, profile *models.MemberProfile) error {
	r.Log.WithFields(logrus.Fields{
		"action_type": actionType,
		"profile_id":  profile.ID,
	}).Info("flow action executed")
	return nil
}

// Scheduler materializes queue items for an enrollment. Scheduling is
// eager: one walk over the step list at enroll time produces the entire
// remaining delivery schedule, so the processor never has to wake the
// scheduler back up after a send.
type Scheduler struct {
	actions ActionRunner
	log     *logrus.Logger
}

func NewScheduler(actions ActionRunner, log *logrus.Logger) *Scheduler {
	return &Scheduler{actions: actions, log: log}
}

// Materialize walks flow.Steps from startIndex and persists one pending
// queue item per email step, with ScheduledFor advanced by the cumulative
// delay. A condition step whose predicate is false abandons the remainder
// and completes the enrollment. Returns the number of items scheduled.
func (s *Scheduler) Materialize(tx *gorm.DB, flow *models.AutomationFlow, enrollment *models.FlowEnrollment, profile *models.MemberProfile, startIndex int) (int, error) {
	clock := enrollment.EnrolledAt
	scheduled := 0

	for i := startIndex; i < len(flow.Steps); i++ {
		step := flow.Steps[i]
		switch step.Type {
		case models.StepTypeDelay:
			clock = clock.Add(time.Duration(step.DelayMinutes) * time.Minute)

		case models.StepTypeEmail:
			item := models.EmailQueueItem{
				FlowID:       flow.ID,
				EnrollmentID: enrollment.ID,
				StepIndex:    i,
				Template:     step.Template,
				Subject:      step.Subject,
				Status:       models.QueueStatusPending,
				ScheduledFor: clock,
				MaxAttempts:  DefaultMaxAttempts,
			}
			if err := tx.Create(&item).Error; err != nil {
				return scheduled, err
			}
			scheduled++

		case models.StepTypeCondition:
			if !evaluateCondition(step, profile) {
				// Terminal short-circuit: the rest of the flow is
				// abandoned for this enrollment, not branched around.
				s.log.WithFields(logrus.Fields{
					"flow_id":       flow.ID,
					"enrollment_id": enrollment.ID,
					"step":          i,
				}).Info("condition not met, completing enrollment")
				return scheduled, completeEnrollment(tx, enrollment.ID, flow.ID)
			}
			if err := tx.Model(&models.AutomationFlow{}).
				Where("id = ?", flow.ID).
				Update("total_converted", gorm.Expr("total_converted + ?", 1)).Error; err != nil {
				return scheduled, err
			}

		case models.StepTypeAction:
			if err := s.actions.Run(step.ActionType, step.ActionArgs, profile); err != nil {
				s.log.WithFields(logrus.Fields{
					"flow_id":     flow.ID,
					"action_type": step.ActionType,
				}).WithError(err).Warn("flow action failed")
			}

		default:
			// ValidateSteps rejects unknown kinds before a flow can be
			// stored, so this is a broken row, not a caller mistake.
			return scheduled, fmt.Errorf("flow %d step %d has unknown type %q", flow.ID, i, step.Type)
		}
	}

	// End of the list. If nothing was queued there is no send to wait for
	// and the traversal is already over; otherwise the enrollment stays
	// active until the processor consumes its last item.
	if scheduled == 0 {
		return 0, completeEnrollment(tx, enrollment.ID, flow.ID)
	}
	return scheduled, nil
}

// completeEnrollment transitions an active enrollment to completed and
// bumps the flow counter. Filtered on status so a repeat call cannot
// double-count.
func completeEnrollment(tx *gorm.DB, enrollmentID, flowID uint) error {
	res := tx.Model(&models.FlowEnrollment{}).
		Where("id = ? AND status = ?", enrollmentID, models.EnrollmentStatusActive).
		Update("status", models.EnrollmentStatusCompleted)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}
	return tx.Model(&models.AutomationFlow{}).
		Where("id = ?", flowID).
		Update("total_completed", gorm.Expr("total_completed + ?", 1)).Error
}

// evaluateCondition checks a condition step against the member's profile.
// Unknown fields evaluate to the empty string, which only "neq" and a
// negated "exists" can match.
func evaluateCondition(step models.FlowStep, profile *models.MemberProfile) bool {
	value, present := profileField(step.Field, profile)

	switch step.Operator {
	case "exists":
		return present
	case "eq":
		return present && value == step.Value
	case "neq":
		return !present || value != step.Value
	case "contains":
		return present && strings.Contains(strings.ToLower(value), strings.ToLower(step.Value))
	case "gt", "lt":
		if !present {
			return false
		}
		have, err1 := strconv.ParseFloat(value, 64)
		want, err2 := strconv.ParseFloat(step.Value, 64)
		if err1 != nil || err2 != nil {
			return false
		}
		if step.Operator == "gt" {
			return have > want
		}
		return have < want
	default:
		return false
	}
}

func profileField(field string, profile *models.MemberProfile) (string, bool) {
	switch field {
	case "email":
		return profile.Email, true
	case "display_name":
		return profile.DisplayName, profile.DisplayName != ""
	case "city":
		if profile.City == nil {
			return "", false
		}
		return *profile.City, true
	}
	raw, ok := profile.Attributes[field]
	if !ok || raw == nil {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}
