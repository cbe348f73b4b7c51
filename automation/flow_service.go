package automation

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"shareplate/models"
)

const duplicateNameCap = 100

// FlowSpec is the input for creating a flow.
type FlowSpec struct {
	Name          string                 `json:"name" validate:"required,min=1,max=200"`
	Description   string                 `json:"description" validate:"max=2000"`
	TriggerType   string                 `json:"trigger_type" validate:"required"`
	TriggerConfig map[string]interface{} `json:"trigger_config"`
	Steps         []models.FlowStep      `json:"steps"`
}

// FlowPatch carries partial updates; nil fields are left untouched.
type FlowPatch struct {
	Name          *string                 `json:"name"`
	Description   *string                 `json:"description"`
	TriggerType   *string                 `json:"trigger_type"`
	TriggerConfig *map[string]interface{} `json:"trigger_config"`
	Steps         *[]models.FlowStep      `json:"steps"`
}

// BulkResult reports per-id outcomes of a bulk status change.
type BulkResult struct {
	Updated []uint          `json:"updated"`
	Errors  map[uint]string `json:"errors,omitempty"`
}

// FlowInsights aggregates a flow's enrollment and delivery numbers.
type FlowInsights struct {
	Flow           *models.AutomationFlow `json:"flow"`
	Enrollments    map[string]int64       `json:"enrollments"`
	Queue          map[string]int64       `json:"queue"`
	EmailsSent     int64                  `json:"emails_sent"`
	EmailsFailed   int64                  `json:"emails_failed"`
	CompletionRate float64                `json:"completion_rate"`
}

// FlowService owns AutomationFlow rows: CRUD, status transitions and the
// cascades they trigger.
type FlowService struct {
	db        *gorm.DB
	audit     AuditRecorder
	cache     CacheInvalidator
	log       *logrus.Logger
	bulkLimit int
}

func NewFlowService(db *gorm.DB, audit AuditRecorder, cache CacheInvalidator, log *logrus.Logger, bulkLimit int) *FlowService {
	if bulkLimit <= 0 {
		bulkLimit = 50
	}
	return &FlowService{db: db, audit: audit, cache: cache, log: log, bulkLimit: bulkLimit}
}

// nameTaken probes for a non-archived flow with the same name. This is a
// soft uniqueness guard: the probe and the insert are not atomic, and a
// rare duplicate slipping through is accepted.
func (s *FlowService) nameTaken(name string, excludeID uint) (bool, error) {
	var count int64
	q := s.db.Model(&models.AutomationFlow{}).
		Where("name = ? AND status <> ?", name, models.FlowStatusArchived)
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Create stores a new draft flow.
func (s *FlowService) Create(actorID uint, spec FlowSpec) (*models.AutomationFlow, error) {
	if spec.Name == "" {
		return nil, FieldErr("name", "name is required")
	}
	if spec.TriggerType == "" {
		return nil, FieldErr("trigger_type", "trigger type is required")
	}
	if err := ValidateSteps(spec.Steps); err != nil {
		return nil, err
	}

	taken, err := s.nameTaken(spec.Name, 0)
	if err != nil {
		return nil, storeErr(err)
	}
	if taken {
		return nil, Errf(KindDuplicateName, "a flow named %q already exists", spec.Name)
	}

	flow := models.AutomationFlow{
		Name:          spec.Name,
		Description:   spec.Description,
		TriggerType:   spec.TriggerType,
		TriggerConfig: spec.TriggerConfig,
		Steps:         spec.Steps,
		Status:        models.FlowStatusDraft,
		CreatedBy:     actorID,
	}
	if err := s.db.Create(&flow).Error; err != nil {
		return nil, storeErr(err)
	}

	s.audit.Record(actorID, "flow.create", "automation_flow", flow.ID, map[string]interface{}{"name": flow.Name})
	s.cache.Invalidate(FlowTag(flow.ID))
	return &flow, nil
}

// Get loads a single flow.
func (s *FlowService) Get(id uint) (*models.AutomationFlow, error) {
	var flow models.AutomationFlow
	if err := s.db.First(&flow, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, Errf(KindNotFound, "flow %d not found", id)
		}
		return nil, storeErr(err)
	}
	return &flow, nil
}

// List returns flows, optionally filtered by status.
func (s *FlowService) List(status string) ([]models.AutomationFlow, error) {
	var flows []models.AutomationFlow
	q := s.db.Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&flows).Error; err != nil {
		return nil, storeErr(err)
	}
	return flows, nil
}

// Update applies a partial patch. Archived flows are immutable.
func (s *FlowService) Update(actorID, id uint, patch FlowPatch) (*models.AutomationFlow, error) {
	flow, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if flow.Status == models.FlowStatusArchived {
		return nil, Errf(KindArchived, "flow %d is archived", id)
	}

	if patch.Name != nil && *patch.Name != flow.Name {
		if *patch.Name == "" {
			return nil, FieldErr("name", "name must not be empty")
		}
		taken, err := s.nameTaken(*patch.Name, id)
		if err != nil {
			return nil, storeErr(err)
		}
		if taken {
			return nil, Errf(KindDuplicateName, "a flow named %q already exists", *patch.Name)
		}
		flow.Name = *patch.Name
	}
	if patch.Description != nil {
		flow.Description = *patch.Description
	}
	if patch.TriggerType != nil {
		if *patch.TriggerType == "" {
			return nil, FieldErr("trigger_type", "trigger type must not be empty")
		}
		flow.TriggerType = *patch.TriggerType
	}
	if patch.TriggerConfig != nil {
		flow.TriggerConfig = *patch.TriggerConfig
	}
	if patch.Steps != nil {
		if err := ValidateSteps(*patch.Steps); err != nil {
			return nil, err
		}
		flow.Steps = *patch.Steps
	}

	if err := s.db.Save(flow).Error; err != nil {
		return nil, storeErr(err)
	}

	s.audit.Record(actorID, "flow.update", "automation_flow", flow.ID, map[string]interface{}{"name": flow.Name})
	s.cache.Invalidate(FlowTag(flow.ID))
	return flow, nil
}

// SetStatus toggles a flow between active and paused. Activation is gated
// by the step validator; pausing cancels every pending queue item for the
// flow (a paused flow drops scheduled sends, it does not hold them).
func (s *FlowService) SetStatus(actorID, id uint, target string) (*models.AutomationFlow, error) {
	if target != models.FlowStatusActive && target != models.FlowStatusPaused {
		return nil, Errf(KindInvalidStatus, "status must be active or paused, got %q", target)
	}

	flow, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if flow.Status == models.FlowStatusArchived {
		return nil, Errf(KindArchived, "flow %d is archived", id)
	}
	if target == models.FlowStatusActive {
		if err := ValidateForActivation(flow.Steps); err != nil {
			return nil, err
		}
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(flow).Update("status", target).Error; err != nil {
			return err
		}
		if target == models.FlowStatusPaused {
			return cancelPendingItems(tx, "flow_id = ?", flow.ID)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	flow.Status = target

	s.audit.Record(actorID, "flow."+target, "automation_flow", flow.ID, nil)
	s.cache.Invalidate(FlowTag(flow.ID))
	s.cache.Invalidate(QueueTag)
	return flow, nil
}

// BulkSetStatus applies SetStatus to up to bulkLimit flows, isolating
// per-id failures.
func (s *FlowService) BulkSetStatus(actorID uint, ids []uint, target string) (*BulkResult, error) {
	if len(ids) == 0 {
		return nil, FieldErr("ids", "no flow ids given")
	}
	if len(ids) > s.bulkLimit {
		return nil, Errf(KindTooMany, "at most %d ids per call, got %d", s.bulkLimit, len(ids))
	}

	result := &BulkResult{Errors: map[uint]string{}}
	for _, id := range ids {
		if _, err := s.SetStatus(actorID, id, target); err != nil {
			result.Errors[id] = err.Error()
			continue
		}
		result.Updated = append(result.Updated, id)
	}
	return result, nil
}

// Delete archives a flow, or removes the row entirely when hard is set.
// An active flow that has enrolled members must be paused first; delete is
// not a shortcut around the pause cascade.
func (s *FlowService) Delete(actorID, id uint, hard bool) error {
	flow, err := s.Get(id)
	if err != nil {
		return err
	}
	if flow.Status == models.FlowStatusActive && flow.TotalEnrolled > 0 {
		return Errf(KindHasEnrollments, "flow %d is active with enrollments, pause it first", id)
	}
	if hard {
		var active int64
		if err := s.db.Model(&models.FlowEnrollment{}).
			Where("flow_id = ? AND status = ?", id, models.EnrollmentStatusActive).
			Count(&active).Error; err != nil {
			return storeErr(err)
		}
		if active > 0 {
			return Errf(KindHasEnrollments, "flow %d still has %d active enrollments", id, active)
		}
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := cancelPendingItems(tx, "flow_id = ?", flow.ID); err != nil {
			return err
		}
		if hard {
			return tx.Unscoped().Delete(&models.AutomationFlow{}, flow.ID).Error
		}
		return tx.Model(flow).Update("status", models.FlowStatusArchived).Error
	})
	if err != nil {
		return storeErr(err)
	}

	action := "flow.archive"
	if hard {
		action = "flow.delete"
	}
	s.audit.Record(actorID, action, "automation_flow", flow.ID, map[string]interface{}{"name": flow.Name})
	s.cache.Invalidate(FlowTag(flow.ID))
	s.cache.Invalidate(QueueTag)
	return nil
}

// Duplicate copies a flow into a new draft under a disambiguated name.
func (s *FlowService) Duplicate(actorID, id uint) (*models.AutomationFlow, error) {
	src, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	name, err := s.copyName(src.Name)
	if err != nil {
		return nil, err
	}

	dup := models.AutomationFlow{
		Name:          name,
		Description:   src.Description,
		TriggerType:   src.TriggerType,
		TriggerConfig: src.TriggerConfig,
		Steps:         src.Steps,
		Status:        models.FlowStatusDraft,
		CreatedBy:     actorID,
	}
	if err := s.db.Create(&dup).Error; err != nil {
		return nil, storeErr(err)
	}

	s.audit.Record(actorID, "flow.duplicate", "automation_flow", dup.ID, map[string]interface{}{
		"source_id": src.ID,
		"name":      dup.Name,
	})
	s.cache.Invalidate(FlowTag(dup.ID))
	return &dup, nil
}

// copyName derives "<name> (Copy)", then "<name> (Copy N)", giving up after
// a practical cap so it can never loop forever.
func (s *FlowService) copyName(base string) (string, error) {
	candidate := base + " (Copy)"
	for n := 2; ; n++ {
		taken, err := s.nameTaken(candidate, 0)
		if err != nil {
			return "", storeErr(err)
		}
		if !taken {
			return candidate, nil
		}
		if n > duplicateNameCap {
			return "", Errf(KindInternal, "could not find a free copy name for %q", base)
		}
		candidate = fmt.Sprintf("%s (Copy %d)", base, n)
	}
}

// Insights aggregates a flow's enrollment and queue counts.
func (s *FlowService) Insights(id uint) (*FlowInsights, error) {
	flow, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	insights := &FlowInsights{
		Flow:        flow,
		Enrollments: map[string]int64{},
		Queue:       map[string]int64{},
	}

	type statusCount struct {
		Status string
		Count  int64
	}

	var enrollCounts []statusCount
	if err := s.db.Model(&models.FlowEnrollment{}).
		Select("status, COUNT(*) AS count").
		Where("flow_id = ?", id).
		Group("status").
		Scan(&enrollCounts).Error; err != nil {
		return nil, storeErr(err)
	}
	for _, sc := range enrollCounts {
		insights.Enrollments[sc.Status] = sc.Count
	}

	var queueCounts []statusCount
	if err := s.db.Model(&models.EmailQueueItem{}).
		Select("status, COUNT(*) AS count").
		Where("flow_id = ?", id).
		Group("status").
		Scan(&queueCounts).Error; err != nil {
		return nil, storeErr(err)
	}
	for _, sc := range queueCounts {
		insights.Queue[sc.Status] = sc.Count
	}

	insights.EmailsSent = insights.Queue[models.QueueStatusSent]
	insights.EmailsFailed = insights.Queue[models.QueueStatusFailed]
	if flow.TotalEnrolled > 0 {
		insights.CompletionRate = float64(flow.TotalCompleted) / float64(flow.TotalEnrolled)
	}
	return insights, nil
}

// cancelPendingItems flips matching pending queue items to cancelled.
// Items already claimed as processing are left alone.
func cancelPendingItems(tx *gorm.DB, cond string, args ...interface{}) error {
	return tx.Model(&models.EmailQueueItem{}).
		Where(cond, args...).
		Where("status = ?", models.QueueStatusPending).
		Update("status", models.QueueStatusCancelled).Error
}
