package automation

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"shareplate/models"
)

// DefaultBatchLimit caps how many due items one Process call drains.
const DefaultBatchLimit = 50

// Mailer is the outbound delivery collaborator. Rendering the template is
// entirely its concern; the processor only hands over the reference, the
// subject line and the recipient.
type Mailer interface {
	Send(template, subject, recipient string, vars map[string]interface{}) (string, error)
}

// ProcessResult aggregates one batch run. Failed counts delivery failures,
// whether or not the item still has retry budget left.
type ProcessResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// QueueStatus is a point-in-time picture of the delivery queue.
type QueueStatus struct {
	Counts  map[string]int64 `json:"counts"`
	DueNow  int64            `json:"due_now"`
	NextDue *time.Time       `json:"next_due,omitempty"`
}

// Processor drains the delivery queue. It keeps no state between calls;
// the compare-and-swap claim on each item is the only concurrency guard,
// so overlapping invocations (or several replicas) are safe.
type Processor struct {
	db     *gorm.DB
	mailer Mailer
	audit  AuditRecorder
	cache  CacheInvalidator
	log    *logrus.Logger
}

func NewProcessor(db *gorm.DB, mailer Mailer, audit AuditRecorder, cache CacheInvalidator, log *logrus.Logger) *Processor {
	return &Processor{db: db, mailer: mailer, audit: audit, cache: cache, log: log}
}

// Process claims up to limit due pending items and delivers them. One
// item's failure never aborts the batch.
func (p *Processor) Process(ctx context.Context, limit int) (ProcessResult, error) {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	var due []models.EmailQueueItem
	err := p.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", models.QueueStatusPending, time.Now().UTC()).
		Order("scheduled_for ASC").
		Limit(limit).
		Find(&due).Error
	if err != nil {
		return ProcessResult{}, storeErr(err)
	}

	var result ProcessResult
	for i := range due {
		select {
		case <-ctx.Done():
			return result, nil
		default:
		}

		item := &due[i]
		claimed, err := p.claim(item.ID)
		if err != nil {
			p.log.WithField("item_id", item.ID).WithError(err).Error("claim failed")
			continue
		}
		if !claimed {
			// Another invocation took it, or it was cancelled between
			// the select and now.
			continue
		}

		if p.deliver(item) {
			result.Processed++
		} else {
			result.Failed++
		}
	}

	if result.Processed > 0 || result.Failed > 0 {
		p.cache.Invalidate(QueueTag)
	}
	return result, nil
}

// claim is the pending -> processing compare-and-swap. Exactly one caller
// can win it for a given item.
func (p *Processor) claim(itemID uint) (bool, error) {
	res := p.db.Model(&models.EmailQueueItem{}).
		Where("id = ? AND status = ?", itemID, models.QueueStatusPending).
		Update("status", models.QueueStatusProcessing)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// deliver sends one claimed item and records the outcome. Returns true on
// a successful send.
func (p *Processor) deliver(item *models.EmailQueueItem) bool {
	var enrollment models.FlowEnrollment
	if err := p.db.First(&enrollment, item.EnrollmentID).Error; err != nil {
		p.recordFailure(item, "enrollment lookup failed: "+err.Error())
		return false
	}
	var profile models.MemberProfile
	if err := p.db.First(&profile, enrollment.ProfileID).Error; err != nil {
		p.recordFailure(item, "member lookup failed: "+err.Error())
		return false
	}

	vars := map[string]interface{}{
		"display_name": profile.DisplayName,
		"flow_id":      item.FlowID,
	}
	for k, v := range profile.Attributes {
		vars[k] = v
	}

	messageID, err := p.mailer.Send(item.Template, item.Subject, profile.Email, vars)
	if err != nil {
		p.recordFailure(item, err.Error())
		return false
	}

	if err := p.db.Model(item).Updates(map[string]interface{}{
		"status":        models.QueueStatusSent,
		"message_id":    messageID,
		"error_message": "",
	}).Error; err != nil {
		p.log.WithField("item_id", item.ID).WithError(err).Error("marking item sent failed")
		return false
	}

	p.finishEnrollmentIfDrained(enrollment.ID, item.FlowID)
	return true
}

// recordFailure bumps the attempt counter and either re-queues the item
// for the next polling pass or, once the budget is spent, parks it as
// failed until an explicit retry.
func (p *Processor) recordFailure(item *models.EmailQueueItem, msg string) {
	attempts := item.Attempts + 1
	status := models.QueueStatusPending
	if attempts >= item.MaxAttempts {
		status = models.QueueStatusFailed
	}

	if err := p.db.Model(item).Updates(map[string]interface{}{
		"status":        status,
		"attempts":      attempts,
		"error_message": msg,
	}).Error; err != nil {
		p.log.WithField("item_id", item.ID).WithError(err).Error("recording send failure failed")
		return
	}

	entry := p.log.WithFields(logrus.Fields{
		"item_id":  item.ID,
		"flow_id":  item.FlowID,
		"attempts": attempts,
	})
	if status == models.QueueStatusFailed {
		entry.Error("queue item failed permanently: " + msg)
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("flow_id", strconv.FormatUint(uint64(item.FlowID), 10))
			scope.SetExtra("item_id", item.ID)
			sentry.CaptureMessage("queue item failed permanently: " + msg)
		})
		p.finishEnrollmentIfDrained(item.EnrollmentID, item.FlowID)
	} else {
		entry.Warn("queue item send failed, will retry: " + msg)
	}
}

// finishEnrollmentIfDrained completes the enrollment once no consumable
// items remain for it. With eager scheduling this is the point where the
// step pointer has effectively reached the end of the list.
func (p *Processor) finishEnrollmentIfDrained(enrollmentID, flowID uint) {
	var remaining int64
	err := p.db.Model(&models.EmailQueueItem{}).
		Where("enrollment_id = ? AND status IN ?", enrollmentID,
			[]string{models.QueueStatusPending, models.QueueStatusProcessing}).
		Count(&remaining).Error
	if err != nil {
		p.log.WithField("enrollment_id", enrollmentID).WithError(err).Error("completion check failed")
		return
	}
	if remaining > 0 {
		return
	}
	if err := completeEnrollment(p.db, enrollmentID, flowID); err != nil {
		p.log.WithField("enrollment_id", enrollmentID).WithError(err).Error("completing enrollment failed")
	}
}

// CancelPending flips pending items to cancelled, scoped to one flow when
// flowID is non-nil. Safe to repeat; already-cancelled rows no longer match.
func (p *Processor) CancelPending(actorID uint, flowID *uint) (int64, error) {
	q := p.db.Model(&models.EmailQueueItem{}).
		Where("status = ?", models.QueueStatusPending)
	if flowID != nil {
		q = q.Where("flow_id = ?", *flowID)
	}
	res := q.Update("status", models.QueueStatusCancelled)
	if res.Error != nil {
		return 0, storeErr(res.Error)
	}

	p.audit.Record(actorID, "queue.cancel_pending", "email_queue", scopeID(flowID), map[string]interface{}{
		"cancelled": res.RowsAffected,
	})
	p.cache.Invalidate(QueueTag)
	return res.RowsAffected, nil
}

// RetryFailed returns failed items to pending with a fresh attempt budget.
// This is the only path that resurrects a failed item.
func (p *Processor) RetryFailed(actorID uint, flowID *uint) (int64, error) {
	q := p.db.Model(&models.EmailQueueItem{}).
		Where("status = ?", models.QueueStatusFailed)
	if flowID != nil {
		q = q.Where("flow_id = ?", *flowID)
	}
	res := q.Updates(map[string]interface{}{
		"status":        models.QueueStatusPending,
		"attempts":      0,
		"error_message": "",
	})
	if res.Error != nil {
		return 0, storeErr(res.Error)
	}

	p.audit.Record(actorID, "queue.retry_failed", "email_queue", scopeID(flowID), map[string]interface{}{
		"retried": res.RowsAffected,
	})
	p.cache.Invalidate(QueueTag)
	return res.RowsAffected, nil
}

// RequeueStale returns items stuck in processing since before the stale
// window to pending. Covers a worker that died mid-batch; failed items are
// deliberately out of its reach.
func (p *Processor) RequeueStale(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res := p.db.Model(&models.EmailQueueItem{}).
		Where("status = ? AND updated_at < ?", models.QueueStatusProcessing, cutoff).
		Update("status", models.QueueStatusPending)
	if res.Error != nil {
		return 0, storeErr(res.Error)
	}
	if res.RowsAffected > 0 {
		p.log.WithField("count", res.RowsAffected).Warn("requeued stale processing items")
		p.cache.Invalidate(QueueTag)
	}
	return res.RowsAffected, nil
}

// Status reports queue counts by status plus how much is due right now.
func (p *Processor) Status() (*QueueStatus, error) {
	status := &QueueStatus{Counts: map[string]int64{}}

	type statusCount struct {
		Status string
		Count  int64
	}
	var counts []statusCount
	if err := p.db.Model(&models.EmailQueueItem{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&counts).Error; err != nil {
		return nil, storeErr(err)
	}
	for _, sc := range counts {
		status.Counts[sc.Status] = sc.Count
	}

	now := time.Now().UTC()
	if err := p.db.Model(&models.EmailQueueItem{}).
		Where("status = ? AND scheduled_for <= ?", models.QueueStatusPending, now).
		Count(&status.DueNow).Error; err != nil {
		return nil, storeErr(err)
	}

	var next models.EmailQueueItem
	err := p.db.Where("status = ?", models.QueueStatusPending).
		Order("scheduled_for ASC").
		First(&next).Error
	switch {
	case err == nil:
		status.NextDue = &next.ScheduledFor
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, storeErr(err)
	}
	return status, nil
}

func scopeID(flowID *uint) uint {
	if flowID != nil {
		return *flowID
	}
	return 0
}
