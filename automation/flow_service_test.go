package automation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shareplate/models"
)

func TestCreateFlow(t *testing.T) {
	_, flows, _, _, _ := newTestServices(t)

	flow, err := flows.Create(1, FlowSpec{
		Name:        "Welcome",
		TriggerType: "signup",
		Steps:       welcomeSteps(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusDraft, flow.Status)
	assert.Equal(t, uint(1), flow.CreatedBy)

	t.Run("duplicate name rejected", func(t *testing.T) {
		_, err := flows.Create(1, FlowSpec{Name: "Welcome", TriggerType: "signup"})
		require.Error(t, err)
		assert.Equal(t, KindDuplicateName, KindOf(err))
	})

	t.Run("archived name is reusable", func(t *testing.T) {
		require.NoError(t, flows.Delete(1, flow.ID, false))
		_, err := flows.Create(1, FlowSpec{Name: "Welcome", TriggerType: "signup"})
		assert.NoError(t, err)
	})
}

func TestCreateFlowValidation(t *testing.T) {
	_, flows, _, _, _ := newTestServices(t)

	_, err := flows.Create(1, FlowSpec{TriggerType: "signup"})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = flows.Create(1, FlowSpec{Name: "Broken", TriggerType: "signup", Steps: []models.FlowStep{{Type: "nonsense"}}})
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestUpdateFlow(t *testing.T) {
	db, flows, _, _, _ := newTestServices(t)

	flow := createFlow(t, db, "Welcome", models.FlowStatusDraft, welcomeSteps())
	other := createFlow(t, db, "Tips", models.FlowStatusDraft, nil)

	t.Run("rename collision", func(t *testing.T) {
		name := "Tips"
		_, err := flows.Update(1, flow.ID, FlowPatch{Name: &name})
		assert.Equal(t, KindDuplicateName, KindOf(err))
	})

	t.Run("rename to self is fine", func(t *testing.T) {
		name := "Welcome"
		desc := "Onboarding emails"
		updated, err := flows.Update(1, flow.ID, FlowPatch{Name: &name, Description: &desc})
		require.NoError(t, err)
		assert.Equal(t, "Onboarding emails", updated.Description)
	})

	t.Run("archived flows are immutable", func(t *testing.T) {
		require.NoError(t, flows.Delete(1, other.ID, false))
		desc := "too late"
		_, err := flows.Update(1, other.ID, FlowPatch{Description: &desc})
		assert.Equal(t, KindArchived, KindOf(err))
	})

	t.Run("missing flow", func(t *testing.T) {
		_, err := flows.Update(1, 9999, FlowPatch{})
		assert.Equal(t, KindNotFound, KindOf(err))
	})
}

func TestSetStatusActivationGate(t *testing.T) {
	db, flows, _, _, _ := newTestServices(t)

	t.Run("no steps", func(t *testing.T) {
		flow := createFlow(t, db, "Empty", models.FlowStatusDraft, nil)
		_, err := flows.SetStatus(1, flow.ID, models.FlowStatusActive)
		assert.Equal(t, KindNoSteps, KindOf(err))
	})

	t.Run("no email step", func(t *testing.T) {
		flow := createFlow(t, db, "Delays", models.FlowStatusDraft, []models.FlowStep{
			{Type: models.StepTypeDelay, DelayMinutes: 60},
			{Type: models.StepTypeDelay, DelayMinutes: 120},
		})
		_, err := flows.SetStatus(1, flow.ID, models.FlowStatusActive)
		assert.Equal(t, KindNoEmailStep, KindOf(err))
	})

	t.Run("valid flow activates", func(t *testing.T) {
		flow := createFlow(t, db, "Ready", models.FlowStatusDraft, welcomeSteps())
		updated, err := flows.SetStatus(1, flow.ID, models.FlowStatusActive)
		require.NoError(t, err)
		assert.Equal(t, models.FlowStatusActive, updated.Status)
	})

	t.Run("invalid target status", func(t *testing.T) {
		flow := createFlow(t, db, "Target", models.FlowStatusDraft, welcomeSteps())
		_, err := flows.SetStatus(1, flow.ID, "archived")
		assert.Equal(t, KindInvalidStatus, KindOf(err))
	})
}

func TestPauseCancelsPendingItems(t *testing.T) {
	db, flows, enrollments, _, _ := newTestServices(t)

	flow := createFlow(t, db, "Welcome", models.FlowStatusActive, welcomeSteps())
	profile := createProfile(t, db, "ana@example.com", nil)
	enrollment, err := enrollments.Enroll(1, flow.ID, profile.ID)
	require.NoError(t, err)

	// Mark the first item sent so only the second is still pending.
	items := queueItems(t, db, enrollment.ID)
	require.Len(t, items, 2)
	require.NoError(t, db.Model(&items[0]).Update("status", models.QueueStatusSent).Error)

	_, err = flows.SetStatus(1, flow.ID, models.FlowStatusPaused)
	require.NoError(t, err)

	items = queueItems(t, db, enrollment.ID)
	assert.Equal(t, models.QueueStatusSent, items[0].Status)
	assert.Equal(t, models.QueueStatusCancelled, items[1].Status)

	t.Run("re-activation does not resurrect cancelled items", func(t *testing.T) {
		_, err := flows.SetStatus(1, flow.ID, models.FlowStatusActive)
		require.NoError(t, err)

		items := queueItems(t, db, enrollment.ID)
		assert.Equal(t, models.QueueStatusCancelled, items[1].Status)
	})
}

func TestDeleteFlow(t *testing.T) {
	db, flows, enrollments, _, _ := newTestServices(t)

	flow := createFlow(t, db, "Welcome", models.FlowStatusActive, welcomeSteps())
	profile := createProfile(t, db, "ben@example.com", nil)
	enrollment, err := enrollments.Enroll(1, flow.ID, profile.ID)
	require.NoError(t, err)

	t.Run("active flow with enrollments is protected", func(t *testing.T) {
		err := flows.Delete(1, flow.ID, false)
		assert.Equal(t, KindHasEnrollments, KindOf(err))

		err = flows.Delete(1, flow.ID, true)
		assert.Equal(t, KindHasEnrollments, KindOf(err))
	})

	t.Run("pause first, then soft delete", func(t *testing.T) {
		_, err := flows.SetStatus(1, flow.ID, models.FlowStatusPaused)
		require.NoError(t, err)

		require.NoError(t, flows.Delete(1, flow.ID, false))

		archived, err := flows.Get(flow.ID)
		require.NoError(t, err)
		assert.Equal(t, models.FlowStatusArchived, archived.Status)

		for _, item := range queueItems(t, db, enrollment.ID) {
			assert.Equal(t, models.QueueStatusCancelled, item.Status)
		}
	})

	t.Run("hard delete removes the row", func(t *testing.T) {
		target := createFlow(t, db, "Disposable", models.FlowStatusDraft, nil)
		require.NoError(t, flows.Delete(1, target.ID, true))

		_, err := flows.Get(target.ID)
		assert.Equal(t, KindNotFound, KindOf(err))
	})

	t.Run("hard delete blocked by active enrollment", func(t *testing.T) {
		target := createFlow(t, db, "Sticky", models.FlowStatusActive, welcomeSteps())
		p := createProfile(t, db, "cleo@example.com", nil)
		_, err := enrollments.Enroll(1, target.ID, p.ID)
		require.NoError(t, err)

		// Not active status anymore, but the enrollment still is.
		_, err = flows.SetStatus(1, target.ID, models.FlowStatusPaused)
		require.NoError(t, err)

		err = flows.Delete(1, target.ID, true)
		assert.Equal(t, KindHasEnrollments, KindOf(err))
	})
}

func TestDuplicateFlow(t *testing.T) {
	db, flows, _, _, _ := newTestServices(t)

	src := createFlow(t, db, "Welcome", models.FlowStatusActive, welcomeSteps())

	first, err := flows.Duplicate(1, src.ID)
	require.NoError(t, err)
	assert.Equal(t, "Welcome (Copy)", first.Name)
	assert.Equal(t, models.FlowStatusDraft, first.Status)
	assert.Equal(t, src.Steps, first.Steps)

	second, err := flows.Duplicate(1, src.ID)
	require.NoError(t, err)
	assert.Equal(t, "Welcome (Copy 2)", second.Name)

	third, err := flows.Duplicate(1, src.ID)
	require.NoError(t, err)
	assert.Equal(t, "Welcome (Copy 3)", third.Name)
}

func TestBulkSetStatus(t *testing.T) {
	db, flows, _, _, _ := newTestServices(t)

	ready := createFlow(t, db, "Ready", models.FlowStatusDraft, welcomeSteps())
	empty := createFlow(t, db, "Empty", models.FlowStatusDraft, nil)

	t.Run("bounded", func(t *testing.T) {
		ids := make([]uint, 51)
		for i := range ids {
			ids[i] = uint(i + 1)
		}
		_, err := flows.BulkSetStatus(1, ids, models.FlowStatusActive)
		assert.Equal(t, KindTooMany, KindOf(err))
	})

	t.Run("per-id outcomes are isolated", func(t *testing.T) {
		result, err := flows.BulkSetStatus(1, []uint{ready.ID, empty.ID, 9999}, models.FlowStatusActive)
		require.NoError(t, err)
		assert.Equal(t, []uint{ready.ID}, result.Updated)
		assert.Contains(t, result.Errors, empty.ID)
		assert.Contains(t, result.Errors, uint(9999))
	})
}

func TestInsights(t *testing.T) {
	db, flows, enrollments, _, _ := newTestServices(t)

	flow := createFlow(t, db, "Welcome", models.FlowStatusActive, welcomeSteps())
	for i := 0; i < 3; i++ {
		profile := createProfile(t, db, fmt.Sprintf("m%d@example.com", i), nil)
		_, err := enrollments.Enroll(1, flow.ID, profile.ID)
		require.NoError(t, err)
	}

	insights, err := flows.Insights(flow.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), insights.Enrollments[models.EnrollmentStatusActive])
	assert.Equal(t, int64(6), insights.Queue[models.QueueStatusPending])
	assert.Equal(t, 3, insights.Flow.TotalEnrolled)
}
