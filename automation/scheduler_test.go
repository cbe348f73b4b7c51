package automation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"shareplate/models"
)

func materialize(t *testing.T, db *gorm.DB, s *Scheduler, flow *models.AutomationFlow, profile *models.MemberProfile, enrolledAt time.Time) (*models.FlowEnrollment, int) {
	t.Helper()
	enrollment := &models.FlowEnrollment{
		FlowID:     flow.ID,
		ProfileID:  profile.ID,
		Status:     models.EnrollmentStatusActive,
		EnrolledAt: enrolledAt,
	}
	require.NoError(t, db.Create(enrollment).Error)

	scheduled, err := s.Materialize(db, flow, enrollment, profile, 0)
	require.NoError(t, err)
	return enrollment, scheduled
}

func TestMaterializeSchedule(t *testing.T) {
	db := newTestDB(t)
	s := NewScheduler(&LogActionRunner{Log: testLogger()}, testLogger())

	flow := createFlow(t, db, "Welcome", models.FlowStatusActive, welcomeSteps())
	profile := createProfile(t, db, "kai@example.com", nil)
	enrolledAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	enrollment, scheduled := materialize(t, db, s, flow, profile, enrolledAt)
	assert.Equal(t, 2, scheduled)

	items := queueItems(t, db, enrollment.ID)
	require.Len(t, items, 2)

	assert.Equal(t, 0, items[0].StepIndex)
	assert.WithinDuration(t, enrolledAt, items[0].ScheduledFor, time.Second, "first email goes out at enroll time")

	assert.Equal(t, 2, items[1].StepIndex)
	assert.WithinDuration(t, enrolledAt.Add(2880*time.Minute), items[1].ScheduledFor, time.Second, "second email waits out the delay")

	assert.Equal(t, models.EnrollmentStatusActive, reloadEnrollment(t, db, enrollment.ID).Status,
		"enrollment stays active until items are consumed")
}

func TestMaterializeStackedDelays(t *testing.T) {
	db := newTestDB(t)
	s := NewScheduler(&LogActionRunner{Log: testLogger()}, testLogger())

	flow := createFlow(t, db, "Drip", models.FlowStatusActive, []models.FlowStep{
		{Type: models.StepTypeDelay, DelayMinutes: 60},
		{Type: models.StepTypeDelay, DelayMinutes: 30},
		{Type: models.StepTypeEmail, Template: "tips", Subject: "Tips"},
	})
	profile := createProfile(t, db, "lena@example.com", nil)
	enrolledAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	enrollment, scheduled := materialize(t, db, s, flow, profile, enrolledAt)
	assert.Equal(t, 1, scheduled)

	items := queueItems(t, db, enrollment.ID)
	require.Len(t, items, 1)
	assert.WithinDuration(t, enrolledAt.Add(90*time.Minute), items[0].ScheduledFor, time.Second, "delays accumulate")
}

func TestMaterializeConditionShortCircuit(t *testing.T) {
	db := newTestDB(t)
	s := NewScheduler(&LogActionRunner{Log: testLogger()}, testLogger())

	flow := createFlow(t, db, "Nudge", models.FlowStatusActive, []models.FlowStep{
		{Type: models.StepTypeEmail, Template: "welcome", Subject: "Hi"},
		{Type: models.StepTypeCondition, Field: "listings_count", Operator: "gt", Value: "0"},
		{Type: models.StepTypeEmail, Template: "tips", Subject: "Tips"},
	})

	t.Run("false predicate abandons the rest", func(t *testing.T) {
		profile := createProfile(t, db, "mira@example.com", map[string]interface{}{"listings_count": float64(0)})
		enrollment, scheduled := materialize(t, db, s, flow, profile, time.Now().UTC())

		assert.Equal(t, 1, scheduled, "only the email before the condition is queued")
		assert.Equal(t, models.EnrollmentStatusCompleted, reloadEnrollment(t, db, enrollment.ID).Status)

		var reloaded models.AutomationFlow
		require.NoError(t, db.First(&reloaded, flow.ID).Error)
		assert.Equal(t, 1, reloaded.TotalCompleted)
		assert.Equal(t, 0, reloaded.TotalConverted)
	})

	t.Run("true predicate continues and counts a conversion", func(t *testing.T) {
		profile := createProfile(t, db, "nils@example.com", map[string]interface{}{"listings_count": float64(3)})
		enrollment, scheduled := materialize(t, db, s, flow, profile, time.Now().UTC())

		assert.Equal(t, 2, scheduled)
		assert.Equal(t, models.EnrollmentStatusActive, reloadEnrollment(t, db, enrollment.ID).Status)

		var reloaded models.AutomationFlow
		require.NoError(t, db.First(&reloaded, flow.ID).Error)
		assert.Equal(t, 1, reloaded.TotalConverted)
	})
}

func TestMaterializeNoEmailsCompletesImmediately(t *testing.T) {
	db := newTestDB(t)
	s := NewScheduler(&LogActionRunner{Log: testLogger()}, testLogger())

	// A draft-ish list of only delays can still be walked if the flow was
	// activated before the steps were edited down.
	flow := createFlow(t, db, "Hollow", models.FlowStatusActive, []models.FlowStep{
		{Type: models.StepTypeDelay, DelayMinutes: 60},
	})
	profile := createProfile(t, db, "olga@example.com", nil)

	enrollment, scheduled := materialize(t, db, s, flow, profile, time.Now().UTC())
	assert.Equal(t, 0, scheduled)
	assert.Equal(t, models.EnrollmentStatusCompleted, reloadEnrollment(t, db, enrollment.ID).Status)
}

type failingActionRunner struct{ calls int }

func (r *failingActionRunner) Run(string, map[string]interface{}, *models.MemberProfile) error {
	r.calls++
	return errors.New("webhook down")
}

func TestMaterializeActionFailureDoesNotBlock(t *testing.T) {
	db := newTestDB(t)
	runner := &failingActionRunner{}
	s := NewScheduler(runner, testLogger())

	flow := createFlow(t, db, "Tagger", models.FlowStatusActive, []models.FlowStep{
		{Type: models.StepTypeAction, ActionType: "add_tag"},
		{Type: models.StepTypeEmail, Template: "welcome", Subject: "Hi"},
	})
	profile := createProfile(t, db, "pia@example.com", nil)

	enrollment, scheduled := materialize(t, db, s, flow, profile, time.Now().UTC())
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, 1, scheduled, "the email after the failed action is still scheduled")
	assert.Len(t, queueItems(t, db, enrollment.ID), 1)
}

func TestEvaluateCondition(t *testing.T) {
	city := "Lisbon"
	profile := &models.MemberProfile{
		Email:       "q@example.com",
		DisplayName: "Q",
		City:        &city,
		Attributes: map[string]interface{}{
			"listings_count": float64(4),
			"verified":       true,
			"diet":           "vegetarian",
		},
	}

	cases := []struct {
		name string
		step models.FlowStep
		want bool
	}{
		{"eq on builtin", models.FlowStep{Field: "city", Operator: "eq", Value: "Lisbon"}, true},
		{"eq miss", models.FlowStep{Field: "city", Operator: "eq", Value: "Porto"}, false},
		{"neq", models.FlowStep{Field: "city", Operator: "neq", Value: "Porto"}, true},
		{"neq on absent field", models.FlowStep{Field: "ghost", Operator: "neq", Value: "x"}, true},
		{"gt numeric", models.FlowStep{Field: "listings_count", Operator: "gt", Value: "3"}, true},
		{"lt numeric", models.FlowStep{Field: "listings_count", Operator: "lt", Value: "3"}, false},
		{"gt non-numeric", models.FlowStep{Field: "diet", Operator: "gt", Value: "3"}, false},
		{"contains", models.FlowStep{Field: "diet", Operator: "contains", Value: "Veget"}, true},
		{"exists", models.FlowStep{Field: "verified", Operator: "exists"}, true},
		{"exists miss", models.FlowStep{Field: "ghost", Operator: "exists"}, false},
		{"bool eq", models.FlowStep{Field: "verified", Operator: "eq", Value: "true"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.step.Type = models.StepTypeCondition
			assert.Equal(t, tc.want, evaluateCondition(tc.step, profile))
		})
	}
}
