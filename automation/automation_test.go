package automation

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"shareplate/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.MemberProfile{},
		&models.AutomationFlow{},
		&models.FlowEnrollment{},
		&models.EmailQueueItem{},
		&models.AuditLog{},
	))
	return db
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestServices(t *testing.T) (*gorm.DB, *FlowService, *EnrollmentService, *Processor, *fakeMailer) {
	t.Helper()

	db := newTestDB(t)
	log := testLogger()
	audit := NewGormAuditRecorder(db, log)
	cache := NopInvalidator{}

	flows := NewFlowService(db, audit, cache, log, 50)
	scheduler := NewScheduler(&LogActionRunner{Log: log}, log)
	enrollments := NewEnrollmentService(db, scheduler, audit, cache, log)
	mailer := &fakeMailer{}
	processor := NewProcessor(db, mailer, audit, cache, log)
	return db, flows, enrollments, processor, mailer
}

type sentMail struct {
	Template  string
	Subject   string
	Recipient string
}

type fakeMailer struct {
	sent          []sentMail
	failFor       map[string]error
	failRecipient string
}

func (m *fakeMailer) Send(template, subject, recipient string, vars map[string]interface{}) (string, error) {
	if err, ok := m.failFor[template]; ok && err != nil {
		return "", err
	}
	if m.failRecipient != "" && recipient == m.failRecipient {
		return "", fmt.Errorf("mailbox unavailable for %s", recipient)
	}
	m.sent = append(m.sent, sentMail{Template: template, Subject: subject, Recipient: recipient})
	return fmt.Sprintf("msg-%d", len(m.sent)), nil
}

func createProfile(t *testing.T, db *gorm.DB, email string, attrs map[string]interface{}) *models.MemberProfile {
	t.Helper()
	profile := &models.MemberProfile{
		Email:       email,
		DisplayName: "Test Member",
		Attributes:  attrs,
	}
	require.NoError(t, db.Create(profile).Error)
	return profile
}

func createFlow(t *testing.T, db *gorm.DB, name, status string, steps []models.FlowStep) *models.AutomationFlow {
	t.Helper()
	flow := &models.AutomationFlow{
		Name:        name,
		TriggerType: "signup",
		Steps:       steps,
		Status:      status,
	}
	require.NoError(t, db.Create(flow).Error)
	return flow
}

func welcomeSteps() []models.FlowStep {
	return []models.FlowStep{
		{Type: models.StepTypeEmail, Template: "welcome", Subject: "Welcome to SharePlate"},
		{Type: models.StepTypeDelay, DelayMinutes: 2880},
		{Type: models.StepTypeEmail, Template: "tips", Subject: "Tips for sharing"},
	}
}

func queueItems(t *testing.T, db *gorm.DB, enrollmentID uint) []models.EmailQueueItem {
	t.Helper()
	var items []models.EmailQueueItem
	require.NoError(t, db.Where("enrollment_id = ?", enrollmentID).
		Order("step_index ASC").
		Find(&items).Error)
	return items
}

func reloadEnrollment(t *testing.T, db *gorm.DB, id uint) *models.FlowEnrollment {
	t.Helper()
	var enrollment models.FlowEnrollment
	require.NoError(t, db.First(&enrollment, id).Error)
	return &enrollment
}

func backdate(t *testing.T, db *gorm.DB, itemID uint, by time.Duration) {
	t.Helper()
	require.NoError(t, db.Model(&models.EmailQueueItem{}).
		Where("id = ?", itemID).
		Update("scheduled_for", time.Now().UTC().Add(-by)).Error)
}
