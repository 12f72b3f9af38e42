package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stronghold-security/internal/config"
	"stronghold-security/internal/models"
)

type fakeInserter struct {
	mu      sync.Mutex
	batches [][][]interface{}
	err     error
}

func (f *fakeInserter) BatchInsert(ctx context.Context, query string, data [][]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, data)
	return nil
}

func (f *fakeInserter) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeInserter) rows() [][]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all [][]interface{}
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}

// testWriterConfig keeps the interval flush out of the way so tests only
// see the flushes they trigger.
func testWriterConfig() config.AuditConfig {
	return config.AuditConfig{
		FlushInterval: time.Hour,
		BatchSize:     10,
		MaxBufferSize: 100,
	}
}

func operationalEvent(action string) *models.AuditEvent {
	return &models.AuditEvent{
		Category: models.CategoryOperational,
		Action:   action,
		Outcome:  models.OutcomeSuccess,
	}
}

func TestRecordValidation(t *testing.T) {
	writer := NewWriter(&fakeInserter{}, testWriterConfig())
	defer writer.Stop()

	err := writer.Record(&models.AuditEvent{Category: models.CategoryOperational})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required fields")
}

func TestRecordStampsIdentityAndRetention(t *testing.T) {
	sink := &fakeInserter{}
	writer := NewWriter(sink, testWriterConfig())
	defer writer.Stop()

	event := &models.AuditEvent{
		Category: models.CategorySecurity,
		Action:   "incident_logged",
		Outcome:  models.OutcomeSuccess,
	}
	require.NoError(t, writer.Record(event))

	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, 2555, event.RetentionPeriodDays)
}

func TestOperationalEventsWaitForBatch(t *testing.T) {
	sink := &fakeInserter{}
	writer := NewWriter(sink, testWriterConfig())

	for i := 0; i < 9; i++ {
		require.NoError(t, writer.Record(operationalEvent("config_read")))
	}
	assert.Empty(t, sink.rows())

	// The tenth fills the batch and triggers the flush
	require.NoError(t, writer.Record(operationalEvent("config_read")))
	assert.Len(t, sink.rows(), 10)

	writer.Stop()
}

func TestCriticalCategoriesFlushImmediately(t *testing.T) {
	for _, category := range []string{models.CategorySecurity, models.CategoryCompliance} {
		sink := &fakeInserter{}
		writer := NewWriter(sink, testWriterConfig())

		require.NoError(t, writer.Record(&models.AuditEvent{
			Category: category,
			Action:   "consent_given",
			Outcome:  models.OutcomeSuccess,
		}))
		assert.Len(t, sink.rows(), 1, category)

		writer.Stop()
	}
}

func TestCriticalSeverityFlushesImmediately(t *testing.T) {
	sink := &fakeInserter{}
	writer := NewWriter(sink, testWriterConfig())
	defer writer.Stop()

	require.NoError(t, writer.Record(&models.AuditEvent{
		Category: models.CategoryOperational,
		Severity: models.SeverityCritical,
		Action:   "disk_full",
		Outcome:  models.OutcomeFailure,
	}))
	assert.Len(t, sink.rows(), 1)
}

func TestStopFlushesRemainder(t *testing.T) {
	sink := &fakeInserter{}
	writer := NewWriter(sink, testWriterConfig())

	require.NoError(t, writer.Record(operationalEvent("config_read")))
	assert.Empty(t, sink.rows())

	writer.Stop()
	assert.Len(t, sink.rows(), 1)

	// Stop is idempotent
	writer.Stop()
}

func TestFailedFlushRequeues(t *testing.T) {
	sink := &fakeInserter{err: errors.New("clickhouse down")}
	writer := NewWriter(sink, testWriterConfig())

	require.NoError(t, writer.Record(operationalEvent("one")))
	require.NoError(t, writer.Record(&models.AuditEvent{
		Category: models.CategorySecurity,
		Action:   "incident_logged",
		Outcome:  models.OutcomeSuccess,
	}))
	assert.Empty(t, sink.rows())

	// Once the sink recovers, the requeued events land in order
	sink.setErr(nil)
	writer.Stop()

	rows := sink.rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "one", rows[0][2])
	assert.Equal(t, "incident_logged", rows[1][2])
}

func TestBufferBoundDropsOldest(t *testing.T) {
	sink := &fakeInserter{err: errors.New("clickhouse down")}
	cfg := testWriterConfig()
	cfg.MaxBufferSize = 2
	writer := NewWriter(sink, cfg)

	require.NoError(t, writer.Record(operationalEvent("first")))
	require.NoError(t, writer.Record(operationalEvent("second")))
	require.NoError(t, writer.Record(operationalEvent("third")))

	sink.setErr(nil)
	writer.Stop()

	rows := sink.rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "second", rows[0][2])
	assert.Equal(t, "third", rows[1][2])
}

func TestAuditRowShape(t *testing.T) {
	event := &models.AuditEvent{
		ID:                     "audit-1",
		Category:               models.CategoryCompliance,
		Action:                 "consent_given",
		Severity:               models.SeverityLow,
		Outcome:                models.OutcomeSuccess,
		UserID:                 "user-1",
		Timestamp:              time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		ComplianceRequirements: []string{"GDPR-Art7"},
		RetentionPeriodDays:    2555,
		AfterState:             map[string]string{"purpose": "marketing"},
	}

	row := auditRow(event)
	require.Len(t, row, 15)
	assert.Equal(t, "audit-1", row[0])
	assert.Equal(t, models.CategoryCompliance, row[1])
	assert.Equal(t, "", row[9])
	assert.Equal(t, []string{"GDPR-Art7"}, row[11])
	assert.Equal(t, int32(2555), row[12])
	assert.Contains(t, row[14], "marketing")
}
