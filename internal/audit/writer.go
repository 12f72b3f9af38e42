package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stronghold-security/internal/config"
	"stronghold-security/internal/models"
	"stronghold-security/internal/util"
)

// BatchInserter is the slice of the ClickHouse client the writer needs.
type BatchInserter interface {
	BatchInsert(ctx context.Context, query string, data [][]interface{}) error
}

const insertAuditEventsQuery = `
    INSERT INTO audit_events (
        audit_id, category, action, severity, outcome, user_id, actor_id,
        resource_type, resource_id, ip_address, event_time,
        compliance_requirements, retention_period_days, before_state, after_state
    )`

// Writer buffers audit events and flushes them to ClickHouse in batches.
// Security and compliance events flush immediately; everything else waits
// for the interval tick or a full batch. The buffer is bounded: when a
// failed flush would overflow it on re-queue, the oldest events are dropped
// and the drop is logged.
type Writer struct {
	client BatchInserter
	cfg    config.AuditConfig
	now    func() time.Time

	mu     sync.Mutex
	buffer []*models.AuditEvent

	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func NewWriter(chClient BatchInserter, cfg config.AuditConfig) *Writer {
	w := &Writer{
		client:  chClient,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		buffer:  make([]*models.AuditEvent, 0, cfg.BatchSize),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go w.run()
	return w
}

// Record validates and enqueues an audit event. The retention period is
// stamped from the category at write time so later policy changes never
// rewrite history.
func (w *Writer) Record(event *models.AuditEvent) error {
	if event.Category == "" || event.Action == "" || event.Outcome == "" {
		return fmt.Errorf("audit event missing required fields: category=%q action=%q outcome=%q",
			event.Category, event.Action, event.Outcome)
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = w.now()
	}
	event.RetentionPeriodDays = models.RetentionPeriodDays(event.Category)

	w.mu.Lock()
	w.buffer = append(w.buffer, event)
	if len(w.buffer) > w.cfg.MaxBufferSize {
		dropped := len(w.buffer) - w.cfg.MaxBufferSize
		w.buffer = w.buffer[dropped:]
		util.Warn("Audit buffer overflow, oldest events dropped",
			zap.Int("dropped", dropped))
	}
	full := len(w.buffer) >= w.cfg.BatchSize
	critical := event.Category == models.CategorySecurity ||
		event.Category == models.CategoryCompliance ||
		event.Severity == models.SeverityCritical
	w.mu.Unlock()

	if full || critical {
		w.flush()
	}

	return nil
}

func (w *Writer) run() {
	defer close(w.stopped)

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.flush()
		case <-w.stop:
			w.flush()
			return
		}
	}
}

// flush drains the buffer and writes one batch. On failure the events are
// put back at the front of the buffer, subject to the size bound.
func (w *Writer) flush() {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.buffer
	w.buffer = make([]*models.AuditEvent, 0, w.cfg.BatchSize)
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows := make([][]interface{}, 0, len(batch))
	for _, e := range batch {
		rows = append(rows, auditRow(e))
	}

	if err := w.client.BatchInsert(ctx, insertAuditEventsQuery, rows); err != nil {
		util.Error("Failed to flush audit batch",
			zap.Int("batch_size", len(batch)),
			zap.Error(err))

		w.mu.Lock()
		w.buffer = append(batch, w.buffer...)
		if len(w.buffer) > w.cfg.MaxBufferSize {
			dropped := len(w.buffer) - w.cfg.MaxBufferSize
			w.buffer = w.buffer[dropped:]
			util.Warn("Audit buffer overflow after failed flush, oldest events dropped",
				zap.Int("dropped", dropped))
		}
		w.mu.Unlock()
		return
	}

	util.Debug("Audit batch flushed", zap.Int("batch_size", len(batch)))
}

// Stop flushes the remaining buffer and halts the flush loop. Safe to call
// more than once.
func (w *Writer) Stop() {
	w.once.Do(func() {
		close(w.stop)
	})
	<-w.stopped
}

func auditRow(e *models.AuditEvent) []interface{} {
	ip := ""
	if e.IPAddress != nil {
		ip = e.IPAddress.String()
	}
	before, _ := json.Marshal(e.BeforeState)
	after, _ := json.Marshal(e.AfterState)
	reqs := e.ComplianceRequirements
	if reqs == nil {
		reqs = []string{}
	}
	return []interface{}{
		e.ID, e.Category, e.Action, e.Severity, e.Outcome, e.UserID, e.ActorID,
		e.ResourceType, e.ResourceID, ip, e.Timestamp,
		reqs, int32(e.RetentionPeriodDays), string(before), string(after),
	}
}
