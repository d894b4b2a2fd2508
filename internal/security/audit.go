package security

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jaydenbeard/gotham-party-one/internal/metrics"
	"github.com/lib/pq"
)

// AuditEventType defines the type of protocol-significant event.
type AuditEventType string

// AuditSeverity defines the severity level of an audit event.
type AuditSeverity string

// AuditResult defines the outcome of an audited action.
type AuditResult string

const (
	// Protocol lifecycle events
	AuditEventKeyGenStarted   AuditEventType = "keygen_started"
	AuditEventKeyGenerated    AuditEventType = "key_generated"
	AuditEventKeyGenFailed    AuditEventType = "keygen_failed"
	AuditEventSignRequested   AuditEventType = "sign_requested"
	AuditEventSignCompleted   AuditEventType = "sign_completed"
	AuditEventSignFailed      AuditEventType = "sign_failed"
	AuditEventRotateStarted   AuditEventType = "rotate_started"
	AuditEventKeyRotated      AuditEventType = "key_rotated"
	AuditEventRotateFailed    AuditEventType = "rotate_failed"
	AuditEventChildKeyDerived AuditEventType = "child_key_derived"

	// Session lifecycle events
	AuditEventSessionCreated AuditEventType = "session_created"
	AuditEventSessionTainted AuditEventType = "session_tainted"

	// Authorization gate events
	AuditEventGateActiveShareDenied AuditEventType = "gate_active_share_denied"
	AuditEventGateTaintedDenied     AuditEventType = "gate_tainted_denied"
	AuditEventGateTxDenied          AuditEventType = "gate_tx_denied"

	// Ambient security events
	AuditEventInvalidRequest AuditEventType = "invalid_request"
	AuditEventRateLimited    AuditEventType = "rate_limited"
	AuditEventAdminAction    AuditEventType = "admin_action"
	AuditEventConfigChanged  AuditEventType = "config_changed"
)

const (
	AuditSeverityCritical AuditSeverity = "critical"
	AuditSeverityHigh     AuditSeverity = "high"
	AuditSeverityMedium   AuditSeverity = "medium"
	AuditSeverityLow      AuditSeverity = "low"
	AuditSeverityInfo     AuditSeverity = "info"
)

const (
	AuditResultSuccess AuditResult = "success"
	AuditResultFailure AuditResult = "failure"
	AuditResultDenied  AuditResult = "denied"
	AuditResultError   AuditResult = "error"
	AuditResultPending AuditResult = "pending"
)

// AuditConfig holds configuration for audit logging.
type AuditConfig struct {
	MinSeverity            AuditSeverity    `json:"min_severity"`
	AllowedEventTypes      []AuditEventType `json:"allowed_event_types"`
	QueueSize              int              `json:"queue_size"`
	BatchSize              int              `json:"batch_size"`
	FlushInterval          time.Duration    `json:"flush_interval"`
	MaxRetries             int              `json:"max_retries"`
	BaseRetryDelay         time.Duration    `json:"base_retry_delay"`
	MaxConcurrentOverflows int              `json:"max_concurrent_overflows"`
	AuditFailureLogPath    string           `json:"audit_failure_log_path"`
}

// DefaultAuditConfig returns default audit configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		MinSeverity:            AuditSeverityInfo,
		AllowedEventTypes:      nil, // nil means all allowed
		QueueSize:              100000,
		BatchSize:              100,
		FlushInterval:          5 * time.Second,
		MaxRetries:             3,
		BaseRetryDelay:         100 * time.Millisecond,
		MaxConcurrentOverflows: 10,
		AuditFailureLogPath:    "/tmp/audit_failures.log",
	}
}

// ValidateAuditConfig validates the audit configuration.
func ValidateAuditConfig(config *AuditConfig) error {
	if config.MaxConcurrentOverflows < 1 || config.MaxConcurrentOverflows > 100 {
		return fmt.Errorf("max_concurrent_overflows must be between 1 and 100, got %d", config.MaxConcurrentOverflows)
	}
	if config.QueueSize < 1 {
		return fmt.Errorf("queue_size must be positive")
	}
	if config.BatchSize < 1 {
		return fmt.Errorf("batch_size must be positive")
	}
	if config.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if config.MinSeverity == AuditSeverityHigh || config.MinSeverity == AuditSeverityCritical {
		return fmt.Errorf("min_severity %q would exclude protocol-lifecycle events logged at info/medium", config.MinSeverity)
	}
	return nil
}

// AuditEvent represents an audit log entry for a protocol-significant event.
type AuditEvent struct {
	ID         uuid.UUID `json:"id"`
	CustomerID string    `json:"customer_id,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`

	EventType AuditEventType `json:"event_type"`
	Severity  AuditSeverity  `json:"severity"`
	Result    AuditResult    `json:"result"`

	Resource     string `json:"resource,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`

	Action                string         `json:"action"`
	EventData             map[string]any `json:"event_data,omitempty"`
	PreMarshaledEventData []byte         `json:"-"`
	Description           string         `json:"description,omitempty"`

	IPAddress     string `json:"ip_address"`
	UserAgent     string `json:"user_agent"`
	RequestID     string `json:"request_id"`
	RequestPath   string `json:"request_path,omitempty"`
	RequestMethod string `json:"request_method,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Duration  int64     `json:"duration_ms,omitempty"`

	ComplianceFlags []string `json:"compliance_flags,omitempty"`
}

// AuditLogger handles async, batched, retrying audit logging.
type AuditLogger struct {
	db                *sql.DB
	config            *AuditConfig
	queue             chan *AuditEvent
	wg                sync.WaitGroup
	shutdown          chan struct{}
	bufferPool        sync.Pool
	deadLetterChan    chan *AuditEvent
	failureLogger     *log.Logger
	failureFile       *os.File
	overflowSemaphore chan struct{}
}

// NewAuditLogger creates a new audit logger with default settings.
func NewAuditLogger(db *sql.DB) *AuditLogger {
	return NewAuditLoggerWithConfig(db, DefaultAuditConfig())
}

// NewAuditLoggerWithConfig creates a new audit logger with custom configuration.
func NewAuditLoggerWithConfig(db *sql.DB, config *AuditConfig) *AuditLogger {
	if err := ValidateAuditConfig(config); err != nil {
		log.Printf("Invalid audit configuration: %v, falling back to defaults", err)
		config = DefaultAuditConfig()
	}

	var failureLogger *log.Logger
	failureFile, err := os.OpenFile(config.AuditFailureLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		log.Printf("Warning: failed to open audit failure log %s: %v, using stderr", config.AuditFailureLogPath, err)
		failureLogger = log.New(os.Stderr, "[AUDIT-FAILURE] ", log.Ldate|log.Ltime|log.LUTC)
		failureFile = nil
	} else {
		failureLogger = log.New(failureFile, "[AUDIT-FAILURE] ", log.Ldate|log.Ltime|log.LUTC)
	}

	al := &AuditLogger{
		db:                db,
		config:            config,
		queue:             make(chan *AuditEvent, config.QueueSize),
		shutdown:          make(chan struct{}),
		deadLetterChan:    make(chan *AuditEvent, config.QueueSize/10+1),
		failureLogger:     failureLogger,
		failureFile:       failureFile,
		overflowSemaphore: make(chan struct{}, config.MaxConcurrentOverflows),
		bufferPool: sync.Pool{
			New: func() any { return new(bytes.Buffer) },
		},
	}

	al.wg.Add(2)
	go al.batchWriter()
	go al.deadLetterHandler()

	return al
}

// Shutdown gracefully shuts down the audit logger.
func (al *AuditLogger) Shutdown(timeout time.Duration) error {
	close(al.queue)
	close(al.shutdown)

	done := make(chan struct{})
	go func() {
		al.wg.Wait()
		if al.failureFile != nil && al.failureFile != os.Stderr {
			if err := al.failureFile.Close(); err != nil {
				log.Printf("Warning: failed to close failure file: %v", err)
			}
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		if al.failureFile != nil && al.failureFile != os.Stderr {
			if err := al.failureFile.Close(); err != nil {
				log.Printf("Warning: failed to close failure file: %v", err)
			}
		}
		return fmt.Errorf("audit logger shutdown timed out after %v", timeout)
	}
}

// Log records an audit event.
func (al *AuditLogger) Log(event *AuditEvent) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = getSeverityForEventType(event.EventType)
	}
	if event.Result == "" {
		event.Result = AuditResultSuccess
	}

	if !al.shouldLog(event) {
		return
	}

	if event.EventData != nil {
		buf := al.bufferPool.Get().(*bytes.Buffer)
		buf.Reset()
		if err := json.NewEncoder(buf).Encode(event.EventData); err == nil {
			event.PreMarshaledEventData = make([]byte, buf.Len())
			copy(event.PreMarshaledEventData, buf.Bytes())
		}
		al.bufferPool.Put(buf)
	}

	select {
	case al.queue <- event:
		metrics.AuditQueueDepth.Set(float64(len(al.queue)))
	default:
		metrics.AuditOverflowEventsTotal.Inc()
		go func() {
			al.overflowSemaphore <- struct{}{}
			defer func() { <-al.overflowSemaphore }()

			if err := al.write(event); err != nil {
				al.failureLogger.Printf("Failed to write overflow audit event: %v", err)
			}
			metrics.AuditEventsProcessedTotal.Inc()
		}()
	}
}

// shouldLog checks if an event should be logged based on configuration filters.
func (al *AuditLogger) shouldLog(event *AuditEvent) bool {
	if event.Severity == AuditSeverityCritical {
		return true
	}

	if getSeverityLevel(event.Severity) < getSeverityLevel(al.config.MinSeverity) {
		return false
	}

	if al.config.AllowedEventTypes != nil && !containsEventType(al.config.AllowedEventTypes, event.EventType) {
		return false
	}

	return true
}

func getSeverityLevel(severity AuditSeverity) int {
	switch severity {
	case AuditSeverityCritical:
		return 5
	case AuditSeverityHigh:
		return 4
	case AuditSeverityMedium:
		return 3
	case AuditSeverityLow:
		return 2
	case AuditSeverityInfo:
		return 1
	default:
		return 0
	}
}

// LogFromRequest creates and logs an event from an HTTP request.
func (al *AuditLogger) LogFromRequest(r *http.Request, customerID, sessionID string, eventType AuditEventType, data map[string]any) {
	event := &AuditEvent{
		ID:            uuid.New(),
		CustomerID:    customerID,
		SessionID:     sessionID,
		EventType:     eventType,
		Severity:      getSeverityForEventType(eventType),
		Result:        AuditResultSuccess,
		EventData:     data,
		IPAddress:     GetRealIP(r),
		UserAgent:     r.UserAgent(),
		RequestID:     r.Header.Get("X-Request-ID"),
		RequestPath:   r.URL.Path,
		RequestMethod: r.Method,
		Timestamp:     time.Now().UTC(),
	}
	al.Log(event)
}

// LogProtocolEvent logs a keygen/sign/rotate/derive lifecycle event.
func (al *AuditLogger) LogProtocolEvent(ctx context.Context, eventType AuditEventType, result AuditResult, customerID, sessionID, description string, data map[string]any) {
	event := &AuditEvent{
		ID:          uuid.New(),
		CustomerID:  customerID,
		SessionID:   sessionID,
		EventType:   eventType,
		Severity:    getSeverityForEventType(eventType),
		Result:      result,
		Description: description,
		EventData:   data,
		Timestamp:   time.Now().UTC(),
	}
	al.Log(event)
}

// LogGateDenial logs an authorization gate denial for compliance.
func (al *AuditLogger) LogGateDenial(eventType AuditEventType, customerID, sessionID, reason string) {
	event := &AuditEvent{
		ID:              uuid.New(),
		CustomerID:      customerID,
		SessionID:       sessionID,
		EventType:       eventType,
		Severity:        AuditSeverityHigh,
		Result:          AuditResultDenied,
		Description:     reason,
		Timestamp:       time.Now().UTC(),
		ComplianceFlags: []string{"audit_trail"},
	}
	al.Log(event)
}

// LogAdminAction logs an administrative action for compliance.
func (al *AuditLogger) LogAdminAction(adminID, action, resource, resourceID string, data map[string]any) {
	event := &AuditEvent{
		ID:              uuid.New(),
		CustomerID:      adminID,
		EventType:       AuditEventAdminAction,
		Severity:        AuditSeverityHigh,
		Result:          AuditResultSuccess,
		Action:          action,
		Resource:        resource,
		ResourceID:      resourceID,
		ResourceType:    "admin",
		EventData:       data,
		Timestamp:       time.Now().UTC(),
		ComplianceFlags: []string{"SOC2", "audit_trail"},
	}
	al.Log(event)
}

// batchWriter processes queued events in batches.
func (al *AuditLogger) batchWriter() {
	defer al.wg.Done()

	batch := make([]*AuditEvent, 0, al.config.BatchSize)
	ticker := time.NewTicker(al.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-al.queue:
			if !ok {
				if len(batch) > 0 {
					al.writeBatch(batch)
				}
				return
			}
			batch = append(batch, event)
			if len(batch) >= al.config.BatchSize {
				al.writeBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				al.writeBatch(batch)
				batch = batch[:0]
			}

		case <-al.shutdown:
			for {
				select {
				case event, ok := <-al.queue:
					if !ok {
						if len(batch) > 0 {
							al.writeBatch(batch)
						}
						return
					}
					batch = append(batch, event)
				default:
					if len(batch) > 0 {
						al.writeBatch(batch)
					}
					return
				}
			}
		}
	}
}

// deadLetterHandler processes permanently failed audit events.
func (al *AuditLogger) deadLetterHandler() {
	defer al.wg.Done()

	for {
		select {
		case event := <-al.deadLetterChan:
			al.failureLogger.Printf("Permanently failed audit event: ID=%s, Type=%s, CustomerID=%s, Error=max retries exceeded",
				event.ID, event.EventType, event.CustomerID)
		case <-al.shutdown:
			for {
				select {
				case event := <-al.deadLetterChan:
					al.failureLogger.Printf("Permanently failed audit event on shutdown: ID=%s, Type=%s, CustomerID=%s",
						event.ID, event.EventType, event.CustomerID)
				default:
					return
				}
			}
		}
	}
}

// retryDBOperation retries a database operation with exponential backoff.
func (al *AuditLogger) retryDBOperation(events []*AuditEvent, operation func() error) error {
	var lastErr error
	delay := al.config.BaseRetryDelay

	for attempt := 0; attempt <= al.config.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
		}

		err := operation()
		if err == nil {
			if attempt > 0 {
				log.Printf("[AUDIT_RETRY_SUCCESS] operation succeeded after %d retries", attempt)
			}
			return nil
		}

		lastErr = err

		errorType := classifyDatabaseError(err)
		log.Printf("[AUDIT_DB_ERROR] %s error (attempt %d/%d): %v",
			errorType, attempt+1, al.config.MaxRetries+1, err)

		for _, event := range events {
			al.failureLogger.Printf("Audit DB operation failed (%s, attempt %d/%d): %v, EventID=%s, EventType=%s",
				errorType, attempt+1, al.config.MaxRetries+1, err, event.ID, event.EventType)
		}

		if isCriticalDatabaseError(err) {
			log.Printf("[AUDIT_CRITICAL_ERROR] critical database error detected, failing fast: %v", err)
			break
		}
	}

	for _, event := range events {
		select {
		case al.deadLetterChan <- event:
			al.failureLogger.Printf("Sent failed event to dead letter queue: ID=%s, Type=%s, Error=%v",
				event.ID, event.EventType, lastErr)
			metrics.AuditDeadLetterEventsTotal.Inc()
		default:
			al.failureLogger.Printf("Dead letter queue full, dropping failed event: ID=%s, Type=%s, Error=%v",
				event.ID, event.EventType, lastErr)
			metrics.AuditDroppedEventsTotal.Inc()

			if event.Severity == AuditSeverityCritical {
				al.writeCriticalEventToEmergencyLog(event, lastErr)
			}
		}
	}

	return lastErr
}

func classifyDatabaseError(err error) string {
	if err == nil {
		return "unknown"
	}

	errorStr := err.Error()

	switch {
	case strings.Contains(errorStr, "connection refused"), strings.Contains(errorStr, "network error"), strings.Contains(errorStr, "dial"):
		return "connection_error"
	case strings.Contains(errorStr, "timeout"), strings.Contains(errorStr, "deadline exceeded"):
		return "timeout_error"
	case strings.Contains(errorStr, "deadlock"), strings.Contains(errorStr, "lock"):
		return "deadlock_error"
	case strings.Contains(errorStr, "disk full"), strings.Contains(errorStr, "storage"):
		return "storage_error"
	case strings.Contains(errorStr, "syntax"), strings.Contains(errorStr, "SQL"):
		return "syntax_error"
	case strings.Contains(errorStr, "constraint"), strings.Contains(errorStr, "duplicate"):
		return "constraint_error"
	default:
		return "general_error"
	}
}

func isCriticalDatabaseError(err error) bool {
	if err == nil {
		return false
	}

	errorStr := err.Error()
	criticalPatterns := []string{
		"database does not exist",
		"table does not exist",
		"permission denied",
		"authentication failed",
		"role does not exist",
		"fatal",
		"panic",
	}

	for _, pattern := range criticalPatterns {
		if strings.Contains(errorStr, pattern) {
			return true
		}
	}

	return false
}

func (al *AuditLogger) writeCriticalEventToEmergencyLog(event *AuditEvent, err error) {
	emergencyLogFile := "/tmp/audit_emergency_critical.log"
	file, fileErr := os.OpenFile(emergencyLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if fileErr != nil {
		al.failureLogger.Printf("Failed to open emergency log file: %v, critical event lost: ID=%s", fileErr, event.ID)
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			al.failureLogger.Printf("Warning: failed to close file: %v", err)
		}
	}()

	emergencyLog := fmt.Sprintf("[EMERGENCY_CRITICAL_EVENT] Time=%s, EventID=%s, EventType=%s, CustomerID=%s, Error=%v\n",
		time.Now().UTC().Format(time.RFC3339),
		event.ID, event.EventType, event.CustomerID, err)

	if _, writeErr := file.WriteString(emergencyLog); writeErr != nil {
		al.failureLogger.Printf("Failed to write to emergency log: %v, critical event: ID=%s", writeErr, event.ID)
	}

	log.Printf("[EMERGENCY_CRITICAL_EVENT] %s", emergencyLog)
}

// writeBatch writes a batch of events to the database.
func (al *AuditLogger) writeBatch(events []*AuditEvent) {
	start := time.Now()
	defer func() {
		metrics.AuditBatchWriteLatency.Observe(time.Since(start).Seconds())
		metrics.AuditBatchSize.Observe(float64(len(events)))
	}()
	if len(events) == 0 {
		return
	}

	err := al.retryDBOperation(events, func() error {
		tx, err := al.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to start transaction for audit batch: %w", err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO security_audit_log
			(id, customer_id, session_id, event_type, severity, result,
			 resource, resource_id, resource_type, action, event_data, description,
			 ip_address, user_agent, request_id, request_path, request_method,
			 timestamp, duration_ms, compliance_flags)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		`)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				al.failureLogger.Printf("Warning: rollback failed: %v", rbErr)
			}
			return fmt.Errorf("failed to prepare audit batch statement: %w", err)
		}

		for _, event := range events {
			var eventData []byte
			if len(event.PreMarshaledEventData) > 0 {
				eventData = event.PreMarshaledEventData
			} else {
				eventData, _ = json.Marshal(event.EventData)
			}

			complianceFlags := pq.Array(event.ComplianceFlags)

			_, err = stmt.Exec(
				event.ID, event.CustomerID, event.SessionID,
				event.EventType, event.Severity, event.Result,
				event.Resource, event.ResourceID, event.ResourceType,
				event.Action, eventData, event.Description,
				event.IPAddress, event.UserAgent, event.RequestID,
				event.RequestPath, event.RequestMethod,
				event.Timestamp, event.Duration, complianceFlags,
			)
			if err != nil {
				if rbErr := tx.Rollback(); rbErr != nil {
					log.Printf("Warning: tx.Rollback failed: %v", rbErr)
				}
				if clErr := stmt.Close(); clErr != nil {
					log.Printf("Warning: stmt.Close failed: %v", clErr)
				}
				return fmt.Errorf("failed to insert audit event %s: %w", event.ID, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit audit batch: %w", err)
		}

		return nil
	})

	if err != nil {
		al.failureLogger.Printf("Audit batch write failed after retries: %v", err)
	}
}

// write persists a single event to the database.
func (al *AuditLogger) write(event *AuditEvent) error {
	return al.retryDBOperation([]*AuditEvent{event}, func() error {
		var eventData []byte
		if len(event.PreMarshaledEventData) > 0 {
			eventData = event.PreMarshaledEventData
		} else {
			eventData, _ = json.Marshal(event.EventData)
		}

		complianceFlags := pq.Array(event.ComplianceFlags)

		_, err := al.db.Exec(`
			INSERT INTO security_audit_log
			(id, customer_id, session_id, event_type, severity, result,
			 resource, resource_id, resource_type, action, event_data, description,
			 ip_address, user_agent, request_id, request_path, request_method,
			 timestamp, duration_ms, compliance_flags)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		`, event.ID, event.CustomerID, event.SessionID,
			event.EventType, event.Severity, event.Result,
			event.Resource, event.ResourceID, event.ResourceType,
			event.Action, eventData, event.Description,
			event.IPAddress, event.UserAgent, event.RequestID,
			event.RequestPath, event.RequestMethod,
			event.Timestamp, event.Duration, complianceFlags,
		)

		if err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}
		return nil
	})
}

func getSeverityForEventType(eventType AuditEventType) AuditSeverity {
	switch eventType {
	case AuditEventKeyGenFailed, AuditEventSignFailed, AuditEventRotateFailed,
		AuditEventGateActiveShareDenied, AuditEventGateTaintedDenied, AuditEventGateTxDenied:
		return AuditSeverityHigh

	case AuditEventSessionTainted, AuditEventAdminAction, AuditEventConfigChanged:
		return AuditSeverityCritical

	case AuditEventKeyGenerated, AuditEventKeyRotated, AuditEventSessionCreated:
		return AuditSeverityMedium

	case AuditEventSignCompleted, AuditEventChildKeyDerived:
		return AuditSeverityLow

	default:
		return AuditSeverityInfo
	}
}

func containsEventType(eventTypes []AuditEventType, target AuditEventType) bool {
	for _, et := range eventTypes {
		if et == target {
			return true
		}
	}
	return false
}

// Query retrieves audit events for a customer, optionally filtered by event type.
func (al *AuditLogger) Query(ctx context.Context, customerID string, eventType *AuditEventType, limit int) ([]*AuditEvent, error) {
	var query string
	var args []any

	if eventType != nil {
		query = `
			SELECT customer_id, event_type, event_data, ip_address, user_agent, timestamp
			FROM security_audit_log
			WHERE customer_id = $1 AND event_type = $2
			ORDER BY timestamp DESC
			LIMIT $3
		`
		args = []any{customerID, *eventType, limit}
	} else {
		query = `
			SELECT customer_id, event_type, event_data, ip_address, user_agent, timestamp
			FROM security_audit_log
			WHERE customer_id = $1
			ORDER BY timestamp DESC
			LIMIT $2
		`
		args = []any{customerID, limit}
	}

	rows, err := al.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Warning: failed to close rows: %v", err)
		}
	}()

	var events []*AuditEvent
	for rows.Next() {
		event := &AuditEvent{}
		var eventData []byte

		if err := rows.Scan(
			&event.CustomerID,
			&event.EventType,
			&eventData,
			&event.IPAddress,
			&event.UserAgent,
			&event.Timestamp,
		); err != nil {
			return nil, err
		}

		if len(eventData) > 0 {
			if err := json.Unmarshal(eventData, &event.EventData); err != nil {
				log.Printf("Warning: failed to unmarshal event data: %v", err)
			}
		}

		events = append(events, event)
	}

	return events, nil
}

// GetRecentSecurityEvents returns recent gate-denial and failure events for a customer.
func (al *AuditLogger) GetRecentSecurityEvents(ctx context.Context, customerID string) ([]*AuditEvent, error) {
	query := `
		SELECT customer_id, event_type, event_data, ip_address, user_agent, timestamp
		FROM security_audit_log
		WHERE customer_id = $1
		AND event_type IN ('keygen_failed', 'sign_failed', 'rotate_failed', 'session_tainted', 'gate_active_share_denied', 'gate_tainted_denied', 'gate_tx_denied')
		AND timestamp > NOW() - INTERVAL '24 hours'
		ORDER BY timestamp DESC
	`

	rows, err := al.db.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Warning: failed to close rows: %v", err)
		}
	}()

	var events []*AuditEvent
	for rows.Next() {
		event := &AuditEvent{}
		var eventData []byte

		if err := rows.Scan(
			&event.CustomerID,
			&event.EventType,
			&eventData,
			&event.IPAddress,
			&event.UserAgent,
			&event.Timestamp,
		); err != nil {
			return nil, err
		}

		if len(eventData) > 0 {
			if err := json.Unmarshal(eventData, &event.EventData); err != nil {
				log.Printf("Warning: failed to unmarshal event data: %v", err)
			}
		}

		events = append(events, event)
	}

	return events, nil
}

// CheckSuspiciousActivity flags a customer whose recent history shows repeated
// protocol failures or gate denials, a signal the rotate/keygen handlers use
// to decide whether to taint a session proactively.
func (al *AuditLogger) CheckSuspiciousActivity(ctx context.Context, customerID string) (bool, string) {
	var failedCount int
	if err := al.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM security_audit_log
		WHERE customer_id = $1
		AND event_type IN ('keygen_failed', 'sign_failed', 'rotate_failed')
		AND timestamp > NOW() - INTERVAL '1 hour'
	`, customerID).Scan(&failedCount); err != nil {
		log.Printf("Warning: failed to check failed protocol round count: %v", err)
	}

	if failedCount >= 5 {
		return true, "multiple failed protocol rounds"
	}

	var denialCount int
	if err := al.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM security_audit_log
		WHERE customer_id = $1
		AND event_type IN ('gate_active_share_denied', 'gate_tainted_denied', 'gate_tx_denied')
		AND timestamp > NOW() - INTERVAL '1 hour'
	`, customerID).Scan(&denialCount); err != nil {
		log.Printf("Warning: failed to check gate denial count: %v", err)
	}

	if denialCount >= 3 {
		return true, "repeated authorization gate denials"
	}

	return false, ""
}

// GetRealIP extracts the real client IP from a request, preferring the
// load-balancer-set forwarding headers over RemoteAddr.
func GetRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ips := strings.Split(xff, ","); len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
