package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const eventQueue = "ledger_audit_events"

type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	OrgID         string    `json:"org_id,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	GLAccountID   string    `json:"gl_account_id,omitempty"`
	Amount        string    `json:"amount,omitempty"`
	Status        string    `json:"status"`
	Details       any       `json:"details,omitempty"`
}

// Logger emits structured audit events for every financial mutation. Events
// are written to the process log and, when Redis is available, pushed to a
// queue consumed by compliance tooling. Queue failures never fail the
// operation being audited.
type Logger struct {
	redis *redis.Client
}

func NewLogger(rdb *redis.Client) *Logger {
	return &Logger{redis: rdb}
}

func (l *Logger) LogPosted(orgID, transactionID string, total decimal.Decimal, lineCount int) {
	l.log(Event{
		Timestamp:     time.Now(),
		EventType:     "TRANSACTION_POSTED",
		OrgID:         orgID,
		TransactionID: transactionID,
		Amount:        total.StringFixed(2),
		Status:        "SUCCESS",
		Details:       map[string]int{"line_count": lineCount},
	})
}

func (l *Logger) LogApplication(orgID, billID, sourceID string, amount decimal.Decimal, removed bool) {
	eventType := "BILL_APPLICATION_CREATED"
	if removed {
		eventType = "BILL_APPLICATION_REMOVED"
	}
	l.log(Event{
		Timestamp:     time.Now(),
		EventType:     eventType,
		OrgID:         orgID,
		TransactionID: sourceID,
		Amount:        amount.StringFixed(2),
		Status:        "SUCCESS",
		Details:       map[string]string{"bill_transaction_id": billID},
	})
}

func (l *Logger) LogLockRejected(orgID, transactionID, operation string) {
	l.log(Event{
		Timestamp:     time.Now(),
		EventType:     "RECONCILED_LOCK_REJECTED",
		OrgID:         orgID,
		TransactionID: transactionID,
		Status:        "REJECTED",
		Details:       map[string]string{"operation": operation},
	})
}

func (l *Logger) LogRepair(orgID, transactionID, glAccountID string, amount decimal.Decimal, applied bool) {
	status := "DRY_RUN"
	if applied {
		status = "APPLIED"
	}
	l.log(Event{
		Timestamp:     time.Now(),
		EventType:     "BANK_LINE_REPAIR",
		OrgID:         orgID,
		TransactionID: transactionID,
		GLAccountID:   glAccountID,
		Amount:        amount.StringFixed(2),
		Status:        status,
	})
}

func (l *Logger) LogError(orgID, transactionID string, err error) {
	l.log(Event{
		Timestamp:     time.Now(),
		EventType:     "ERROR",
		OrgID:         orgID,
		TransactionID: transactionID,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error()},
	})
}

func (l *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))

	if l.redis != nil {
		if err := l.redis.RPush(context.Background(), eventQueue, string(data)).Err(); err != nil {
			log.Printf("[AUDIT] Failed to queue event: %v", err)
		}
	}
}
