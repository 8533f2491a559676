package audit

import (
	"time"

	"go.uber.org/zap"
)

type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Actor     string            `json:"actor"`
	Subject   string            `json:"subject"`
	Amount    string            `json:"amount,omitempty"`
	Status    string            `json:"status"`
	Details   map[string]string `json:"details,omitempty"`
}

// Logger writes one structured line per money-moving or key-changing action.
type Logger struct {
	log *zap.Logger
	now func() time.Time
}

func NewLogger(log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{log: log.Named("audit"), now: time.Now}
}

func (a *Logger) LogMovement(eventType, actor, subject, amount, status string, details map[string]string) {
	a.write(Event{
		EventType: eventType,
		Actor:     actor,
		Subject:   subject,
		Amount:    amount,
		Status:    status,
		Details:   details,
	})
}

func (a *Logger) LogOperation(eventType, actor, subject string, details map[string]string) {
	a.write(Event{
		EventType: eventType,
		Actor:     actor,
		Subject:   subject,
		Status:    "SUCCESS",
		Details:   details,
	})
}

func (a *Logger) LogError(eventType, actor, subject string, err error) {
	a.write(Event{
		EventType: eventType,
		Actor:     actor,
		Subject:   subject,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) write(event Event) {
	event.Timestamp = a.now()
	fields := []zap.Field{
		zap.Time("timestamp", event.Timestamp),
		zap.String("event_type", event.EventType),
		zap.String("actor", event.Actor),
		zap.String("subject", event.Subject),
		zap.String("status", event.Status),
	}
	if event.Amount != "" {
		fields = append(fields, zap.String("amount", event.Amount))
	}
	if len(event.Details) > 0 {
		fields = append(fields, zap.Any("details", event.Details))
	}
	a.log.Info("AUDIT", fields...)
}
