// Package audit records security-relevant module actions to the audit_log
// table and fans them out as events.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darkden-lab/modhost/internal/events"
)

// ErrNoDatabase is returned by Store when it has no pool.
var ErrNoDatabase = errors.New("audit store has no database")

// Event is one audit record.
type Event struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	UserID    string         `json:"userId,omitempty"`
	TenantID  string         `json:"tenantId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	IPAddress string         `json:"ipAddress,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Store writes audit events to the audit_log table.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Insert writes e. Empty user and tenant ids are stored as NULL.
func (s *Store) Insert(ctx context.Context, e Event) error {
	if s.pool == nil {
		return ErrNoDatabase
	}
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	if e.Details == nil {
		details = []byte("{}")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, user_id, tenant_id, action, details, ip_address, user_agent, timestamp)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)`,
		e.ID, e.UserID, e.TenantID, e.Action, details, e.IPAddress, e.UserAgent, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Writer persists audit events.
type Writer interface {
	Insert(ctx context.Context, e Event) error
}

// Recorder completes audit events from the request context, persists them
// and publishes them on events.TopicModuleAudit.
type Recorder struct {
	writer Writer
	broker events.Broker
	logger *slog.Logger
}

// NewRecorder creates a Recorder. writer and broker may be nil.
func NewRecorder(writer Writer, broker events.Broker, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{writer: writer, broker: broker, logger: logger}
}

// Record fills in id, timestamp and request info, then writes and publishes
// e. A publish failure is logged; a write failure is returned.
func (r *Recorder) Record(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if info, ok := RequestInfoFromContext(ctx); ok {
		if e.IPAddress == "" {
			e.IPAddress = info.IPAddress
		}
		if e.UserAgent == "" {
			e.UserAgent = info.UserAgent
		}
	}

	if r.broker != nil {
		r.publish(ctx, e)
	}
	if r.writer == nil {
		return ErrNoDatabase
	}
	return r.writer.Insert(ctx, e)
}

func (r *Recorder) publish(ctx context.Context, e Event) {
	details, err := json.Marshal(e)
	if err != nil {
		r.logger.Warn("audit: marshal event", "action", e.Action, "error", err)
		return
	}
	slug, _ := e.Details["slug"].(string)
	ev := events.NewEvent(events.TopicModuleAudit, e.Action, slug, details)
	ev.UserID = e.UserID
	ev.TenantID = e.TenantID
	if err := r.broker.Publish(ctx, ev); err != nil {
		r.logger.Warn("audit: publish event", "action", e.Action, "error", err)
	}
}
