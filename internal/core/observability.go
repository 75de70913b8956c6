package core

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AuditStatus summarizes the outcome of an audited operation.
type AuditStatus string

const (
	// AuditStatusOK marks a committed operation.
	AuditStatusOK AuditStatus = "ok"
	// AuditStatusBlocked marks an operation aborted by guard rules.
	AuditStatusBlocked AuditStatus = "blocked"
	// AuditStatusError marks an operation that failed for any other reason.
	AuditStatusError AuditStatus = "error"
)

// AuditEntry records one registry write for the audit trail.
type AuditEntry struct {
	Time       time.Time   `json:"time"`
	Operation  string      `json:"operation"`
	UnitID     string      `json:"unit_id,omitempty"`
	ActorID    string      `json:"actor_id,omitempty"`
	Status     AuditStatus `json:"status"`
	Violations []string    `json:"violations,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// AuditRecorder receives audit entries for registry writes.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// MetricsRecorder observes operation outcomes for aggregation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan terminates a started span.
type TraceSpan interface {
	End(err error)
}

type noopAudit struct{}

func (noopAudit) Record(context.Context, AuditEntry) {}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// SlogAuditRecorder writes audit entries as structured log records and keeps
// them in memory for inspection.
type SlogAuditRecorder struct {
	logger  *slog.Logger
	mu      sync.Mutex
	entries []AuditEntry
}

// NewSlogAuditRecorder constructs a recorder logging through the supplied
// logger, or slog.Default when nil.
func NewSlogAuditRecorder(logger *slog.Logger) *SlogAuditRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditRecorder{logger: logger}
}

// Record implements AuditRecorder.
func (r *SlogAuditRecorder) Record(ctx context.Context, entry AuditEntry) {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()

	attrs := []any{
		slog.String("operation", entry.Operation),
		slog.String("status", string(entry.Status)),
	}
	if entry.UnitID != "" {
		attrs = append(attrs, slog.String("unit_id", entry.UnitID))
	}
	if entry.ActorID != "" {
		attrs = append(attrs, slog.String("actor_id", entry.ActorID))
	}
	if len(entry.Violations) > 0 {
		attrs = append(attrs, slog.Any("violations", entry.Violations))
	}
	if entry.Error != "" {
		attrs = append(attrs, slog.String("error", entry.Error))
	}
	level := slog.LevelInfo
	if entry.Status != AuditStatusOK {
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "registry audit", attrs...)
}

// Entries returns a copy of all recorded audit entries.
func (r *SlogAuditRecorder) Entries() []AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AuditEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
