// Package audit records security-relevant School Docs events in the
// audit_logs table: role write-backs and edits, sign-ups, sign-ins and
// sign-outs.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Actions.
const (
	ActionRoleWriteBack = "role.write_back"
	ActionRoleUpdate    = "role.update"
	ActionSignUp        = "auth.signup"
	ActionLogin         = "auth.login"
	ActionLogout        = "auth.logout"
)

// Entity types.
const (
	EntityRoleRecord = "role_record"
	EntityAccount    = "account"
	EntitySession    = "session"
)

// Sources.
const (
	SourceSession = "session"
	SourceAPI     = "api"
)

// AuditLog is one audit trail entry.
type AuditLog struct { //nolint:revive // audit.AuditLog reads better than audit.Log at call sites
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter selects audit logs. Empty fields match everything.
type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	UserID     string
	Limit      int // default 50, max 200
	Offset     int
}

// ListResult is one page of audit logs.
type ListResult struct {
	Logs   []AuditLog `json:"logs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// Repository stores and queries audit logs.
type Repository interface {
	Create(ctx context.Context, log *AuditLog) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// Record writes entry and logs a failure instead of returning it. A nil
// repo is a no-op.
func Record(ctx context.Context, repo Repository, logger *slog.Logger, entry *AuditLog) {
	if repo == nil {
		return
	}
	if err := repo.Create(ctx, entry); err != nil && logger != nil {
		logger.Warn("audit log write failed",
			"action", entry.Action,
			"entity_id", entry.EntityID,
			"error", err,
		)
	}
}
