/*
audit.go - Best-effort admin audit trail

PURPOSE:
  Records every administrator-initiated mutation (point adjustments,
  enable/disable, entity CRUD) in a separate append-only log.

DELIBERATELY BEST-EFFORT:
  A failure to write the audit log must never block or roll back the
  business operation it describes. Record swallows errors after logging
  them operationally. The financial invariant lives in the ledger, not
  here.
*/
package ledger

import (
	"context"
	"log"
	"time"
)

// Trail records admin actions against an AuditLog.
type Trail struct {
	Log    AuditLog
	Logger *log.Logger // optional; defaults to the standard logger
}

func NewTrail(auditLog AuditLog) *Trail {
	return &Trail{Log: auditLog}
}

// Record appends an admin log entry. Errors are logged and swallowed.
func (t *Trail) Record(ctx context.Context, adminID string, action AdminAction, target *int64, details string) {
	if t == nil || t.Log == nil {
		return
	}
	_, err := t.Log.AppendAdminLog(ctx, AdminLogEntry{
		AdminID:         adminID,
		TargetAccountID: target,
		Action:          action,
		Details:         details,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		t.logf("[Audit] failed to record %s by %s: %v", action, adminID, err)
	}
}

func (t *Trail) logf(format string, args ...any) {
	if t.Logger != nil {
		t.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
