package records

import (
	"context"
	"encoding/json"
	"fmt"
)

// Audit log actions.
const (
	ActionOriginalCreated  = "version_original_created"
	ActionVersionCreated   = "version_created"
	ActionVersionDeleted   = "version_deleted"
	ActionChangesSaved     = "version_changes_saved"
	ActionVersionApplied   = "version_applied"
	ActionPrintableApplied = "version_printable_applied"
	ActionLinksProcessed   = "process_resource_links"
)

// Event is an audit log entry about to be written. Other is stored as JSON.
type Event struct {
	CourseID   int64
	ResourceID int64
	Action     string
	Version    string
	Other      any
}

// HistoryEntry is a stored audit log row.
type HistoryEntry struct {
	ID          int64  `db:"id" json:"id"`
	CourseID    int64  `db:"course_id" json:"course_id"`
	ResourceID  int64  `db:"resource_id" json:"resource_id"`
	Action      string `db:"action" json:"action"`
	Version     string `db:"version" json:"version"`
	Other       string `db:"other" json:"other"`
	UserID      int64  `db:"user_id" json:"user_id"`
	TimeCreated int64  `db:"time_created" json:"time_created"`
}

// HistoryWriter is the append-only audit log used by the edition components.
type HistoryWriter interface {
	AppendHistory(ctx context.Context, ev Event) error
}

func (s *Store) AppendHistory(ctx context.Context, ev Event) error {
	other := "{}"
	if ev.Other != nil {
		raw, err := json.Marshal(ev.Other)
		if err != nil {
			return fmt.Errorf("encode history %s: %w", ev.Action, err)
		}
		other = string(raw)
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO history
		(course_id, resource_id, action, version, other, user_id, time_created)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		ev.CourseID, ev.ResourceID, ev.Action, ev.Version, other, UserFromContext(ctx), s.timestamp())
	if err != nil {
		return fmt.Errorf("append history %s: %w", ev.Action, err)
	}
	return nil
}

// History lists a resource's audit log, newest first.
func (s *Store) History(ctx context.Context, courseID, resourceID int64) ([]HistoryEntry, error) {
	var out []HistoryEntry
	err := s.db.SelectContext(ctx, &out, s.q(`SELECT id, course_id, resource_id, action, version, other, user_id, time_created
		FROM history WHERE course_id = ? AND resource_id = ? ORDER BY time_created DESC, id DESC`), courseID, resourceID)
	if err != nil {
		return nil, fmt.Errorf("list history of resource %d: %w", resourceID, err)
	}
	return out, nil
}

type userKey struct{}

// WithUser attaches the acting user id to ctx for audit entries.
func WithUser(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

func UserFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(userKey{}).(int64)
	return id
}
