package records

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Link audit outcomes.
const (
	LinkActive                 = "link_active"
	LinkFixed                  = "link_fixed"
	LinkBroken                 = "link_broken"
	LinkBrokenCantFix          = "link_broken_cantfix"
	LinkBrokenAfterChangeHTTPS = "link_broken_afterchangehttps"
	LinkNotValid               = "link_notvalid"
	LinkNotValidActive         = "link_notvalid_active"
	LinkFlash                  = "link_flash"
)

type LinkRecord struct {
	ID          int64  `db:"id" json:"id"`
	CourseID    int64  `db:"course_id" json:"course_id"`
	ResourceID  int64  `db:"resource_id" json:"resource_id"`
	Version     string `db:"version" json:"version"`
	Action      string `db:"action" json:"action"`
	Link        string `db:"link" json:"link"`
	File        string `db:"file" json:"file"`
	Message     string `db:"message" json:"message"`
	Other       string `db:"other" json:"other"`
	TimeCreated int64  `db:"time_created" json:"time_created"`
}

// ReplaceLinks drops every link record of a version and inserts recs in
// their place, in order.
func (s *Store) ReplaceLinks(ctx context.Context, courseID, resourceID int64, version string, recs []LinkRecord) error {
	now := s.timestamp()
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM resource_links
			WHERE course_id = ? AND resource_id = ? AND version = ?`), courseID, resourceID, version); err != nil {
			return fmt.Errorf("clear links: %w", err)
		}
		stmt, err := tx.PreparexContext(ctx, s.q(`INSERT INTO resource_links
			(course_id, resource_id, version, action, link, file, message, other, time_created)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("prepare link insert: %w", err)
		}
		defer stmt.Close()
		for _, r := range recs {
			other := r.Other
			if other == "" {
				other = "{}"
			}
			if _, err := stmt.ExecContext(ctx, courseID, resourceID, version, r.Action, r.Link, r.File, r.Message, other, now); err != nil {
				return fmt.Errorf("insert link %s: %w", r.Link, err)
			}
		}
		return nil
	})
}

func (s *Store) Links(ctx context.Context, courseID, resourceID int64, version string) ([]LinkRecord, error) {
	var out []LinkRecord
	err := s.db.SelectContext(ctx, &out, s.q(`SELECT id, course_id, resource_id, version, action, link, file, message, other, time_created
		FROM resource_links WHERE course_id = ? AND resource_id = ? AND version = ? ORDER BY id`), courseID, resourceID, version)
	if err != nil {
		return nil, fmt.Errorf("list links of resource %d: %w", resourceID, err)
	}
	return out, nil
}
