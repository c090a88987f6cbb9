package records

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type ProcessedCourse struct {
	CourseID     int64  `db:"course_id" json:"course_id"`
	Processed    bool   `db:"processed" json:"processed"`
	Message      string `db:"message" json:"message"`
	TimeModified int64  `db:"time_modified" json:"time_modified"`
}

func (s *Store) SetProcessed(ctx context.Context, courseID int64, processed bool, message string) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO processed_courses (course_id, processed, message, time_modified)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (course_id) DO UPDATE SET processed = excluded.processed,
			message = excluded.message, time_modified = excluded.time_modified`),
		courseID, processed, message, s.timestamp())
	if err != nil {
		return fmt.Errorf("set processed course %d: %w", courseID, err)
	}
	return nil
}

func (s *Store) ProcessedCourses(ctx context.Context) ([]ProcessedCourse, error) {
	var out []ProcessedCourse
	err := s.db.SelectContext(ctx, &out, `SELECT course_id, processed, message, time_modified
		FROM processed_courses ORDER BY course_id`)
	if err != nil {
		return nil, fmt.Errorf("list processed courses: %w", err)
	}
	return out, nil
}

// LiveFile is the display position of a file in a resource's live area.
type LiveFile struct {
	Filename  string `db:"filename" json:"filename"`
	SortOrder int    `db:"sortorder" json:"sortorder"`
}

func (s *Store) ReplaceLiveFiles(ctx context.Context, courseID, resourceID int64, files []LiveFile) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM live_files WHERE course_id = ? AND resource_id = ?`),
			courseID, resourceID); err != nil {
			return fmt.Errorf("clear live files: %w", err)
		}
		for _, f := range files {
			if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO live_files (course_id, resource_id, filename, sortorder)
				VALUES (?, ?, ?, ?)`), courseID, resourceID, f.Filename, f.SortOrder); err != nil {
				return fmt.Errorf("insert live file %s: %w", f.Filename, err)
			}
		}
		return nil
	})
}

func (s *Store) LiveFiles(ctx context.Context, courseID, resourceID int64) ([]LiveFile, error) {
	var out []LiveFile
	err := s.db.SelectContext(ctx, &out, s.q(`SELECT filename, sortorder FROM live_files
		WHERE course_id = ? AND resource_id = ? ORDER BY sortorder, filename`), courseID, resourceID)
	if err != nil {
		return nil, fmt.Errorf("list live files of resource %d: %w", resourceID, err)
	}
	return out, nil
}
