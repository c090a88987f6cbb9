package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type Course struct {
	ID        int64  `db:"id" json:"id"`
	Shortname string `db:"shortname" json:"shortname"`
}

// Editable is the registration of a resource the edition engine manages.
type Editable struct {
	ID              int64         `db:"id" json:"id"`
	CourseID        int64         `db:"course_id" json:"course_id"`
	ResourceID      int64         `db:"resource_id" json:"resource_id"`
	Kind            Kind          `db:"kind" json:"kind"`
	RelatedResource sql.NullInt64 `db:"related_resource" json:"-"`
	Version         string        `db:"version" json:"version"`
	TimeCreated     int64         `db:"time_created" json:"time_created"`
	TimeModified    int64         `db:"time_modified" json:"time_modified"`
}

// Related returns the resource id on the other side of the
// editable/printable relation.
func (e Editable) Related() (int64, bool) {
	return e.RelatedResource.Int64, e.RelatedResource.Valid
}

var (
	ErrKindMismatch    = errors.New("resource kind mismatch")
	ErrAlreadyLinked   = errors.New("printable already linked to another resource")
	ErrUnknownCourse   = errors.New("unknown course")
	ErrUnknownEditable = errors.New("unknown resource")
)

func (s *Store) PutCourse(ctx context.Context, c Course) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO courses (id, shortname) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET shortname = excluded.shortname`), c.ID, c.Shortname)
	if err != nil {
		return fmt.Errorf("put course %d: %w", c.ID, err)
	}
	return nil
}

func (s *Store) Course(ctx context.Context, id int64) (Course, bool, error) {
	var c Course
	err := s.db.GetContext(ctx, &c, s.q(`SELECT id, shortname FROM courses WHERE id = ?`), id)
	if notFound(err) {
		return Course{}, false, nil
	}
	if err != nil {
		return Course{}, false, fmt.Errorf("get course %d: %w", id, err)
	}
	return c, true, nil
}

// Register records resourceID as a resource of the given kind. Registering
// the same resource twice returns the existing row.
func (s *Store) Register(ctx context.Context, courseID, resourceID int64, kind Kind) (Editable, error) {
	if !kind.Valid() {
		return Editable{}, fmt.Errorf("register resource %d: invalid kind", resourceID)
	}
	now := s.timestamp()
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO editables
		(course_id, resource_id, kind, version, time_created, time_modified)
		VALUES (?, ?, ?, 'original', ?, ?)
		ON CONFLICT (course_id, resource_id) DO NOTHING`), courseID, resourceID, kind, now, now)
	if err != nil {
		return Editable{}, fmt.Errorf("register resource %d: %w", resourceID, err)
	}
	e, ok, err := s.Editable(ctx, courseID, resourceID)
	if err != nil {
		return Editable{}, err
	}
	if !ok {
		return Editable{}, fmt.Errorf("register resource %d: %w", resourceID, ErrUnknownEditable)
	}
	if e.Kind != kind {
		return Editable{}, fmt.Errorf("register resource %d as %s: %w", resourceID, kind, ErrKindMismatch)
	}
	return e, nil
}

const editableColumns = `id, course_id, resource_id, kind, related_resource, version, time_created, time_modified`

func (s *Store) Editable(ctx context.Context, courseID, resourceID int64) (Editable, bool, error) {
	return getEditable(ctx, s.db, s.q, courseID, resourceID)
}

func getEditable(ctx context.Context, q sqlx.QueryerContext, rebind func(string) string, courseID, resourceID int64) (Editable, bool, error) {
	var e Editable
	err := sqlx.GetContext(ctx, q, &e, rebind(`SELECT `+editableColumns+` FROM editables
		WHERE course_id = ? AND resource_id = ?`), courseID, resourceID)
	if notFound(err) {
		return Editable{}, false, nil
	}
	if err != nil {
		return Editable{}, false, fmt.Errorf("get resource %d: %w", resourceID, err)
	}
	return e, true, nil
}

// Editables lists the registrations of a course, editables first.
func (s *Store) Editables(ctx context.Context, courseID int64) ([]Editable, error) {
	var out []Editable
	err := s.db.SelectContext(ctx, &out, s.q(`SELECT `+editableColumns+` FROM editables
		WHERE course_id = ? ORDER BY kind, resource_id`), courseID)
	if err != nil {
		return nil, fmt.Errorf("list resources of course %d: %w", courseID, err)
	}
	return out, nil
}

// LinkPrintable ties an editable resource to its printable counterpart. Both
// sides are checked and updated in one transaction.
func (s *Store) LinkPrintable(ctx context.Context, courseID, editableID, printableID int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		ed, ok, err := getEditable(ctx, tx, s.q, courseID, editableID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("link printable: resource %d: %w", editableID, ErrUnknownEditable)
		}
		pr, ok, err := getEditable(ctx, tx, s.q, courseID, printableID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("link printable: resource %d: %w", printableID, ErrUnknownEditable)
		}
		if ed.Kind != KindEditable || pr.Kind != KindPrintable {
			return fmt.Errorf("link printable %d to %d: %w", printableID, editableID, ErrKindMismatch)
		}
		if rel, linked := pr.Related(); linked && rel != editableID {
			return fmt.Errorf("link printable %d: %w", printableID, ErrAlreadyLinked)
		}
		if rel, linked := ed.Related(); linked && rel != printableID {
			if _, err := tx.ExecContext(ctx, s.q(`UPDATE editables SET related_resource = NULL
				WHERE course_id = ? AND resource_id = ?`), courseID, rel); err != nil {
				return fmt.Errorf("unlink previous printable: %w", err)
			}
		}
		now := s.timestamp()
		for _, pair := range [][2]int64{{editableID, printableID}, {printableID, editableID}} {
			if _, err := tx.ExecContext(ctx, s.q(`UPDATE editables SET related_resource = ?, time_modified = ?
				WHERE course_id = ? AND resource_id = ?`), pair[1], now, courseID, pair[0]); err != nil {
				return fmt.Errorf("link printable: %w", err)
			}
		}
		return nil
	})
}

// PrintableFor returns the printable linked to an editable resource.
func (s *Store) PrintableFor(ctx context.Context, courseID, resourceID int64) (Editable, bool, error) {
	ed, ok, err := s.Editable(ctx, courseID, resourceID)
	if err != nil || !ok {
		return Editable{}, false, err
	}
	rel, linked := ed.Related()
	if ed.Kind != KindEditable || !linked {
		return Editable{}, false, nil
	}
	pr, ok, err := s.Editable(ctx, courseID, rel)
	if err != nil || !ok {
		return Editable{}, false, err
	}
	if pr.Kind != KindPrintable {
		return Editable{}, false, nil
	}
	return pr, true, nil
}

func (s *Store) SetVersion(ctx context.Context, courseID, resourceID int64, version string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE editables SET version = ?, time_modified = ?
		WHERE course_id = ? AND resource_id = ?`), version, s.timestamp(), courseID, resourceID)
	if err != nil {
		return fmt.Errorf("set version of resource %d: %w", resourceID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set version of resource %d: %w", resourceID, ErrUnknownEditable)
	}
	return nil
}

// DeleteResource removes a registration together with its linked printable.
func (s *Store) DeleteResource(ctx context.Context, courseID, resourceID int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		e, ok, err := getEditable(ctx, tx, s.q, courseID, resourceID)
		if err != nil || !ok {
			return err
		}
		ids := []int64{resourceID}
		if rel, linked := e.Related(); linked {
			ids = append(ids, rel)
		}
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, s.q(`UPDATE editables SET related_resource = NULL
				WHERE course_id = ? AND resource_id = ?`), courseID, id); err != nil {
				return fmt.Errorf("unlink resource %d: %w", id, err)
			}
		}
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM editables
				WHERE course_id = ? AND resource_id = ?`), courseID, id); err != nil {
				return fmt.Errorf("delete resource %d: %w", id, err)
			}
		}
		return nil
	})
}
