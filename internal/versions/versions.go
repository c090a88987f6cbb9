package versions

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	debversion "pault.ag/go/debian/version"

	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/records"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/storage"
)

// Original is the baseline version every resource has. It cannot be deleted.
const Original = "original"

// PrintableFolder holds the flattened rendering inside a version.
const PrintableFolder = "printable"

// Resource identifies an editable document set and where it lives.
type Resource struct {
	CourseID   int64
	Shortname  string
	ResourceID int64
}

// Root is the folder holding every version of the resource.
func (r Resource) Root() string {
	return storage.Join("editions", r.Shortname, strconv.FormatInt(r.ResourceID, 10))
}

// LiveDir is the folder students are served the resource from.
func (r Resource) LiveDir() string {
	return LiveDir(r.Shortname, r.ResourceID)
}

func LiveDir(shortname string, resourceID int64) string {
	return storage.Join("live", shortname, strconv.FormatInt(resourceID, 10))
}

// Handle points at one existing version of a resource.
type Handle struct {
	Resource Resource
	Name     string
	Path     string
}

func (h Handle) File(name string) string {
	return storage.Join(h.Path, name)
}

// MissingBaselineError is returned when the original version has to be
// created but the resource has no live files to copy from.
type MissingBaselineError struct {
	Resource Resource
}

func (e *MissingBaselineError) Error() string {
	return fmt.Sprintf("no baseline files for resource %d of course %s", e.Resource.ResourceID, e.Resource.Shortname)
}

type Store struct {
	Repo    storage.Repository
	History records.HistoryWriter
	Logger  *slog.Logger
}

func New(repo storage.Repository, history records.HistoryWriter) *Store {
	return &Store{Repo: repo, History: history}
}

// Init makes sure the resource folder and its original version exist,
// copying the live files in as the original when it is missing.
func (s *Store) Init(ctx context.Context, res Resource) error {
	root := res.Root()
	if err := s.Repo.Mkdir(ctx, root); err != nil {
		return fmt.Errorf("init resource folder: %w", err)
	}
	original := storage.Join(root, Original)
	exists, err := storage.Exists(ctx, s.Repo, original)
	if err != nil {
		return fmt.Errorf("init original: %w", err)
	}
	if exists {
		return nil
	}

	baseline, err := storage.Files(ctx, s.Repo, res.LiveDir(), nil)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("list baseline: %w", err)
	}
	if len(baseline) == 0 {
		return &MissingBaselineError{Resource: res}
	}
	if err := storage.CopyTree(ctx, s.Repo, res.LiveDir(), original, nil); err != nil {
		_ = s.Repo.Delete(ctx, original)
		return fmt.Errorf("copy baseline: %w", err)
	}
	if s.Logger != nil {
		s.Logger.Info("original version created", "course", res.Shortname, "resource", res.ResourceID, "files", len(baseline))
	}
	return s.record(ctx, res, records.ActionOriginalCreated, Original, nil)
}

// List returns the version names of a resource, original first.
func (s *Store) List(ctx context.Context, res Resource) ([]string, error) {
	if err := s.Init(ctx, res); err != nil {
		return nil, err
	}
	entries, err := s.Repo.List(ctx, res.Root())
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsFolder {
			names = append(names, e.Title)
		}
	}
	Sort(names)
	return names, nil
}

// Resolve finds an existing version. A missing version is not an error.
func (s *Store) Resolve(ctx context.Context, res Resource, name string) (Handle, bool, error) {
	if !validName(name) {
		return Handle{}, false, nil
	}
	if err := s.Init(ctx, res); err != nil {
		return Handle{}, false, err
	}
	path := storage.Join(res.Root(), name)
	exists, err := storage.Exists(ctx, s.Repo, path)
	if err != nil {
		return Handle{}, false, fmt.Errorf("resolve version %s: %w", name, err)
	}
	if !exists {
		return Handle{}, false, nil
	}
	return Handle{Resource: res, Name: name, Path: path}, true, nil
}

// Create clones from into a new version called name. It reports false when
// name is taken or from does not exist; nothing is written in that case.
func (s *Store) Create(ctx context.Context, res Resource, name, from string) (bool, error) {
	if from == "" {
		from = Original
	}
	if !validName(name) {
		return false, nil
	}
	existing, err := s.List(ctx, res)
	if err != nil {
		return false, err
	}
	for _, v := range existing {
		if v == name {
			return false, nil
		}
	}
	src, ok, err := s.Resolve(ctx, res, from)
	if err != nil || !ok {
		return false, err
	}

	dst := storage.Join(res.Root(), name)
	skip := func(folder string) bool { return folder == PrintableFolder }
	if err := storage.CopyTree(ctx, s.Repo, src.Path, dst, skip); err != nil {
		_ = s.Repo.Delete(ctx, dst)
		return false, fmt.Errorf("create version %s: %w", name, err)
	}
	if s.Logger != nil {
		s.Logger.Info("version created", "course", res.Shortname, "resource", res.ResourceID, "version", name, "from", from)
	}
	other := map[string]string{"version_created_asofversion": from}
	return true, s.record(ctx, res, records.ActionVersionCreated, name, other)
}

// Delete removes a version. The original and unknown versions report false.
func (s *Store) Delete(ctx context.Context, res Resource, name string) (bool, error) {
	if name == Original {
		return false, nil
	}
	h, ok, err := s.Resolve(ctx, res, name)
	if err != nil || !ok {
		return false, err
	}
	if err := s.Repo.Delete(ctx, h.Path); err != nil {
		return false, fmt.Errorf("delete version %s: %w", name, err)
	}
	if s.Logger != nil {
		s.Logger.Info("version deleted", "course", res.Shortname, "resource", res.ResourceID, "version", name)
	}
	return true, s.record(ctx, res, records.ActionVersionDeleted, name, nil)
}

func (s *Store) record(ctx context.Context, res Resource, action, version string, other any) error {
	if s.History == nil {
		return nil
	}
	return s.History.AppendHistory(ctx, records.Event{
		CourseID:   res.CourseID,
		ResourceID: res.ResourceID,
		Action:     action,
		Version:    version,
		Other:      other,
	})
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// Sort orders version names with the original first, then names that read as
// version numbers in numeric order, then everything else alphabetically.
func Sort(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		return less(names[i], names[j])
	})
}

func less(a, b string) bool {
	if a == Original || b == Original {
		return a == Original && b != Original
	}
	va, errA := debversion.Parse(a)
	vb, errB := debversion.Parse(b)
	switch {
	case errA == nil && errB == nil:
		if c := debversion.Compare(va, vb); c != 0 {
			return c < 0
		}
		return a < b
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}
