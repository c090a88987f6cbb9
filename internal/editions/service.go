// Package editions exposes the operations editors run against a resource:
// version lifecycle, content and TOC edits, link audits and publication.
package editions

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/config"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/content"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/linkcheck"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/publish"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/records"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/slug"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/storage"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/toc"
	"github.com/catedu/fp-distancia-plugin-edicion-materiales/internal/versions"
)

// ErrNotEditable is returned for resources that are not registered as
// editable in their course.
var ErrNotEditable = errors.New("resource is not editable")

// Stylesheets concatenated for the rich text editor, in order.
var editorStylesheets = []string{"base.css", "content.css", "nav.css"}

type Service struct {
	Records   *records.Store
	Repo      storage.Repository
	Versions  *versions.Store
	Content   *content.Editor
	TOC       *toc.Engine
	Links     *linkcheck.Auditor
	Publisher *publish.Publisher
	Logger    *slog.Logger

	now func() time.Time
}

// New wires the edition components over one repository and record store.
func New(cfg *config.Config, repo storage.Repository, store *records.Store, prober linkcheck.Prober, logger *slog.Logger) *Service {
	vs := versions.New(repo, store)
	vs.Logger = logger
	return &Service{
		Records:  store,
		Repo:     repo,
		Versions: vs,
		Content: &content.Editor{
			Repo:      repo,
			History:   store,
			Site:      cfg.SiteURL(),
			AssetBase: cfg.AssetBase,
			Logger:    logger,
		},
		TOC: &toc.Engine{Repo: repo, History: store, Logger: logger},
		Links: &linkcheck.Auditor{
			Repo:        repo,
			Links:       store,
			History:     store,
			Prober:      prober,
			SiteHost:    cfg.SiteHost(),
			Concurrency: cfg.LinkCheck.Concurrency,
			Logger:      logger,
		},
		Publisher: &publish.Publisher{Repo: repo, Registry: store, History: store, Logger: logger},
		Logger:    logger,
		now:       time.Now,
	}
}

// Open builds a service from configuration: the file repository under
// RepositoryRoot, the record store and an HTTP link prober. The returned
// Service owns the store; close it with Close.
func Open(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	timeout, err := cfg.ProbeTimeout()
	if err != nil {
		return nil, err
	}
	store, err := records.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	repo := storage.NewFSStorage(cfg.RepositoryRoot)
	prober := linkcheck.NewHTTPProber(timeout, cfg.LinkCheck.UserAgent)
	return New(cfg, repo, store, prober, logger), nil
}

func (s *Service) Close() error {
	return s.Records.Close()
}

// Resource looks up the course and registration of an editable resource.
func (s *Service) Resource(ctx context.Context, courseID, resourceID int64) (versions.Resource, error) {
	course, ok, err := s.Records.Course(ctx, courseID)
	if err != nil {
		return versions.Resource{}, err
	}
	if !ok {
		return versions.Resource{}, fmt.Errorf("course %d: %w", courseID, records.ErrUnknownCourse)
	}
	ed, ok, err := s.Records.Editable(ctx, courseID, resourceID)
	if err != nil {
		return versions.Resource{}, err
	}
	if !ok || ed.Kind != records.KindEditable {
		return versions.Resource{}, fmt.Errorf("resource %d: %w", resourceID, ErrNotEditable)
	}
	return versions.Resource{CourseID: courseID, Shortname: course.Shortname, ResourceID: resourceID}, nil
}

func (s *Service) handle(ctx context.Context, courseID, resourceID int64, version string) (versions.Handle, bool, error) {
	res, err := s.Resource(ctx, courseID, resourceID)
	if err != nil {
		return versions.Handle{}, false, err
	}
	return s.Versions.Resolve(ctx, res, version)
}

// CreateResult reports the sanitized name a version was created under.
type CreateResult struct {
	OK   bool   `json:"ok"`
	Name string `json:"name"`
}

// CreateVersion clones from into a new version named after name. The name is
// sanitized first and falls back to a timestamp when nothing is left.
func (s *Service) CreateVersion(ctx context.Context, courseID, resourceID int64, name, from string) (CreateResult, error) {
	res, err := s.Resource(ctx, courseID, resourceID)
	if err != nil {
		return CreateResult{}, err
	}
	final := slug.VersionName(name, s.clock())
	ok, err := s.Versions.Create(ctx, res, final, from)
	return CreateResult{OK: ok, Name: final}, err
}

func (s *Service) DeleteVersion(ctx context.Context, courseID, resourceID int64, name string) (bool, error) {
	res, err := s.Resource(ctx, courseID, resourceID)
	if err != nil {
		return false, err
	}
	return s.Versions.Delete(ctx, res, name)
}

func (s *Service) ListVersions(ctx context.Context, courseID, resourceID int64) ([]string, error) {
	res, err := s.Resource(ctx, courseID, resourceID)
	if err != nil {
		return nil, err
	}
	return s.Versions.List(ctx, res)
}

func (s *Service) SaveContentChanges(ctx context.Context, courseID, resourceID int64, version, file, markup, comment string) (bool, error) {
	h, ok, err := s.handle(ctx, courseID, resourceID, version)
	if err != nil || !ok {
		return false, err
	}
	return s.Content.Save(ctx, h, file, markup, comment)
}

// SaveTOCChanges applies an edited outline and returns the refreshed one.
func (s *Service) SaveTOCChanges(ctx context.Context, courseID, resourceID int64, version, markup, comment string) (string, bool, error) {
	h, ok, err := s.handle(ctx, courseID, resourceID, version)
	if err != nil || !ok {
		return "", false, err
	}
	return s.TOC.Apply(ctx, h, markup, comment)
}

// ApplyResult reports the outcome of a publication. PrintableOK is false
// when the resource has no printable.
type ApplyResult struct {
	OK          bool `json:"ok"`
	PrintableOK bool `json:"printable_ok"`
}

// ApplyVersion publishes a version and then its printable rendering.
func (s *Service) ApplyVersion(ctx context.Context, courseID, resourceID int64, version string) (ApplyResult, error) {
	h, ok, err := s.handle(ctx, courseID, resourceID, version)
	if err != nil || !ok {
		return ApplyResult{}, err
	}
	return s.apply(ctx, h)
}

func (s *Service) apply(ctx context.Context, h versions.Handle) (ApplyResult, error) {
	if err := s.Publisher.Publish(ctx, h); err != nil {
		return ApplyResult{}, err
	}
	printable, err := s.Publisher.PublishPrintable(ctx, h)
	if err != nil {
		return ApplyResult{OK: true}, err
	}
	return ApplyResult{OK: true, PrintableOK: printable}, nil
}

// AuditResult is the outcome of a link audit, with the publication result
// when one was requested.
type AuditResult struct {
	OK      bool              `json:"ok"`
	Summary linkcheck.Summary `json:"summary"`
	Applied *ApplyResult      `json:"applied,omitempty"`
}

// AuditLinks checks the links of a version. With autoPublish the version is
// applied afterwards.
func (s *Service) AuditLinks(ctx context.Context, courseID, resourceID int64, version string, autoPublish bool) (AuditResult, error) {
	h, ok, err := s.handle(ctx, courseID, resourceID, version)
	if err != nil || !ok {
		return AuditResult{}, err
	}
	sum, err := s.Links.Audit(ctx, h)
	if err != nil {
		return AuditResult{}, err
	}
	out := AuditResult{OK: true, Summary: sum}
	if autoPublish {
		applied, err := s.apply(ctx, h)
		out.Applied = &applied
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func (s *Service) ContentForEdit(ctx context.Context, courseID, resourceID int64, version, file string) (string, bool, error) {
	h, ok, err := s.handle(ctx, courseID, resourceID, version)
	if err != nil || !ok {
		return "", false, err
	}
	return s.Content.ForEdit(ctx, h, file)
}

func (s *Service) TOCForEdit(ctx context.Context, courseID, resourceID int64, version string) (string, bool, error) {
	h, ok, err := s.handle(ctx, courseID, resourceID, version)
	if err != nil || !ok {
		return "", false, err
	}
	return s.TOC.ForEdit(ctx, h)
}

// NavForEdit renders the version's nav for the editor side bar; link maps a
// page to the URL that opens it in the editor.
func (s *Service) NavForEdit(ctx context.Context, courseID, resourceID int64, version, current string, link func(href string) string) (string, bool, error) {
	h, ok, err := s.handle(ctx, courseID, resourceID, version)
	if err != nil || !ok {
		return "", false, err
	}
	return s.TOC.NavForEdit(ctx, h, current, link)
}

// CSS concatenates the version stylesheets the editor needs. Missing sheets
// are skipped.
func (s *Service) CSS(ctx context.Context, courseID, resourceID int64, version string) (string, bool, error) {
	h, ok, err := s.handle(ctx, courseID, resourceID, version)
	if err != nil || !ok {
		return "", false, err
	}
	var sb strings.Builder
	for _, name := range editorStylesheets {
		raw, err := s.Repo.Read(ctx, h.File(name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", false, err
		}
		sb.Write(raw)
		sb.WriteByte('\n')
	}
	return sb.String(), true, nil
}

// ReadFile returns a file of a version, for serving editor assets.
func (s *Service) ReadFile(ctx context.Context, courseID, resourceID int64, version, name string) ([]byte, bool, error) {
	h, ok, err := s.handle(ctx, courseID, resourceID, version)
	if err != nil || !ok {
		return nil, false, err
	}
	raw, err := s.Repo.Read(ctx, h.File(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// Pages lists the html pages of a version.
func (s *Service) Pages(ctx context.Context, courseID, resourceID int64, version string) ([]string, bool, error) {
	h, ok, err := s.handle(ctx, courseID, resourceID, version)
	if err != nil || !ok {
		return nil, false, err
	}
	entries, err := s.Repo.List(ctx, h.Path)
	if err != nil {
		return nil, false, err
	}
	var pages []string
	for _, e := range entries {
		if !e.IsFolder && strings.HasSuffix(strings.ToLower(e.Title), ".html") {
			pages = append(pages, e.Title)
		}
	}
	return pages, true, nil
}

func (s *Service) History(ctx context.Context, courseID, resourceID int64) ([]records.HistoryEntry, error) {
	return s.Records.History(ctx, courseID, resourceID)
}

func (s *Service) LinkRecords(ctx context.Context, courseID, resourceID int64, version string) ([]records.LinkRecord, error) {
	return s.Records.Links(ctx, courseID, resourceID, version)
}

func (s *Service) Editables(ctx context.Context, courseID int64) ([]records.Editable, error) {
	return s.Records.Editables(ctx, courseID)
}

func (s *Service) ProcessedCourses(ctx context.Context) ([]records.ProcessedCourse, error) {
	return s.Records.ProcessedCourses(ctx)
}

// RegisterResource records a course resource as editable, optionally with
// its printable counterpart, and materializes its original version from the
// live files. printableID 0 means the resource has no printable.
func (s *Service) RegisterResource(ctx context.Context, course records.Course, resourceID, printableID int64) error {
	if err := s.Records.PutCourse(ctx, course); err != nil {
		return err
	}
	if _, err := s.Records.Register(ctx, course.ID, resourceID, records.KindEditable); err != nil {
		return err
	}
	if printableID != 0 {
		if _, err := s.Records.Register(ctx, course.ID, printableID, records.KindPrintable); err != nil {
			return err
		}
		if err := s.Records.LinkPrintable(ctx, course.ID, resourceID, printableID); err != nil {
			return err
		}
	}
	res := versions.Resource{CourseID: course.ID, Shortname: course.Shortname, ResourceID: resourceID}
	if err := s.Versions.Init(ctx, res); err != nil {
		return err
	}
	if s.Logger != nil {
		s.Logger.Info("resource registered", "course", course.Shortname, "resource", resourceID, "printable", printableID)
	}
	return nil
}

// ProcessCourse registers every listed resource of a course and records the
// outcome as the course's processed status.
func (s *Service) ProcessCourse(ctx context.Context, course records.Course, resources map[int64]int64) error {
	var failed []string
	for _, resourceID := range slices.Sorted(maps.Keys(resources)) {
		printableID := resources[resourceID]
		if err := s.RegisterResource(ctx, course, resourceID, printableID); err != nil {
			if s.Logger != nil {
				s.Logger.Warn("resource registration failed", "course", course.Shortname, "resource", resourceID, "error", err)
			}
			failed = append(failed, fmt.Sprintf("%d: %v", resourceID, err))
		}
	}
	message := ""
	if len(failed) > 0 {
		message = strings.Join(failed, "; ")
	}
	if err := s.Records.SetProcessed(ctx, course.ID, len(failed) == 0, message); err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("process course %s: %d of %d resources failed", course.Shortname, len(failed), len(resources))
	}
	return nil
}

// DeleteResource drops a resource registration, its printable link and
// every stored version.
func (s *Service) DeleteResource(ctx context.Context, courseID, resourceID int64) error {
	res, err := s.Resource(ctx, courseID, resourceID)
	if err != nil {
		return err
	}
	if err := s.Records.DeleteResource(ctx, courseID, resourceID); err != nil {
		return err
	}
	if err := s.Repo.Delete(ctx, res.Root()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete versions of resource %d: %w", resourceID, err)
	}
	return nil
}

func (s *Service) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// TruncateComment shortens an editor comment to limit runes.
func TruncateComment(comment string, limit int) string {
	comment = strings.TrimSpace(comment)
	if limit <= 0 || utf8.RuneCountInString(comment) <= limit {
		return comment
	}
	runes := []rune(comment)
	return string(runes[:limit])
}
