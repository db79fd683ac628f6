package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ldi/butler/pkg/models"
)

// LineEncoder renders a task as an embedded Obsidian Tasks line. Injected so
// this package stays independent of the task-line codec.
type LineEncoder func(*models.Task) string

// Repository stores each task as one markdown file under dir. Writes are
// atomic per file (temp file + rename); there is no cross-file transaction
// because the CLI is single-user and sequential.
type Repository struct {
	dir        string
	format     Format
	encodeLine LineEncoder
}

// NewRepository creates the storage directory if needed. encodeLine may be
// nil when format is FormatFrontmatter.
func NewRepository(dir string, format Format, encodeLine LineEncoder) (*Repository, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if format == "" {
		format = FormatFrontmatter
	}
	return &Repository{dir: dir, format: format, encodeLine: encodeLine}, nil
}

// Dir returns the storage directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Format returns the write-time storage format.
func (r *Repository) Format() Format {
	return r.format
}

// Filename builds the canonical file name for a task:
// <shortid>_<sanitized title>.md.
func Filename(t *models.Task) string {
	return t.ShortID() + "_" + sanitizeTitle(t.Title) + ".md"
}

func sanitizeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
		if b.Len() >= 60 {
			break
		}
	}
	s := strings.Trim(b.String(), "_")
	if s == "" {
		s = "task"
	}
	return s
}

// Save writes the task file atomically. A rename after a title change
// removes the old file so exactly one file exists per task.
func (r *Repository) Save(t *models.Task) error {
	var line string
	if r.format == FormatHybrid && r.encodeLine != nil {
		line = r.encodeLine(t)
	}

	content, err := Encode(t, line)
	if err != nil {
		return err
	}

	existing, _ := r.pathFor(t.ID)
	target := filepath.Join(r.dir, Filename(t))

	if err := writeFileAtomic(target, content); err != nil {
		return err
	}
	if existing != "" && existing != target {
		if err := os.Remove(existing); err != nil {
			return fmt.Errorf("failed to remove renamed task file: %w", err)
		}
	}
	return nil
}

func writeFileAtomic(target string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".butler-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write task file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close task file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace task file: %w", err)
	}
	return nil
}

// pathFor locates the file for a full task id by its short-id file prefix,
// confirming the frontmatter id to guard against prefix collisions.
func (r *Repository) pathFor(id string) (string, error) {
	if len(id) < models.ShortIDLength {
		return "", ErrNotFound
	}
	matches, err := filepath.Glob(filepath.Join(r.dir, id[:models.ShortIDLength]+"_*.md"))
	if err != nil {
		return "", fmt.Errorf("failed to scan storage directory: %w", err)
	}
	for _, path := range matches {
		t, _, err := r.loadPath(path)
		if err != nil {
			continue
		}
		if t.ID == id {
			return path, nil
		}
	}
	return "", ErrNotFound
}

func (r *Repository) loadPath(path string) (*models.Task, string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read task file: %w", err)
	}
	return Decode(content, path)
}

// Load returns the task with the exact id, or ErrNotFound.
func (r *Repository) Load(id string) (*models.Task, error) {
	path, err := r.pathFor(id)
	if err != nil {
		return nil, err
	}
	t, _, err := r.loadPath(path)
	return t, err
}

// Find resolves a full id or short-id prefix. It returns ErrNotFound when
// nothing matches and *AmbiguousError when a prefix matches several tasks,
// so every caller has to handle the multi-match case.
func (r *Repository) Find(ref string) (*models.Task, error) {
	if ref == "" {
		return nil, ErrNotFound
	}

	if len(ref) >= models.ShortIDLength {
		if t, err := r.Load(ref); err == nil {
			return t, nil
		}
	}

	tasks, _, err := r.ListAll()
	if err != nil {
		return nil, err
	}

	var matches []*models.Task
	for _, t := range tasks {
		if strings.HasPrefix(t.ID, ref) {
			matches = append(matches, t)
		}
	}

	switch len(matches) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return nil, &AmbiguousError{Ref: ref, Matches: matches}
	}
}

// Delete removes the task's file. Dependency protection is enforced by the
// manager before this is called.
func (r *Repository) Delete(id string) error {
	path, err := r.pathFor(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete task file: %w", err)
	}
	return nil
}

// ListAll loads every task in the storage directory. Malformed files are
// skipped and returned as warnings so bulk operations can continue.
func (r *Repository) ListAll() ([]*models.Task, []*MalformedFileError, error) {
	paths, err := filepath.Glob(filepath.Join(r.dir, "*.md"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan storage directory: %w", err)
	}
	sort.Strings(paths)

	var tasks []*models.Task
	var warnings []*MalformedFileError
	for _, path := range paths {
		t, _, err := r.loadPath(path)
		if err != nil {
			var malformed *MalformedFileError
			if ok := asMalformed(err, &malformed); ok {
				warnings = append(warnings, malformed)
				continue
			}
			return nil, nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, warnings, nil
}

func asMalformed(err error, target **MalformedFileError) bool {
	m, ok := err.(*MalformedFileError)
	if ok {
		*target = m
	}
	return ok
}

// Filter narrows a List call. Zero values mean no filtering; done and
// cancelled tasks are excluded unless IncludeDone is set or Status asks for
// them explicitly.
type Filter struct {
	Status      models.Status
	Priority    models.Priority
	Project     string
	Tag         string
	ParentID    string
	RootsOnly   bool
	IncludeDone bool
}

// List returns tasks matching the filter.
func (r *Repository) List(f Filter) ([]*models.Task, []*MalformedFileError, error) {
	tasks, warnings, err := r.ListAll()
	if err != nil {
		return nil, nil, err
	}

	var out []*models.Task
	for _, t := range tasks {
		if f.Status != "" {
			if t.Status != f.Status {
				continue
			}
		} else if !f.IncludeDone && !t.IsOpen() {
			continue
		}
		if f.Priority != "" && t.Priority != f.Priority {
			continue
		}
		if f.Project != "" && t.Project != f.Project {
			continue
		}
		if f.Tag != "" && !hasTag(t, f.Tag) {
			continue
		}
		if f.RootsOnly && t.ParentID != "" {
			continue
		}
		if f.ParentID != "" && t.ParentID != f.ParentID {
			continue
		}
		out = append(out, t)
	}
	return out, warnings, nil
}

func hasTag(t *models.Task, tag string) bool {
	for _, existing := range t.Tags {
		if existing == tag {
			return true
		}
	}
	return false
}

// Children returns the direct children of a task.
func (r *Repository) Children(parentID string) ([]*models.Task, error) {
	tasks, _, err := r.ListAll()
	if err != nil {
		return nil, err
	}
	var out []*models.Task
	for _, t := range tasks {
		if t.ParentID == parentID {
			out = append(out, t)
		}
	}
	return out, nil
}

// Dependents returns the tasks whose dependencies include id.
func (r *Repository) Dependents(id string) ([]*models.Task, error) {
	tasks, _, err := r.ListAll()
	if err != nil {
		return nil, err
	}
	var out []*models.Task
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if dep == id {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

// Projects returns the sorted set of project labels in use.
func (r *Repository) Projects() ([]string, error) {
	tasks, _, err := r.ListAll()
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, t := range tasks {
		if t.Project != "" {
			seen[t.Project] = true
		}
	}
	return sortedKeys(seen), nil
}

// Tags returns the sorted set of tags in use.
func (r *Repository) Tags() ([]string, error) {
	tasks, _, err := r.ListAll()
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, t := range tasks {
		for _, tag := range t.Tags {
			seen[tag] = true
		}
	}
	return sortedKeys(seen), nil
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Search matches the query against title and description, case-insensitive.
func (r *Repository) Search(query string) ([]*models.Task, error) {
	tasks, _, err := r.ListAll()
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(query)
	var out []*models.Task
	for _, t := range tasks {
		if strings.Contains(strings.ToLower(t.Title), query) ||
			strings.Contains(strings.ToLower(t.Description), query) {
			out = append(out, t)
		}
	}
	return out, nil
}

// RawFile returns the path and raw content of a task's file. The
// reconciliation engine uses it to inspect and rewrite embedded task lines.
func (r *Repository) RawFile(id string) (string, []byte, error) {
	path, err := r.pathFor(id)
	if err != nil {
		return "", nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read task file: %w", err)
	}
	return path, content, nil
}

// WriteRaw atomically replaces a task file's content verbatim. Only the
// reconciliation engine should need this.
func (r *Repository) WriteRaw(path string, content []byte) error {
	return writeFileAtomic(path, content)
}
