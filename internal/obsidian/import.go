package obsidian

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ldi/butler/internal/storage"
	"github.com/ldi/butler/pkg/models"
)

// DuplicatePolicy decides what happens when an imported line matches an
// existing task on (normalized title, due date).
type DuplicatePolicy string

const (
	PolicySkip        DuplicatePolicy = "skip"
	PolicyUpdate      DuplicatePolicy = "update"
	PolicyForce       DuplicatePolicy = "force"
	PolicyInteractive DuplicatePolicy = "interactive"
)

// ParsePolicy validates a duplicate policy name.
func ParsePolicy(s string) (DuplicatePolicy, bool) {
	switch DuplicatePolicy(s) {
	case PolicySkip, PolicyUpdate, PolicyForce, PolicyInteractive:
		return DuplicatePolicy(s), true
	}
	return "", false
}

// Choice is an interactive answer for one duplicate. The all variants apply
// to every remaining duplicate in the run.
type Choice string

const (
	ChoiceSkip      Choice = "skip"
	ChoiceUpdate    Choice = "update"
	ChoiceForce     Choice = "force"
	ChoiceAllSkip   Choice = "all-skip"
	ChoiceAllUpdate Choice = "all-update"
)

// PromptFunc asks the user how to handle one duplicate pair.
type PromptFunc func(candidate, existing *models.Task) (Choice, error)

// LinkStyle selects the back-reference written into the source file.
type LinkStyle string

const (
	LinkNone  LinkStyle = ""
	LinkWiki  LinkStyle = "wiki"
	LinkEmbed LinkStyle = "embed"
)

// ParseLinkStyle validates a link style name.
func ParseLinkStyle(s string) (LinkStyle, bool) {
	switch LinkStyle(s) {
	case LinkNone, LinkWiki, LinkEmbed:
		return LinkStyle(s), true
	}
	return "", false
}

// Action is the per-candidate outcome of an import run.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
)

// Result records what the importer did (or would do, under dry-run) with one
// task line.
type Result struct {
	File   string
	Line   int
	Title  string
	Action Action
	Task   *models.Task
}

// Options configures one import run.
type Options struct {
	Recursive bool
	// Pattern filters file names inside a directory; default "*.md".
	Pattern string
	// ExcludeDir is skipped during recursive walks, normally the storage
	// directory itself so exported task files are not re-imported.
	ExcludeDir string
	Policy     DuplicatePolicy
	DryRun     bool
	Link       LinkStyle
	// VaultRoot anchors link references; detected via FindVaultRoot when
	// empty.
	VaultRoot string
}

// Importer scans external markdown files for task lines and creates tasks.
type Importer struct {
	repo   *storage.Repository
	prompt PromptFunc
}

// NewImporter builds an importer. prompt is only consulted under the
// interactive policy and may be nil otherwise.
func NewImporter(repo *storage.Repository, prompt PromptFunc) *Importer {
	return &Importer{repo: repo, prompt: prompt}
}

// FindVaultRoot walks upward from start looking for the .obsidian directory
// that marks an Obsidian vault root.
func FindVaultRoot(start string) (string, bool) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", false
	}
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		dir = filepath.Dir(dir)
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, ".obsidian")); err == nil && info.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// CollectFiles expands an import path into the list of files to scan. A file
// path is returned as-is; a directory is filtered by pattern, recursing when
// asked. Dot-directories and excludeDir are never entered.
func CollectFiles(path string, recursive bool, pattern, excludeDir string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat import path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	if pattern == "" {
		pattern = "*.md"
	}
	exclude := ""
	if excludeDir != "" {
		if abs, err := filepath.Abs(excludeDir); err == nil {
			exclude = abs
		}
	}

	var files []string
	if !recursive {
		matches, err := filepath.Glob(filepath.Join(path, pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid file pattern %q: %w", pattern, err)
		}
		return matches, nil
	}

	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != path {
				return filepath.SkipDir
			}
			if exclude != "" {
				if abs, err := filepath.Abs(p); err == nil && abs == exclude {
					return filepath.SkipDir
				}
			}
			return nil
		}
		ok, err := filepath.Match(pattern, d.Name())
		if err != nil {
			return fmt.Errorf("invalid file pattern %q: %w", pattern, err)
		}
		if ok {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk import directory: %w", err)
	}
	return files, nil
}

// Run imports every task line found under path. Reruns are idempotent under
// the skip and update policies: already-imported lines match their task on
// the duplicate key and are skipped or re-applied.
func (imp *Importer) Run(path string, opts Options) ([]Result, error) {
	if opts.Policy == "" {
		opts.Policy = PolicySkip
	}
	if opts.Policy == PolicyInteractive && imp.prompt == nil {
		return nil, fmt.Errorf("interactive duplicate policy requires a prompt")
	}
	if opts.Link != LinkNone && opts.VaultRoot == "" {
		if root, ok := FindVaultRoot(path); ok {
			opts.VaultRoot = root
		}
	}

	files, err := CollectFiles(path, opts.Recursive, opts.Pattern, opts.ExcludeDir)
	if err != nil {
		return nil, err
	}

	index, err := imp.duplicateIndex()
	if err != nil {
		return nil, err
	}

	var results []Result
	// Set once an all-skip/all-update answer short-circuits later prompts.
	var override DuplicatePolicy

	for _, file := range files {
		fileResults, err := imp.runFile(file, opts, index, &override)
		if err != nil {
			return results, err
		}
		results = append(results, fileResults...)
	}
	return results, nil
}

func (imp *Importer) duplicateIndex() (map[string]*models.Task, error) {
	tasks, _, err := imp.repo.ListAll()
	if err != nil {
		return nil, err
	}
	index := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		index[duplicateKey(t.Title, t.DueDate)] = t
	}
	return index, nil
}

// duplicateKey is the (normalized title, due date) pair: case-insensitive
// trimmed title plus the calendar day. An absent due date only matches
// another absent due date.
func duplicateKey(title string, due *time.Time) string {
	day := "-"
	if due != nil {
		day = due.Format(dateLayout)
	}
	return strings.ToLower(strings.TrimSpace(title)) + "\x00" + day
}

func (imp *Importer) runFile(file string, opts Options, index map[string]*models.Task, override *DuplicatePolicy) ([]Result, error) {
	content, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}

	lines := strings.Split(string(content), "\n")
	var results []Result
	modified := false

	for i, raw := range lines {
		parsed, err := ParseLine(raw)
		if err != nil {
			// Non-task lines are expected and filtered silently.
			if errors.Is(err, ErrNotATaskLine) {
				continue
			}
			return nil, err
		}

		candidate := taskFromLine(parsed, file, i+1)
		result, err := imp.apply(candidate, opts, index, override)
		if err != nil {
			return results, err
		}
		result.File = file
		result.Line = i + 1
		results = append(results, result)

		if result.Action != ActionSkipped && !opts.DryRun && opts.Link != LinkNone {
			lines[i] = linkLine(raw, result.Task, imp.repo.Dir(), opts)
			modified = true
		}
	}

	if modified {
		// The repository writes above have already landed; only now may the
		// external file be touched.
		if err := imp.repo.WriteRaw(file, []byte(strings.Join(lines, "\n"))); err != nil {
			return results, err
		}
	}
	return results, nil
}

// apply decides and executes the action for one candidate, keeping the
// duplicate index current so later lines in the same run dedupe against
// tasks created earlier in it.
func (imp *Importer) apply(candidate *models.Task, opts Options, index map[string]*models.Task, override *DuplicatePolicy) (Result, error) {
	key := duplicateKey(candidate.Title, candidate.DueDate)
	existing := index[key]

	if existing == nil {
		if !opts.DryRun {
			if err := imp.repo.Save(candidate); err != nil {
				return Result{}, err
			}
		}
		index[key] = candidate
		return Result{Title: candidate.Title, Action: ActionCreated, Task: candidate}, nil
	}

	policy := opts.Policy
	if *override != "" {
		policy = *override
	}

	if policy == PolicyInteractive {
		choice, err := imp.prompt(candidate, existing)
		if err != nil {
			return Result{}, err
		}
		switch choice {
		case ChoiceSkip:
			policy = PolicySkip
		case ChoiceUpdate:
			policy = PolicyUpdate
		case ChoiceForce:
			policy = PolicyForce
		case ChoiceAllSkip:
			*override = PolicySkip
			policy = PolicySkip
		case ChoiceAllUpdate:
			*override = PolicyUpdate
			policy = PolicyUpdate
		default:
			return Result{}, fmt.Errorf("unknown duplicate choice: %s", choice)
		}
	}

	switch policy {
	case PolicySkip:
		return Result{Title: candidate.Title, Action: ActionSkipped, Task: existing}, nil
	case PolicyUpdate:
		applyCandidate(existing, candidate)
		if !opts.DryRun {
			if err := imp.repo.Save(existing); err != nil {
				return Result{}, err
			}
		}
		return Result{Title: candidate.Title, Action: ActionUpdated, Task: existing}, nil
	case PolicyForce:
		if !opts.DryRun {
			if err := imp.repo.Save(candidate); err != nil {
				return Result{}, err
			}
		}
		// The forced copy takes over the key; further duplicates of the
		// same line dedupe against it.
		index[key] = candidate
		return Result{Title: candidate.Title, Action: ActionCreated, Task: candidate}, nil
	default:
		return Result{}, fmt.Errorf("unknown duplicate policy: %s", policy)
	}
}

// taskFromLine builds a repository task from a parsed line. The created
// marker's absence is remembered so a later export does not invent one.
func taskFromLine(parsed *ParsedLine, file string, line int) *models.Task {
	t := models.NewTask(parsed.Title)
	t.Priority = parsed.EffectivePriority()
	t.DueDate = parsed.DueDate
	t.ScheduledDate = parsed.ScheduledDate
	t.StartDate = parsed.StartDate
	t.Tags = parsed.Tags
	t.Recurrence = parsed.Recurrence
	t.SourceFile = file
	t.SourceLine = line

	if parsed.CreatedAt != nil {
		t.CreatedAt = *parsed.CreatedAt
	} else {
		t.ObsidianHasCreated = false
	}

	if parsed.Completed {
		t.Status = models.StatusDone
		if parsed.CompletedAt != nil {
			t.CompletedAt = parsed.CompletedAt
		} else {
			now := time.Now()
			t.CompletedAt = &now
		}
	}
	return t
}

// applyCandidate overwrites the update-policy fields. Identity, notes,
// dependencies and hierarchy stay with the existing task.
func applyCandidate(existing, candidate *models.Task) {
	existing.Priority = candidate.Priority
	existing.DueDate = candidate.DueDate
	existing.ScheduledDate = candidate.ScheduledDate
	existing.StartDate = candidate.StartDate
	existing.Tags = candidate.Tags
	existing.Touch()
}

// linkLine replaces an imported source line with a back-reference to the
// task file, keeping the original indentation.
func linkLine(raw string, t *models.Task, storageDir string, opts Options) string {
	indent := raw[:len(raw)-len(strings.TrimLeft(raw, " \t"))]
	ref := linkRef(storageDir, opts.VaultRoot, t)
	if opts.Link == LinkEmbed {
		return indent + "- ![[" + ref + "]]"
	}
	return indent + "- [[" + ref + "|" + t.Title + "]]"
}

// linkRef renders the vault-relative reference Obsidian resolves, falling
// back to the bare file stem when the storage directory sits outside the
// vault.
func linkRef(storageDir, vaultRoot string, t *models.Task) string {
	stem := strings.TrimSuffix(storage.Filename(t), ".md")
	if vaultRoot == "" {
		return stem
	}
	absDir, err := filepath.Abs(storageDir)
	if err != nil {
		return stem
	}
	rel, err := filepath.Rel(vaultRoot, filepath.Join(absDir, stem))
	if err != nil || strings.HasPrefix(rel, "..") {
		return stem
	}
	return filepath.ToSlash(rel)
}
