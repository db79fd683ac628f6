package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ldi/butler/internal/config"
	"github.com/ldi/butler/internal/core"
	"github.com/ldi/butler/internal/mcp"
	"github.com/ldi/butler/internal/obsidian"
	"github.com/ldi/butler/internal/storage"
	"github.com/ldi/butler/internal/ui"
	"github.com/ldi/butler/pkg/models"
)

const version = "0.1.0"

var (
	configPath string
	dirFlag    string
	formatFlag string
)

func main() {
	flag.StringVar(&configPath, "config", "", "Path to config file (default ~/.butler/config.toml)")
	flag.StringVar(&dirFlag, "dir", "", "Task storage directory")
	flag.StringVar(&formatFlag, "format", "", "Storage format (frontmatter or hybrid)")
	flag.Parse()

	var command string
	var args []string

	if flag.NArg() == 0 {
		selected, err := ui.RunMenu()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error running menu: %v\n", err)
			os.Exit(1)
		}
		if selected == "" {
			os.Exit(0)
		}
		fields := strings.Fields(selected)
		command = fields[0]
		args = fields[1:]
	} else {
		command = flag.Arg(0)
		args = flag.Args()[1:]
	}

	var err error
	switch command {
	case "add":
		err = runAdd(args)
	case "list":
		err = runList(args)
	case "show":
		err = runShow(args)
	case "tree":
		err = runTree(args)
	case "start":
		err = runStart(args)
	case "done":
		err = runDone(args)
	case "cancel":
		err = runCancel(args)
	case "delete":
		err = runDelete(args)
	case "note":
		err = runNote(args)
	case "update":
		err = runUpdate(args)
	case "search":
		err = runSearch(args)
	case "projects":
		err = runProjects(args)
	case "tags":
		err = runTags(args)
	case "obsidian":
		err = runObsidian(args)
	case "config":
		err = runConfig(args)
	case "mcp":
		err = runMCP(args)
	case "version":
		fmt.Printf("butler %s\n", version)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	if configPath != "" {
		return config.LoadFrom(configPath)
	}
	return config.Load()
}

func openManager() (*core.TaskManager, error) {
	cfg := loadConfig()
	repo, err := storage.NewRepository(cfg.StorageDir(dirFlag), cfg.Format(formatFlag), obsidian.EncodeLine)
	if err != nil {
		return nil, err
	}
	return core.NewTaskManager(repo), nil
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return &d, nil
}

func fmtDate(d *time.Time) string {
	if d == nil {
		return "-"
	}
	return d.Format("2006-01-02")
}

func runAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	desc := fs.String("desc", "", "Task description")
	priority := fs.String("priority", "", "Priority (lowest, low, medium, high, urgent)")
	due := fs.String("due", "", "Due date (YYYY-MM-DD)")
	scheduled := fs.String("scheduled", "", "Scheduled date (YYYY-MM-DD)")
	start := fs.String("start", "", "Start date (YYYY-MM-DD)")
	estimate := fs.Float64("estimate", 0, "Estimated hours")
	tags := fs.String("tags", "", "Comma-separated tags")
	project := fs.String("project", "", "Project label")
	parent := fs.String("parent", "", "Parent task id")
	deps := fs.String("deps", "", "Comma-separated dependency task ids")
	recur := fs.String("recur", "", "Recurrence phrase, e.g. 'every 2 weeks'")
	recurEnd := fs.String("recur-end", "", "Recurrence end date (YYYY-MM-DD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: butler add <title> [flags]")
	}
	title := strings.Join(fs.Args(), " ")

	opts := core.AddOptions{
		Description:    *desc,
		EstimatedHours: *estimate,
		Project:        *project,
		ParentRef:      *parent,
		Tags:           splitList(*tags),
		DependencyRefs: splitList(*deps),
	}
	if *priority != "" {
		p, ok := models.ParsePriority(*priority)
		if !ok {
			return fmt.Errorf("unknown priority %q", *priority)
		}
		opts.Priority = p
	}
	var err error
	if opts.DueDate, err = parseDate(*due); err != nil {
		return err
	}
	if opts.ScheduledDate, err = parseDate(*scheduled); err != nil {
		return err
	}
	if opts.StartDate, err = parseDate(*start); err != nil {
		return err
	}
	if *recur != "" {
		rule, ok := obsidian.ParseRecurrence(*recur)
		if !ok {
			return fmt.Errorf("unknown recurrence phrase %q", *recur)
		}
		if rule.EndDate, err = parseDate(*recurEnd); err != nil {
			return err
		}
		opts.Recurrence = rule
	}

	manager, err := openManager()
	if err != nil {
		return err
	}
	t, err := manager.Add(title, opts)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Created task %s: %s\n", t.ShortID(), t.Title)
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	status := fs.String("status", "", "Filter by status (pending, in_progress, done, cancelled)")
	priority := fs.String("priority", "", "Filter by priority")
	project := fs.String("project", "", "Filter by project")
	tag := fs.String("tag", "", "Filter by tag")
	all := fs.Bool("all", false, "Include done and cancelled tasks")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := storage.Filter{Project: *project, Tag: *tag, IncludeDone: *all}
	if *status != "" {
		s, ok := models.ParseStatus(*status)
		if !ok {
			return fmt.Errorf("unknown status %q", *status)
		}
		filter.Status = s
	}
	if *priority != "" {
		p, ok := models.ParsePriority(*priority)
		if !ok {
			return fmt.Errorf("unknown priority %q", *priority)
		}
		filter.Priority = p
	}

	manager, err := openManager()
	if err != nil {
		return err
	}
	tasks, warnings, err := manager.List(filter)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "Warning: skipping malformed file: %v\n", w)
	}

	fmt.Printf("%-10s %-40s %-8s %-12s %-10s\n", "ID", "TITLE", "PRIORITY", "STATUS", "DUE")
	fmt.Println(strings.Repeat("-", 84))
	for _, t := range tasks {
		fmt.Printf("%-10s %-40s %-8s %-12s %-10s\n",
			t.ShortID(), truncate(t.Title, 40), t.Priority, t.Status, fmtDate(t.DueDate))
	}
	return nil
}

func runShow(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: butler show <id>")
	}
	manager, err := openManager()
	if err != nil {
		return err
	}
	t, err := manager.Get(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s  %s\n", t.ShortID(), t.Title)
	fmt.Printf("  Status:    %s\n", t.Status)
	fmt.Printf("  Priority:  %s\n", t.Priority)
	if t.Description != "" {
		fmt.Printf("  Description: %s\n", t.Description)
	}
	if t.Project != "" {
		fmt.Printf("  Project:   %s\n", t.Project)
	}
	if len(t.Tags) > 0 {
		fmt.Printf("  Tags:      %s\n", strings.Join(t.Tags, ", "))
	}
	if t.DueDate != nil {
		fmt.Printf("  Due:       %s\n", fmtDate(t.DueDate))
	}
	if t.ScheduledDate != nil {
		fmt.Printf("  Scheduled: %s\n", fmtDate(t.ScheduledDate))
	}
	if t.StartDate != nil {
		fmt.Printf("  Start:     %s\n", fmtDate(t.StartDate))
	}
	if t.CompletedAt != nil {
		fmt.Printf("  Completed: %s\n", t.CompletedAt.Format("2006-01-02 15:04"))
	}
	if t.EstimatedHours > 0 {
		fmt.Printf("  Estimate:  %.1fh\n", t.EstimatedHours)
	}
	if t.ActualHours > 0 {
		fmt.Printf("  Actual:    %.1fh\n", t.ActualHours)
	}
	if t.ParentID != "" {
		fmt.Printf("  Parent:    %.8s\n", t.ParentID)
	}
	for _, dep := range t.Dependencies {
		fmt.Printf("  Depends on: %.8s\n", dep)
	}
	if t.Recurrence != nil {
		fmt.Printf("  Repeats:   %s\n", obsidian.FormatRecurrence(t.Recurrence))
	}
	if len(t.Notes) > 0 {
		fmt.Println("  Notes:")
		for _, n := range t.Notes {
			fmt.Printf("    - [%s] %s\n", n.CreatedAt.Format("2006-01-02 15:04"), n.Content)
		}
	}
	return nil
}

func runTree(args []string) error {
	fs := flag.NewFlagSet("tree", flag.ContinueOnError)
	all := fs.Bool("all", false, "Include done and cancelled tasks")
	if err := fs.Parse(args); err != nil {
		return err
	}

	manager, err := openManager()
	if err != nil {
		return err
	}
	roots, err := manager.Tree(*all)
	if err != nil {
		return err
	}
	for _, root := range roots {
		printTree(root, 0)
	}
	return nil
}

func printTree(node *core.TreeNode, depth int) {
	t := node.Task
	fmt.Printf("%s%s  %s [%s]\n", strings.Repeat("  ", depth), t.ShortID(), t.Title, t.Status)
	for _, child := range node.Children {
		printTree(child, depth+1)
	}
}

func runStart(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: butler start <id>")
	}
	manager, err := openManager()
	if err != nil {
		return err
	}
	t, err := manager.Start(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("✓ Started %s: %s\n", t.ShortID(), t.Title)
	return nil
}

func runDone(args []string) error {
	fs := flag.NewFlagSet("done", flag.ContinueOnError)
	hours := fs.Float64("hours", 0, "Actual hours spent")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: butler done <id> [-hours N]")
	}

	manager, err := openManager()
	if err != nil {
		return err
	}
	t, successor, err := manager.Complete(fs.Arg(0), *hours)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Completed %s: %s\n", t.ShortID(), t.Title)
	if successor != nil {
		fmt.Printf("✓ Next occurrence %s due %s\n", successor.ShortID(), fmtDate(successor.DueDate))
	}
	return nil
}

func runCancel(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: butler cancel <id>")
	}
	manager, err := openManager()
	if err != nil {
		return err
	}
	t, err := manager.Cancel(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("✓ Cancelled %s: %s\n", t.ShortID(), t.Title)
	return nil
}

func runDelete(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: butler delete <id>")
	}
	manager, err := openManager()
	if err != nil {
		return err
	}
	t, err := manager.Get(args[0])
	if err != nil {
		return err
	}
	if err := manager.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("✓ Deleted %s: %s\n", t.ShortID(), t.Title)
	return nil
}

func runNote(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: butler note <id> <text>")
	}
	manager, err := openManager()
	if err != nil {
		return err
	}
	t, err := manager.AddNote(args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Printf("✓ Note added to %s\n", t.ShortID())
	return nil
}

func runUpdate(args []string) error {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	title := fs.String("title", "", "New title")
	desc := fs.String("desc", "", "New description")
	priority := fs.String("priority", "", "New priority")
	project := fs.String("project", "", "New project label")
	due := fs.String("due", "", "New due date (YYYY-MM-DD)")
	clearDue := fs.Bool("clear-due", false, "Remove the due date")
	scheduled := fs.String("scheduled", "", "New scheduled date (YYYY-MM-DD)")
	clearScheduled := fs.Bool("clear-scheduled", false, "Remove the scheduled date")
	start := fs.String("start", "", "New start date (YYYY-MM-DD)")
	clearStart := fs.Bool("clear-start", false, "Remove the start date")
	estimate := fs.Float64("estimate", 0, "New estimated hours")
	parent := fs.String("parent", "", "New parent task id (empty string detaches)")
	addTags := fs.String("add-tags", "", "Comma-separated tags to add")
	recur := fs.String("recur", "", "New recurrence phrase")
	clearRecur := fs.Bool("clear-recur", false, "Remove the recurrence rule")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: butler update <id> [flags]")
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	u := core.Update{
		ClearDueDate:       *clearDue,
		ClearScheduledDate: *clearScheduled,
		ClearStartDate:     *clearStart,
		ClearRecurrence:    *clearRecur,
		AddTags:            splitList(*addTags),
	}
	if set["title"] {
		u.Title = title
	}
	if set["desc"] {
		u.Description = desc
	}
	if set["project"] {
		u.Project = project
	}
	if set["parent"] {
		u.ParentRef = parent
	}
	if set["estimate"] {
		u.EstimatedHours = estimate
	}
	if set["priority"] {
		p, ok := models.ParsePriority(*priority)
		if !ok {
			return fmt.Errorf("unknown priority %q", *priority)
		}
		u.Priority = &p
	}
	var err error
	if u.DueDate, err = parseDate(*due); err != nil {
		return err
	}
	if u.ScheduledDate, err = parseDate(*scheduled); err != nil {
		return err
	}
	if u.StartDate, err = parseDate(*start); err != nil {
		return err
	}
	if set["recur"] {
		rule, ok := obsidian.ParseRecurrence(*recur)
		if !ok {
			return fmt.Errorf("unknown recurrence phrase %q", *recur)
		}
		u.Recurrence = rule
	}

	manager, err := openManager()
	if err != nil {
		return err
	}
	t, err := manager.Update(fs.Arg(0), u)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Updated %s: %s\n", t.ShortID(), t.Title)
	return nil
}

func runSearch(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: butler search <query>")
	}
	manager, err := openManager()
	if err != nil {
		return err
	}
	tasks, err := manager.Search(strings.Join(args, " "))
	if err != nil {
		return err
	}
	for _, t := range tasks {
		fmt.Printf("%-10s %-40s %-12s\n", t.ShortID(), truncate(t.Title, 40), t.Status)
	}
	return nil
}

func runProjects(args []string) error {
	manager, err := openManager()
	if err != nil {
		return err
	}
	projects, err := manager.Projects()
	if err != nil {
		return err
	}
	for _, p := range projects {
		fmt.Println(p)
	}
	return nil
}

func runTags(args []string) error {
	manager, err := openManager()
	if err != nil {
		return err
	}
	tags, err := manager.Tags()
	if err != nil {
		return err
	}
	for _, tag := range tags {
		fmt.Println(tag)
	}
	return nil
}

func runObsidian(args []string) error {
	if len(args) == 0 {
		fmt.Println("Usage: butler obsidian <command> [arguments]")
		fmt.Println("\nCommands:")
		fmt.Println("  export    Print every task as an Obsidian Tasks line")
		fmt.Println("  import    Import task lines from a file or vault directory")
		fmt.Println("  check     Report tasks whose frontmatter and task line diverge")
		fmt.Println("  resolve   Resolve divergence with a chosen strategy")
		fmt.Println("  format    Print one task as an Obsidian Tasks line")
		return nil
	}

	switch args[0] {
	case "export":
		return runObsidianExport(args[1:])
	case "import":
		return runObsidianImport(args[1:])
	case "check":
		return runObsidianCheck(args[1:])
	case "resolve":
		return runObsidianResolve(args[1:])
	case "format":
		return runObsidianFormat(args[1:])
	default:
		return fmt.Errorf("unknown obsidian command: %s", args[0])
	}
}

func runObsidianExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	all := fs.Bool("all", false, "Include done and cancelled tasks")
	if err := fs.Parse(args); err != nil {
		return err
	}

	manager, err := openManager()
	if err != nil {
		return err
	}
	tasks, _, err := manager.List(storage.Filter{IncludeDone: *all})
	if err != nil {
		return err
	}
	for _, t := range tasks {
		fmt.Println(obsidian.EncodeLine(t))
	}
	return nil
}

func runObsidianImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	recursive := fs.Bool("recursive", false, "Recurse into subdirectories")
	pattern := fs.String("pattern", "*.md", "File name pattern inside directories")
	policy := fs.String("policy", "skip", "Duplicate policy (skip, update, force, interactive)")
	dryRun := fs.Bool("dry-run", false, "Report actions without writing")
	link := fs.String("link", "", "Replace imported lines with a link (wiki or embed)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: butler obsidian import <path> [flags]")
	}

	pol, ok := obsidian.ParsePolicy(*policy)
	if !ok {
		return fmt.Errorf("unknown duplicate policy %q", *policy)
	}
	style, ok := obsidian.ParseLinkStyle(*link)
	if !ok {
		return fmt.Errorf("unknown link style %q", *link)
	}

	manager, err := openManager()
	if err != nil {
		return err
	}
	imp := obsidian.NewImporter(manager.Repo(), promptDuplicate)
	results, err := imp.Run(fs.Arg(0), obsidian.Options{
		Recursive:  *recursive,
		Pattern:    *pattern,
		ExcludeDir: manager.Repo().Dir(),
		Policy:     pol,
		DryRun:     *dryRun,
		Link:       style,
	})
	if err != nil {
		return err
	}

	counts := map[obsidian.Action]int{}
	for _, r := range results {
		counts[r.Action]++
		fmt.Printf("%-8s %s:%d  %s\n", r.Action, r.File, r.Line, r.Title)
	}
	fmt.Printf("\n%d created, %d updated, %d skipped\n",
		counts[obsidian.ActionCreated], counts[obsidian.ActionUpdated], counts[obsidian.ActionSkipped])
	if *dryRun {
		fmt.Println("(dry run: nothing was written)")
	}
	return nil
}

// promptDuplicate asks on stdin how to handle one duplicate during an
// interactive import. Unrecognized answers re-prompt.
func promptDuplicate(candidate, existing *models.Task) (obsidian.Choice, error) {
	fmt.Printf("Duplicate: %q (due %s) matches existing task %s\n",
		candidate.Title, fmtDate(candidate.DueDate), existing.ShortID())

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("  [s]kip, [u]pdate, [f]orce, skip [a]ll, update a[l]l? ")
		answer, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read answer: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "s":
			return obsidian.ChoiceSkip, nil
		case "u":
			return obsidian.ChoiceUpdate, nil
		case "f":
			return obsidian.ChoiceForce, nil
		case "a":
			return obsidian.ChoiceAllSkip, nil
		case "l":
			return obsidian.ChoiceAllUpdate, nil
		}
	}
}

func runObsidianCheck(args []string) error {
	manager, err := openManager()
	if err != nil {
		return err
	}
	rec := obsidian.NewReconciler(manager.Repo())
	reports, warnings, err := rec.Check()
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "Warning: skipping malformed file: %v\n", w)
	}

	if len(reports) == 0 {
		fmt.Println("✓ All tasks consistent")
		return nil
	}
	for _, r := range reports {
		fmt.Printf("%s  %s\n", r.Task.ShortID(), r.Task.Title)
		for _, c := range r.Conflicts {
			fmt.Printf("    %s\n", c)
		}
	}
	return fmt.Errorf("%d task(s) conflicted", len(reports))
}

func runObsidianResolve(args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	strategy := fs.String("strategy", "frontmatter", "Winning side (frontmatter or obsidian)")
	task := fs.String("task", "", "Resolve a single task by id")
	dryRun := fs.Bool("dry-run", false, "Report resolutions without writing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	strat, ok := obsidian.ParseStrategy(*strategy)
	if !ok {
		return fmt.Errorf("unknown strategy %q", *strategy)
	}

	manager, err := openManager()
	if err != nil {
		return err
	}
	rec := obsidian.NewReconciler(manager.Repo())
	resolved, err := rec.Resolve(strat, *task, *dryRun)
	if err != nil {
		return err
	}

	for _, r := range resolved {
		fmt.Printf("%s  %s (%d conflict(s))\n", r.Task.ShortID(), r.Task.Title, len(r.Conflicts))
	}
	if *dryRun {
		fmt.Printf("%d task(s) would be resolved (dry run)\n", len(resolved))
	} else {
		fmt.Printf("✓ Resolved %d task(s) using %s\n", len(resolved), strat)
	}
	return nil
}

func runObsidianFormat(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: butler obsidian format <id>")
	}
	manager, err := openManager()
	if err != nil {
		return err
	}
	t, err := manager.Get(args[0])
	if err != nil {
		return err
	}
	fmt.Println(obsidian.EncodeLine(t))
	return nil
}

func runConfig(args []string) error {
	if len(args) == 0 {
		fmt.Println("Usage: butler config <command> [arguments]")
		fmt.Println("\nCommands:")
		fmt.Println("  get <key>          Print a config value")
		fmt.Println("  set <key> <value>  Set and save a config value")
		fmt.Println("  list               Print all config values")
		return nil
	}

	cfg := loadConfig()
	switch args[0] {
	case "get":
		if len(args) < 2 {
			return fmt.Errorf("usage: butler config get <key>")
		}
		value, ok := cfg.Get(args[1])
		if !ok {
			return fmt.Errorf("config key %s is not set", args[1])
		}
		fmt.Println(value)
		return nil
	case "set":
		if len(args) < 3 {
			return fmt.Errorf("usage: butler config set <key> <value>")
		}
		if err := cfg.Set(args[1], args[2]); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Printf("✓ %s = %s\n", args[1], args[2])
		return nil
	case "list":
		for key, value := range cfg.All() {
			fmt.Printf("%s = %s\n", key, value)
		}
		return nil
	default:
		return fmt.Errorf("unknown config command: %s", args[0])
	}
}

func runMCP(args []string) error {
	manager, err := openManager()
	if err != nil {
		return err
	}
	return mcp.Serve(mcp.NewServer(manager))
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
