// Package cli wires the task store and the dependency engine into a
// flag-based command line. Commands return process exit codes; all
// human-facing rendering lives here, the core packages never format
// prose.
package cli

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fatih/color"

	"github.com/amirbrooks/taskdeps/internal/config"
	"github.com/amirbrooks/taskdeps/internal/deps"
	"github.com/amirbrooks/taskdeps/internal/schema"
	"github.com/amirbrooks/taskdeps/internal/store"
)

// Exit codes
const (
	ExitOK       = 0
	ExitUsage    = 2
	ExitNotFound = 3
	ExitConflict = 4
	ExitInternal = 10
)

type GlobalFlags struct {
	ConfigDir string
	File      string
	Tag       string
	JSON      bool
	Quiet     bool
	Verbose   bool
}

var (
	statusColors = map[schema.Status]*color.Color{
		schema.StatusPending:    color.New(color.FgYellow),
		schema.StatusInProgress: color.New(color.FgBlue),
		schema.StatusBlocked:    color.New(color.FgRed),
		schema.StatusReview:     color.New(color.FgMagenta),
		schema.StatusDone:       color.New(color.FgGreen),
		schema.StatusDeferred:   color.New(color.Faint),
		schema.StatusCancelled:  color.New(color.Faint, color.CrossedOut),
	}
	priorityColors = map[schema.Priority]*color.Color{
		schema.PriorityCritical: color.New(color.FgRed, color.Bold),
		schema.PriorityHigh:     color.New(color.FgRed),
		schema.PriorityMedium:   color.New(color.FgYellow),
		schema.PriorityLow:      color.New(color.Faint),
	}
)

func paintStatus(s schema.Status) string {
	if c, ok := statusColors[s]; ok {
		return c.Sprint(string(s))
	}
	return string(s)
}

func paintPriority(p schema.Priority) string {
	if c, ok := priorityColors[p]; ok {
		return c.Sprint(string(p))
	}
	return string(p)
}

type app struct {
	gf     GlobalFlags
	store  *store.Manager
	engine *deps.Engine
}

func Run(args []string) int {
	gf, rest, err := extractGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return ExitUsage
	}
	if len(rest) == 0 {
		printHelp()
		return ExitUsage
	}
	cmd := rest[0]
	cmdArgs := rest[1:]

	if cmd == "help" || cmd == "--help" || cmd == "-h" {
		printHelp()
		return ExitOK
	}

	cfg, err := config.Load(gf.ConfigDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "taskdeps:", err)
		return ExitInternal
	}
	if gf.File != "" {
		cfg.DataFile = gf.File
	}
	if gf.Verbose {
		cfg.LogLevel = "debug"
	}
	logger := cfg.Logger()
	if gf.Quiet {
		logger.SetLevel(log.ErrorLevel)
	}

	m := store.New(cfg, logger)
	if err := m.Initialize(); err != nil {
		fmt.Fprintln(os.Stderr, "taskdeps:", err)
		return exitCode(err)
	}
	a := &app{gf: gf, store: m, engine: deps.NewEngine(m, logger)}

	switch cmd {
	case "add":
		return a.cmdAdd(cmdArgs)
	case "ls", "list":
		return a.cmdList(cmdArgs)
	case "show":
		return a.cmdShow(cmdArgs)
	case "update":
		return a.cmdUpdate(cmdArgs)
	case "done":
		return a.cmdDone(cmdArgs)
	case "rm", "delete":
		return a.cmdDelete(cmdArgs)
	case "tag":
		return a.cmdTag(cmdArgs)
	case "dep":
		return a.cmdDep(cmdArgs)
	case "deps":
		return a.cmdDeps(cmdArgs)
	case "ready":
		return a.cmdReady(cmdArgs)
	case "sort":
		return a.cmdSort(cmdArgs)
	case "cycles":
		return a.cmdCycles(cmdArgs)
	case "validate":
		return a.cmdValidate(cmdArgs)
	case "critical":
		return a.cmdCritical(cmdArgs)
	case "impact":
		return a.cmdImpact(cmdArgs)
	case "viz":
		return a.cmdViz(cmdArgs)
	case "stats":
		return a.cmdStats(cmdArgs)
	case "export":
		return a.cmdExport(cmdArgs)
	case "backup":
		return a.cmdBackup(cmdArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printHelp()
		return ExitUsage
	}
}

func printHelp() {
	fmt.Print(`taskdeps — hierarchical tasks with a dependency graph

Usage:
  taskdeps [global flags] <command> [args]

Global flags:
  --config <dir>  Directory holding taskdeps.toml (default: .)
  --file <path>   Override the data file path
  --tag <name>    Operate on this tag instead of the active one
  --json          JSON output where supported
  --quiet
  --verbose

Commands:
  add "<title>" [--description <d>] [--priority <p>] [--type <t>] [--due <date>]
                [--assignee <id>] [--label <l>...] [--parent <id>] [--id <id>]
  ls [--status <s>] [--priority <p>] [--type <t>] [--assignee <id>]
     [--label <l>] [--search <q>]
  show <id>
  update <id> [--title <t>] [--status <s>] [--priority <p>] [--description <d>]
              [--notes <n>] [--assignee <id>] [--due <date>] [--clear-due]
  done <id>
  rm <id>
  tag ls | add <name> [description] | rm <name> | use <name>
  dep add <id> <dependsOnId> | dep rm <id> <dependsOnId>
  deps <id>
  ready
  sort
  cycles
  validate
  critical
  impact <id>
  viz <id> [--format tree|json|dot]
  stats
  export [--format json|csv|markdown|yaml|toml] [--all]
  backup ls | backup restore <name>

Statuses:
  pending|in-progress|blocked|review|done|deferred|cancelled
`)
}

func extractGlobalFlags(args []string) (GlobalFlags, []string, error) {
	gf := GlobalFlags{ConfigDir: "."}
	if env := os.Getenv("TASKDEPS_CONFIG_DIR"); env != "" {
		gf.ConfigDir = env
	}

	out := make([]string, 0, len(args))
	skip := 0
	for i := 0; i < len(args); i++ {
		if skip > 0 {
			skip--
			continue
		}
		a := args[i]
		switch a {
		case "--config":
			if i+1 >= len(args) {
				return gf, nil, errors.New("--config requires a value")
			}
			gf.ConfigDir = args[i+1]
			skip = 1
		case "--file":
			if i+1 >= len(args) {
				return gf, nil, errors.New("--file requires a value")
			}
			gf.File = args[i+1]
			skip = 1
		case "--tag":
			if i+1 >= len(args) {
				return gf, nil, errors.New("--tag requires a value")
			}
			gf.Tag = args[i+1]
			skip = 1
		case "--json":
			gf.JSON = true
		case "--quiet":
			gf.Quiet = true
		case "--verbose":
			gf.Verbose = true
		default:
			out = append(out, a)
		}
	}
	return gf, out, nil
}

// exitCode maps the error taxonomy onto process exit codes.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, schema.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, schema.ErrConflict), errors.Is(err, schema.ErrCycle):
		return ExitConflict
	case errors.Is(err, schema.ErrInvalid), errors.Is(err, schema.ErrInvalidTransition):
		return ExitUsage
	default:
		return ExitInternal
	}
}

func fail(cmd string, err error) int {
	fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
	return exitCode(err)
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse date %q (want YYYY-MM-DD)", schema.ErrInvalid, s)
}

func (a *app) cmdAdd(args []string) int {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	description := fs.String("description", "", "Task description")
	priority := fs.String("priority", "", "low|medium|high|critical")
	taskType := fs.String("type", "", "feature|bug|task|epic|chore|docs")
	due := fs.String("due", "", "Due date (YYYY-MM-DD)")
	assignee := fs.String("assignee", "", "Assignee id")
	parent := fs.String("parent", "", "Create as a subtask of this id")
	id := fs.String("id", "", "Explicit task id")
	var labels stringList
	fs.Var(&labels, "label", "Label (repeatable)")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, `Usage: taskdeps add "<title>" [flags]`)
		return ExitUsage
	}

	data := schema.Task{
		ID:          *id,
		Title:       strings.Join(fs.Args(), " "),
		Description: *description,
		Priority:    schema.Priority(*priority),
		Type:        schema.TaskType(*taskType),
		Labels:      labels,
	}
	if *assignee != "" {
		data.Assignee = &schema.Assignee{ID: *assignee}
	}
	if *due != "" {
		d, err := parseDate(*due)
		if err != nil {
			return fail("add", err)
		}
		data.DueDate = &d
	}

	var task *schema.Task
	var err error
	if *parent != "" {
		task, err = a.store.CreateSubtask(*parent, data, a.gf.Tag)
	} else {
		task, err = a.store.CreateTask(data, a.gf.Tag)
	}
	if err != nil {
		return fail("add", err)
	}
	if a.gf.JSON {
		return a.printJSON(task)
	}
	if !a.gf.Quiet {
		fmt.Printf("Created %s: %s\n", task.ID, task.Title)
	}
	return ExitOK
}

func (a *app) cmdList(args []string) int {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	status := fs.String("status", "", "Filter by status")
	priority := fs.String("priority", "", "Filter by priority")
	taskType := fs.String("type", "", "Filter by type")
	assignee := fs.String("assignee", "", "Filter by assignee id")
	search := fs.String("search", "", "Substring search over text fields")
	var labels stringList
	fs.Var(&labels, "label", "Filter by label (repeatable)")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	f := store.Filter{
		Priority: schema.Priority(*priority),
		Type:     schema.TaskType(*taskType),
		Assignee: *assignee,
		Labels:   labels,
		Search:   *search,
	}
	if *status != "" {
		f.Status = schema.NormalizeStatus(*status)
	}
	tasks, err := a.store.ListTasks(f, a.gf.Tag)
	if err != nil {
		return fail("ls", err)
	}
	if a.gf.JSON {
		return a.printJSON(tasks)
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks.")
		return ExitOK
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tTITLE\tDEPS")
	for _, t := range tasks {
		depsCol := ""
		if len(t.Dependencies) > 0 {
			depsCol = strings.Join(t.Dependencies, ",")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.ID, paintStatus(t.Status), paintPriority(t.Priority), t.Title, depsCol)
	}
	_ = w.Flush()
	return ExitOK
}

func (a *app) cmdShow(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: taskdeps show <id>")
		return ExitUsage
	}
	id := args[0]
	task, ok := a.store.GetTask(id, a.gf.Tag)
	if !ok {
		return fail("show", fmt.Errorf("%w: task %q", schema.ErrNotFound, id))
	}
	if a.gf.JSON {
		return a.printJSON(task)
	}
	fmt.Printf("%s  %s\n", task.ID, task.Title)
	fmt.Printf("  status:   %s\n", paintStatus(task.Status))
	fmt.Printf("  priority: %s\n", paintPriority(task.Priority))
	fmt.Printf("  type:     %s\n", task.Type)
	if task.Description != "" {
		fmt.Printf("  description: %s\n", task.Description)
	}
	if task.Notes != "" {
		fmt.Printf("  notes: %s\n", task.Notes)
	}
	if task.Assignee != nil {
		fmt.Printf("  assignee: %s\n", task.Assignee.ID)
	}
	if len(task.Labels) > 0 {
		fmt.Printf("  labels: %s\n", strings.Join(task.Labels, ", "))
	}
	if task.DueDate != nil {
		fmt.Printf("  due: %s\n", task.DueDate.Format("2006-01-02"))
	}
	if task.CompletedDate != nil {
		fmt.Printf("  completed: %s\n", task.CompletedDate.Format("2006-01-02"))
	}
	if len(task.Dependencies) > 0 {
		fmt.Printf("  depends on: %s\n", strings.Join(task.Dependencies, ", "))
	}
	if len(task.Blocks) > 0 {
		fmt.Printf("  blocks: %s\n", strings.Join(task.Blocks, ", "))
	}
	for _, sub := range task.Subtasks {
		fmt.Printf("  subtask %s [%s] %s\n", sub.ID, sub.Status, sub.Title)
	}
	return ExitOK
}

func (a *app) cmdUpdate(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: taskdeps update <id> [flags]")
		return ExitUsage
	}
	id := args[0]
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	title := fs.String("title", "", "New title")
	status := fs.String("status", "", "New status")
	priority := fs.String("priority", "", "New priority")
	description := fs.String("description", "", "New description")
	notes := fs.String("notes", "", "New notes")
	assignee := fs.String("assignee", "", "New assignee id (empty string clears)")
	due := fs.String("due", "", "New due date (YYYY-MM-DD)")
	clearDue := fs.Bool("clear-due", false, "Remove the due date")
	if err := fs.Parse(args[1:]); err != nil {
		return ExitUsage
	}

	var up store.TaskUpdate
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "title":
			up.Title = title
		case "status":
			s := schema.Status(*status)
			up.Status = &s
		case "priority":
			p := schema.Priority(*priority)
			up.Priority = &p
		case "description":
			up.Description = description
		case "notes":
			up.Notes = notes
		case "assignee":
			if *assignee == "" {
				up.ClearAssign = true
			} else {
				up.Assignee = &schema.Assignee{ID: *assignee}
			}
		}
	})
	if *clearDue {
		up.ClearDueDate = true
	} else if *due != "" {
		d, err := parseDate(*due)
		if err != nil {
			return fail("update", err)
		}
		up.DueDate = &d
	}

	task, err := a.store.UpdateTask(id, up, a.gf.Tag)
	if err != nil {
		return fail("update", err)
	}
	if a.gf.JSON {
		return a.printJSON(task)
	}
	if !a.gf.Quiet {
		fmt.Printf("Updated %s [%s]\n", task.ID, paintStatus(task.Status))
	}
	return ExitOK
}

func (a *app) cmdDone(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: taskdeps done <id>")
		return ExitUsage
	}
	done := schema.StatusDone
	task, err := a.store.UpdateTask(args[0], store.TaskUpdate{Status: &done}, a.gf.Tag)
	if err != nil {
		return fail("done", err)
	}
	if !a.gf.Quiet {
		fmt.Printf("Done: %s %s\n", task.ID, task.Title)
	}
	return ExitOK
}

func (a *app) cmdDelete(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: taskdeps rm <id>")
		return ExitUsage
	}
	if err := a.store.DeleteTask(args[0], a.gf.Tag); err != nil {
		return fail("rm", err)
	}
	if !a.gf.Quiet {
		fmt.Printf("Deleted %s\n", args[0])
	}
	return ExitOK
}

func (a *app) cmdTag(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: taskdeps tag <ls|add|rm|use> ...")
		return ExitUsage
	}
	switch args[0] {
	case "ls", "list":
		current := a.store.CurrentTag()
		for _, name := range a.store.Tags() {
			marker := " "
			if name == current {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, name)
		}
		return ExitOK
	case "add":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: taskdeps tag add <name> [description]")
			return ExitUsage
		}
		description := strings.Join(args[2:], " ")
		if err := a.store.CreateTag(args[1], description); err != nil {
			return fail("tag add", err)
		}
		return ExitOK
	case "rm", "delete":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: taskdeps tag rm <name>")
			return ExitUsage
		}
		if err := a.store.DeleteTag(args[1]); err != nil {
			return fail("tag rm", err)
		}
		return ExitOK
	case "use":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: taskdeps tag use <name>")
			return ExitUsage
		}
		if err := a.store.SetCurrentTag(args[1]); err != nil {
			return fail("tag use", err)
		}
		if !a.gf.Quiet {
			fmt.Printf("Now using tag %q\n", args[1])
		}
		return ExitOK
	default:
		fmt.Fprintln(os.Stderr, "Usage: taskdeps tag <ls|add|rm|use> ...")
		return ExitUsage
	}
}

func (a *app) cmdDep(args []string) int {
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: taskdeps dep <add|rm> <id> <dependsOnId>")
		return ExitUsage
	}
	sub, taskID, dependsOn := args[0], args[1], args[2]
	switch sub {
	case "add":
		if err := a.engine.AddDependency(taskID, dependsOn, a.gf.Tag); err != nil {
			return fail("dep add", err)
		}
		if !a.gf.Quiet {
			fmt.Printf("%s now depends on %s\n", taskID, dependsOn)
		}
		return ExitOK
	case "rm", "remove":
		if err := a.engine.RemoveDependency(taskID, dependsOn, a.gf.Tag); err != nil {
			return fail("dep rm", err)
		}
		if !a.gf.Quiet {
			fmt.Printf("%s no longer depends on %s\n", taskID, dependsOn)
		}
		return ExitOK
	default:
		fmt.Fprintln(os.Stderr, "Usage: taskdeps dep <add|rm> <id> <dependsOnId>")
		return ExitUsage
	}
}

func (a *app) cmdDeps(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: taskdeps deps <id>")
		return ExitUsage
	}
	id := args[0]
	dependencies, err := a.engine.GetDependencies(id, a.gf.Tag)
	if err != nil {
		return fail("deps", err)
	}
	dependents, err := a.engine.GetDependents(id, a.gf.Tag)
	if err != nil {
		return fail("deps", err)
	}
	blocking, err := a.engine.GetBlockingTasks(id, a.gf.Tag)
	if err != nil {
		return fail("deps", err)
	}
	if a.gf.JSON {
		return a.printJSON(map[string]any{
			"dependencies": dependencies,
			"dependents":   dependents,
			"blocking":     blocking,
		})
	}
	printRefs := func(heading string, refs []deps.Ref) {
		fmt.Printf("%s:\n", heading)
		if len(refs) == 0 {
			fmt.Println("  (none)")
			return
		}
		for _, r := range refs {
			fmt.Printf("  %s [%s] %s\n", r.ID, paintStatus(r.Status), r.Title)
		}
	}
	printRefs("Depends on", dependencies)
	printRefs("Depended on by", dependents)
	printRefs("Blocked by", blocking)
	return ExitOK
}

func (a *app) cmdReady(args []string) int {
	ready, err := a.engine.GetReadyTasks(a.gf.Tag)
	if err != nil {
		return fail("ready", err)
	}
	if a.gf.JSON {
		return a.printJSON(ready)
	}
	if len(ready) == 0 {
		fmt.Println("Nothing is ready; check blocked and pending dependencies.")
		return ExitOK
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRIORITY\tDUE\tTITLE")
	for _, t := range ready {
		due := ""
		if t.DueDate != nil {
			due = t.DueDate.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, paintPriority(t.Priority), due, t.Title)
	}
	_ = w.Flush()
	return ExitOK
}

func (a *app) cmdSort(args []string) int {
	order, err := a.engine.GetTopologicalSort(a.gf.Tag)
	if err != nil {
		return fail("sort", err)
	}
	if a.gf.JSON {
		return a.printJSON(order)
	}
	for i, id := range order {
		fmt.Printf("%d. %s\n", i+1, id)
	}
	return ExitOK
}

func (a *app) cmdCycles(args []string) int {
	cycles, err := a.engine.DetectCycles()
	if err != nil {
		return fail("cycles", err)
	}
	if a.gf.JSON {
		return a.printJSON(cycles)
	}
	if len(cycles) == 0 {
		fmt.Println("No cycles.")
		return ExitOK
	}
	for _, cycle := range cycles {
		fmt.Println(color.RedString("cycle: %s", strings.Join(cycle, " -> ")))
	}
	return ExitConflict
}

func (a *app) cmdValidate(args []string) int {
	report, err := a.engine.ValidateDependencies()
	if err != nil {
		return fail("validate", err)
	}
	if a.gf.JSON {
		return a.printJSON(report)
	}
	for _, e := range report.Errors {
		fmt.Println(color.RedString("error: %s", e))
	}
	for _, w := range report.Warnings {
		fmt.Println(color.YellowString("warning: %s", w))
	}
	if report.Valid {
		fmt.Println(color.GreenString("Dependencies are valid."))
		return ExitOK
	}
	return ExitConflict
}

func (a *app) cmdCritical(args []string) int {
	path, err := a.engine.FindLongestPath(a.gf.Tag)
	if err != nil {
		return fail("critical", err)
	}
	if a.gf.JSON {
		return a.printJSON(path)
	}
	if len(path) == 0 {
		fmt.Println("No tasks.")
		return ExitOK
	}
	fmt.Printf("Critical path (%d tasks): %s\n", len(path), strings.Join(path, " -> "))
	return ExitOK
}

func (a *app) cmdImpact(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: taskdeps impact <id>")
		return ExitUsage
	}
	impact, err := a.engine.AnalyzeDependencyImpact(args[0], a.gf.Tag)
	if err != nil {
		return fail("impact", err)
	}
	if a.gf.JSON {
		return a.printJSON(impact)
	}
	fmt.Printf("Impact of %s:\n", impact.TaskID)
	fmt.Printf("  direct dependents:     %d %v\n", len(impact.DirectDependents), impact.DirectDependents)
	fmt.Printf("  transitive dependents: %d %v\n", len(impact.TransitiveDependents), impact.TransitiveDependents)
	fmt.Printf("  on critical path:      %t\n", impact.OnCriticalPath)
	riskLine := impact.Risk
	switch impact.Risk {
	case deps.RiskHigh, deps.RiskCritical:
		riskLine = color.RedString(impact.Risk)
	case deps.RiskMedium:
		riskLine = color.YellowString(impact.Risk)
	}
	fmt.Printf("  risk:                  %s\n", riskLine)
	return ExitOK
}

func (a *app) cmdViz(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: taskdeps viz <id> [--format tree|json|dot]")
		return ExitUsage
	}
	id := args[0]
	fs := flag.NewFlagSet("viz", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	format := fs.String("format", deps.VizTree, "tree|json|dot")
	if err := fs.Parse(args[1:]); err != nil {
		return ExitUsage
	}
	out, err := a.engine.VisualizeDependencies(id, *format, a.gf.Tag)
	if err != nil {
		return fail("viz", err)
	}
	fmt.Print(out)
	return ExitOK
}

func (a *app) cmdStats(args []string) int {
	stats, err := a.store.GetStats(a.gf.Tag)
	if err != nil {
		return fail("stats", err)
	}
	if a.gf.JSON {
		return a.printJSON(stats)
	}
	fmt.Println(stats.Summary())
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	for status, n := range stats.ByStatus {
		fmt.Fprintf(w, "%s\t%d\n", paintStatus(status), n)
	}
	_ = w.Flush()
	return ExitOK
}

func (a *app) cmdExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	format := fs.String("format", store.FormatJSON, "json|csv|markdown|yaml|toml")
	all := fs.Bool("all", false, "Export the whole collection, every tag")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	tag := a.gf.Tag
	if *all {
		tag = "*"
	}
	out, err := a.store.ExportTasks(*format, tag)
	if err != nil {
		return fail("export", err)
	}
	os.Stdout.Write(out)
	return ExitOK
}

func (a *app) cmdBackup(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: taskdeps backup <ls|restore> ...")
		return ExitUsage
	}
	switch args[0] {
	case "ls", "list":
		names, err := a.store.ListBackups()
		if err != nil {
			return fail("backup ls", err)
		}
		if len(names) == 0 {
			fmt.Println("No backups.")
			return ExitOK
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return ExitOK
	case "restore":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: taskdeps backup restore <name>")
			return ExitUsage
		}
		if err := a.store.RestoreBackup(args[1]); err != nil {
			return fail("backup restore", err)
		}
		if !a.gf.Quiet {
			fmt.Printf("Restored %s\n", args[1])
		}
		return ExitOK
	default:
		fmt.Fprintln(os.Stderr, "Usage: taskdeps backup <ls|restore> ...")
		return ExitUsage
	}
}

func (a *app) printJSON(v any) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, "taskdeps:", err)
		return ExitInternal
	}
	return ExitOK
}
