package deps

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/amirbrooks/taskdeps/internal/config"
	"github.com/amirbrooks/taskdeps/internal/schema"
	"github.com/amirbrooks/taskdeps/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Manager) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		DataFile:    filepath.Join(dir, "tasks.json"),
		BackupDir:   filepath.Join(dir, "backups"),
		BackupKeep:  10,
		AutoPersist: true,
	}
	m := store.New(cfg, nil)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return NewEngine(m, nil), m
}

func seed(t *testing.T, m *store.Manager, tasks ...schema.Task) {
	t.Helper()
	for _, task := range tasks {
		if _, err := m.CreateTask(task, ""); err != nil {
			t.Fatalf("seed %q: %v", task.ID, err)
		}
	}
}

func link(t *testing.T, e *Engine, from, to string) {
	t.Helper()
	if err := e.AddDependency(from, to, ""); err != nil {
		t.Fatalf("AddDependency(%s, %s): %v", from, to, err)
	}
}

// seedChain builds 1 <- 2 <- 3: 2 depends on 1, 3 depends on 2.
func seedChain(t *testing.T) (*Engine, *store.Manager) {
	e, m := newTestEngine(t)
	seed(t, m,
		schema.Task{ID: "1", Title: "foundation", Status: schema.StatusDone},
		schema.Task{ID: "2", Title: "middle"},
		schema.Task{ID: "3", Title: "top"},
	)
	link(t, e, "2", "1")
	link(t, e, "3", "2")
	return e, m
}

func TestAddDependencyRejectsSelf(t *testing.T) {
	e, m := newTestEngine(t)
	seed(t, m, schema.Task{ID: "1", Title: "a"})
	if err := e.AddDependency("1", "1", ""); !errors.Is(err, schema.ErrConflict) {
		t.Fatalf("expected ErrConflict for self-dependency, got %v", err)
	}
}

func TestAddDependencyRejectsDuplicate(t *testing.T) {
	e, m := newTestEngine(t)
	seed(t, m, schema.Task{ID: "1", Title: "a"}, schema.Task{ID: "2", Title: "b"})
	link(t, e, "2", "1")
	if err := e.AddDependency("2", "1", ""); !errors.Is(err, schema.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate edge, got %v", err)
	}
}

func TestAddDependencyRejectsUnknownTask(t *testing.T) {
	e, m := newTestEngine(t)
	seed(t, m, schema.Task{ID: "1", Title: "a"})
	if err := e.AddDependency("1", "99", ""); !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := e.AddDependency("99", "1", ""); !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAddDependencyRejectsCycle(t *testing.T) {
	e, _ := seedChain(t)

	// 1 depending on 3 would close 3 -> 2 -> 1 -> 3.
	err := e.AddDependency("1", "3", "")
	if !errors.Is(err, schema.ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	var ce *schema.CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("expected a CycleError, got %T", err)
	}
	if got := strings.Join(ce.Path, ">"); got != "3>2>1>3" {
		t.Fatalf("cycle path = %v", ce.Path)
	}

	// The rejected edge must not have been written.
	refs, err := e.GetDependencies("1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 0 {
		t.Fatalf("rejected edge leaked into the store: %v", refs)
	}
}

func TestRemoveDependency(t *testing.T) {
	e, _ := seedChain(t)
	if err := e.RemoveDependency("3", "2", ""); err != nil {
		t.Fatalf("RemoveDependency: %v", err)
	}
	if err := e.RemoveDependency("3", "2", ""); !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing edge, got %v", err)
	}
}

func TestAdjacencyQueries(t *testing.T) {
	e, m := newTestEngine(t)
	seed(t, m,
		schema.Task{ID: "1", Title: "base", Status: schema.StatusDone},
		schema.Task{ID: "2", Title: "dropped", Status: schema.StatusCancelled},
		schema.Task{ID: "3", Title: "waiting"},
		schema.Task{ID: "4", Title: "also waiting"},
	)
	link(t, e, "3", "1")
	link(t, e, "3", "2")
	link(t, e, "4", "3")

	deps, err := e.GetDependencies("3", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 2 || deps[0].ID != "1" || deps[1].ID != "2" {
		t.Fatalf("dependencies = %v", deps)
	}

	dependents, err := e.GetDependents("3", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(dependents) != 1 || dependents[0].ID != "4" {
		t.Fatalf("dependents = %v", dependents)
	}

	// Both of 3's dependencies are satisfied (done, cancelled), so
	// nothing blocks it.
	blocking, err := e.GetBlockingTasks("3", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(blocking) != 0 {
		t.Fatalf("blocking = %v", blocking)
	}

	blocked, err := e.GetBlockedTasks("3", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(blocked) != 1 || blocked[0].ID != "4" {
		t.Fatalf("blocked = %v", blocked)
	}
}

func TestDanglingReferenceSurfacesAsUnknown(t *testing.T) {
	e, m := newTestEngine(t)
	seed(t, m, schema.Task{ID: "1", Title: "a", Dependencies: []string{"77"}})

	refs, err := e.GetDependencies("1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0].Status != StatusUnknown || refs[0].Task != nil {
		t.Fatalf("dangling ref = %+v", refs)
	}

	report, err := e.ValidateDependencies()
	if err != nil {
		t.Fatal(err)
	}
	if report.Valid || len(report.Errors) == 0 {
		t.Fatalf("validator missed dangling reference: %+v", report)
	}
}

func TestWouldCreateCycle(t *testing.T) {
	e, _ := seedChain(t)
	for _, tc := range []struct {
		from, to string
		want     bool
	}{
		{"1", "3", true},
		{"1", "2", true},
		{"3", "1", false},
		{"2", "2", true},
	} {
		got, err := e.WouldCreateCycle(tc.from, tc.to, "")
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("WouldCreateCycle(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestDetectCyclesOnCleanGraph(t *testing.T) {
	e, _ := seedChain(t)
	cycles, err := e.DetectCycles()
	if err != nil {
		t.Fatal(err)
	}
	if len(cycles) != 0 {
		t.Fatalf("clean graph reported cycles: %v", cycles)
	}
}

func TestDetectCyclesFindsHandWrittenLoop(t *testing.T) {
	// The engine refuses to create loops, but the store accepts raw
	// dependency arrays, which is how a corrupted document looks.
	e, m := newTestEngine(t)
	seed(t, m,
		schema.Task{ID: "1", Title: "a", Dependencies: []string{"2"}},
		schema.Task{ID: "2", Title: "b", Dependencies: []string{"3"}},
		schema.Task{ID: "3", Title: "c", Dependencies: []string{"1"}},
	)
	cycles, err := e.DetectCycles()
	if err != nil {
		t.Fatal(err)
	}
	if len(cycles) == 0 {
		t.Fatalf("loop not detected")
	}
	cycle := cycles[0]
	if len(cycle) != 4 || cycle[0] != cycle[len(cycle)-1] {
		t.Fatalf("cycle should close on its first node: %v", cycle)
	}

	report, err := e.ValidateDependencies()
	if err != nil {
		t.Fatal(err)
	}
	if report.Valid || len(report.Cycles) == 0 {
		t.Fatalf("validator missed the cycle: %+v", report)
	}
}

func TestValidateWarnsOnCancelledDependency(t *testing.T) {
	e, m := newTestEngine(t)
	seed(t, m,
		schema.Task{ID: "1", Title: "gone", Status: schema.StatusCancelled},
		schema.Task{ID: "2", Title: "still going"},
	)
	link(t, e, "2", "1")
	report, err := e.ValidateDependencies()
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid {
		t.Fatalf("cancelled dependency must not invalidate: %+v", report)
	}
	if len(report.Warnings) != 1 {
		t.Fatalf("warnings = %v", report.Warnings)
	}
}

func TestTopologicalSort(t *testing.T) {
	e, m := newTestEngine(t)
	seed(t, m,
		schema.Task{ID: "1", Title: "a"},
		schema.Task{ID: "2", Title: "b"},
		schema.Task{ID: "3", Title: "c"},
		schema.Task{ID: "4", Title: "d"},
	)
	link(t, e, "2", "1")
	link(t, e, "3", "2")
	link(t, e, "4", "2")

	order, err := e.GetTopologicalSort("")
	if err != nil {
		t.Fatal(err)
	}
	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	for _, edge := range [][2]string{{"2", "1"}, {"3", "2"}, {"4", "2"}} {
		if pos[edge[1]] >= pos[edge[0]] {
			t.Fatalf("dependency %s must sort before %s: %v", edge[1], edge[0], order)
		}
	}
}

func TestTopologicalSortFailsOnCycle(t *testing.T) {
	e, m := newTestEngine(t)
	seed(t, m,
		schema.Task{ID: "1", Title: "a", Dependencies: []string{"2"}},
		schema.Task{ID: "2", Title: "b", Dependencies: []string{"1"}},
	)
	if _, err := e.GetTopologicalSort(""); !errors.Is(err, schema.ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

func TestGetReadyTasksChainScenario(t *testing.T) {
	e, _ := seedChain(t)

	// 1 is done, 2 depends only on 1, 3 depends on pending 2.
	ready, err := e.GetReadyTasks("")
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 1 || ready[0].ID != "2" {
		t.Fatalf("ready = %v", readyIDs(ready))
	}

	// Idempotent without intervening mutation.
	again, err := e.GetReadyTasks("")
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 1 || again[0].ID != ready[0].ID {
		t.Fatalf("second call diverged: %v", readyIDs(again))
	}
}

func TestGetReadyTasksOrdering(t *testing.T) {
	e, m := newTestEngine(t)
	overdue := timeNow().Add(-24 * time.Hour)
	seed(t, m,
		schema.Task{ID: "1", Title: "low and late", Priority: schema.PriorityLow, DueDate: &overdue},
		schema.Task{ID: "2", Title: "critical"},
		schema.Task{ID: "3", Title: "also critical"},
	)
	crit := schema.PriorityCritical
	for _, id := range []string{"2", "3"} {
		if _, err := m.UpdateTask(id, store.TaskUpdate{Priority: &crit}, ""); err != nil {
			t.Fatal(err)
		}
	}

	ready, err := e.GetReadyTasks("")
	if err != nil {
		t.Fatal(err)
	}
	// Overdue beats priority (+10 urgency); equal scores fall back to
	// priority rank, then ascending ID.
	want := []string{"1", "2", "3"}
	got := readyIDs(ready)
	if len(got) != len(want) {
		t.Fatalf("ready = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ready order = %v, want %v", got, want)
		}
	}
}

func TestUrgencyCountsDependents(t *testing.T) {
	e, m := newTestEngine(t)
	seed(t, m,
		schema.Task{ID: "1", Title: "unblocks two"},
		schema.Task{ID: "2", Title: "unblocks none"},
		schema.Task{ID: "3", Title: "waits"},
		schema.Task{ID: "4", Title: "waits too"},
	)
	link(t, e, "3", "1")
	link(t, e, "4", "1")

	ready, err := e.GetReadyTasks("")
	if err != nil {
		t.Fatal(err)
	}
	got := readyIDs(ready)
	if len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Fatalf("ready order = %v, want [1 2]", got)
	}
}

func TestReadyTaskIDTieBreakIsNumeric(t *testing.T) {
	e, m := newTestEngine(t)
	seed(t, m,
		schema.Task{ID: "10", Title: "tenth"},
		schema.Task{ID: "2", Title: "second"},
		schema.Task{ID: "1", Title: "first"},
	)
	ready, err := e.GetReadyTasks("")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"1", "2", "10"}
	got := readyIDs(ready)
	if len(got) != len(want) {
		t.Fatalf("ready = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ready order = %v, want %v", got, want)
		}
	}
}

func TestLessTaskID(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"2", "10", true},
		{"10", "2", false},
		{"1.2", "1.10", true},
		{"1", "1.1", true},
		{"1.1", "1", false},
		{"3", "3", false},
		{"alpha", "beta", true},
	}
	for _, c := range cases {
		if got := lessTaskID(c.a, c.b); got != c.want {
			t.Errorf("lessTaskID(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestGetDependencyChain(t *testing.T) {
	e, _ := seedChain(t)
	chain, err := e.GetDependencyChain("3", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 2 {
		t.Fatalf("chain = %v", chain)
	}
	if chain[0].From != "3" || chain[0].To != "2" || chain[0].Status != schema.StatusPending {
		t.Fatalf("first hop = %+v", chain[0])
	}
	if chain[1].From != "2" || chain[1].To != "1" || chain[1].Status != schema.StatusDone {
		t.Fatalf("second hop = %+v", chain[1])
	}
}

func TestAnalyzeDependencyImpact(t *testing.T) {
	e, m := newTestEngine(t)
	seed(t, m,
		schema.Task{ID: "1", Title: "root"},
		schema.Task{ID: "2", Title: "mid"},
		schema.Task{ID: "3", Title: "leaf a"},
		schema.Task{ID: "4", Title: "leaf b"},
		schema.Task{ID: "5", Title: "island"},
	)
	link(t, e, "2", "1")
	link(t, e, "3", "2")
	link(t, e, "4", "2")

	impact, err := e.AnalyzeDependencyImpact("1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(impact.DirectDependents) != 1 || impact.DirectDependents[0] != "2" {
		t.Fatalf("direct = %v", impact.DirectDependents)
	}
	if len(impact.TransitiveDependents) != 3 {
		t.Fatalf("transitive = %v", impact.TransitiveDependents)
	}
	if impact.Risk != RiskMedium {
		t.Fatalf("risk = %q, want medium for 3 affected", impact.Risk)
	}
	if !impact.OnCriticalPath {
		t.Fatalf("task 1 roots the longest chain, must be on the critical path")
	}

	island, err := e.AnalyzeDependencyImpact("5", "")
	if err != nil {
		t.Fatal(err)
	}
	if island.Risk != RiskLow || island.OnCriticalPath {
		t.Fatalf("island impact = %+v", island)
	}
}

func TestFindLongestPath(t *testing.T) {
	e, m := newTestEngine(t)
	seed(t, m,
		schema.Task{ID: "1", Title: "a"},
		schema.Task{ID: "2", Title: "b"},
		schema.Task{ID: "3", Title: "c"},
		schema.Task{ID: "4", Title: "d"},
	)
	link(t, e, "2", "1")
	link(t, e, "3", "2")
	link(t, e, "4", "1")

	path, err := e.FindLongestPath("")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"1", "2", "3"}
	if len(path) != len(want) {
		t.Fatalf("path = %v, want %v", path, want)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Fatalf("path = %v, want %v", path, want)
		}
	}

	on, err := e.IsOnCriticalPath("4", "")
	if err != nil {
		t.Fatal(err)
	}
	if on {
		t.Fatalf("task 4 has slack, must not be on the critical path")
	}
}

func TestVisualizeTree(t *testing.T) {
	e, _ := seedChain(t)
	out, err := e.VisualizeDependencies("3", VizTree, "")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("tree:\n%s", out)
	}
	if !strings.HasPrefix(lines[1], "  ") || !strings.HasPrefix(lines[2], "    ") {
		t.Fatalf("indentation wrong:\n%s", out)
	}
	if !strings.Contains(lines[2], "●") {
		t.Fatalf("done glyph missing on task 1:\n%s", out)
	}
}

func TestVisualizeJSONMarksCircular(t *testing.T) {
	e, m := newTestEngine(t)
	seed(t, m,
		schema.Task{ID: "1", Title: "a", Dependencies: []string{"2"}},
		schema.Task{ID: "2", Title: "b", Dependencies: []string{"1"}},
	)
	out, err := e.VisualizeDependencies("1", VizJSON, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"circular": true`) {
		t.Fatalf("circular marker missing:\n%s", out)
	}
}

func TestVisualizeDOT(t *testing.T) {
	e, _ := seedChain(t)
	out, err := e.VisualizeDependencies("3", VizDOT, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"digraph dependencies {",
		`"3" -> "2";`,
		`"2" -> "1";`,
		"fillcolor=lightgreen",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if _, err := e.VisualizeDependencies("3", "svg", ""); !errors.Is(err, schema.ErrInvalid) {
		t.Fatalf("unknown format must fail, got %v", err)
	}
}

func readyIDs(tasks []*schema.Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}
