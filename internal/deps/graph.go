// Package deps derives a directed dependency graph from the task store
// and answers structural questions about it: cycle prevention and
// detection, topological ordering, ready-task scheduling, critical-path
// and impact analysis, and rendering.
//
// The store owns the data; the engine never mutates task objects
// directly. Edge changes are checked against a snapshot first and then
// applied through the store, which persists them.
package deps

import (
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/amirbrooks/taskdeps/internal/schema"
	"github.com/amirbrooks/taskdeps/internal/store"
)

// StatusUnknown is reported for dependency IDs that do not resolve to a
// task record.
const StatusUnknown schema.Status = "unknown"

// Engine answers dependency queries over the store's current contents.
// Each operation takes a fresh snapshot, so the engine itself carries no
// state that can drift from the store.
type Engine struct {
	store  *store.Manager
	logger *log.Logger
}

func NewEngine(st *store.Manager, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Engine{store: st, logger: logger}
}

// Ref is an adjacency result: the neighbor's ID with its resolved task,
// or Task nil and Status unknown for a dangling reference.
type Ref struct {
	ID     string        `json:"id"`
	Title  string        `json:"title,omitempty"`
	Status schema.Status `json:"status"`
	Task   *schema.Task  `json:"-"`
}

// tagGraph is a read-only snapshot of one tag's dependency graph.
// Edges run dependency -> dependent conceptually; deps[id] lists what id
// depends on, dependents[id] lists who depends on id. Adjacency lists
// are sorted so every traversal is deterministic.
type tagGraph struct {
	tag        string
	tasks      map[string]*schema.Task
	ids        []string
	deps       map[string][]string
	dependents map[string][]string
}

func (e *Engine) resolveTag(tag string) string {
	if tag == "" {
		return e.store.CurrentTag()
	}
	return tag
}

// snapshot builds the graph for one tag. Every task is a node, and so
// is every ID referenced only as a dependency target; such nodes have
// no entry in tasks and surface as unknown-status refs.
func (e *Engine) snapshot(tag string) (*tagGraph, error) {
	tag = e.resolveTag(tag)
	tasks, err := e.store.GetAllTasks(tag)
	if err != nil {
		return nil, err
	}
	g := &tagGraph{
		tag:        tag,
		tasks:      make(map[string]*schema.Task, len(tasks)),
		deps:       map[string][]string{},
		dependents: map[string][]string{},
	}
	node := map[string]bool{}
	for _, t := range tasks {
		g.tasks[t.ID] = t
		node[t.ID] = true
	}

	edgeSeen := map[[2]string]bool{}
	addEdge := func(from, to string) {
		key := [2]string{from, to}
		if edgeSeen[key] {
			return
		}
		edgeSeen[key] = true
		g.deps[from] = append(g.deps[from], to)
		g.dependents[to] = append(g.dependents[to], from)
		node[from] = true
		node[to] = true
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			addEdge(t.ID, dep)
		}
	}

	for id := range node {
		g.ids = append(g.ids, id)
	}
	sort.Strings(g.ids)
	for k := range g.deps {
		sort.Strings(g.deps[k])
	}
	for k := range g.dependents {
		sort.Strings(g.dependents[k])
	}
	return g, nil
}

func (g *tagGraph) ref(id string) Ref {
	if t, ok := g.tasks[id]; ok {
		return Ref{ID: id, Title: t.Title, Status: t.Status, Task: t}
	}
	return Ref{ID: id, Status: StatusUnknown}
}

// reaches reports whether target is reachable from id by walking
// dependency edges.
func (g *tagGraph) reaches(id, target string, visited map[string]bool) bool {
	if id == target {
		return true
	}
	if visited[id] {
		return false
	}
	visited[id] = true
	for _, dep := range g.deps[id] {
		if g.reaches(dep, target, visited) {
			return true
		}
	}
	return false
}

// AddDependency records that taskID depends on dependsOnID. It rejects
// self-dependencies, duplicate edges, and any edge that would close a
// cycle, all before touching the store.
func (e *Engine) AddDependency(taskID, dependsOnID, tag string) error {
	if taskID == dependsOnID {
		return fmt.Errorf("%w: task %q cannot depend on itself", schema.ErrConflict, taskID)
	}
	g, err := e.snapshot(tag)
	if err != nil {
		return err
	}
	from, ok := g.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: task %q in tag %q", schema.ErrNotFound, taskID, g.tag)
	}
	if _, ok := g.tasks[dependsOnID]; !ok {
		return fmt.Errorf("%w: task %q in tag %q", schema.ErrNotFound, dependsOnID, g.tag)
	}
	for _, dep := range from.Dependencies {
		if dep == dependsOnID {
			return fmt.Errorf("%w: task %q already depends on %q", schema.ErrConflict, taskID, dependsOnID)
		}
	}
	// Simulate the new edge: if dependsOnID already reaches taskID
	// through dependency edges, adding taskID -> dependsOnID closes a
	// loop.
	if g.reaches(dependsOnID, taskID, map[string]bool{}) {
		path := g.cyclePathVia(dependsOnID, taskID)
		return &schema.CycleError{Path: path}
	}
	if err := e.store.AddDependencyEdge(taskID, dependsOnID, g.tag); err != nil {
		return err
	}
	e.logger.Debug("dependency added", "tag", g.tag, "task", taskID, "dependsOn", dependsOnID)
	return nil
}

// cyclePathVia reconstructs the loop a rejected edge would have closed:
// the existing dependency path from start down to target, with start
// appended again to show the closure.
func (g *tagGraph) cyclePathVia(start, target string) []string {
	var path []string
	var walk func(id string, visited map[string]bool) bool
	walk = func(id string, visited map[string]bool) bool {
		if visited[id] {
			return false
		}
		visited[id] = true
		path = append(path, id)
		if id == target {
			return true
		}
		for _, dep := range g.deps[id] {
			if walk(dep, visited) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}
	if !walk(start, map[string]bool{}) {
		return nil
	}
	// Close the loop back to the starting node.
	return append(path, start)
}

// RemoveDependency deletes the edge; a missing edge is an error.
func (e *Engine) RemoveDependency(taskID, dependsOnID, tag string) error {
	g, err := e.snapshot(tag)
	if err != nil {
		return err
	}
	from, ok := g.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: task %q in tag %q", schema.ErrNotFound, taskID, g.tag)
	}
	found := false
	for _, dep := range from.Dependencies {
		if dep == dependsOnID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: task %q does not depend on %q", schema.ErrNotFound, taskID, dependsOnID)
	}
	return e.store.RemoveDependencyEdge(taskID, dependsOnID, g.tag)
}

// GetDependencies returns what taskID depends on.
func (e *Engine) GetDependencies(taskID, tag string) ([]Ref, error) {
	return e.adjacent(taskID, tag, func(g *tagGraph) []string { return g.deps[taskID] })
}

// GetDependents returns who depends on taskID.
func (e *Engine) GetDependents(taskID, tag string) ([]Ref, error) {
	return e.adjacent(taskID, tag, func(g *tagGraph) []string { return g.dependents[taskID] })
}

// GetBlockingTasks returns the dependencies of taskID that are not yet
// done or cancelled, the ones actually holding it up.
func (e *Engine) GetBlockingTasks(taskID, tag string) ([]Ref, error) {
	refs, err := e.GetDependencies(taskID, tag)
	if err != nil {
		return nil, err
	}
	var out []Ref
	for _, r := range refs {
		if !satisfies(r.Status) {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetBlockedTasks returns the dependents of taskID that remain blocked
// on it, which is all of them until taskID is done or cancelled.
func (e *Engine) GetBlockedTasks(taskID, tag string) ([]Ref, error) {
	g, err := e.snapshot(tag)
	if err != nil {
		return nil, err
	}
	if _, ok := g.tasks[taskID]; !ok {
		return nil, fmt.Errorf("%w: task %q in tag %q", schema.ErrNotFound, taskID, g.tag)
	}
	if satisfies(g.ref(taskID).Status) {
		return nil, nil
	}
	var out []Ref
	for _, id := range g.dependents[taskID] {
		out = append(out, g.ref(id))
	}
	return out, nil
}

func (e *Engine) adjacent(taskID, tag string, pick func(*tagGraph) []string) ([]Ref, error) {
	g, err := e.snapshot(tag)
	if err != nil {
		return nil, err
	}
	if _, ok := g.tasks[taskID]; !ok {
		return nil, fmt.Errorf("%w: task %q in tag %q", schema.ErrNotFound, taskID, g.tag)
	}
	ids := pick(g)
	out := make([]Ref, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.ref(id))
	}
	return out, nil
}

// satisfies reports whether a dependency in this status no longer
// blocks its dependents.
func satisfies(s schema.Status) bool {
	return s == schema.StatusDone || s == schema.StatusCancelled
}

// WouldCreateCycle reports whether adding "from depends on to" would
// close a loop. It never mutates anything.
func (e *Engine) WouldCreateCycle(from, to, tag string) (bool, error) {
	if from == to {
		return true, nil
	}
	g, err := e.snapshot(tag)
	if err != nil {
		return false, err
	}
	return g.reaches(to, from, map[string]bool{}), nil
}

// DetectCycles runs a full depth-first search over every tag and
// returns all dependency loops found. Edges never cross tags, so the
// global scan is the union of per-tag scans.
func (e *Engine) DetectCycles() ([][]string, error) {
	var all [][]string
	for _, tag := range e.store.Tags() {
		g, err := e.snapshot(tag)
		if err != nil {
			return nil, err
		}
		all = append(all, g.findCycles()...)
	}
	return all, nil
}

// findCycles walks every unvisited node depth-first with an explicit
// recursion stack; revisiting a node on the stack yields the stack
// slice from that node forward as one cycle.
func (g *tagGraph) findCycles() [][]string {
	var cycles [][]string
	visited := map[string]bool{}
	onStack := map[string]bool{}
	var stack []string

	var dfs func(id string)
	dfs = func(id string) {
		visited[id] = true
		onStack[id] = true
		stack = append(stack, id)
		for _, dep := range g.deps[id] {
			if onStack[dep] {
				for i, s := range stack {
					if s == dep {
						cycle := append([]string(nil), stack[i:]...)
						cycles = append(cycles, append(cycle, dep))
						break
					}
				}
				continue
			}
			if !visited[dep] {
				dfs(dep)
			}
		}
		stack = stack[:len(stack)-1]
		onStack[id] = false
	}

	for _, id := range g.ids {
		if !visited[id] {
			dfs(id)
		}
	}
	return cycles
}

// ValidationReport is the result of ValidateDependencies.
type ValidationReport struct {
	Valid    bool       `json:"isValid"`
	Errors   []string   `json:"errors"`
	Warnings []string   `json:"warnings"`
	Cycles   [][]string `json:"cycles"`
}

// ValidateDependencies cross-checks referential integrity across every
// tag: dangling dependency or blocker IDs are errors, dependencies on
// cancelled tasks are warnings, and any cycle is an error.
func (e *Engine) ValidateDependencies() (*ValidationReport, error) {
	report := &ValidationReport{
		Errors:   []string{},
		Warnings: []string{},
		Cycles:   [][]string{},
	}
	for _, tag := range e.store.Tags() {
		g, err := e.snapshot(tag)
		if err != nil {
			return nil, err
		}
		for _, id := range g.ids {
			t, ok := g.tasks[id]
			if !ok {
				report.Errors = append(report.Errors,
					fmt.Sprintf("%v: task %q (tag %q) is referenced as a dependency but does not exist", schema.ErrIntegrity, id, tag))
				continue
			}
			for _, dep := range t.Dependencies {
				target, ok := g.tasks[dep]
				if !ok {
					report.Errors = append(report.Errors,
						fmt.Sprintf("%v: task %q depends on missing task %q (tag %q)", schema.ErrIntegrity, id, dep, tag))
					continue
				}
				if target.Status == schema.StatusCancelled {
					report.Warnings = append(report.Warnings,
						fmt.Sprintf("task %q depends on cancelled task %q (tag %q)", id, dep, tag))
				}
			}
			for _, blocker := range t.BlockedBy {
				if _, ok := g.tasks[blocker]; !ok {
					report.Errors = append(report.Errors,
						fmt.Sprintf("%v: task %q is blocked by missing task %q (tag %q)", schema.ErrIntegrity, id, blocker, tag))
				}
			}
		}
		for _, cycle := range g.findCycles() {
			report.Cycles = append(report.Cycles, cycle)
			report.Errors = append(report.Errors,
				fmt.Sprintf("%v: dependency cycle %v (tag %q)", schema.ErrCycle, cycle, tag))
		}
	}
	report.Valid = len(report.Errors) == 0
	return report, nil
}
