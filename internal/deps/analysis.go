package deps

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/amirbrooks/taskdeps/internal/schema"
)

var timeNow = func() time.Time { return time.Now().UTC() }

// GetTopologicalSort orders one tag's tasks so that every task's
// dependencies appear before it, using Kahn's algorithm. A result
// smaller than the node set means the tag holds a cycle that slipped
// past edge-time checks; that is an invariant violation, not a
// retryable condition.
func (e *Engine) GetTopologicalSort(tag string) ([]string, error) {
	g, err := e.snapshot(tag)
	if err != nil {
		return nil, err
	}
	return g.topoSort()
}

func (g *tagGraph) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.ids))
	for _, id := range g.ids {
		inDegree[id] = len(g.deps[id])
	}

	var queue []string
	for _, id := range g.ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		var freed []string
		for _, dependent := range g.dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				freed = append(freed, dependent)
			}
		}
		sort.Strings(freed)
		queue = append(queue, freed...)
	}

	if len(order) != len(g.ids) {
		return nil, fmt.Errorf("%w: topological sort covered %d of %d tasks in tag %q",
			schema.ErrCycle, len(order), len(g.ids), g.tag)
	}
	return order, nil
}

// GetReadyTasks returns the tasks that can be worked on right now:
// status pending or in-progress with every dependency done or
// cancelled. Ordering is by descending urgency, then priority rank,
// then ascending ID, so repeated calls with no intervening mutation
// return the same list.
func (e *Engine) GetReadyTasks(tag string) ([]*schema.Task, error) {
	g, err := e.snapshot(tag)
	if err != nil {
		return nil, err
	}
	now := timeNow()

	var ready []*schema.Task
	for _, id := range g.ids {
		t, ok := g.tasks[id]
		if !ok {
			continue
		}
		if t.Status != schema.StatusPending && t.Status != schema.StatusInProgress {
			continue
		}
		blocked := false
		for _, dep := range g.deps[id] {
			if !satisfies(g.ref(dep).Status) {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, t)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		ua := urgency(a, len(g.dependents[a.ID]), now)
		ub := urgency(b, len(g.dependents[b.ID]), now)
		if ua != ub {
			return ua > ub
		}
		ra, rb := schema.PriorityRank(a.Priority), schema.PriorityRank(b.Priority)
		if ra != rb {
			return ra > rb
		}
		return lessTaskID(a.ID, b.ID)
	})
	return ready, nil
}

// lessTaskID orders dotted task IDs segment-wise and numerically, so
// "2" sorts before "10" and "1.2" before "1.10". Non-numeric segments
// fall back to string comparison.
func lessTaskID(a, b string) bool {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			return an < bn
		}
		return as[i] < bs[i]
	}
	return len(as) < len(bs)
}

// urgency scores due-date proximity plus one point per direct
// dependent, so tasks that unblock more downstream work sort first.
func urgency(t *schema.Task, dependents int, now time.Time) int {
	score := dependents
	if t.DueDate != nil {
		until := t.DueDate.Sub(now)
		switch {
		case until < 0:
			score += 10
		case until <= 24*time.Hour:
			score += 8
		case until <= 3*24*time.Hour:
			score += 6
		case until <= 7*24*time.Hour:
			score += 4
		}
	}
	return score
}

// ChainEdge is one hop in a dependency chain; Status is the status of
// the depended-on task.
type ChainEdge struct {
	From   string        `json:"from"`
	To     string        `json:"to"`
	Status schema.Status `json:"status"`
}

// GetDependencyChain expands all transitive dependencies of taskID into
// a flat edge list, depth-first, each edge reported once.
func (e *Engine) GetDependencyChain(taskID, tag string) ([]ChainEdge, error) {
	g, err := e.snapshot(tag)
	if err != nil {
		return nil, err
	}
	if _, ok := g.tasks[taskID]; !ok {
		return nil, fmt.Errorf("%w: task %q in tag %q", schema.ErrNotFound, taskID, g.tag)
	}

	var chain []ChainEdge
	seen := map[[2]string]bool{}
	var expand func(id string)
	expand = func(id string) {
		for _, dep := range g.deps[id] {
			key := [2]string{id, dep}
			if seen[key] {
				continue
			}
			seen[key] = true
			chain = append(chain, ChainEdge{From: id, To: dep, Status: g.ref(dep).Status})
			expand(dep)
		}
	}
	expand(taskID)
	return chain, nil
}

// Risk levels for impact analysis.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Impact describes what changing or slipping a task would touch.
type Impact struct {
	TaskID               string   `json:"taskId"`
	DirectDependents     []string `json:"directDependents"`
	TransitiveDependents []string `json:"transitiveDependents"`
	OnCriticalPath       bool     `json:"onCriticalPath"`
	Risk                 string   `json:"risk"`
}

// AnalyzeDependencyImpact computes the direct and transitive dependents
// of taskID, whether it sits on the tag's critical path, and a coarse
// risk level from the transitive-impact size.
func (e *Engine) AnalyzeDependencyImpact(taskID, tag string) (*Impact, error) {
	g, err := e.snapshot(tag)
	if err != nil {
		return nil, err
	}
	if _, ok := g.tasks[taskID]; !ok {
		return nil, fmt.Errorf("%w: task %q in tag %q", schema.ErrNotFound, taskID, g.tag)
	}

	direct := append([]string(nil), g.dependents[taskID]...)

	visited := map[string]bool{}
	var walk func(id string)
	walk = func(id string) {
		for _, dependent := range g.dependents[id] {
			if visited[dependent] {
				continue
			}
			visited[dependent] = true
			walk(dependent)
		}
	}
	walk(taskID)
	transitive := make([]string, 0, len(visited))
	for id := range visited {
		transitive = append(transitive, id)
	}
	sort.Strings(transitive)

	critical, err := g.longestPath()
	if err != nil {
		return nil, err
	}
	onPath := false
	for _, id := range critical {
		if id == taskID {
			onPath = true
			break
		}
	}

	risk := RiskCritical
	switch n := len(transitive); {
	case n < 2:
		risk = RiskLow
	case n < 5:
		risk = RiskMedium
	case n < 10:
		risk = RiskHigh
	}

	return &Impact{
		TaskID:               taskID,
		DirectDependents:     direct,
		TransitiveDependents: transitive,
		OnCriticalPath:       onPath,
		Risk:                 risk,
	}, nil
}

// FindLongestPath returns the critical path of one tag: the longest
// chain of dependency edges, listed dependencies-first.
func (e *Engine) FindLongestPath(tag string) ([]string, error) {
	g, err := e.snapshot(tag)
	if err != nil {
		return nil, err
	}
	return g.longestPath()
}

// IsOnCriticalPath reports whether taskID lies on the tag's longest
// dependency path.
func (e *Engine) IsOnCriticalPath(taskID, tag string) (bool, error) {
	g, err := e.snapshot(tag)
	if err != nil {
		return false, err
	}
	if _, ok := g.tasks[taskID]; !ok {
		return false, fmt.Errorf("%w: task %q in tag %q", schema.ErrNotFound, taskID, g.tag)
	}
	path, err := g.longestPath()
	if err != nil {
		return false, err
	}
	for _, id := range path {
		if id == taskID {
			return true, nil
		}
	}
	return false, nil
}

// longestPath runs dynamic programming over the topological order:
// distance[v] is the longest dependency chain ending at v, and back
// pointers reconstruct the path from the farthest node.
func (g *tagGraph) longestPath() ([]string, error) {
	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	dist := make(map[string]int, len(order))
	prev := make(map[string]string, len(order))
	for _, id := range order {
		for _, dep := range g.deps[id] {
			if d := dist[dep] + 1; d > dist[id] {
				dist[id] = d
				prev[id] = dep
			}
		}
	}

	end := ""
	best := -1
	for _, id := range order {
		if dist[id] > best {
			best = dist[id]
			end = id
		}
	}
	if end == "" {
		return nil, nil
	}

	var path []string
	for cur := end; ; {
		path = append(path, cur)
		next, ok := prev[cur]
		if !ok {
			break
		}
		cur = next
	}
	// Reverse so dependencies come first.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}
