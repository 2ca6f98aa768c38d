package deps

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/amirbrooks/taskdeps/internal/schema"
)

// Visualization formats.
const (
	VizTree = "tree"
	VizJSON = "json"
	VizDOT  = "dot"
)

var statusGlyphs = map[schema.Status]string{
	schema.StatusPending:    "○",
	schema.StatusInProgress: "◐",
	schema.StatusBlocked:    "■",
	schema.StatusReview:     "◆",
	schema.StatusDone:       "●",
	schema.StatusDeferred:   "…",
	schema.StatusCancelled:  "✗",
}

var statusFillColors = map[schema.Status]string{
	schema.StatusPending:    "lightyellow",
	schema.StatusInProgress: "lightblue",
	schema.StatusBlocked:    "lightcoral",
	schema.StatusReview:     "plum",
	schema.StatusDone:       "lightgreen",
	schema.StatusDeferred:   "lightgray",
	schema.StatusCancelled:  "gray",
}

func glyph(s schema.Status) string {
	if g, ok := statusGlyphs[s]; ok {
		return g
	}
	return "?"
}

func fillColor(s schema.Status) string {
	if c, ok := statusFillColors[s]; ok {
		return c
	}
	return "white"
}

// VisualizeDependencies renders the dependency subtree reachable from
// taskID as an indented tree, a nested JSON document, or a DOT graph.
func (e *Engine) VisualizeDependencies(taskID, format, tag string) (string, error) {
	g, err := e.snapshot(tag)
	if err != nil {
		return "", err
	}
	if _, ok := g.tasks[taskID]; !ok {
		return "", fmt.Errorf("%w: task %q in tag %q", schema.ErrNotFound, taskID, g.tag)
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case VizTree, "":
		return renderTree(g, taskID), nil
	case VizJSON:
		return renderJSONTree(g, taskID)
	case VizDOT:
		return renderDOT(g, taskID), nil
	default:
		return "", fmt.Errorf("%w: unknown visualization format %q", schema.ErrInvalid, format)
	}
}

// renderTree prints one line per node, indented by depth, with a status
// glyph. A node already shown on the current branch is printed once
// more with a circular marker and not expanded again.
func renderTree(g *tagGraph, root string) string {
	var b strings.Builder
	var walk func(id string, depth int, onPath map[string]bool)
	walk = func(id string, depth int, onPath map[string]bool) {
		ref := g.ref(id)
		indent := strings.Repeat("  ", depth)
		label := ref.Title
		if label == "" {
			label = "(unresolved)"
		}
		if onPath[id] {
			fmt.Fprintf(&b, "%s%s %s %s (circular)\n", indent, glyph(ref.Status), id, label)
			return
		}
		fmt.Fprintf(&b, "%s%s %s %s\n", indent, glyph(ref.Status), id, label)
		onPath[id] = true
		for _, dep := range g.deps[id] {
			walk(dep, depth+1, onPath)
		}
		delete(onPath, id)
	}
	walk(root, 0, map[string]bool{})
	return b.String()
}

type jsonNode struct {
	ID           string      `json:"id"`
	Title        string      `json:"title,omitempty"`
	Status       string      `json:"status"`
	Circular     bool        `json:"circular,omitempty"`
	Dependencies []*jsonNode `json:"dependencies,omitempty"`
}

func renderJSONTree(g *tagGraph, root string) (string, error) {
	var build func(id string, onPath map[string]bool) *jsonNode
	build = func(id string, onPath map[string]bool) *jsonNode {
		ref := g.ref(id)
		node := &jsonNode{ID: id, Title: ref.Title, Status: string(ref.Status)}
		if onPath[id] {
			node.Circular = true
			return node
		}
		onPath[id] = true
		for _, dep := range g.deps[id] {
			node.Dependencies = append(node.Dependencies, build(dep, onPath))
		}
		delete(onPath, id)
		return node
	}
	data, err := json.MarshalIndent(build(root, map[string]bool{}), "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// renderDOT emits a Graphviz digraph of the subtree, one node per task
// with a per-status fill color, edges pointing at dependencies.
func renderDOT(g *tagGraph, root string) string {
	nodes := map[string]bool{}
	var edges [][2]string
	var collect func(id string)
	collect = func(id string) {
		if nodes[id] {
			return
		}
		nodes[id] = true
		for _, dep := range g.deps[id] {
			edges = append(edges, [2]string{id, dep})
			collect(dep)
		}
	}
	collect(root)

	ordered := make([]string, 0, len(nodes))
	for _, id := range g.ids {
		if nodes[id] {
			ordered = append(ordered, id)
		}
	}

	var b strings.Builder
	b.WriteString("digraph dependencies {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box, style=\"rounded,filled\"];\n\n")
	for _, id := range ordered {
		ref := g.ref(id)
		label := id
		if ref.Title != "" {
			label = fmt.Sprintf("%s\\n%s", id, strings.ReplaceAll(ref.Title, `"`, `\"`))
		}
		fmt.Fprintf(&b, "  %q [label=\"%s\", fillcolor=%s];\n", id, label, fillColor(ref.Status))
	}
	b.WriteString("\n")
	for _, edge := range edges {
		fmt.Fprintf(&b, "  %q -> %q;\n", edge[0], edge[1])
	}
	b.WriteString("}\n")
	return b.String()
}
