package store

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/amirbrooks/taskdeps/internal/schema"
)

// Export formats.
const (
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
	FormatYAML     = "yaml"
	FormatTOML     = "toml"
)

// statusOrder fixes the heading order for grouped exports.
var statusOrder = []schema.Status{
	schema.StatusPending, schema.StatusInProgress, schema.StatusBlocked,
	schema.StatusReview, schema.StatusDone, schema.StatusDeferred,
	schema.StatusCancelled,
}

// ExportTasks serializes one tag (or, for JSON/YAML/TOML with an empty
// tag name of "*", the whole collection) into the requested format.
func (m *Manager) ExportTasks(format, tag string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	format = strings.TrimSpace(strings.ToLower(format))
	if tag == "*" {
		switch format {
		case FormatJSON:
			return json.MarshalIndent(m.col, "", "  ")
		case FormatYAML:
			return yaml.Marshal(m.col)
		case FormatTOML:
			var buf bytes.Buffer
			if err := toml.NewEncoder(&buf).Encode(m.col); err != nil {
				return nil, fmt.Errorf("%w: encoding toml: %v", schema.ErrPersistence, err)
			}
			return buf.Bytes(), nil
		default:
			return nil, fmt.Errorf("%w: format %q cannot export the whole collection", schema.ErrInvalid, format)
		}
	}

	name := m.resolveTag(tag)
	t, err := m.tagLocked(name)
	if err != nil {
		return nil, err
	}
	tasks := flatten(t.Tasks)

	switch format {
	case FormatJSON:
		return json.MarshalIndent(t, "", "  ")
	case FormatYAML:
		return yaml.Marshal(t)
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(t); err != nil {
			return nil, fmt.Errorf("%w: encoding toml: %v", schema.ErrPersistence, err)
		}
		return buf.Bytes(), nil
	case FormatCSV:
		return exportCSV(tasks)
	case FormatMarkdown:
		return exportMarkdown(name, tasks), nil
	default:
		return nil, fmt.Errorf("%w: unknown export format %q", schema.ErrInvalid, format)
	}
}

func exportCSV(tasks []*schema.Task) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"id", "title", "description", "status", "priority", "type", "assignee", "created", "due"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, t := range tasks {
		assignee := ""
		if t.Assignee != nil {
			assignee = t.Assignee.Name
			if assignee == "" {
				assignee = t.Assignee.ID
			}
		}
		row := []string{
			t.ID, t.Title, t.Description,
			string(t.Status), string(t.Priority), string(t.Type),
			assignee,
			formatDate(&t.Metadata.Created),
			formatDate(t.DueDate),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func exportMarkdown(tagName string, tasks []*schema.Task) []byte {
	byStatus := map[schema.Status][]*schema.Task{}
	for _, t := range tasks {
		byStatus[t.Status] = append(byStatus[t.Status], t)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Tasks: %s\n", tagName)
	for _, status := range statusOrder {
		group := byStatus[status]
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", status)
		for _, t := range group {
			fmt.Fprintf(&b, "- **%s** %s", t.ID, t.Title)
			if t.Priority != schema.PriorityMedium {
				fmt.Fprintf(&b, " _(%s)_", t.Priority)
			}
			if len(t.Dependencies) > 0 {
				fmt.Fprintf(&b, " — depends on %s", strings.Join(t.Dependencies, ", "))
			}
			if t.DueDate != nil {
				fmt.Fprintf(&b, " — due %s", t.DueDate.Format("2006-01-02"))
			}
			b.WriteString("\n")
		}
	}
	return []byte(b.String())
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
