package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/amirbrooks/taskdeps/internal/schema"
)

// Filter holds the listing predicates. All set predicates are
// AND-combined; zero values match everything.
type Filter struct {
	Status   schema.Status
	Priority schema.Priority
	Type     schema.TaskType
	Assignee string
	Labels   []string
	Search   string
	// Inclusive range on Metadata.Created.
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// ListTasks flattens the tag's forest depth-first and applies the
// filter predicates.
func (m *Manager) ListTasks(f Filter, tag string) ([]*schema.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := m.resolveTag(tag)
	t, err := m.tagLocked(name)
	if err != nil {
		return nil, err
	}
	var out []*schema.Task
	for _, task := range flatten(t.Tasks) {
		if matchesFilter(task, f) {
			out = append(out, task.Clone())
		}
	}
	return out, nil
}

// GetAllTasks returns every task in the tag, flattened depth-first.
func (m *Manager) GetAllTasks(tag string) ([]*schema.Task, error) {
	return m.ListTasks(Filter{}, tag)
}

func matchesFilter(t *schema.Task, f Filter) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Assignee != "" {
		if t.Assignee == nil || t.Assignee.ID != f.Assignee {
			return false
		}
	}
	if len(f.Labels) > 0 && !labelsIntersect(t.Labels, f.Labels) {
		return false
	}
	if f.Search != "" && !matchesSearch(t, f.Search) {
		return false
	}
	created := t.Metadata.Created
	if f.CreatedAfter != nil && created.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && created.After(*f.CreatedBefore) {
		return false
	}
	return true
}

func labelsIntersect(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}

func matchesSearch(t *schema.Task, query string) bool {
	q := strings.ToLower(query)
	for _, field := range []string{t.Title, t.Description, t.Details, t.Notes} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// Stats aggregates counts for one tag.
type Stats struct {
	Total      int                     `json:"total"`
	ByStatus   map[schema.Status]int   `json:"byStatus"`
	ByPriority map[schema.Priority]int `json:"byPriority"`
	ByType     map[schema.TaskType]int `json:"byType"`
	ByAssignee map[string]int          `json:"byAssignee"`
	Completed  int                     `json:"completed"`
	InProgress int                     `json:"inProgress"`
	Blocked    int                     `json:"blocked"`
	Overdue    int                     `json:"overdue"`
}

// GetStats walks the tag and aggregates counts by status, priority,
// type, and assignee, plus tasks whose due date has passed without
// being done.
func (m *Manager) GetStats(tag string) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := m.resolveTag(tag)
	t, err := m.tagLocked(name)
	if err != nil {
		return nil, err
	}
	s := &Stats{
		ByStatus:   map[schema.Status]int{},
		ByPriority: map[schema.Priority]int{},
		ByType:     map[schema.TaskType]int{},
		ByAssignee: map[string]int{},
	}
	now := timeNow()
	for _, task := range flatten(t.Tasks) {
		s.Total++
		s.ByStatus[task.Status]++
		s.ByPriority[task.Priority]++
		s.ByType[task.Type]++
		if task.Assignee != nil {
			s.ByAssignee[task.Assignee.ID]++
		}
		switch task.Status {
		case schema.StatusDone:
			s.Completed++
		case schema.StatusInProgress:
			s.InProgress++
		case schema.StatusBlocked:
			s.Blocked++
		}
		if task.DueDate != nil && task.DueDate.Before(now) && task.Status != schema.StatusDone {
			s.Overdue++
		}
	}
	return s, nil
}

// Summary renders a one-line description of the stats, for logs and
// the CLI.
func (s *Stats) Summary() string {
	return fmt.Sprintf("%d tasks: %d done, %d in progress, %d blocked, %d overdue",
		s.Total, s.Completed, s.InProgress, s.Blocked, s.Overdue)
}
