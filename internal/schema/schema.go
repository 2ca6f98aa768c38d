// Package schema defines the task and tag data shapes, default values,
// ID generation, and the task status state machine. Every object is
// validated here before it enters the store.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

var timeNow = func() time.Time { return time.Now().UTC() }

// MainTag is the namespace every collection carries and which can never
// be deleted.
const MainTag = "main"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusBlocked    Status = "blocked"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
	StatusDeferred   Status = "deferred"
	StatusCancelled  Status = "cancelled"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

type TaskType string

const (
	TypeFeature TaskType = "feature"
	TypeBug     TaskType = "bug"
	TypeTask    TaskType = "task"
	TypeEpic    TaskType = "epic"
	TypeChore   TaskType = "chore"
	TypeDocs    TaskType = "docs"
)

var (
	validStatuses = map[Status]bool{
		StatusPending: true, StatusInProgress: true, StatusBlocked: true,
		StatusReview: true, StatusDone: true, StatusDeferred: true,
		StatusCancelled: true,
	}
	validPriorities = map[Priority]bool{
		PriorityLow: true, PriorityMedium: true, PriorityHigh: true,
		PriorityCritical: true,
	}
	validTypes = map[TaskType]bool{
		TypeFeature: true, TypeBug: true, TypeTask: true,
		TypeEpic: true, TypeChore: true, TypeDocs: true,
	}
)

// PriorityRank orders priorities for scheduling: critical=4 .. low=1.
// Unknown priorities rank below low.
func PriorityRank(p Priority) int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Assignee identifies who a task is assigned to.
type Assignee struct {
	ID   string `json:"id" yaml:"id" toml:"id"`
	Name string `json:"name" yaml:"name" toml:"name"`
}

// TaskMetadata carries per-task timestamps.
type TaskMetadata struct {
	Created  time.Time `json:"created" yaml:"created" toml:"created"`
	Modified time.Time `json:"modified" yaml:"modified" toml:"modified"`
}

// Task is one node in a per-tag forest. Subtasks are owned by
// containment; Dependencies is a flat ID-to-ID relation layered on top
// and never implies ownership. Every export format shares the JSON
// field vocabulary, so the tag sets must stay in step.
type Task struct {
	ID            string       `json:"id" yaml:"id" toml:"id"`
	Title         string       `json:"title" yaml:"title" toml:"title"`
	Description   string       `json:"description" yaml:"description" toml:"description"`
	Details       string       `json:"details,omitempty" yaml:"details,omitempty" toml:"details,omitempty"`
	Notes         string       `json:"notes,omitempty" yaml:"notes,omitempty" toml:"notes,omitempty"`
	Status        Status       `json:"status" yaml:"status" toml:"status"`
	Priority      Priority     `json:"priority" yaml:"priority" toml:"priority"`
	Type          TaskType     `json:"type" yaml:"type" toml:"type"`
	Assignee      *Assignee    `json:"assignee,omitempty" yaml:"assignee,omitempty" toml:"assignee,omitempty"`
	Labels        []string     `json:"tags" yaml:"tags" toml:"tags"`
	Dependencies  []string     `json:"dependencies" yaml:"dependencies" toml:"dependencies"`
	BlockedBy     []string     `json:"blockedBy" yaml:"blockedBy" toml:"blockedBy"`
	Blocks        []string     `json:"blocks" yaml:"blocks" toml:"blocks"`
	Subtasks      []*Task      `json:"subtasks" yaml:"subtasks" toml:"subtasks"`
	DueDate       *time.Time   `json:"dueDate,omitempty" yaml:"dueDate,omitempty" toml:"dueDate,omitempty"`
	CompletedDate *time.Time   `json:"completedDate,omitempty" yaml:"completedDate,omitempty" toml:"completedDate,omitempty"`
	Metadata      TaskMetadata `json:"metadata" yaml:"metadata" toml:"metadata"`
}

// TagMetadata carries per-namespace bookkeeping.
type TagMetadata struct {
	TaskCount int       `json:"taskCount" yaml:"taskCount" toml:"taskCount"`
	Created   time.Time `json:"created" yaml:"created" toml:"created"`
	Modified  time.Time `json:"modified" yaml:"modified" toml:"modified"`
}

// Tag is a named, independent namespace partitioning the task forest.
// Distinct from the free-form labels a task carries.
type Tag struct {
	Name        string      `json:"name" yaml:"name" toml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Tasks       []*Task     `json:"tasks" yaml:"tasks" toml:"tasks"`
	Metadata    TagMetadata `json:"metadata" yaml:"metadata" toml:"metadata"`
}

// CollectionMetadata is recomputed before every persist.
type CollectionMetadata struct {
	TotalTasks int       `json:"totalTasks" yaml:"totalTasks" toml:"totalTasks"`
	MaxDepth   int       `json:"maxDepth" yaml:"maxDepth" toml:"maxDepth"`
	Modified   time.Time `json:"modified" yaml:"modified" toml:"modified"`
}

// Collection is the whole persisted document.
type Collection struct {
	Tags     map[string]*Tag    `json:"tags" yaml:"tags" toml:"tags"`
	Metadata CollectionMetadata `json:"metadata" yaml:"metadata" toml:"metadata"`
}

// NewCollection returns a collection containing a single empty main tag.
func NewCollection() *Collection {
	now := timeNow()
	return &Collection{
		Tags: map[string]*Tag{
			MainTag: {
				Name:     MainTag,
				Tasks:    []*Task{},
				Metadata: TagMetadata{Created: now, Modified: now},
			},
		},
		Metadata: CollectionMetadata{Modified: now},
	}
}

// NewTask fills defaults into a partially specified task. It does not
// assign an ID; the store does that when the task is placed in a tag.
func NewTask(partial Task) *Task {
	t := partial
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Type == "" {
		t.Type = TypeTask
	}
	if t.Labels == nil {
		t.Labels = []string{}
	}
	if t.Dependencies == nil {
		t.Dependencies = []string{}
	}
	if t.BlockedBy == nil {
		t.BlockedBy = []string{}
	}
	if t.Blocks == nil {
		t.Blocks = []string{}
	}
	if t.Subtasks == nil {
		t.Subtasks = []*Task{}
	}
	now := timeNow()
	if t.Metadata.Created.IsZero() {
		t.Metadata.Created = now
	}
	t.Metadata.Modified = now
	return &t
}

// GenerateTaskID returns the next free ID. Top-level tasks (empty
// parentID) use the smallest unused positive integer as a string;
// subtasks use parentID + "." + smallest unused suffix under that
// parent.
func GenerateTaskID(parentID string, existing []string) string {
	used := make(map[int]bool, len(existing))
	if parentID == "" {
		for _, id := range existing {
			if n, err := strconv.Atoi(id); err == nil && n > 0 {
				used[n] = true
			}
		}
	} else {
		prefix := parentID + "."
		for _, id := range existing {
			rest, ok := strings.CutPrefix(id, prefix)
			if !ok || strings.Contains(rest, ".") {
				continue
			}
			if n, err := strconv.Atoi(rest); err == nil && n > 0 {
				used[n] = true
			}
		}
	}
	n := 1
	for used[n] {
		n++
	}
	if parentID == "" {
		return strconv.Itoa(n)
	}
	return parentID + "." + strconv.Itoa(n)
}

// NormalizeStatus maps adapter status vocabulary onto the canonical set.
// "completed" is accepted as an alias for done; everything else passes
// through for validation to judge.
func NormalizeStatus(s string) Status {
	v := Status(strings.TrimSpace(strings.ToLower(s)))
	if v == "completed" {
		return StatusDone
	}
	return v
}

// ValidateTask checks one task (not its subtasks) and returns a
// ValidationError listing every violation found.
func ValidateTask(t *Task) error {
	if t == nil {
		return &ValidationError{Violations: []string{"task is nil"}}
	}
	var violations []string
	if strings.TrimSpace(t.Title) == "" {
		violations = append(violations, "title is required")
	}
	if !validStatuses[t.Status] {
		violations = append(violations, fmt.Sprintf("unknown status %q", t.Status))
	}
	if !validPriorities[t.Priority] {
		violations = append(violations, fmt.Sprintf("unknown priority %q", t.Priority))
	}
	if !validTypes[t.Type] {
		violations = append(violations, fmt.Sprintf("unknown type %q", t.Type))
	}
	if t.Assignee != nil && strings.TrimSpace(t.Assignee.ID) == "" {
		violations = append(violations, "assignee id is required when assignee is set")
	}
	for _, dep := range t.Dependencies {
		if strings.TrimSpace(dep) == "" {
			violations = append(violations, "empty dependency id")
		}
		if dep == t.ID && t.ID != "" {
			violations = append(violations, fmt.Sprintf("task %s depends on itself", t.ID))
		}
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// ValidateCollection recursively validates every tag and task and
// aggregates all violations into one ValidationError.
func ValidateCollection(c *Collection) error {
	if c == nil {
		return &ValidationError{Violations: []string{"collection is nil"}}
	}
	var violations []string
	if _, ok := c.Tags[MainTag]; !ok {
		violations = append(violations, "collection is missing the main tag")
	}
	names := make([]string, 0, len(c.Tags))
	for name := range c.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		tag := c.Tags[name]
		if tag == nil {
			violations = append(violations, fmt.Sprintf("tag %q is nil", name))
			continue
		}
		if tag.Name != name {
			violations = append(violations, fmt.Sprintf("tag %q has mismatched name %q", name, tag.Name))
		}
		seen := map[string]bool{}
		var walk func(tasks []*Task)
		walk = func(tasks []*Task) {
			for _, t := range tasks {
				if err := ValidateTask(t); err != nil {
					var ve *ValidationError
					if errors.As(err, &ve) {
						for _, v := range ve.Violations {
							violations = append(violations, fmt.Sprintf("tag %q task %q: %s", name, t.ID, v))
						}
					}
				}
				if t == nil {
					continue
				}
				if t.ID != "" {
					if seen[t.ID] {
						violations = append(violations, fmt.Sprintf("tag %q has duplicate task id %q", name, t.ID))
					}
					seen[t.ID] = true
				}
				walk(t.Subtasks)
			}
		}
		walk(tag.Tasks)
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// statusTransitions encodes the allowed state machine. done and
// cancelled are terminal except that done may be reopened.
var statusTransitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusBlocked, StatusDeferred, StatusCancelled},
	StatusInProgress: {StatusReview, StatusBlocked, StatusDone, StatusCancelled},
	StatusReview:     {StatusInProgress, StatusDone},
	StatusBlocked:    {StatusPending, StatusInProgress, StatusCancelled},
	StatusDeferred:   {StatusPending, StatusCancelled},
	StatusDone:       {StatusInProgress},
	StatusCancelled:  {},
}

// IsValidStatusTransition reports whether from -> to is allowed.
// A no-op transition (from == to) is always allowed.
func IsValidStatusTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckStatusTransition returns an InvalidTransitionError naming the
// rejected pair when the transition is not allowed.
func CheckStatusTransition(from, to Status) error {
	if !IsValidStatusTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// Clone returns a deep copy of the task, detached from the store's
// internal tree.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Assignee != nil {
		a := *t.Assignee
		c.Assignee = &a
	}
	c.Labels = append([]string(nil), t.Labels...)
	c.Dependencies = append([]string(nil), t.Dependencies...)
	c.BlockedBy = append([]string(nil), t.BlockedBy...)
	c.Blocks = append([]string(nil), t.Blocks...)
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.CompletedDate != nil {
		d := *t.CompletedDate
		c.CompletedDate = &d
	}
	c.Subtasks = make([]*Task, 0, len(t.Subtasks))
	for _, sub := range t.Subtasks {
		c.Subtasks = append(c.Subtasks, sub.Clone())
	}
	return &c
}
