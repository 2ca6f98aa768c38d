// Package store owns the persisted, tag-namespaced tree of tasks. All
// mutations go through the Manager, which serializes them behind one
// mutex, validates against the schema package, and persists with a
// rotating backup and an atomic rename.
package store

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"

	"github.com/amirbrooks/taskdeps/internal/config"
	"github.com/amirbrooks/taskdeps/internal/events"
	"github.com/amirbrooks/taskdeps/internal/schema"
)

var timeNow = func() time.Time { return time.Now().UTC() }

// Manager is the task store. Zero value is not usable; construct with
// New and call Initialize before anything else.
type Manager struct {
	mu      sync.Mutex
	cfg     *config.Config
	logger  *log.Logger
	bus     *events.Bus
	flk     *flock.Flock
	col     *schema.Collection
	current string
}

func New(cfg *config.Config, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Manager{
		cfg:     cfg,
		logger:  logger,
		bus:     events.NewBus(),
		flk:     flock.New(cfg.DataFile + ".lock"),
		current: schema.MainTag,
	}
}

// Subscribe registers an observer for lifecycle events.
func (m *Manager) Subscribe(o events.Observer) { m.bus.Subscribe(o) }

// Initialize loads the collection from disk, creating and persisting an
// empty one when the file is absent. Legacy flat-array documents are
// migrated into the tag-namespaced shape under main.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, created, err := m.load()
	if err != nil {
		return err
	}
	m.col = col
	if created && m.cfg.AutoPersist {
		if err := m.persistLocked(); err != nil {
			return err
		}
	}
	m.logger.Debug("store initialized", "file", m.cfg.DataFile, "tags", len(col.Tags))
	return nil
}

func (m *Manager) resolveTag(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return m.current
	}
	return tag
}

func (m *Manager) tagLocked(name string) (*schema.Tag, error) {
	t, ok := m.col.Tags[name]
	if !ok {
		return nil, fmt.Errorf("%w: tag %q", schema.ErrNotFound, name)
	}
	return t, nil
}

// CreateTask validates data, assigns an ID when absent, appends the
// task to the tag's top-level list, and persists. A caller-supplied ID
// that collides with an existing one in the tag is a conflict.
func (m *Manager) CreateTask(data schema.Task, tag string) (*schema.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := m.resolveTag(tag)
	t, err := m.tagLocked(name)
	if err != nil {
		return nil, err
	}

	task := schema.NewTask(data)
	existing := collectIDs(t.Tasks)
	if task.ID == "" {
		task.ID = schema.GenerateTaskID("", existing)
	} else if containsID(existing, task.ID) {
		return nil, fmt.Errorf("%w: task id %q already exists in tag %q", schema.ErrConflict, task.ID, name)
	}
	if err := schema.ValidateTask(task); err != nil {
		return nil, err
	}

	t.Tasks = append(t.Tasks, task)
	m.touchTag(t)
	if err := m.persistIfAuto(); err != nil {
		t.Tasks = t.Tasks[:len(t.Tasks)-1]
		return nil, err
	}
	m.bus.Publish(events.Event{Kind: events.TaskCreated, Tag: name, TaskID: task.ID})
	m.logger.Debug("task created", "tag", name, "id", task.ID)
	return task.Clone(), nil
}

// CreateSubtask creates a task nested under parentID, with an ID
// generated as a child of the parent.
func (m *Manager) CreateSubtask(parentID string, data schema.Task, tag string) (*schema.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := m.resolveTag(tag)
	t, err := m.tagLocked(name)
	if err != nil {
		return nil, err
	}
	parent := findTask(t.Tasks, parentID)
	if parent == nil {
		return nil, fmt.Errorf("%w: parent task %q in tag %q", schema.ErrNotFound, parentID, name)
	}

	task := schema.NewTask(data)
	existing := collectIDs(t.Tasks)
	if task.ID == "" {
		task.ID = schema.GenerateTaskID(parentID, existing)
	} else if containsID(existing, task.ID) {
		return nil, fmt.Errorf("%w: task id %q already exists in tag %q", schema.ErrConflict, task.ID, name)
	}
	if err := schema.ValidateTask(task); err != nil {
		return nil, err
	}

	parent.Subtasks = append(parent.Subtasks, task)
	parent.Metadata.Modified = timeNow()
	m.touchTag(t)
	if err := m.persistIfAuto(); err != nil {
		parent.Subtasks = parent.Subtasks[:len(parent.Subtasks)-1]
		return nil, err
	}
	m.bus.Publish(events.Event{Kind: events.TaskCreated, Tag: name, TaskID: task.ID})
	return task.Clone(), nil
}

// GetTask looks a task up by depth-first search over the tag's forest.
// Absence is signaled by the second return, not an error.
func (m *Manager) GetTask(id, tag string) (*schema.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.col.Tags[m.resolveTag(tag)]
	if !ok {
		return nil, false
	}
	task := findTask(t.Tasks, id)
	if task == nil {
		return nil, false
	}
	return task.Clone(), true
}

// TaskUpdate lists the fields UpdateTask may change. Nil pointers leave
// the field untouched.
type TaskUpdate struct {
	Title        *string
	Description  *string
	Details      *string
	Notes        *string
	Status       *schema.Status
	Priority     *schema.Priority
	Type         *schema.TaskType
	Assignee     *schema.Assignee
	ClearAssign  bool
	Labels       *[]string
	Dependencies *[]string
	DueDate      *time.Time
	ClearDueDate bool
}

// UpdateTask merges updates into the task, checking the status state
// machine and re-validating the merged task before committing. A
// transition into done stamps CompletedDate if unset.
func (m *Manager) UpdateTask(id string, up TaskUpdate, tag string) (*schema.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := m.resolveTag(tag)
	t, err := m.tagLocked(name)
	if err != nil {
		return nil, err
	}
	task := findTask(t.Tasks, id)
	if task == nil {
		return nil, fmt.Errorf("%w: task %q in tag %q", schema.ErrNotFound, id, name)
	}

	// Merge into a copy so a rejected update leaves state untouched.
	merged := task.Clone()
	if up.Title != nil {
		merged.Title = *up.Title
	}
	if up.Description != nil {
		merged.Description = *up.Description
	}
	if up.Details != nil {
		merged.Details = *up.Details
	}
	if up.Notes != nil {
		merged.Notes = *up.Notes
	}
	if up.Priority != nil {
		merged.Priority = *up.Priority
	}
	if up.Type != nil {
		merged.Type = *up.Type
	}
	if up.ClearAssign {
		merged.Assignee = nil
	} else if up.Assignee != nil {
		a := *up.Assignee
		merged.Assignee = &a
	}
	if up.Labels != nil {
		merged.Labels = append([]string(nil), (*up.Labels)...)
	}
	if up.Dependencies != nil {
		deps := append([]string(nil), (*up.Dependencies)...)
		merged.Dependencies = deps
		// BlockedBy mirrors this task's own dependencies.
		merged.BlockedBy = append([]string(nil), deps...)
	}
	if up.ClearDueDate {
		merged.DueDate = nil
	} else if up.DueDate != nil {
		d := *up.DueDate
		merged.DueDate = &d
	}
	if up.Status != nil {
		next := schema.NormalizeStatus(string(*up.Status))
		if next != task.Status {
			if err := schema.CheckStatusTransition(task.Status, next); err != nil {
				return nil, err
			}
			merged.Status = next
			if next == schema.StatusDone && merged.CompletedDate == nil {
				now := timeNow()
				merged.CompletedDate = &now
			}
		}
	}
	merged.Metadata.Modified = timeNow()

	if err := schema.ValidateTask(merged); err != nil {
		return nil, err
	}

	prev := *task
	*task = *merged
	m.touchTag(t)
	if err := m.persistIfAuto(); err != nil {
		*task = prev
		return nil, err
	}
	m.bus.Publish(events.Event{Kind: events.TaskUpdated, Tag: name, TaskID: id})
	return task.Clone(), nil
}

// DeleteTask removes the task from wherever it sits in the tree, then
// strips the deleted IDs (the task and its whole subtree) from every
// remaining task's dependency arrays.
func (m *Manager) DeleteTask(id, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := m.resolveTag(tag)
	t, err := m.tagLocked(name)
	if err != nil {
		return err
	}
	if findTask(t.Tasks, id) == nil {
		return fmt.Errorf("%w: task %q in tag %q", schema.ErrNotFound, id, name)
	}
	// stripIDs edits the remaining tasks in place, so rollback needs a
	// deep copy of the forest, not just the detached subtree.
	prev := cloneForest(t.Tasks)
	removed := removeTask(&t.Tasks, id)

	gone := map[string]bool{}
	for _, dead := range flatten([]*schema.Task{removed}) {
		gone[dead.ID] = true
	}
	for _, remaining := range flatten(t.Tasks) {
		remaining.Dependencies = stripIDs(remaining.Dependencies, gone)
		remaining.BlockedBy = stripIDs(remaining.BlockedBy, gone)
		remaining.Blocks = stripIDs(remaining.Blocks, gone)
	}

	m.touchTag(t)
	if err := m.persistIfAuto(); err != nil {
		t.Tasks = prev
		return err
	}
	m.bus.Publish(events.Event{Kind: events.TaskDeleted, Tag: name, TaskID: id})
	m.logger.Debug("task deleted", "tag", name, "id", id)
	return nil
}

// CurrentTag returns the active namespace.
func (m *Manager) CurrentTag() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// SetCurrentTag switches the active namespace.
func (m *Manager) SetCurrentTag(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.col.Tags[name]; !ok {
		return fmt.Errorf("%w: tag %q", schema.ErrNotFound, name)
	}
	m.current = name
	m.bus.Publish(events.Event{Kind: events.TagChanged, Tag: name})
	return nil
}

// CreateTag adds a new empty namespace.
func (m *Manager) CreateTag(name, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: tag name is required", schema.ErrInvalid)
	}
	if _, ok := m.col.Tags[name]; ok {
		return fmt.Errorf("%w: tag %q already exists", schema.ErrConflict, name)
	}
	now := timeNow()
	m.col.Tags[name] = &schema.Tag{
		Name:        name,
		Description: description,
		Tasks:       []*schema.Task{},
		Metadata:    schema.TagMetadata{Created: now, Modified: now},
	}
	if err := m.persistIfAuto(); err != nil {
		delete(m.col.Tags, name)
		return err
	}
	m.bus.Publish(events.Event{Kind: events.TagCreated, Tag: name})
	return nil
}

// DeleteTag removes a namespace and everything in it. Deleting main
// always fails; deleting the active tag resets the active tag to main.
func (m *Manager) DeleteTag(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name == schema.MainTag {
		return fmt.Errorf("%w: the main tag cannot be deleted", schema.ErrInvalid)
	}
	tag, ok := m.col.Tags[name]
	if !ok {
		return fmt.Errorf("%w: tag %q", schema.ErrNotFound, name)
	}
	delete(m.col.Tags, name)
	prevCurrent := m.current
	if m.current == name {
		m.current = schema.MainTag
	}
	if err := m.persistIfAuto(); err != nil {
		m.col.Tags[name] = tag
		m.current = prevCurrent
		return err
	}
	m.bus.Publish(events.Event{Kind: events.TagDeleted, Tag: name})
	return nil
}

// Tags returns the namespace names, sorted.
func (m *Manager) Tags() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.col.Tags))
	for name := range m.col.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddDependencyEdge records that taskID depends on dependsOnID inside
// one tag, updating the mirrored arrays on both tasks, and persists.
// Cycle and duplicate checks belong to the dependency engine; the store
// only rejects edges whose endpoints do not resolve.
func (m *Manager) AddDependencyEdge(taskID, dependsOnID, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := m.resolveTag(tag)
	t, err := m.tagLocked(name)
	if err != nil {
		return err
	}
	from := findTask(t.Tasks, taskID)
	if from == nil {
		return fmt.Errorf("%w: task %q in tag %q", schema.ErrNotFound, taskID, name)
	}
	to := findTask(t.Tasks, dependsOnID)
	if to == nil {
		return fmt.Errorf("%w: task %q in tag %q", schema.ErrNotFound, dependsOnID, name)
	}
	prevFrom := from.Clone()
	prevTo := to.Clone()
	from.Dependencies = appendIDMissing(from.Dependencies, dependsOnID)
	from.BlockedBy = appendIDMissing(from.BlockedBy, dependsOnID)
	to.Blocks = appendIDMissing(to.Blocks, taskID)
	now := timeNow()
	from.Metadata.Modified = now
	to.Metadata.Modified = now
	m.touchTag(t)
	if err := m.persistIfAuto(); err != nil {
		*from = *prevFrom
		*to = *prevTo
		return err
	}
	m.bus.Publish(events.Event{Kind: events.DependencyAdded, Tag: name, TaskID: taskID, Detail: dependsOnID})
	return nil
}

// RemoveDependencyEdge is the inverse of AddDependencyEdge.
func (m *Manager) RemoveDependencyEdge(taskID, dependsOnID, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := m.resolveTag(tag)
	t, err := m.tagLocked(name)
	if err != nil {
		return err
	}
	from := findTask(t.Tasks, taskID)
	if from == nil {
		return fmt.Errorf("%w: task %q in tag %q", schema.ErrNotFound, taskID, name)
	}
	prevFrom := from.Clone()
	to := findTask(t.Tasks, dependsOnID)
	var prevTo *schema.Task
	if to != nil {
		prevTo = to.Clone()
	}
	gone := map[string]bool{dependsOnID: true}
	from.Dependencies = stripIDs(from.Dependencies, gone)
	from.BlockedBy = stripIDs(from.BlockedBy, gone)
	if to != nil {
		to.Blocks = stripIDs(to.Blocks, map[string]bool{taskID: true})
		to.Metadata.Modified = timeNow()
	}
	from.Metadata.Modified = timeNow()
	m.touchTag(t)
	if err := m.persistIfAuto(); err != nil {
		*from = *prevFrom
		if to != nil {
			*to = *prevTo
		}
		return err
	}
	m.bus.Publish(events.Event{Kind: events.DependencyRemoved, Tag: name, TaskID: taskID, Detail: dependsOnID})
	return nil
}

func (m *Manager) touchTag(t *schema.Tag) {
	t.Metadata.Modified = timeNow()
	t.Metadata.TaskCount = len(flatten(t.Tasks))
}

func (m *Manager) persistIfAuto() error {
	if !m.cfg.AutoPersist {
		return nil
	}
	return m.persistLocked()
}

// Persist writes the collection to disk regardless of the auto-persist
// setting.
func (m *Manager) Persist() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistLocked()
}

// tree helpers

func findTask(tasks []*schema.Task, id string) *schema.Task {
	for _, t := range tasks {
		if t.ID == id {
			return t
		}
		if found := findTask(t.Subtasks, id); found != nil {
			return found
		}
	}
	return nil
}

// removeTask detaches the task with the given id from the forest and
// returns it, or nil when absent.
func removeTask(tasks *[]*schema.Task, id string) *schema.Task {
	for i, t := range *tasks {
		if t.ID == id {
			*tasks = append((*tasks)[:i], (*tasks)[i+1:]...)
			return t
		}
		if removed := removeTask(&t.Subtasks, id); removed != nil {
			return removed
		}
	}
	return nil
}

// flatten walks the forest depth-first, parents before children.
func flatten(tasks []*schema.Task) []*schema.Task {
	var out []*schema.Task
	for _, t := range tasks {
		out = append(out, t)
		out = append(out, flatten(t.Subtasks)...)
	}
	return out
}

func cloneForest(tasks []*schema.Task) []*schema.Task {
	out := make([]*schema.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Clone())
	}
	return out
}

func collectIDs(tasks []*schema.Task) []string {
	flat := flatten(tasks)
	ids := make([]string, 0, len(flat))
	for _, t := range flat {
		ids = append(ids, t.ID)
	}
	return ids
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func appendIDMissing(ids []string, id string) []string {
	if containsID(ids, id) {
		return ids
	}
	return append(ids, id)
}

func stripIDs(ids []string, gone map[string]bool) []string {
	out := ids[:0]
	for _, v := range ids {
		if !gone[v] {
			out = append(out, v)
		}
	}
	return out
}
