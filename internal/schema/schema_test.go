package schema

import (
	"errors"
	"testing"
)

func TestGenerateTaskIDTopLevel(t *testing.T) {
	cases := []struct {
		existing []string
		want     string
	}{
		{nil, "1"},
		{[]string{"1", "2"}, "3"},
		{[]string{"2", "3"}, "1"},
		{[]string{"1", "3"}, "2"},
		{[]string{"1", "1.1", "1.2"}, "2"},
	}
	for _, c := range cases {
		got := GenerateTaskID("", c.existing)
		if got != c.want {
			t.Fatalf("GenerateTaskID(\"\", %v) = %q, want %q", c.existing, got, c.want)
		}
	}
}

func TestGenerateTaskIDSubtask(t *testing.T) {
	if got := GenerateTaskID("5", nil); got != "5.1" {
		t.Fatalf("first subtask of 5 = %q, want 5.1", got)
	}
	if got := GenerateTaskID("5", []string{"5.1"}); got != "5.2" {
		t.Fatalf("second subtask of 5 = %q, want 5.2", got)
	}
	// Grandchildren under another parent do not reserve suffixes.
	if got := GenerateTaskID("5", []string{"5.1", "5.1.1", "6.2"}); got != "5.2" {
		t.Fatalf("subtask of 5 with unrelated ids = %q, want 5.2", got)
	}
}

func TestNewTaskDefaults(t *testing.T) {
	task := NewTask(Task{Title: "write parser"})
	if task.Status != StatusPending {
		t.Fatalf("default status = %q, want pending", task.Status)
	}
	if task.Priority != PriorityMedium {
		t.Fatalf("default priority = %q, want medium", task.Priority)
	}
	if task.Dependencies == nil || task.Subtasks == nil || task.Labels == nil {
		t.Fatalf("expected empty slices, got %#v", task)
	}
	if task.Metadata.Created.IsZero() || task.Metadata.Modified.IsZero() {
		t.Fatalf("expected fresh timestamps")
	}
	if task.ID != "" {
		t.Fatalf("NewTask must not assign an id, got %q", task.ID)
	}
}

func TestValidateTaskAggregatesViolations(t *testing.T) {
	bad := &Task{Status: "wip", Priority: "sometime", Type: "thing"}
	err := ValidateTask(bad)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Violations) != 4 {
		t.Fatalf("expected 4 violations (title, status, priority, type), got %d: %v", len(ve.Violations), ve.Violations)
	}
}

func TestValidateCollectionRequiresMainTag(t *testing.T) {
	c := &Collection{Tags: map[string]*Tag{"side": {Name: "side"}}}
	err := ValidateCollection(c)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for missing main tag, got %v", err)
	}
}

func TestValidateCollectionDetectsDuplicateIDs(t *testing.T) {
	c := NewCollection()
	c.Tags[MainTag].Tasks = []*Task{
		NewTask(Task{ID: "1", Title: "a"}),
		NewTask(Task{ID: "1", Title: "b"}),
	}
	err := ValidateCollection(c)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected duplicate id violation, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusInProgress},
		{StatusPending, StatusCancelled},
		{StatusInProgress, StatusReview},
		{StatusInProgress, StatusDone},
		{StatusReview, StatusDone},
		{StatusReview, StatusInProgress},
		{StatusBlocked, StatusPending},
		{StatusDeferred, StatusPending},
		{StatusDone, StatusInProgress}, // reopen
	}
	for _, c := range allowed {
		if !IsValidStatusTransition(c.from, c.to) {
			t.Fatalf("expected %s -> %s to be allowed", c.from, c.to)
		}
	}
	rejected := []struct{ from, to Status }{
		{StatusPending, StatusDone},
		{StatusPending, StatusReview},
		{StatusDeferred, StatusDone},
		{StatusDone, StatusPending},
		{StatusCancelled, StatusPending},
		{StatusCancelled, StatusInProgress},
		{StatusReview, StatusBlocked},
	}
	for _, c := range rejected {
		if IsValidStatusTransition(c.from, c.to) {
			t.Fatalf("expected %s -> %s to be rejected", c.from, c.to)
		}
		err := CheckStatusTransition(c.from, c.to)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition for %s -> %s, got %v", c.from, c.to, err)
		}
	}
}

func TestNormalizeStatusAlias(t *testing.T) {
	if NormalizeStatus("completed") != StatusDone {
		t.Fatalf("completed should normalize to done")
	}
	if NormalizeStatus("In-Progress") != StatusInProgress {
		t.Fatalf("status normalization should lowercase")
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := NewTask(Task{ID: "1", Title: "root", Dependencies: []string{"2"}})
	orig.Subtasks = []*Task{NewTask(Task{ID: "1.1", Title: "child"})}
	c := orig.Clone()
	c.Subtasks[0].Title = "changed"
	c.Dependencies[0] = "9"
	if orig.Subtasks[0].Title != "child" || orig.Dependencies[0] != "2" {
		t.Fatalf("clone shares memory with original")
	}
}
