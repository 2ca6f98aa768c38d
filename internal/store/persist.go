package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"github.com/amirbrooks/taskdeps/internal/schema"

	_ "embed"
)

//go:embed collection.schema.json
var collectionSchemaJSON string

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("collection.schema.json", strings.NewReader(collectionSchemaJSON)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("collection.schema.json")
}

// load reads the collection from disk. The second return is true when
// no file existed and a fresh empty collection was created.
func (m *Manager) load() (*schema.Collection, bool, error) {
	if err := m.flk.Lock(); err != nil {
		return nil, false, fmt.Errorf("%w: locking %s: %v", schema.ErrPersistence, m.cfg.DataFile, err)
	}
	defer func() { _ = m.flk.Unlock() }()

	data, err := os.ReadFile(m.cfg.DataFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return schema.NewCollection(), true, nil
		}
		return nil, false, fmt.Errorf("%w: reading %s: %v", schema.ErrPersistence, m.cfg.DataFile, err)
	}
	if len(data) == 0 {
		return schema.NewCollection(), true, nil
	}

	// Legacy flat-array documents carry a bare tasks array and no tags
	// map. They are upgraded in place under the main tag.
	if !gjson.GetBytes(data, "tags").Exists() && gjson.GetBytes(data, "tasks").IsArray() {
		m.logger.Info("migrating legacy task document", "file", m.cfg.DataFile)
		col, err := migrateLegacy(data)
		if err != nil {
			return nil, false, err
		}
		return col, false, nil
	}

	if err := validateRawDocument(data); err != nil {
		return nil, false, err
	}

	var col schema.Collection
	if err := json.Unmarshal(data, &col); err != nil {
		return nil, false, fmt.Errorf("%w: parsing %s: %v", schema.ErrPersistence, m.cfg.DataFile, err)
	}
	normalizeCollection(&col)
	if err := schema.ValidateCollection(&col); err != nil {
		return nil, false, err
	}
	return &col, false, nil
}

// validateRawDocument checks the raw bytes against the embedded JSON
// Schema before any unmarshalling, so structural corruption is caught
// with a location instead of a zero-valued struct.
func validateRawDocument(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: document is not valid JSON: %v", schema.ErrPersistence, err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &schema.ValidationError{Violations: flattenSchemaErrors(ve)}
		}
		return fmt.Errorf("%w: %v", schema.ErrInvalid, err)
	}
	return nil
}

func flattenSchemaErrors(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := strings.TrimPrefix(ve.InstanceLocation, "/")
		if loc == "" {
			return []string{ve.Message}
		}
		return []string{loc + ": " + ve.Message}
	}
	var out []string
	for _, cause := range ve.Causes {
		out = append(out, flattenSchemaErrors(cause)...)
	}
	return out
}

func migrateLegacy(data []byte) (*schema.Collection, error) {
	var legacy struct {
		Tasks []*schema.Task `json:"tasks"`
	}
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("%w: parsing legacy document: %v", schema.ErrPersistence, err)
	}
	col := schema.NewCollection()
	main := col.Tags[schema.MainTag]
	for _, t := range legacy.Tasks {
		main.Tasks = append(main.Tasks, schema.NewTask(*t))
	}
	main.Metadata.TaskCount = len(flatten(main.Tasks))
	if err := schema.ValidateCollection(col); err != nil {
		return nil, err
	}
	return col, nil
}

func normalizeCollection(col *schema.Collection) {
	if col.Tags == nil {
		col.Tags = map[string]*schema.Tag{}
	}
	for name, tag := range col.Tags {
		if tag == nil {
			continue
		}
		if tag.Name == "" {
			tag.Name = name
		}
		if tag.Tasks == nil {
			tag.Tasks = []*schema.Task{}
		}
		for _, t := range flatten(tag.Tasks) {
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
				t.Subtasks = []*schema.Task{}
			}
		}
	}
}

// persistLocked snapshots the current file into the backup directory,
// recomputes collection metadata, and atomically replaces the primary
// file. Callers must hold m.mu.
func (m *Manager) persistLocked() error {
	if err := m.flk.Lock(); err != nil {
		return fmt.Errorf("%w: locking %s: %v", schema.ErrPersistence, m.cfg.DataFile, err)
	}
	defer func() { _ = m.flk.Unlock() }()

	m.recomputeMetadata()

	data, err := json.MarshalIndent(m.col, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding collection: %v", schema.ErrPersistence, err)
	}

	if err := m.backupCurrent(); err != nil {
		return err
	}
	if err := atomicWriteFile(m.cfg.DataFile, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", schema.ErrPersistence, m.cfg.DataFile, err)
	}
	return nil
}

func (m *Manager) recomputeMetadata() {
	total := 0
	maxDepth := 0
	for _, tag := range m.col.Tags {
		flat := flatten(tag.Tasks)
		total += len(flat)
		if d := forestDepth(tag.Tasks); d > maxDepth {
			maxDepth = d
		}
	}
	m.col.Metadata.TotalTasks = total
	m.col.Metadata.MaxDepth = maxDepth
	m.col.Metadata.Modified = timeNow()
}

func forestDepth(tasks []*schema.Task) int {
	depth := 0
	for _, t := range tasks {
		d := 1 + forestDepth(t.Subtasks)
		if d > depth {
			depth = d
		}
	}
	return depth
}

// backupCurrent copies the on-disk file into the backup directory with
// a timestamped name and prunes snapshots beyond the retention count.
func (m *Manager) backupCurrent() error {
	current, err := os.ReadFile(m.cfg.DataFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: reading %s for backup: %v", schema.ErrPersistence, m.cfg.DataFile, err)
	}
	if err := os.MkdirAll(m.cfg.BackupDir, 0o755); err != nil {
		return fmt.Errorf("%w: creating backup dir: %v", schema.ErrPersistence, err)
	}
	name := fmt.Sprintf("tasks-%s.json", timeNow().Format("20060102T150405.000000000"))
	if err := os.WriteFile(filepath.Join(m.cfg.BackupDir, name), current, 0o644); err != nil {
		return fmt.Errorf("%w: writing backup %s: %v", schema.ErrPersistence, name, err)
	}
	return m.pruneBackups()
}

func (m *Manager) pruneBackups() error {
	names, err := m.backupNames()
	if err != nil {
		return err
	}
	for len(names) > m.cfg.BackupKeep {
		oldest := names[0]
		if err := os.Remove(filepath.Join(m.cfg.BackupDir, oldest)); err != nil {
			return fmt.Errorf("%w: pruning backup %s: %v", schema.ErrPersistence, oldest, err)
		}
		m.logger.Debug("pruned backup", "name", oldest)
		names = names[1:]
	}
	return nil
}

func (m *Manager) backupNames() ([]string, error) {
	entries, err := os.ReadDir(m.cfg.BackupDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: listing backups: %v", schema.ErrPersistence, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	// Timestamped names sort chronologically.
	sort.Strings(names)
	return names, nil
}

// ListBackups returns backup snapshot names, oldest first.
func (m *Manager) ListBackups() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backupNames()
}

// RestoreBackup replaces the in-memory collection and the primary file
// with the named snapshot.
func (m *Manager) RestoreBackup(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	path := filepath.Join(m.cfg.BackupDir, filepath.Base(name))
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: backup %q: %v", schema.ErrNotFound, name, err)
	}
	if err := validateRawDocument(data); err != nil {
		return err
	}
	var col schema.Collection
	if err := json.Unmarshal(data, &col); err != nil {
		return fmt.Errorf("%w: parsing backup %q: %v", schema.ErrPersistence, name, err)
	}
	normalizeCollection(&col)
	if err := schema.ValidateCollection(&col); err != nil {
		return err
	}
	m.col = &col
	if _, ok := m.col.Tags[m.current]; !ok {
		m.current = schema.MainTag
	}
	return m.persistLocked()
}

func atomicWriteFile(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(dir, fmt.Sprintf(".tmp-%d", timeNow().UnixNano()))
	if err := os.WriteFile(tmp, data, perm); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	// Rename is atomic on same filesystem.
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
