package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
)

const (
	// DefaultWorkflowName is used when callers do not name a workflow.
	DefaultWorkflowName = "default"
	// DefaultHistoryLimit caps run history per owner.
	DefaultHistoryLimit = 100

	historyFile = "history.json"
)

const (
	ErrCodeWorkflowNotFound = "WORKFLOW_NOT_FOUND"
	ErrCodeInvalidName      = "INVALID_NAME"
)

var (
	// ErrWorkflowNotFound marks loads of workflows that were never saved.
	ErrWorkflowNotFound = errors.New("workflow not found", errors.CategoryBadInput).
				WithTextCode(ErrCodeWorkflowNotFound)
	// ErrInvalidName marks workflow names that would escape the owner dir.
	ErrInvalidName = errors.New("invalid workflow name", errors.CategoryValidation).
			WithTextCode(ErrCodeInvalidName)
)

// Store keeps workflow documents and run history on disk, one directory
// per owner.
type Store struct {
	baseDir string
	now     func() time.Time
}

type Option func(*Store)

// WithClock overrides the time source used for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates the base directory if needed and returns a Store.
func New(baseDir string, opts ...Option) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("storage base directory cannot be empty")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	s := &Store{
		baseDir: baseDir,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// OwnerDir returns the directory holding one owner's documents.
func (s *Store) OwnerDir(ownerID string) string {
	return filepath.Join(s.baseDir, ownerID)
}

// WorkflowPath returns the file path a named workflow is stored at.
func (s *Store) WorkflowPath(ownerID, name string) string {
	return filepath.Join(s.OwnerDir(ownerID), normalizeName(name)+".json")
}

// Owners returns the sorted owner ids that have documents on disk.
func (s *Store) Owners() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}

	var owners []string
	for _, entry := range entries {
		if entry.IsDir() {
			owners = append(owners, entry.Name())
		}
	}
	sort.Strings(owners)
	return owners, nil
}

// List returns the sorted workflow names an owner has saved.
func (s *Store) List(ownerID string) ([]string, error) {
	entries, err := os.ReadDir(s.OwnerDir(ownerID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == historyFile {
			continue
		}
		if !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())))
	}
	sort.Strings(names)
	return names, nil
}

// Has reports whether an owner has a workflow stored under name.
func (s *Store) Has(ownerID, name string) bool {
	if err := validateName(name); err != nil {
		return false
	}
	_, err := os.Stat(s.WorkflowPath(ownerID, name))
	return err == nil
}

// Load reads a stored workflow document.
func (s *Store) Load(ownerID, name string) (map[string]any, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(s.WorkflowPath(ownerID, name))
	if os.IsNotExist(err) {
		return nil, ErrWorkflowNotFound.Clone().WithMetadata(map[string]any{
			"owner_id": ownerID,
			"name":     normalizeName(name),
		})
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}

	var workflow map[string]any
	if err := json.Unmarshal(raw, &workflow); err != nil {
		return nil, fmt.Errorf("workflow %q contains invalid JSON: %w", normalizeName(name), err)
	}
	return workflow, nil
}

// Save writes a workflow document, creating the owner dir as needed.
// It returns the path written to.
func (s *Store) Save(ownerID, name string, workflow map[string]any) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	path := s.WorkflowPath(ownerID, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create owner dir: %w", err)
	}

	raw, err := json.MarshalIndent(workflow, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode workflow: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("save workflow: %w", err)
	}
	return path, nil
}

// Delete removes a stored workflow. Missing files are not an error.
func (s *Store) Delete(ownerID, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := os.Remove(s.WorkflowPath(ownerID, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete workflow: %w", err)
	}
	return nil
}

// AppendHistory records one run entry, stamping creation time if absent
// and keeping at most limit entries, oldest dropped first.
func (s *Store) AppendHistory(ownerID string, entry map[string]any, limit int) error {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	dir := s.OwnerDir(ownerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create owner dir: %w", err)
	}

	history := s.loadHistory(ownerID)

	now := s.now().UTC()
	item := make(map[string]any, len(entry)+2)
	for key, value := range entry {
		item[key] = value
	}
	if _, ok := item["created_at"]; !ok {
		item["created_at"] = now.Format(time.RFC3339)
	}
	if _, ok := item["created_at_ts"]; !ok {
		item["created_at_ts"] = float64(now.UnixNano()) / float64(time.Second)
	}
	history = append(history, item)

	sort.SliceStable(history, func(i, j int) bool {
		return historyTimestamp(history[i]) < historyTimestamp(history[j])
	})
	if len(history) > limit {
		history = history[len(history)-limit:]
	}

	raw, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, historyFile), raw, 0o644); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

// RecentHistory returns up to limit entries, newest first, plus the
// total count on record. limit <= 0 returns everything.
func (s *Store) RecentHistory(ownerID string, limit int) ([]map[string]any, int, error) {
	history := s.loadHistory(ownerID)
	sort.SliceStable(history, func(i, j int) bool {
		return historyTimestamp(history[i]) > historyTimestamp(history[j])
	})

	total := len(history)
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	return history, total, nil
}

// TrimHistory rewrites an owner's history keeping at most limit
// entries, oldest dropped first. Owners without history are a no-op.
func (s *Store) TrimHistory(ownerID string, limit int) error {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	history := s.loadHistory(ownerID)
	if len(history) <= limit {
		return nil
	}

	sort.SliceStable(history, func(i, j int) bool {
		return historyTimestamp(history[i]) < historyTimestamp(history[j])
	})
	history = history[len(history)-limit:]

	raw, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.OwnerDir(ownerID), historyFile), raw, 0o644); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

// loadHistory tolerates missing or malformed files, both read as empty.
func (s *Store) loadHistory(ownerID string) []map[string]any {
	raw, err := os.ReadFile(filepath.Join(s.OwnerDir(ownerID), historyFile))
	if err != nil {
		return nil
	}

	var decoded []any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}

	var history []map[string]any
	for _, item := range decoded {
		if entry, ok := item.(map[string]any); ok {
			history = append(history, entry)
		}
	}
	return history
}

func historyTimestamp(entry map[string]any) float64 {
	switch v := entry["created_at_ts"].(type) {
	case float64:
		return v
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return 0
}

func normalizeName(name string) string {
	if strings.TrimSpace(name) == "" {
		return DefaultWorkflowName
	}
	return name
}

func validateName(name string) error {
	name = normalizeName(name)
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return ErrInvalidName.Clone().WithMetadata(map[string]any{"name": name})
	}
	return nil
}
