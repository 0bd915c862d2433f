package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RegistryEntry maps one project to its database file.
type RegistryEntry struct {
	ProjectID string    `yaml:"project_id"`
	Root      string    `yaml:"root"`
	Source    string    `yaml:"source"` // git remote URL or absolute path
	DBPath    string    `yaml:"db_path"`
	AddedAt   time.Time `yaml:"added_at"`
}

// Registry is the on-disk index of known projects. Each project gets its own
// database file so one project's data never leaks into another's.
type Registry struct {
	path    string
	Entries map[string]RegistryEntry `yaml:"projects"`
}

// DefaultRegistryPath returns ~/.pmsync/registry.yaml.
func DefaultRegistryPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".pmsync", "registry.yaml"), nil
}

// LoadRegistry reads the registry file, returning an empty registry if the
// file does not exist yet.
func LoadRegistry(path string) (*Registry, error) {
	reg := &Registry{path: path, Entries: make(map[string]RegistryEntry)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}
	if err := yaml.Unmarshal(data, reg); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}
	if reg.Entries == nil {
		reg.Entries = make(map[string]RegistryEntry)
	}
	return reg, nil
}

// Save writes the registry back to disk atomically.
func (r *Registry) Save() error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("failed to replace registry: %w", err)
	}
	return nil
}

// Register adds or refreshes the entry for a project root and returns it.
func (r *Registry) Register(root string) (RegistryEntry, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return RegistryEntry{}, fmt.Errorf("failed to resolve project root: %w", err)
	}
	source := projectSource(abs)
	id := DeriveProjectID(source)

	if existing, ok := r.Entries[id]; ok {
		return existing, nil
	}

	entry := RegistryEntry{
		ProjectID: id,
		Root:      abs,
		Source:    source,
		DBPath:    filepath.Join(filepath.Dir(r.path), "projects", id+".db"),
		AddedAt:   time.Now().UTC(),
	}
	r.Entries[id] = entry
	return entry, nil
}

// Lookup finds the entry for a project root, walking no further than the
// registry contents.
func (r *Registry) Lookup(root string) (RegistryEntry, bool) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return RegistryEntry{}, false
	}
	id := DeriveProjectID(projectSource(abs))
	entry, ok := r.Entries[id]
	return entry, ok
}

// List returns entries sorted by project id for stable output.
func (r *Registry) List() []RegistryEntry {
	entries := make([]RegistryEntry, 0, len(r.Entries))
	for _, e := range r.Entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ProjectID < entries[j].ProjectID
	})
	return entries
}

// DeriveProjectID produces a stable identifier from a project source string.
// The same repository checked out in two places maps to the same project as
// long as it shares a remote URL.
func DeriveProjectID(source string) string {
	sum := sha256.Sum256([]byte(source))
	slug := slugify(filepath.Base(strings.TrimSuffix(source, ".git")))
	return slug + "-" + hex.EncodeToString(sum[:])[:8]
}

// projectSource returns the git origin URL for the directory, falling back
// to the absolute path when the directory is not a git repository or has no
// origin remote.
func projectSource(dir string) string {
	cmd := exec.Command("git", "remote", "get-url", "origin")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return dir
	}
	url := strings.TrimSpace(string(out))
	if url == "" {
		return dir
	}
	return url
}

func slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == ' ' || r == '.':
			b.WriteRune('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "project"
	}
	return slug
}
