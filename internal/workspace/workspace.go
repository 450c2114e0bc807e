// Package workspace manages the agent's on-disk working directory: the
// bootstrap markdown files, memory/, scratch/, and data/ subdirectories.
// All tool path arguments resolve relative to the workspace root and must
// not escape it.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Well-known subdirectories inside a workspace.
const (
	MemoryDir  = "memory"
	ScratchDir = "scratch"
	DataDir    = "data"

	MemoryFile = "memory/MEMORY.md"
)

// Workspace is a validated workspace root.
type Workspace struct {
	root string
}

// New expands and validates the workspace path, creating the standard
// subdirectories if missing.
func New(path string) (*Workspace, error) {
	expanded, err := ExpandHome(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace path: %w", err)
	}
	for _, sub := range []string{"", MemoryDir, ScratchDir, DataDir} {
		if err := os.MkdirAll(filepath.Join(abs, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create workspace dir %q: %w", sub, err)
		}
	}
	return &Workspace{root: abs}, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string { return w.root }

// Resolve turns a workspace-relative path into an absolute one, rejecting
// anything that would escape the workspace root.
func (w *Workspace) Resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		// Absolute paths are allowed only when already inside the workspace.
		if !w.contains(rel) {
			return "", fmt.Errorf("path %q escapes workspace", rel)
		}
		return filepath.Clean(rel), nil
	}
	joined := filepath.Join(w.root, rel)
	if !w.contains(joined) {
		return "", fmt.Errorf("path %q escapes workspace", rel)
	}
	return joined, nil
}

// Rel converts an absolute path inside the workspace to a root-relative one.
func (w *Workspace) Rel(abs string) string {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return abs
	}
	return rel
}

func (w *Workspace) contains(path string) bool {
	clean := filepath.Clean(path)
	return clean == w.root || strings.HasPrefix(clean, w.root+string(filepath.Separator))
}

// ReadFile reads a workspace-relative file. Missing files return ("", nil)
// so callers can treat absent bootstrap files as silently skipped.
func (w *Workspace) ReadFile(rel string) (string, error) {
	abs, err := w.Resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ExpandHome expands a leading "~/" to the current user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %q: %w", path, err)
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}
