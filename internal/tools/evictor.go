package tools

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// EvictDir is where evicted tool results live, relative to the workspace.
const EvictDir = "scratch/.tool-results"

// pointerRe matches the pointer line an eviction leaves behind. The
// history writer uses it to store only the pointer, not the preview.
var pointerRe = regexp.MustCompile(`\[Full content: scratch/\.tool-results/[^ ]+ — use read_file to access\]`)

// Evictor spills tool results larger than MaxChars to a scratch file and
// returns a head/tail preview plus a pointer line.
type Evictor struct {
	workspaceRoot string
	maxChars      int
	headChars     int
	tailChars     int
}

// NewEvictor creates an evictor rooted at the workspace. Thresholds <= 0
// fall back to defaults.
func NewEvictor(workspaceRoot string, maxChars, headChars, tailChars int) *Evictor {
	if maxChars <= 0 {
		maxChars = 30000
	}
	if headChars <= 0 {
		headChars = 2000
	}
	if tailChars <= 0 {
		tailChars = 2000
	}
	return &Evictor{
		workspaceRoot: workspaceRoot,
		maxChars:      maxChars,
		headChars:     headChars,
		tailChars:     tailChars,
	}
}

// CleanOnStartup removes leftover result files from previous runs.
func (e *Evictor) CleanOnStartup() {
	dir := filepath.Join(e.workspaceRoot, EvictDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			slog.Warn("evictor cleanup failed", "file", entry.Name(), "error", err)
		}
	}
}

// Apply returns the result unchanged when it fits, otherwise writes the
// full content to a scratch file and returns a preview with exactly one
// pointer line.
func (e *Evictor) Apply(result string) string {
	if len(result) <= e.maxChars {
		return result
	}

	dir := filepath.Join(e.workspaceRoot, EvictDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("evictor mkdir failed, truncating instead", "error", err)
		return result[:e.maxChars]
	}
	name := uuid.NewString() + ".txt"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(result), 0o644); err != nil {
		slog.Warn("evictor write failed, truncating instead", "error", err)
		return result[:e.maxChars]
	}

	head := result[:e.headChars]
	tail := result[len(result)-e.tailChars:]
	relPath := EvictDir + "/" + name

	var b strings.Builder
	fmt.Fprintf(&b, "Result too large (%d chars), full content saved to file.\n", len(result))
	b.WriteString("=== HEAD ===\n")
	b.WriteString(head)
	b.WriteString("\n=== TAIL ===\n")
	b.WriteString(tail)
	fmt.Fprintf(&b, "\n[Full content: %s — use read_file to access]", relPath)
	return b.String()
}

// IsEvictedPointer reports whether the text contains an eviction pointer.
func IsEvictedPointer(s string) bool {
	return pointerRe.MatchString(s)
}

// PointerOnly reduces an evicted preview to just its pointer line. Text
// without a pointer is returned unchanged.
func PointerOnly(s string) string {
	loc := pointerRe.FindString(s)
	if loc == "" {
		return s
	}
	return loc
}
