package bootstrap

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/piyushgupta53/featherbot-sub000/internal/workspace"
)

// Session identifies the conversation the prompt is built for.
type Session struct {
	Channel string
	ChatID  string
}

// Context is the assembled prompt context for one agent turn.
type Context struct {
	SystemPrompt        string
	IsFirstConversation bool
	UserTimezone        string
}

// Builder assembles system prompts from workspace files. File contents
// are cached; an fsnotify watcher drops cache entries when the files
// change on disk.
type Builder struct {
	ws *workspace.Workspace

	mu      sync.Mutex
	cache   map[string]string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewBuilder creates a builder rooted at the workspace and starts the
// file watcher. A watcher failure degrades to uncached reads, not an error.
func NewBuilder(ws *workspace.Workspace) *Builder {
	b := &Builder{
		ws:    ws,
		cache: make(map[string]string),
		done:  make(chan struct{}),
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("bootstrap: file watcher unavailable, caching disabled", "error", err)
		return b
	}
	for _, dir := range []string{ws.Root(), filepath.Join(ws.Root(), workspace.MemoryDir)} {
		if err := watcher.Add(dir); err != nil {
			slog.Warn("bootstrap: cannot watch dir", "dir", dir, "error", err)
		}
	}
	b.watcher = watcher
	go b.watch()
	return b
}

func (b *Builder) watch() {
	for {
		select {
		case <-b.done:
			return
		case ev, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				b.invalidate(ev.Name)
			}
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("bootstrap: watcher error", "error", err)
		}
	}
}

func (b *Builder) invalidate(absPath string) {
	rel := b.ws.Rel(absPath)
	b.mu.Lock()
	delete(b.cache, rel)
	b.mu.Unlock()
}

// Close stops the watcher.
func (b *Builder) Close() {
	close(b.done)
	if b.watcher != nil {
		b.watcher.Close()
	}
}

// read returns the file's content through the cache. Missing files read
// as empty strings.
func (b *Builder) read(rel string) string {
	b.mu.Lock()
	if content, ok := b.cache[rel]; ok {
		b.mu.Unlock()
		return content
	}
	b.mu.Unlock()

	content, err := b.ws.ReadFile(rel)
	if err != nil {
		slog.Warn("bootstrap: read failed", "file", rel, "error", err)
		return ""
	}
	b.mu.Lock()
	b.cache[rel] = content
	b.mu.Unlock()
	return content
}

// UserProfile returns the current user-profile content.
func (b *Builder) UserProfile() string {
	return b.read(UserFile)
}

// Build assembles the context for a session. Section ordering is fixed:
// identity, bootstrap files, onboarding (first conversation only),
// memory, memory-management instructions, skills, session.
func (b *Builder) Build(session Session) Context {
	profile := b.read(UserFile)
	tz := UserTimezone(profile)
	first := strings.Contains(profile, OnboardingPlaceholder)

	var sections []string
	sections = append(sections, b.identitySection(tz))

	for _, file := range PromptFiles {
		content := strings.TrimSpace(b.read(file))
		if content == "" {
			continue
		}
		sections = append(sections, content)
	}

	if first {
		sections = append(sections, onboardingSection)
	}

	if memory := b.memorySection(); memory != "" {
		sections = append(sections, memory)
	}
	sections = append(sections, memoryManagementSection)

	if skills := b.skillsSection(); skills != "" {
		sections = append(sections, skills)
	}

	sections = append(sections, fmt.Sprintf(
		"## Session\nChannel: %s\nChat: %s", session.Channel, session.ChatID))

	return Context{
		SystemPrompt:        strings.Join(sections, "\n\n"),
		IsFirstConversation: first,
		UserTimezone:        tz,
	}
}

func (b *Builder) identitySection(tz string) string {
	now := time.Now().UTC()
	var sb strings.Builder
	sb.WriteString("## Identity\n")
	fmt.Fprintf(&sb, "Current time (UTC): %s\n", now.Format(time.RFC3339))
	if tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			fmt.Fprintf(&sb, "Current time (%s): %s\n", tz, now.In(loc).Format(time.RFC3339))
		}
	}
	fmt.Fprintf(&sb, "Workspace: %s\n", b.ws.Root())
	sb.WriteString("Never echo raw tool output, tool call XML, or bracketed tool logs to the user; summarize instead.")
	return sb.String()
}

// memorySection combines MEMORY.md with today's daily note.
func (b *Builder) memorySection() string {
	main := strings.TrimSpace(b.read(workspace.MemoryFile))
	daily := strings.TrimSpace(b.read(DailyNotePath(time.Now())))

	if main == "" && daily == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Memory\n")
	if main != "" {
		sb.WriteString(main)
	}
	if daily != "" {
		if main != "" {
			sb.WriteString("\n\n")
		}
		sb.WriteString("### Today\n")
		sb.WriteString(daily)
	}
	return sb.String()
}

// skillsSection lists skill directories under workspace/skills.
func (b *Builder) skillsSection() string {
	entries, err := os.ReadDir(filepath.Join(b.ws.Root(), "skills"))
	if err != nil {
		return ""
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return "## Skills\nAvailable skills (read skills/<name>/SKILL.md for details): " +
		strings.Join(names, ", ")
}

// DailyNotePath returns the memory daily-note path for a date.
func DailyNotePath(t time.Time) string {
	return filepath.Join(workspace.MemoryDir, t.Format("2006-01-02")+".md")
}

const onboardingSection = `## First Conversation
This is your first conversation with this user. Introduce yourself
briefly, ask for their name and timezone, and record the answers in
USER.md with write_file.`

const memoryManagementSection = `## Memory Management
Durable facts about the user belong in memory/MEMORY.md; day-to-day
working notes go in the dated file under memory/. Update them with
write_file when you learn something worth keeping.`
