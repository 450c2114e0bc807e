// Package bootstrap assembles the agent's system prompt from workspace
// files and seeds a fresh workspace with starter templates.
package bootstrap

// Workspace bootstrap files, in the order they appear in the prompt.
const (
	AgentsFile    = "AGENTS.md"
	SoulFile      = "SOUL.md"
	UserFile      = "USER.md"
	ToolsFile     = "TOOLS.md"
	HeartbeatFile = "HEARTBEAT.md"
)

// PromptFiles is the ordered list of files folded into the system prompt.
// HEARTBEAT.md is read by the heartbeat service, not the prompt.
var PromptFiles = []string{AgentsFile, SoulFile, UserFile, ToolsFile}

// OnboardingPlaceholder marks an untouched user profile; while it is
// present the first-conversation onboarding block is injected.
const OnboardingPlaceholder = "(your name here)"
