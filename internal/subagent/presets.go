// Package subagent implements background child agent turns: bounded,
// tool-restricted tasks spawned from a parent conversation, with the
// outcome injected back into the parent history.
package subagent

// blockedTools can never be invoked from a sub-agent, regardless of
// preset. They would allow recursion or scheduling from a child task.
var blockedTools = []string{"spawn", "subagent_status", "cron"}

// Preset describes a sub-agent flavor: its base prompt, tool allow-list,
// and step cap.
type Preset struct {
	Name          string
	SystemPrompt  string
	Tools         []string
	MaxIterations int
}

var presets = map[string]Preset{
	"general": {
		Name: "general",
		SystemPrompt: "You are a background task agent. Complete the task below autonomously and report the outcome. " +
			"Be concise: your final message is the task result.",
		Tools:         []string{"read_file", "write_file", "list_dir", "exec", "web_search", "web_fetch"},
		MaxIterations: 15,
	},
	"research": {
		Name: "research",
		SystemPrompt: "You are a background research agent. Investigate the question below using the available tools, " +
			"cross-check what you find, and finish with a short factual summary with sources.",
		Tools:         []string{"read_file", "web_search", "web_fetch"},
		MaxIterations: 20,
	},
	"coding": {
		Name: "coding",
		SystemPrompt: "You are a background coding agent. Implement the task below in the workspace. " +
			"Run what you write, fix what breaks, and finish with a summary of the changes.",
		Tools:         []string{"read_file", "write_file", "list_dir", "exec"},
		MaxIterations: 25,
	},
}

// PresetFor returns the named preset, falling back to "general".
func PresetFor(name string) Preset {
	if p, ok := presets[name]; ok {
		return p
	}
	return presets["general"]
}
