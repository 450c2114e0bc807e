package agent

import "testing"

func TestSanitizeAssistantText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean text untouched", "Here is your answer.", "Here is your answer."},
		{"empty stays empty", "", ""},
		{
			"garbled tool xml wipes response",
			`<tool_call><parameter name="path">x</parameter></tool_call>`,
			"",
		},
		{
			"thinking tags removed",
			"<think>let me reason</think>The answer is 42.",
			"The answer is 42.",
		},
		{
			"thinking tags case insensitive multiline",
			"<THINKING>\nstep one\nstep two\n</THINKING>\nDone.",
			"Done.",
		},
		{
			"final tags unwrapped",
			"<final>All set.</final>",
			"All set.",
		},
		{
			"tool log blocks removed",
			"[Tool Call: read_file]\nArguments:\n{\"path\": \"a.txt\"}\n\nThe file says hello.",
			"The file says hello.",
		},
		{
			"echoed system message removed",
			"[System Message] internal directive\nmore directive\n\nActual reply.",
			"Actual reply.",
		},
		{
			"duplicate paragraphs collapsed",
			"Same paragraph.\n\nSame paragraph.\n\nDifferent one.",
			"Same paragraph.\n\nDifferent one.",
		},
		{
			"leading blank lines trimmed",
			"\n\n  \nHello.",
			"Hello.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeAssistantText(tt.in); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}
