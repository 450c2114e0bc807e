package agent

import (
	"log/slog"
	"regexp"
	"strings"
)

// sanitizeAssistantText cleans assistant output before it is saved and
// delivered: garbled tool-call XML, downgraded tool logs, thinking tags,
// echoed system blocks, duplicate paragraphs, leading blank lines.
func sanitizeAssistantText(content string) string {
	if content == "" {
		return content
	}

	content = stripGarbledToolXML(content)
	if content == "" {
		return ""
	}
	content = stripToolLogBlocks(content)
	content = stripThinkingTags(content)
	content = stripFinalTags(content)
	content = stripEchoedSystemMessages(content)
	content = collapseDuplicateBlocks(content)
	content = leadingBlankLinesRe.ReplaceAllString(content, "")

	return strings.TrimSpace(content)
}

// Some models emit tool calls as literal XML in the text channel instead
// of structured calls. A response that contains these markers is tool
// noise, not an answer.
var garbledToolXMLRe = regexp.MustCompile(
	`(?s)</?(?:function_calls?|invoke|tool_call|tool_use|parameter)[^>]*>`,
)

var garbledToolXMLIndicators = []string{
	"<function_call",
	"<tool_call",
	"<tool_use",
	"<parameter name=",
	"</parameter",
}

func stripGarbledToolXML(content string) string {
	lower := strings.ToLower(content)
	found := false
	for _, ind := range garbledToolXMLIndicators {
		if strings.Contains(lower, ind) {
			found = true
			break
		}
	}
	if !found {
		return content
	}
	slog.Warn("stripping garbled tool call XML from response", "len", len(content))
	cleaned := garbledToolXMLRe.ReplaceAllString(content, "")
	return strings.TrimSpace(cleaned)
}

// stripToolLogBlocks removes [Tool Call: ...] / [Tool Result ...] blocks
// that models sometimes echo as text. Line-based scan; argument JSON and
// indented output belong to the block.
func stripToolLogBlocks(content string) string {
	if !strings.Contains(content, "[Tool Call:") && !strings.Contains(content, "[Tool Result") {
		return content
	}

	lines := strings.Split(content, "\n")
	var result []string
	skipping := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[Tool Call:") || strings.HasPrefix(trimmed, "[Tool Result") {
			skipping = true
			continue
		}
		if skipping {
			if trimmed == "" || strings.HasPrefix(trimmed, "Arguments:") ||
				strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "}") {
				continue
			}
			skipping = false
		}
		result = append(result, line)
	}
	return strings.TrimSpace(strings.Join(result, "\n"))
}

// Go regexp has no backreferences, hence one pattern per tag.
var thinkingTagRes = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

func stripThinkingTags(content string) string {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") {
		return content
	}
	for _, re := range thinkingTagRes {
		content = re.ReplaceAllString(content, "")
	}
	return strings.TrimSpace(content)
}

var finalTagRe = regexp.MustCompile(`(?i)<\s*/?\s*final\s*>`)

// stripFinalTags removes <final> wrappers but keeps their content.
func stripFinalTags(content string) string {
	if !strings.Contains(strings.ToLower(content), "final") {
		return content
	}
	return finalTagRe.ReplaceAllString(content, "")
}

// stripEchoedSystemMessages drops "[System Message] ..." blocks the model
// echoed back. A blank line ends the block.
func stripEchoedSystemMessages(content string) string {
	if !strings.Contains(content, "[System Message]") {
		return content
	}

	lines := strings.Split(content, "\n")
	var result []string
	skipping := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "[System Message]") {
			skipping = true
			continue
		}
		if skipping {
			if strings.TrimSpace(line) == "" {
				skipping = false
			}
			continue
		}
		result = append(result, line)
	}
	return strings.TrimSpace(strings.Join(result, "\n"))
}

// collapseDuplicateBlocks removes consecutively repeated paragraphs.
func collapseDuplicateBlocks(content string) string {
	blocks := strings.Split(content, "\n\n")
	if len(blocks) <= 1 {
		return content
	}
	var result []string
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if len(result) > 0 && trimmed == strings.TrimSpace(result[len(result)-1]) {
			continue
		}
		result = append(result, block)
	}
	return strings.Join(result, "\n\n")
}

var leadingBlankLinesRe = regexp.MustCompile(`^(?:[ \t]*\r?\n)+`)
