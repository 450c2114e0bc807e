package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/piyushgupta53/featherbot-sub000/internal/providers"
)

// Verifier cross-checks a response against the tool evidence observed
// during the turn and, as a last resort, asks the model itself whether
// the response contains unverified claims. Verification is best-effort:
// any failure keeps the original text.
type Verifier struct {
	client providers.Client
	model  string
}

// NewVerifier creates a verifier using the given client and model.
func NewVerifier(client providers.Client, model string) *Verifier {
	return &Verifier{client: client, model: model}
}

// claimKind ties an action-verb pattern to the tool names that can back
// the claim up.
type claimKind struct {
	pattern *regexp.Regexp
	tools   []string
	label   string
}

var claimKinds = []claimKind{
	{
		pattern: regexp.MustCompile(`(?i)\b(?:wrote|saved|created|updated|edited|appended)\b.{0,60}\b(?:file|note|memory|document)\b`),
		tools:   []string{"write_file"},
		label:   "file write",
	},
	{
		pattern: regexp.MustCompile(`(?i)\b(?:ran|executed|installed)\b.{0,60}\b(?:command|script|package)\b`),
		tools:   []string{"exec"},
		label:   "command execution",
	},
	{
		pattern: regexp.MustCompile(`(?i)\b(?:scheduled|set)\b.{0,60}\b(?:reminder|cron|job|alarm)\b`),
		tools:   []string{"cron"},
		label:   "scheduling",
	},
}

var webSearchTools = map[string]bool{
	"web_search": true,
	"web_fetch":  true,
}

// Verify returns the text to deliver and whether it was corrected.
func (v *Verifier) Verify(ctx context.Context, text string, calls []providers.ToolCall, results []providers.ToolResult) (string, bool) {
	if !v.needsVerification(text, calls, results) {
		return text, false
	}

	unverified := v.unverifiedClaims(text, calls, results)
	if len(unverified) == 0 {
		// Structural gate fired but every extracted claim has evidence;
		// fall through to the model check.
		verified, err := v.askModel(ctx, text, calls, results)
		if err != nil || verified {
			return text, false
		}
		unverified = append(unverified, "unverified factual claim (model check)")
	}

	corrected, err := v.requestCorrection(ctx, text, unverified)
	if err != nil || strings.TrimSpace(corrected) == "" {
		slog.Warn("verification correction failed, keeping original", "error", err)
		return text, false
	}
	slog.Info("response corrected by verification", "claims", len(unverified))
	return corrected, true
}

// needsVerification is the cheap structural gate.
func (v *Verifier) needsVerification(text string, calls []providers.ToolCall, results []providers.ToolResult) bool {
	for _, kind := range claimKinds {
		if kind.pattern.MatchString(text) && !hasSuccessfulTool(kind.tools, calls, results) {
			return true
		}
	}
	if len(text) >= 50 {
		for _, call := range calls {
			if webSearchTools[call.Name] {
				return false
			}
		}
		return true
	}
	return false
}

// unverifiedClaims extracts action claims with no backing tool evidence.
func (v *Verifier) unverifiedClaims(text string, calls []providers.ToolCall, results []providers.ToolResult) []string {
	var out []string
	for _, kind := range claimKinds {
		if kind.pattern.MatchString(text) && !hasSuccessfulTool(kind.tools, calls, results) {
			out = append(out, kind.label)
		}
	}
	return out
}

// hasSuccessfulTool reports whether any of the named tools ran and did
// not return an error result.
func hasSuccessfulTool(names []string, calls []providers.ToolCall, results []providers.ToolResult) bool {
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	for _, res := range results {
		if !wanted[res.ToolName] && !prefixMatch(res.ToolName, names) {
			continue
		}
		if !strings.HasPrefix(strings.TrimSpace(res.Content), "Error") {
			return true
		}
	}
	// A call with no recorded result counts as attempted, not successful.
	_ = calls
	return false
}

// prefixMatch handles tool families like cron_add/cron_list.
func prefixMatch(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// askModel asks whether the response contains real-world factual claims
// the tool evidence does not support. Returns verified=true when clean.
func (v *Verifier) askModel(ctx context.Context, text string, calls []providers.ToolCall, results []providers.ToolResult) (bool, error) {
	prompt := fmt.Sprintf(
		"Response:\n%s\n\nTool evidence:\n%s\n\n"+
			"Does the response state real-world facts or completed actions that the tool evidence does not support? Answer YES or NO.",
		text, evidenceSummary(calls, results))

	res, err := v.client.Generate(ctx, providers.Request{
		Model: v.model,
		Messages: []providers.Message{
			{Role: "system", Content: "You are a strict fact checker. Answer only YES or NO."},
			{Role: "user", Content: prompt},
		},
		MaxTokens: 8,
	})
	if err != nil {
		return true, err
	}
	answer := strings.ToUpper(strings.TrimSpace(res.Text))
	return !strings.HasPrefix(answer, "YES"), nil
}

// requestCorrection asks the model to restate the response without the
// unsupported claims.
func (v *Verifier) requestCorrection(ctx context.Context, text string, claims []string) (string, error) {
	prompt := fmt.Sprintf(
		"The following response makes claims without supporting evidence (%s):\n\n%s\n\n"+
			"Rewrite it so it only states what actually happened. Keep it short and in the same voice.",
		strings.Join(claims, ", "), text)

	res, err := v.client.Generate(ctx, providers.Request{
		Model: v.model,
		Messages: []providers.Message{
			{Role: "user", Content: prompt},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func evidenceSummary(calls []providers.ToolCall, results []providers.ToolResult) string {
	if len(calls) == 0 {
		return "(no tools were used)"
	}
	var sb strings.Builder
	for _, res := range results {
		content := res.Content
		if len(content) > 200 {
			content = content[:200] + "..."
		}
		fmt.Fprintf(&sb, "- %s: %s\n", res.ToolName, content)
	}
	if sb.Len() == 0 {
		for _, call := range calls {
			fmt.Fprintf(&sb, "- %s (no result recorded)\n", call.Name)
		}
	}
	return sb.String()
}
