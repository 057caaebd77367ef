package injection

import (
	"fmt"
	"strings"
)

// renderMarkdown builds the block handed to the agent. The preamble frames
// everything that follows as advisory and non-citable: downstream prompt
// assembly relies on that framing to keep surfaced warnings out of the
// agent's citation chain, where they would look like fresh guidance.
func renderMarkdown(warnings, alerts []Warning) string {
	if len(warnings) == 0 && len(alerts) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("> **Advisory warnings.** The notes below describe guidance that previously\n")
	b.WriteString("> led to confirmed defects in this workspace. Treat them as cautions for\n")
	b.WriteString("> this task only. Do not cite, quote, or restate them as project guidance.\n")

	if len(warnings) > 0 {
		b.WriteString("\n")
		for i, w := range warnings {
			b.WriteString(fmt.Sprintf("%d. %s\n", i+1, warningLine(w)))
			if w.Alternative != "" {
				b.WriteString("   - Preferred: " + w.Alternative + "\n")
			}
			if w.Rationale != "" {
				b.WriteString("   - Why: " + w.Rationale + "\n")
			}
		}
	}

	if len(alerts) > 0 {
		b.WriteString("\n**Unconfirmed signals** (recurring reports not yet promoted to patterns):\n")
		for _, a := range alerts {
			b.WriteString(fmt.Sprintf("- **[%s · %s]** %s\n", a.Severity, a.Category, a.Text))
			if a.Alternative != "" {
				b.WriteString("  - Preferred: " + a.Alternative + "\n")
			}
		}
	}

	return b.String()
}

// warningLine renders the headline of one warning. Pattern text is the bad
// guidance itself and gets the "Avoid" framing; principle text is already
// phrased as a rule.
func warningLine(w Warning) string {
	label := fmt.Sprintf("**[%s · %s]**", w.Severity, w.Category)
	text := w.Text
	if w.Kind == SourcePattern {
		text = "Avoid: " + text
	}
	if w.CrossProject {
		text += " _(observed in a sibling project)_"
	}
	return label + " " + text
}

// renderSummary produces the one-line description stored on the audit row.
func renderSummary(warnings, alerts []Warning) string {
	if len(warnings) == 0 && len(alerts) == 0 {
		return "no applicable warnings"
	}
	summary := countNoun(len(warnings), "warning")
	if len(alerts) > 0 {
		summary += ", " + countNoun(len(alerts), "unconfirmed alert")
	}
	return summary
}

func countNoun(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
