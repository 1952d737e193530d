package condenser

import (
	"fmt"
	"strings"

	"github.com/entrhq/anvil/pkg/types"
)

// initialSummary is the synthetic prior summary used when the view has not
// been condensed before.
const initialSummary = "Initial state: conversation start"

// failedSummary is the literal marker recorded when the compression call
// succeeds but returns empty text.
const failedSummary = "compression failed"

// compressionSystemPrompt frames the summarizing LLM's role. The output is
// consumed by another LLM agent, not a human, so the instructions optimize
// for density and decision traceability over readability.
const compressionSystemPrompt = "You are a conversation compression engine for an AI coding agent. " +
	"Your summary replaces a forgotten span of that agent's event history; the agent must be able to " +
	"continue its work seamlessly by reading your summary alone. " +
	"Preserve key information: error states, successful results, user instructions, important decisions. " +
	"Compress redundancy: repeated operations, similar outputs, verbose logs. " +
	"Merge similar operations and keep final states. " +
	"Be dense, specific, and technical; never add conversational filler or hedging."

// buildCompressionPrompt constructs the user prompt for one compression
// call: the structured output sections, the previous summary, and the
// events being forgotten (each truncated to the configured length).
func (c *Condenser) buildCompressionPrompt(previousSummary string, forgotten []types.Event) string {
	var b strings.Builder

	b.WriteString("Compress the following conversation segment into exactly five sections:\n\n")
	b.WriteString("Task Context: concise statement of the user's goal and requirements.\n")
	b.WriteString("Key Progress: important operations performed and their outcomes.\n")
	b.WriteString("Technical State: code state, configuration changes, system state.\n")
	b.WriteString("Open Items: unfinished work and unresolved problems.\n")
	b.WriteString("Notable Findings: error messages, debugging results, key observations.\n\n")
	b.WriteString("Always preserve file paths, function names, error strings, and final values.\n\n")

	if previousSummary != "" {
		b.WriteString("<previous_summary>\n")
		b.WriteString(c.truncate(previousSummary))
		b.WriteString("\n</previous_summary>\n\n")
	}

	b.WriteString("<events_to_compress>\n")
	for _, ev := range forgotten {
		b.WriteString(fmt.Sprintf("[event %d] %s\n\n", ev.ID(), c.truncate(types.EventText(ev))))
	}
	b.WriteString("</events_to_compress>\n\n")

	b.WriteString("Produce a concise but complete summary focused on task progress and technical state.")

	return b.String()
}
