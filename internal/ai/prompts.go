package ai

import "strings"

const decomposeSystemPrompt = `You break blockers into actionable subtasks.
Given a blocker description and the task it blocks, respond with JSON:
{"subtasks": [{"title": "...", "description": "...", "suggested_location": "...", "suggested_deadline": "RFC3339 or omit"}]}
Return between 2 and 5 subtasks. Each must be a single concrete action that
removes part of the obstacle. No commentary outside the JSON.`

const categorizeSystemPrompt = `You label personal tasks with a short category.
Respond with JSON: {"category": "one_or_two_words", "confidence": 0.0-1.0}.
Use lowercase snake_case labels like "errands", "communication", "home_maintenance".
No commentary outside the JSON.`

// BuildDecomposePrompt assembles the user message for blocker decomposition.
func BuildDecomposePrompt(description, taskContext string) string {
	return buildPrompt(map[string]string{
		"blocker":      description,
		"blocked_task": taskContext,
	}, []string{"blocker", "blocked_task"})
}

// BuildCategorizePrompt assembles the user message for categorization.
func BuildCategorizePrompt(title, description string) string {
	return buildPrompt(map[string]string{
		"title":       title,
		"description": description,
	}, []string{"title", "description"})
}

func buildPrompt(fields map[string]string, order []string) string {
	var b strings.Builder
	for _, k := range order {
		v := fields[k]
		if v == "" {
			continue
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\n")
	}
	return b.String()
}
