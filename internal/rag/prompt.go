package rag

import (
	"strings"

	"lograg/internal/domain"
)

const promptTemplate = `### System:
You are an honest assistant.
You will accept contents of a log file and you will answer the question asked by the user appropriately.
Answer only from the log entries given as context.
If you don't know the answer, just say you don't know. Don't try to make up an answer.
If you find time, date or timestamps in the logs, make sure to convert the timestamp to more human-readable format in your response as DD/MM/YYYY HH:MM:SS

### Context:
{context}

### User:
{question}

### Response:
`

// BuildContext joins the entry texts best match first, separated by blank lines.
func BuildContext(sources []domain.SearchResult) string {
	parts := make([]string, len(sources))
	for i, s := range sources {
		parts[i] = s.Entry.Text
	}
	return strings.Join(parts, "\n\n")
}

// BuildPrompt renders the grounding prompt. Substitution is single pass, so braces in log text
// are left alone.
func BuildPrompt(question string, sources []domain.SearchResult) string {
	return strings.NewReplacer(
		"{context}", BuildContext(sources),
		"{question}", question,
	).Replace(promptTemplate)
}
