package summary

import (
	"bytes"
	"fmt"
	"text/template"
)

// maxPromptMessages caps how many commit messages feed a single prompt; the
// newest few carry the signal, the rest is noise and token spend.
const maxPromptMessages = 5

const summaryPromptTemplate = `Repository: {{.Repo}}

Recent commits:
{{range $i, $msg := .Messages}}{{inc $i}}. {{$msg}}
{{end}}
Provide 3-5 keywords describing the work, no subject term. Example: "fixing UI bugs, refactoring auth, adding tests"

Respond with ONLY this JSON (no markdown fences):
{"summary": "3-5 keywords describing recent work", "focus_areas": ["area1", "area2"]}`

type promptData struct {
	Repo     string
	Messages []string
}

var summaryTmpl = template.Must(template.New("summary").
	Funcs(template.FuncMap{"inc": func(i int) int { return i + 1 }}).
	Parse(summaryPromptTemplate))

// BuildPrompt renders the summarization prompt for a repository's newest
// commit messages. At most maxPromptMessages messages are included; messages
// must already be ordered newest first.
func BuildPrompt(repo string, messages []string) (string, error) {
	if repo == "" {
		return "", fmt.Errorf("repo name is required")
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("at least one commit message is required")
	}
	if len(messages) > maxPromptMessages {
		messages = messages[:maxPromptMessages]
	}

	var buf bytes.Buffer
	if err := summaryTmpl.Execute(&buf, promptData{Repo: repo, Messages: messages}); err != nil {
		return "", fmt.Errorf("rendering prompt template: %w", err)
	}
	return buf.String(), nil
}
