package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shuxueshuxue/gitdash/internal/provider"
)

// Generator turns a batch of recent commit messages into a short working-state
// description using an LLM completer.
type Generator struct {
	completer provider.Completer
	timeout   time.Duration
}

// NewGenerator creates a Generator with the given completer and per-call
// timeout. If timeout is zero, defaults to 30 seconds.
func NewGenerator(completer provider.Completer, timeout time.Duration) *Generator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Generator{
		completer: completer,
		timeout:   timeout,
	}
}

// llmResponse is the expected JSON structure from the LLM.
type llmResponse struct {
	Summary    string   `json:"summary"`
	FocusAreas []string `json:"focus_areas"`
}

// codeFenceRe matches markdown code fences around JSON.
var codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\n?(.*?)\\s*```")

// parseResponse parses the LLM's JSON response, stripping markdown fences if
// present.
func parseResponse(raw string) (*llmResponse, error) {
	cleaned := strings.TrimSpace(raw)

	if matches := codeFenceRe.FindStringSubmatch(cleaned); len(matches) > 1 {
		cleaned = strings.TrimSpace(matches[1])
	}

	var resp llmResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, fmt.Errorf("%w: %s", provider.ErrInvalidResponse, err)
	}
	if strings.TrimSpace(resp.Summary) == "" {
		return nil, fmt.Errorf("%w: empty summary", provider.ErrInvalidResponse)
	}
	return &resp, nil
}

const retryPromptSuffix = `

IMPORTANT: You MUST respond with ONLY valid JSON. No markdown, no code fences, no extra text.
Example: {"summary": "fixing UI bugs, refactoring auth", "focus_areas": ["auth"]}`

// Summarize produces a short description of recent work from up to 5 commit
// messages, ordered newest first. It must not be called with an empty list.
func (g *Generator) Summarize(ctx context.Context, repoName string, messages []string) (string, error) {
	prompt, err := BuildPrompt(repoName, messages)
	if err != nil {
		return "", fmt.Errorf("building prompt: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := g.completer.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("completing prompt: %w", err)
	}

	resp, err := parseResponse(raw)
	if err == nil {
		return resp.Summary, nil
	}

	// Retry once with a stricter prompt.
	retryRaw, retryErr := g.completer.Complete(ctx, prompt+retryPromptSuffix)
	if retryErr == nil {
		if resp, err := parseResponse(retryRaw); err == nil {
			return resp.Summary, nil
		}
	}

	// The model answered but never produced valid JSON; fall back to the raw
	// text rather than discarding a usable answer.
	if text := strings.TrimSpace(raw); text != "" {
		return text, nil
	}
	return "", fmt.Errorf("parsing summary response: %w", err)
}
