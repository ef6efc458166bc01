package completion

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lokutor-ai/realtime-copilot/internal/config"
	"github.com/lokutor-ai/realtime-copilot/internal/eventbus"
)

// chatMessage is one entry of the `messages` array sent to the completion
// endpoint (spec.md §6.6).
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const interviewSystemPrompt = `You are an interview assistant. The interviewer just asked a question. Based on the question and context, provide 1-3 bullet points to help the candidate structure their answer. Be concise. Each point should be 5-15 words. Focus on: key points to mention, structure suggestion, relevant terms. Do NOT repeat the question. Do NOT write full answers. Do NOT use numbering. Output ONLY bullet points starting with ` + "`- `" + `. {knowledge_context}`

const meetingSystemPrompt = `You are a meeting assistant. Analyze what was just said and provide helpful context in 1-3 bullet points. Be concise. Each point should be 5-15 words. Focus on: term explanations, relevant context, follow-up suggestions. Do NOT repeat what was said. Do NOT use numbering. Output ONLY bullet points starting with ` + "`- `" + `. {knowledge_context}`

// buildSystemPrompt selects the mode's literal template (§6.6), splices in
// knowledgeContext under a "Relevant knowledge:" heading if non-empty, and
// appends customPrompt's additional instructions if set.
func buildSystemPrompt(mode eventbus.Mode, knowledgeContext, customPrompt string) string {
	template := meetingSystemPrompt
	if mode == eventbus.InterviewAssistant {
		template = interviewSystemPrompt
	}

	slot := ""
	if knowledgeContext != "" {
		slot = fmt.Sprintf("\nRelevant knowledge:\n%s\n", knowledgeContext)
	}
	prompt := strings.Replace(template, "{knowledge_context}", slot, 1)

	if customPrompt != "" {
		prompt += "\n\nAdditional instructions: " + customPrompt
	}
	return prompt
}

// buildMessages assembles the message list per spec.md §4.6: system prompt,
// an optional recent-conversation user turn, and the question/statement
// turn.
func buildMessages(mode eventbus.Mode, systemPrompt, globalContext, text string) []chatMessage {
	messages := []chatMessage{{Role: "system", Content: systemPrompt}}

	if globalContext != "" {
		messages = append(messages, chatMessage{
			Role:    "user",
			Content: "Recent conversation:\n" + globalContext,
		})
	}

	label := "Statement"
	if mode == eventbus.InterviewAssistant {
		label = "Question"
	}
	messages = append(messages, chatMessage{
		Role:    "user",
		Content: fmt.Sprintf("%s: %s\n\nProvide 1-3 bullet points:", label, text),
	})
	return messages
}

// formatHint normalizes accumulated completion text to at most
// MAX_HINT_POINTS bullet lines (spec.md §4.6 post-processing rules 1-5,
// Testable Property 9: idempotent, every output line begins with "- ").
func formatHint(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")

	var bullets []string
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "- "), strings.HasPrefix(line, "• "), strings.HasPrefix(line, "* "):
			_, rest, _ := strings.Cut(line, " ")
			bullets = append(bullets, "- "+strings.TrimSpace(rest))
		case isNumberedBullet(line):
			rest := line[strings.Index(line, ".")+1:]
			bullets = append(bullets, "- "+strings.TrimSpace(rest))
		case len(bullets) > 0:
			bullets[len(bullets)-1] += " " + line
		}
		// A non-bullet line with no prior bullet is dropped (rule 4).
	}

	if len(bullets) > config.MaxHintPoints {
		bullets = bullets[:config.MaxHintPoints]
	}
	return strings.Join(bullets, "\n")
}

// isNumberedBullet reports whether line begins "<digit>." (e.g. "1. Foo"),
// mirroring the Python original's `line[0].isdigit() and "." in line[:3]`.
func isNumberedBullet(line string) bool {
	if line == "" {
		return false
	}
	if _, err := strconv.Atoi(line[:1]); err != nil {
		return false
	}
	dotIdx := strings.Index(line, ".")
	return dotIdx >= 0 && dotIdx < 3
}
