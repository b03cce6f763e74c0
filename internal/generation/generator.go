// Package generation builds the prompts for checklist items, calls the
// language model and parses its structured answers.
package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"checkdoc-go/internal/model"
	"checkdoc-go/pkg/llm"
)

// ParseError indicates that the model's reply was not the expected JSON
// object. The raw reply is kept for diagnosis.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse model answer: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Answer is the structured result for one checklist item.
type Answer struct {
	// Value is the extracted answer text for questions, "true"/"false"
	// for conditions.
	Value       string
	BoolValue   bool
	Explanation string
	Found       bool
}

// Generator evaluates a single question or condition against retrieved
// evidence. Without evidence it answers "not found" deterministically
// and never calls the model.
type Generator struct {
	client llm.Client
}

// NewGenerator creates a new Generator instance.
func NewGenerator(client llm.Client) *Generator {
	return &Generator{client: client}
}

// Evaluate answers one checklist item from the given evidence chunks.
// language selects the answer language ("de" or "en"); empty defaults
// to German.
func (g *Generator) Evaluate(ctx context.Context, item model.ChecklistItem, evidence []model.ScoredChunk, language string) (*Answer, error) {
	if len(evidence) == 0 {
		return &Answer{
			Value:       "",
			BoolValue:   false,
			Explanation: notFoundExplanation(language),
			Found:       false,
		}, nil
	}

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt(item.Kind, language)},
		{Role: "user", Content: userPrompt(item, evidence)},
	}

	reply, err := g.client.Complete(ctx, messages, nil)
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}

	return parseAnswer(reply, item.Kind)
}

func notFoundExplanation(language string) string {
	if language == "en" {
		return "The document contains no passages relevant to this item."
	}
	return "Das Dokument enthält keine zu diesem Punkt relevanten Passagen."
}

func systemPrompt(kind model.ItemKind, language string) string {
	lang := "German"
	if language == "en" {
		lang = "English"
	}

	var b strings.Builder
	b.WriteString("You are a careful assistant that evaluates documents against checklists. ")
	b.WriteString("You answer strictly from the provided document excerpts and never invent facts.\n\n")
	if kind == model.ItemKindCondition {
		b.WriteString("Decide whether the stated condition is fulfilled by the excerpts.\n")
		b.WriteString("Respond with a single JSON object and nothing else:\n")
		b.WriteString(`{"value": true or false, "explanation": "<short justification citing the excerpts>", "found": true or false}` + "\n")
		b.WriteString(`Set "found" to false and "value" to false when the excerpts do not cover the condition at all.` + "\n")
	} else {
		b.WriteString("Extract the answer to the question from the excerpts.\n")
		b.WriteString("Respond with a single JSON object and nothing else:\n")
		b.WriteString(`{"value": "<the extracted answer>", "explanation": "<short justification citing the excerpts>", "found": true or false}` + "\n")
		b.WriteString(`Set "found" to false and "value" to an empty string when the excerpts do not answer the question.` + "\n")
	}
	b.WriteString(fmt.Sprintf("Write value and explanation in %s.", lang))
	return b.String()
}

func userPrompt(item model.ChecklistItem, evidence []model.ScoredChunk) string {
	var b strings.Builder
	b.WriteString("Document excerpts:\n\n")
	for i, hit := range evidence {
		b.WriteString(fmt.Sprintf("[%d] %s\n\n", i+1, strings.TrimSpace(hit.Chunk.TextContent)))
	}

	if item.Kind == model.ItemKindCondition {
		b.WriteString("Condition to evaluate:\n")
	} else {
		b.WriteString("Question to answer:\n")
	}
	b.WriteString(item.Text)
	b.WriteString("\n")

	if item.AnswerHint != "" {
		b.WriteString("\nExpected answer format: " + item.AnswerHint + "\n")
	}
	if item.Context != "" {
		b.WriteString("\nAdditional context: " + item.Context + "\n")
	}
	return b.String()
}

// rawAnswer tolerates both boolean and string values so condition
// replies like {"value": true} and {"value": "true"} both parse.
type rawAnswer struct {
	Value       json.RawMessage `json:"value"`
	Explanation string          `json:"explanation"`
	Found       bool            `json:"found"`
}

func parseAnswer(reply string, kind model.ItemKind) (*Answer, error) {
	cleaned := stripCodeFence(reply)

	var raw rawAnswer
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, &ParseError{Raw: reply, Err: err}
	}

	answer := &Answer{
		Explanation: raw.Explanation,
		Found:       raw.Found,
	}

	if kind == model.ItemKindCondition {
		met, err := parseBoolValue(raw.Value)
		if err != nil {
			return nil, &ParseError{Raw: reply, Err: err}
		}
		answer.BoolValue = met
		answer.Value = fmt.Sprintf("%t", met)
		return answer, nil
	}

	var s string
	if len(raw.Value) > 0 {
		if err := json.Unmarshal(raw.Value, &s); err != nil {
			// Non-string extraction values (numbers, dates) are kept
			// verbatim.
			s = strings.Trim(string(raw.Value), `"`)
		}
	}
	answer.Value = s
	return answer, nil
}

func parseBoolValue(raw json.RawMessage) (bool, error) {
	if len(raw) == 0 {
		return false, fmt.Errorf("condition value missing")
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "ja":
			return true, nil
		case "false", "no", "nein":
			return false, nil
		}
	}
	return false, fmt.Errorf("condition value is not a boolean: %s", string(raw))
}

// stripCodeFence unwraps replies the model wrapped in a markdown fence.
func stripCodeFence(reply string) string {
	s := strings.TrimSpace(reply)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
