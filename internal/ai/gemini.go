package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
)

// GeminiClient adapts the Google GenAI SDK to the Dispatcher interface. It is
// the fallback provider when no OpenAI key is configured.
type GeminiClient struct {
	client    *genai.Client
	modelName string
}

var _ Dispatcher = (*GeminiClient)(nil)

func NewGeminiClient(client *genai.Client, modelName string) *GeminiClient {
	return &GeminiClient{
		client:    client,
		modelName: modelName,
	}
}

func (c *GeminiClient) SendMessage(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", &DispatchError{Provider: "gemini", Err: fmt.Errorf("empty transcript")}
	}

	model := c.client.GenerativeModel(c.modelName)

	// Gemini has no system role in history; fold system messages into the
	// model's system instruction.
	var history []*genai.Content
	var system []string
	for _, m := range messages[:len(messages)-1] {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		history = append(history, &genai.Content{
			Role:  geminiRole(m.Role),
			Parts: messageParts(m),
		})
	}
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(strings.Join(system, "\n"))},
		}
	}

	cs := model.StartChat()
	cs.History = history

	resp, err := cs.SendMessage(ctx, messageParts(messages[len(messages)-1])...)
	if err != nil {
		return "", &DispatchError{Provider: "gemini", Err: err}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", &DispatchError{Provider: "gemini", Err: fmt.Errorf("no candidates returned")}
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), nil
}

func geminiRole(r Role) string {
	if r == RoleAssistant {
		return "model"
	}
	return "user"
}

func messageParts(m Message) []genai.Part {
	parts := []genai.Part{genai.Text(m.Content)}
	if m.ImageURL != "" {
		if format, data, err := decodeDataURL(m.ImageURL); err == nil {
			parts = append(parts, genai.ImageData(format, data))
		}
	}
	return parts
}

// decodeDataURL splits a "data:image/jpeg;base64,..." URL into its image
// format and raw bytes.
func decodeDataURL(url string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(url, "data:image/")
	if !ok {
		return "", nil, fmt.Errorf("not an image data URL")
	}
	format, payload, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return "", nil, fmt.Errorf("unsupported data URL encoding")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, err
	}
	return format, data, nil
}
