package server

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"daftar/internal/store"
)

// Responder generates the assistant's reply to one chat turn given the
// conversation history and the memories retrieved for context.
type Responder interface {
	Respond(ctx context.Context, history []store.Turn, memories []string, message string) (string, error)
}

const chatSystemPrompt = `You are a helpful personal assistant with long-term memory.
Use the remembered facts below when they are relevant, but never recite
them unprompted. Be concise.`

// GenAIResponder answers chat turns through the Gemini API.
type GenAIResponder struct {
	client *genai.Client
	model  string
}

// NewGenAIResponder creates a responder bound to a Gemini model.
func NewGenAIResponder(ctx context.Context, apiKey, model string) (*GenAIResponder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIResponder{client: client, model: model}, nil
}

// Respond replays the history as alternating roles, appends the new
// message, and asks the model for the next turn.
func (r *GenAIResponder) Respond(ctx context.Context, history []store.Turn, memories []string, message string) (string, error) {
	system := chatSystemPrompt
	if len(memories) > 0 {
		system += "\n\nRemembered facts:\n- " + strings.Join(memories, "\n- ")
	}

	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		role := genai.Role(genai.RoleUser)
		if turn.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(message, genai.RoleUser))

	result, err := r.client.Models.GenerateContent(ctx, r.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	})
	if err != nil {
		return "", fmt.Errorf("chat generation failed: %w", err)
	}
	return result.Text(), nil
}
