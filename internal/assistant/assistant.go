// Package assistant calls the model provider for draft and refine
// proposals. Responses are plain interchange text; staging and review
// happen in the revision layer, never here.
package assistant

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Client produces AI proposals. Implementations must not mutate any
// document state; they return candidate text only.
type Client interface {
	// Draft writes a fresh section body from the author's notes.
	Draft(ctx context.Context, req DraftRequest) (string, error)
	// Refine rewrites the given passage according to the instruction,
	// returning replacement text for exactly that passage.
	Refine(ctx context.Context, req RefineRequest) (string, error)
	// Model names the model proposals are attributed to.
	Model() string
}

type DraftRequest struct {
	SectionTitle string
	Notes        string
	Content      string
}

type RefineRequest struct {
	Instruction string
	Passage     string
	Content     string
}

const draftSystemPrompt = `You are a writing assistant for a manuscript editor.
Write the body of the requested section as plain text. Preserve any
citation tokens of the form [[ref:id]] exactly as written. Return only
the section text, no commentary.`

const refineSystemPrompt = `You are a writing assistant for a manuscript editor.
Rewrite the given passage according to the instruction. Preserve any
citation tokens of the form [[ref:id]] exactly as written unless the
instruction says to remove them. Return only the replacement passage,
no commentary.`

type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(apiKey, baseURL, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("assistant api key is not set")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (c *OpenAIClient) Model() string {
	return c.model
}

func (c *OpenAIClient) Draft(ctx context.Context, req DraftRequest) (string, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Section: %s\n", req.SectionTitle)
	if req.Notes != "" {
		fmt.Fprintf(&prompt, "Author notes:\n%s\n", req.Notes)
	}
	if req.Content != "" {
		fmt.Fprintf(&prompt, "Current draft to build on:\n%s\n", req.Content)
	}
	return c.complete(ctx, draftSystemPrompt, prompt.String())
}

func (c *OpenAIClient) Refine(ctx context.Context, req RefineRequest) (string, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Instruction: %s\n", req.Instruction)
	fmt.Fprintf(&prompt, "Passage to rewrite:\n%s\n", req.Passage)
	if req.Content != "" {
		fmt.Fprintf(&prompt, "Full section for context:\n%s\n", req.Content)
	}
	return c.complete(ctx, refineSystemPrompt, prompt.String())
}

func (c *OpenAIClient) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("model returned empty content")
	}
	return text, nil
}
