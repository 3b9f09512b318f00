// Package llm adapts the Gemini API to types.LLMClient and drives the
// multi-turn tool loop used during generation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskforge/internal/config"
	"taskforge/internal/logging"
	"taskforge/internal/types"

	"github.com/google/uuid"
	genai "google.golang.org/genai"
)

// ErrEmptyResponse is returned when the model produced no candidates.
var ErrEmptyResponse = errors.New("empty response from model")

// GeminiClient is a thin wrapper around the official genai client.
type GeminiClient struct {
	cli     *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiClient creates a completion client for cfg.Model.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig, timeout time.Duration) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	logging.Boot("Gemini completion client ready: model=%s", cfg.Model)
	return &GeminiClient{cli: cli, model: cfg.Model, timeout: timeout}, nil
}

// Model returns the configured model name.
func (g *GeminiClient) Model() string { return g.model }

// Complete implements types.LLMClient.
func (g *GeminiClient) Complete(ctx context.Context, systemPrompt string, conv types.Conversation, tools []types.ToolDefinition) (*types.Completion, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "GeminiComplete")
	defer timer.Stop()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	cfg := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}}
	}
	if len(tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: toDeclarations(tools)}}
	}

	contents := toContents(conv)
	logging.APIDebug("GenerateContent: model=%s contents=%d tools=%d", g.model, len(contents), len(tools))

	resp, err := g.cli.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	return fromResponse(resp)
}

func toDeclarations(tools []types.ToolDefinition) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: t.InputSchema,
		})
	}
	return decls
}

// toContents maps a conversation onto Gemini turns. Tool results travel as
// function responses in a user turn; consecutive turns of the same role are
// merged because the API requires alternation.
func toContents(conv types.Conversation) []*genai.Content {
	var contents []*genai.Content
	push := func(role string, parts ...*genai.Part) {
		if len(parts) == 0 {
			return
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	for _, m := range conv.Messages() {
		switch m.Role {
		case types.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, call := range m.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Name,
					Args: call.Input,
				}})
			}
			push(string(genai.RoleModel), parts...)
		case types.RoleTool:
			push(string(genai.RoleUser), &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolCallID,
				Name:     m.Name,
				Response: map[string]any{"output": m.Content},
			}})
		default:
			push(string(genai.RoleUser), &genai.Part{Text: m.Content})
		}
	}
	return contents
}

func fromResponse(resp *genai.GenerateContentResponse) (*types.Completion, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}
	cand := resp.Candidates[0]
	out := &types.Completion{StopReason: "end_turn"}

	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if part == nil {
			continue
		}
		if part.FunctionCall != nil {
			id := part.FunctionCall.ID
			if id == "" {
				id = "call_" + uuid.NewString()[:8]
			}
			out.ToolCalls = append(out.ToolCalls, types.ToolCall{
				ID:    id,
				Name:  part.FunctionCall.Name,
				Input: part.FunctionCall.Args,
			})
			continue
		}
		if part.Thought {
			continue
		}
		text.WriteString(part.Text)
	}
	out.Content = text.String()
	if len(out.ToolCalls) > 0 {
		out.StopReason = "tool_use"
	} else if cand.FinishReason != "" {
		out.StopReason = strings.ToLower(string(cand.FinishReason))
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = types.UsageMetadata{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	logging.APIDebug("Gemini response: %d chars, %d tool calls, stop=%s", len(out.Content), len(out.ToolCalls), out.StopReason)
	return out, nil
}
