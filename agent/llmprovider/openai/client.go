// Package openai adapts github.com/sashabaranov/go-openai to the
// llmprovider.Provider boundary, grounded on the request/response shape of
// features/model/openai/client.go.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentloop/core/agent/llmprovider"
	"github.com/agentloop/core/agent/model"
)

// ChatClient is the slice of go-openai's client this adapter needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Options configures a Client.
type Options struct {
	Model string
}

// Client implements llmprovider.Provider over go-openai.
type Client struct {
	client ChatClient
	opts   Options
}

// New returns a Client backed by an API-key-authenticated go-openai client.
func New(apiKey string, opts Options) *Client {
	return &Client{client: openai.NewClient(apiKey), opts: opts}
}

// NewWithClient returns a Client wrapping an already-constructed ChatClient,
// for tests.
func NewWithClient(client ChatClient, opts Options) *Client {
	return &Client{client: client, opts: opts}
}

func (c *Client) ChatWithTools(ctx context.Context, messages []model.Message, opts llmprovider.ChatOptions) (llmprovider.ChatResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.opts.Model,
		Messages:    encodeMessages(messages),
		Temperature: float32(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if len(opts.Tools) > 0 {
		req.Tools = encodeTools(opts.Tools)
	}
	switch opts.ToolChoice {
	case llmprovider.ToolChoiceNone:
		req.ToolChoice = "none"
	case "":
	default:
		req.ToolChoice = openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: opts.ToolChoice},
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return llmprovider.ChatResponse{}, fmt.Errorf("openai chat: %w", err)
	}
	return translateResponse(resp), nil
}

func (c *Client) Complete(ctx context.Context, prompt string, opts llmprovider.CompleteOptions) (llmprovider.CompleteResponse, error) {
	resp, err := c.ChatWithTools(ctx, []model.Message{{Role: model.RoleUser, Text: prompt}}, llmprovider.ChatOptions{
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		ToolChoice:  llmprovider.ToolChoiceNone,
	})
	if err != nil {
		return llmprovider.CompleteResponse{}, err
	}
	return llmprovider.CompleteResponse{Content: resp.Content, Usage: resp.Usage, Model: resp.Model}, nil
}

func encodeMessages(messages []model.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case model.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Text}
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Input)
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, msg)
		case model.RoleTool:
			for _, tr := range m.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Output,
					ToolCallID: tr.ToolCallID,
				})
			}
		case model.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Text})
		default:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Text})
		}
	}
	return out
}

func encodeTools(specs []llmprovider.ToolSpec) []openai.Tool {
	out := make([]openai.Tool, 0, len(specs))
	for _, s := range specs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.InputSchema,
			},
		})
	}
	return out
}

func translateResponse(resp openai.ChatCompletionResponse) llmprovider.ChatResponse {
	out := llmprovider.ChatResponse{
		Model: resp.Model,
		Usage: model.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.StopReason = string(choice.FinishReason)
	out.Content = choice.Message.Content
	for _, tc := range choice.Message.ToolCalls {
		var input map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		out.ToolCalls = append(out.ToolCalls, llmprovider.ToolCallOut{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}
	return out
}
