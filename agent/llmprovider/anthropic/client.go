// Package anthropic adapts anthropic-sdk-go to the llmprovider.Provider
// boundary, grounded on the message/tool/usage translation shape of
// features/model/anthropic/client.go.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentloop/core/agent/llmprovider"
	"github.com/agentloop/core/agent/model"
)

// MessagesClient is the slice of the SDK's MessageService this adapter
// needs, narrowed to ease testing with a fake.
type MessagesClient interface {
	New(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error)
}

// Options configures a Client.
type Options struct {
	Model     sdk.Model
	MaxTokens int64
}

// Client implements llmprovider.Provider over anthropic-sdk-go.
type Client struct {
	messages MessagesClient
	opts     Options
}

// New returns a Client whose messages client is built from apiKey via
// sdk.NewClient. A zero opts.MaxTokens defaults to 4096.
func New(apiKey string, opts Options) *Client {
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 4096
	}
	return &Client{messages: &sdkMessages{svc: c.Messages}, opts: opts}
}

// NewWithClient returns a Client wrapping an already-constructed
// MessagesClient, for tests.
func NewWithClient(messages MessagesClient, opts Options) *Client {
	return &Client{messages: messages, opts: opts}
}

type sdkMessages struct{ svc sdk.MessageService }

func (m *sdkMessages) New(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error) {
	return m.svc.New(ctx, params)
}

func (c *Client) ChatWithTools(ctx context.Context, messages []model.Message, opts llmprovider.ChatOptions) (llmprovider.ChatResponse, error) {
	msgs, system := encodeMessages(messages)
	params := sdk.MessageNewParams{
		Model:     c.opts.Model,
		MaxTokens: c.opts.MaxTokens,
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = int64(opts.MaxTokens)
	}
	if len(opts.Tools) > 0 {
		params.Tools = encodeTools(opts.Tools)
	}
	switch opts.ToolChoice {
	case llmprovider.ToolChoiceNone:
		params.ToolChoice = sdk.ToolChoiceUnionParam{OfNone: &sdk.ToolChoiceNoneParam{}}
	case "":
	default:
		params.ToolChoice = sdk.ToolChoiceParamOfTool(opts.ToolChoice)
	}

	msg, err := c.messages.New(ctx, params)
	if err != nil {
		return llmprovider.ChatResponse{}, fmt.Errorf("anthropic chat: %w", err)
	}
	return translateMessage(msg), nil
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

// encodeMessages splits messages into the turn-ordered list the SDK accepts
// and a separate system block list: Anthropic's Messages API carries system
// prompts in the top-level System param, never inline in Messages.
func encodeMessages(messages []model.Message) ([]sdk.MessageParam, []sdk.TextBlockParam) {
	out := make([]sdk.MessageParam, 0, len(messages))
	system := make([]sdk.TextBlockParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case model.RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Text))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, tc.Input, tc.Name))
			}
			out = append(out, sdk.NewAssistantMessage(blocks...))
		case model.RoleTool:
			blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.ToolResults))
			for _, tr := range m.ToolResults {
				blocks = append(blocks, sdk.NewToolResultBlock(tr.ToolCallID, tr.Output, tr.IsError))
			}
			out = append(out, sdk.NewUserMessage(blocks...))
		case model.RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: m.Text})
		default:
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Text)))
		}
	}
	return out, system
}

func encodeTools(specs []llmprovider.ToolSpec) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(specs))
	for _, s := range specs {
		out = append(out, sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{
			Properties: s.InputSchema["properties"],
		}, s.Name))
		out[len(out)-1].OfTool.Description = sdk.String(s.Description)
	}
	return out
}

func translateMessage(msg *sdk.Message) llmprovider.ChatResponse {
	resp := llmprovider.ChatResponse{
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
		Usage: model.TokenUsage{
			PromptTokens:     int(msg.Usage.InputTokens + msg.Usage.CacheReadInputTokens + msg.Usage.CacheCreationInputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			var input map[string]any
			_ = json.Unmarshal(block.Input, &input)
			resp.ToolCalls = append(resp.ToolCalls, llmprovider.ToolCallOut{
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		}
	}
	return resp
}
