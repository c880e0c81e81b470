package openai_test

import (
	"context"
	"testing"

	oai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop/core/agent/llmprovider"
	"github.com/agentloop/core/agent/llmprovider/openai"
	"github.com/agentloop/core/agent/model"
)

type fakeChatClient struct {
	gotReq oai.ChatCompletionRequest
	resp   oai.ChatCompletionResponse
}

func (f *fakeChatClient) CreateChatCompletion(ctx context.Context, req oai.ChatCompletionRequest) (oai.ChatCompletionResponse, error) {
	f.gotReq = req
	return f.resp, nil
}

func TestChatWithTools_ToolChoiceNoneTranslatesToStringNone(t *testing.T) {
	fake := &fakeChatClient{resp: oai.ChatCompletionResponse{
		Choices: []oai.ChatCompletionChoice{{Message: oai.ChatCompletionMessage{Content: "done"}}},
	}}
	c := openai.NewWithClient(fake, openai.Options{Model: "gpt-4o-mini"})

	resp, err := c.ChatWithTools(context.Background(), []model.Message{{Role: model.RoleUser, Text: "hi"}}, llmprovider.ChatOptions{
		ToolChoice: llmprovider.ToolChoiceNone,
	})

	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, "none", fake.gotReq.ToolChoice)
}

func TestChatWithTools_TranslatesToolCallsBothWays(t *testing.T) {
	fake := &fakeChatClient{resp: oai.ChatCompletionResponse{
		Choices: []oai.ChatCompletionChoice{{
			Message: oai.ChatCompletionMessage{
				ToolCalls: []oai.ToolCall{{
					ID:       "call_1",
					Type:     oai.ToolTypeFunction,
					Function: oai.FunctionCall{Name: "search", Arguments: `{"query":"foo"}`},
				}},
			},
		}},
		Usage: oai.Usage{PromptTokens: 10, CompletionTokens: 5},
	}}
	c := openai.NewWithClient(fake, openai.Options{Model: "gpt-4o"})

	resp, err := c.ChatWithTools(context.Background(), []model.Message{
		{Role: model.RoleUser, Text: "find foo"},
	}, llmprovider.ChatOptions{Tools: []llmprovider.ToolSpec{{Name: "search"}}})

	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "search", resp.ToolCalls[0].Name)
	assert.Equal(t, "foo", resp.ToolCalls[0].Input["query"])
	assert.Equal(t, 15, resp.Usage.Total())
	require.Len(t, fake.gotReq.Tools, 1)
	assert.Equal(t, "search", fake.gotReq.Tools[0].Function.Name)
}
