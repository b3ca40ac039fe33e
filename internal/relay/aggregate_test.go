package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregator_TextResponse(t *testing.T) {
	a := NewAggregator()

	a.Add(Event{Kind: EventMessageStart, MessageID: "msg_1", Model: "m1"})
	a.Add(Event{Kind: EventContentBlockStart, Index: 0, Block: &BlockDescriptor{Type: ContentTypeText}})
	a.Add(Event{Kind: EventContentBlockDelta, Index: 0, Delta: &Delta{Text: "Hello"}})
	a.Add(Event{Kind: EventContentBlockDelta, Index: 0, Delta: &Delta{Text: ", world"}})
	a.Add(Event{Kind: EventContentBlockStop, Index: 0, Block: &BlockDescriptor{Type: ContentTypeText}})
	a.Add(Event{Kind: EventMessageDelta, StopReason: StopEndTurn, Usage: &Usage{InputTokens: 3, OutputTokens: 2}})
	a.Add(Event{Kind: EventMessageStop})

	resp := a.OpenAIResponse()
	assert.Equal(t, "msg_1", resp.ID)
	assert.Equal(t, "m1", resp.Model)
	require.Len(t, resp.Choices, 1)
	require.NotNil(t, resp.Choices[0].Message.Content)
	assert.Equal(t, "Hello, world", *resp.Choices[0].Message.Content)
	assert.Equal(t, FinishStop, resp.Choices[0].FinishReason)
	assert.Equal(t, 3, resp.Usage.PromptTokens)
	assert.Equal(t, 2, resp.Usage.CompletionTokens)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestAggregator_ToolCall(t *testing.T) {
	a := NewAggregator()

	a.Add(Event{Kind: EventMessageStart, Model: "m1"})
	a.Add(Event{Kind: EventContentBlockStart, Index: 0, Block: &BlockDescriptor{
		Type: ContentTypeToolUse, ToolID: "toolu_1", ToolName: "get_weather",
	}})
	a.Add(Event{Kind: EventContentBlockDelta, Index: 0, Delta: &Delta{IsToolInput: true, PartialJSON: `{"city":`}})
	a.Add(Event{Kind: EventContentBlockStop, Index: 0, Block: &BlockDescriptor{
		Type: ContentTypeToolUse, Input: map[string]any{"city": "Oslo"},
	}})
	a.Add(Event{Kind: EventMessageDelta, StopReason: StopToolUse})
	a.Add(Event{Kind: EventMessageStop})

	resp := a.OpenAIResponse()
	msg := resp.Choices[0].Message
	assert.Nil(t, msg.Content)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "toolu_1", msg.ToolCalls[0].ID)
	assert.Equal(t, "get_weather", msg.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"city":"Oslo"}`, msg.ToolCalls[0].Function.Arguments)
	assert.Equal(t, FinishToolCalls, resp.Choices[0].FinishReason)
}

func TestAggregator_ToolCallOrder(t *testing.T) {
	a := NewAggregator()

	a.Add(Event{Kind: EventContentBlockStart, Index: 3, Block: &BlockDescriptor{Type: ContentTypeToolUse, ToolID: "b"}})
	a.Add(Event{Kind: EventContentBlockStart, Index: 1, Block: &BlockDescriptor{Type: ContentTypeToolUse, ToolID: "a"}})

	calls := a.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "b", calls[0].ID)
	assert.Equal(t, "a", calls[1].ID)
}

func TestAggregator_ClaudeResponse(t *testing.T) {
	a := NewAggregator()

	a.Add(Event{Kind: EventMessageStart, MessageID: "msg_1", Model: "m1"})
	a.Add(Event{Kind: EventContentBlockDelta, Index: 0, Delta: &Delta{Text: "Hello"}})
	a.Add(Event{Kind: EventMessageDelta, Usage: &Usage{InputTokens: 1, OutputTokens: 1}})

	resp := a.ClaudeResponse()
	assert.Equal(t, "msg_1", resp.ID)
	assert.Equal(t, RoleAssistant, resp.Role)
	// No explicit stop reason arrived; default to a normal end.
	assert.Equal(t, StopEndTurn, resp.StopReason)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "Hello", resp.Content[0].Text)
}
