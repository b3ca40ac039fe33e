package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_CurrentMessageAndHistory(t *testing.T) {
	req := &Request{
		Model:  "m1",
		System: "be brief",
		Messages: []Message{
			{Role: RoleUser, Content: "first"},
			{Role: RoleAssistant, Content: "reply"},
			{Role: RoleUser, Content: "second"},
		},
	}

	out := Render(req, "arn:profile")

	assert.Equal(t, "arn:profile", out.ProfileARN)
	assert.Equal(t, "MANUAL", out.ConversationState.ChatTriggerType)
	assert.NotEmpty(t, out.ConversationState.ConversationID)

	current := out.ConversationState.CurrentMessage
	require.NotNil(t, current.UserInputMessage)
	assert.Contains(t, current.UserInputMessage.Content, "be brief")
	assert.Contains(t, current.UserInputMessage.Content, "second")
	assert.Equal(t, "m1", current.UserInputMessage.ModelID)

	history := out.ConversationState.History
	require.Len(t, history, 2)
	require.NotNil(t, history[0].UserInputMessage)
	assert.Equal(t, "first", history[0].UserInputMessage.Content)
	require.NotNil(t, history[1].AssistantResponseMessage)
	assert.Equal(t, "reply", history[1].AssistantResponseMessage.Content)
}

func TestRender_ToolsAttachToCurrentTurn(t *testing.T) {
	req := &Request{
		Model:    "m1",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Tools: []Tool{{
			Name:        "get_weather",
			Description: "look up weather",
			InputSchema: map[string]any{"type": "object"},
		}},
	}

	out := Render(req, "")

	ctx := out.ConversationState.CurrentMessage.UserInputMessage.Context
	require.NotNil(t, ctx)
	require.Len(t, ctx.Tools, 1)
	assert.Equal(t, "get_weather", ctx.Tools[0].ToolSpecification.Name)
}

func TestRender_ToolResultsInCurrentTurn(t *testing.T) {
	req := &Request{
		Model: "m1",
		Messages: []Message{{
			Role: RoleUser,
			Parts: []ContentPart{{
				Type:        ContentTypeToolResult,
				ToolUseID:   "toolu_1",
				ToolContent: "sunny",
			}},
		}},
	}

	out := Render(req, "")

	ctx := out.ConversationState.CurrentMessage.UserInputMessage.Context
	require.NotNil(t, ctx)
	require.Len(t, ctx.ToolResults, 1)
	assert.Equal(t, "toolu_1", ctx.ToolResults[0].ToolUseID)
	assert.Equal(t, "success", ctx.ToolResults[0].Status)
}

func TestRender_TrailingAssistantTurn(t *testing.T) {
	req := &Request{
		Model: "m1",
		Messages: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
		},
	}

	out := Render(req, "")

	// The envelope always carries a user turn as the current message.
	require.NotNil(t, out.ConversationState.CurrentMessage.UserInputMessage)
	require.Len(t, out.ConversationState.History, 2)
}

func TestRender_EmptyConversation(t *testing.T) {
	out := Render(&Request{Model: "m1"}, "")

	require.NotNil(t, out.ConversationState.CurrentMessage.UserInputMessage)
	assert.Empty(t, out.ConversationState.History)
}
