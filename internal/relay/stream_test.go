package relay

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseChunks splits concatenated "data: {...}\n\n" frames into decoded
// chunks, dropping the [DONE] sentinel.
func parseChunks(t *testing.T, frames []byte) []ChatCompletionChunk {
	t.Helper()

	var chunks []ChatCompletionChunk
	for _, line := range bytes.Split(frames, []byte("\n\n")) {
		if len(line) == 0 {
			continue
		}
		payload := bytes.TrimPrefix(line, []byte("data: "))
		if bytes.Equal(payload, []byte("[DONE]")) {
			continue
		}
		var c ChatCompletionChunk
		require.NoError(t, json.Unmarshal(payload, &c))
		chunks = append(chunks, c)
	}
	return chunks
}

func TestOpenAIReframer_TextStream(t *testing.T) {
	r := NewOpenAIReframer()
	var out []byte

	frame := func(ev Event) {
		t.Helper()
		b, err := r.Frame(ev)
		require.NoError(t, err)
		out = append(out, b...)
	}

	frame(Event{Kind: EventMessageStart, MessageID: "msg_1", Model: "m1"})
	frame(Event{Kind: EventContentBlockStart, Index: 0, Block: &BlockDescriptor{Type: ContentTypeText}})
	frame(Event{Kind: EventContentBlockDelta, Index: 0, Delta: &Delta{Text: "Hi"}})
	frame(Event{Kind: EventContentBlockDelta, Index: 0, Delta: &Delta{Text: " there"}})
	frame(Event{Kind: EventContentBlockStop, Index: 0, Block: &BlockDescriptor{Type: ContentTypeText}})
	frame(Event{Kind: EventMessageDelta, StopReason: StopEndTurn})
	frame(Event{Kind: EventMessageStop})

	assert.True(t, bytes.HasSuffix(out, DoneFrame))

	chunks := parseChunks(t, out)
	require.Len(t, chunks, 4)

	// Role announcement first.
	assert.Equal(t, RoleAssistant, chunks[0].Choices[0].Delta.Role)
	assert.Equal(t, "msg_1", chunks[0].ID)
	assert.Equal(t, "m1", chunks[0].Model)

	assert.Equal(t, "Hi", *chunks[1].Choices[0].Delta.Content)
	assert.Equal(t, " there", *chunks[2].Choices[0].Delta.Content)

	require.NotNil(t, chunks[3].Choices[0].FinishReason)
	assert.Equal(t, FinishStop, *chunks[3].Choices[0].FinishReason)
}

func TestOpenAIReframer_ToolCall(t *testing.T) {
	r := NewOpenAIReframer()

	b, err := r.Frame(Event{Kind: EventMessageStart, Model: "m1"})
	require.NoError(t, err)
	require.NotEmpty(t, b)

	open, err := r.Frame(Event{Kind: EventContentBlockStart, Index: 1, Block: &BlockDescriptor{
		Type:     ContentTypeToolUse,
		ToolID:   "toolu_1",
		ToolName: "get_weather",
	}})
	require.NoError(t, err)

	chunks := parseChunks(t, open)
	require.Len(t, chunks, 1)
	call := chunks[0].Choices[0].Delta.ToolCalls[0]
	assert.Equal(t, 0, call.Index)
	assert.Equal(t, "toolu_1", call.ID)
	assert.Equal(t, "get_weather", call.Function.Name)
	assert.Empty(t, call.Function.Arguments)

	// Partial input fragments are buffered, not emitted.
	quiet, err := r.Frame(Event{Kind: EventContentBlockDelta, Index: 1, Delta: &Delta{
		IsToolInput: true, PartialJSON: `{"city":`,
	}})
	require.NoError(t, err)
	assert.Empty(t, quiet)

	closeFrames, err := r.Frame(Event{Kind: EventContentBlockStop, Index: 1, Block: &BlockDescriptor{
		Type:  ContentTypeToolUse,
		Input: map[string]any{"city": "Oslo"},
	}})
	require.NoError(t, err)

	chunks = parseChunks(t, closeFrames)
	require.Len(t, chunks, 1)
	call = chunks[0].Choices[0].Delta.ToolCalls[0]
	assert.Equal(t, 0, call.Index)
	assert.JSONEq(t, `{"city":"Oslo"}`, call.Function.Arguments)
}

func TestOpenAIReframer_StopReasonMapping(t *testing.T) {
	tests := []struct {
		upstream string
		finish   string
	}{
		{StopEndTurn, FinishStop},
		{StopStopSequence, FinishStop},
		{StopMaxTokens, FinishLength},
		{StopToolUse, FinishToolCalls},
		{"something_new", FinishStop},
	}

	for _, tt := range tests {
		t.Run(tt.upstream, func(t *testing.T) {
			r := NewOpenAIReframer()
			out, err := r.Frame(Event{Kind: EventMessageStop, StopReason: tt.upstream})
			require.NoError(t, err)

			chunks := parseChunks(t, out)
			require.Len(t, chunks, 1)
			assert.Equal(t, tt.finish, *chunks[0].Choices[0].FinishReason)
		})
	}
}

func TestOpenAIReframer_FinishAfterTruncation(t *testing.T) {
	r := NewOpenAIReframer()

	_, err := r.Frame(Event{Kind: EventMessageStart, Model: "m1"})
	require.NoError(t, err)

	out := r.Finish()
	require.NotEmpty(t, out)
	assert.True(t, bytes.HasSuffix(out, DoneFrame))

	chunks := parseChunks(t, out)
	require.Len(t, chunks, 1)
	assert.Equal(t, FinishStop, *chunks[0].Choices[0].FinishReason)

	// Idempotent after the stream has terminated.
	assert.Empty(t, r.Finish())
}

func TestClaudeReframer_Passthrough(t *testing.T) {
	r := NewClaudeReframer()

	out, err := r.Frame(Event{Kind: EventMessageStart, MessageID: "msg_1", Model: "m1"})
	require.NoError(t, err)

	text := string(out)
	assert.True(t, strings.HasPrefix(text, "event: message_start\ndata: "))
	assert.True(t, strings.HasSuffix(text, "\n\n"))

	payload := strings.TrimSuffix(strings.TrimPrefix(text, "event: message_start\ndata: "), "\n\n")
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &decoded))
	assert.Equal(t, "message_start", decoded["type"])

	out, err = r.Frame(Event{Kind: EventContentBlockDelta, Index: 0, Delta: &Delta{Text: "Hi"}})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"text_delta"`)
	assert.Contains(t, string(out), `"Hi"`)

	out, err = r.Frame(Event{Kind: EventMessageStop})
	require.NoError(t, err)
	assert.Contains(t, string(out), "event: message_stop")
}

func TestClaudeReframer_ToolInputDelta(t *testing.T) {
	r := NewClaudeReframer()

	out, err := r.Frame(Event{Kind: EventContentBlockDelta, Index: 1, Delta: &Delta{
		IsToolInput: true, PartialJSON: `{"city":`,
	}})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"input_json_delta"`)
	assert.Contains(t, string(out), `{\"city\":`)
}
