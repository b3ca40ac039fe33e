package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DoneFrame terminates every OpenAI-format stream.
var DoneFrame = []byte("data: [DONE]\n\n")

// OpenAIReframer turns the canonical upstream event sequence for one request
// into OpenAI chat.completion.chunk SSE frames. Partial tool-input JSON is
// buffered and only emitted once a block closes with the full input; the
// chunk format has no representation for incomplete argument strings.
type OpenAIReframer struct {
	id      string
	model   string
	created int64

	stopReason string
	finished   bool

	// block index -> position in the outbound tool_calls array, assigned in
	// order of first appearance
	toolIndex map[int]int
}

func NewOpenAIReframer() *OpenAIReframer {
	return &OpenAIReframer{
		id:        "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24],
		created:   time.Now().Unix(),
		toolIndex: map[int]int{},
	}
}

// Frame converts one event into zero or more SSE frames, already prefixed
// with "data: " and terminated with a blank line.
func (r *OpenAIReframer) Frame(ev Event) ([]byte, error) {
	switch ev.Kind {
	case EventMessageStart:
		if ev.Model != "" {
			r.model = ev.Model
		}
		if ev.MessageID != "" {
			r.id = ev.MessageID
		}
		if !ev.Created.IsZero() {
			r.created = ev.Created.Unix()
		}
		return r.frame(ChunkDelta{Role: RoleAssistant, Content: strPtr("")}, nil)

	case EventContentBlockStart:
		if ev.Block == nil || ev.Block.Type != ContentTypeToolUse {
			return nil, nil
		}
		idx := r.assignToolIndex(ev.Index)
		return r.frame(ChunkDelta{ToolCalls: []ChunkToolCall{{
			Index:    idx,
			ID:       ev.Block.ToolID,
			Type:     "function",
			Function: &ChunkFunction{Name: ev.Block.ToolName, Arguments: ""},
		}}}, nil)

	case EventContentBlockDelta:
		if ev.Delta == nil {
			return nil, fmt.Errorf("content_block_delta without delta payload")
		}
		if ev.Delta.IsToolInput {
			// Buffered upstream; the full input arrives with the block stop.
			return nil, nil
		}
		return r.frame(ChunkDelta{Content: strPtr(ev.Delta.Text)}, nil)

	case EventContentBlockStop:
		if ev.Block == nil || ev.Block.Type != ContentTypeToolUse {
			return nil, nil
		}
		args := "{}"
		if ev.Block.Input != nil {
			if b, err := json.Marshal(ev.Block.Input); err == nil {
				args = string(b)
			}
		}
		idx := r.assignToolIndex(ev.Index)
		return r.frame(ChunkDelta{ToolCalls: []ChunkToolCall{{
			Index:    idx,
			Function: &ChunkFunction{Arguments: args},
		}}}, nil)

	case EventMessageDelta:
		if ev.StopReason != "" {
			r.stopReason = ev.StopReason
		}
		return nil, nil

	case EventMessageStop:
		if ev.StopReason != "" {
			r.stopReason = ev.StopReason
		}
		return r.finish()

	default:
		return nil, fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

// Finish flushes the terminal frames for a stream that ended without a
// message_stop. It is a no-op once the stream has already finished.
func (r *OpenAIReframer) Finish() []byte {
	if r.finished {
		return nil
	}
	out, _ := r.finish()
	return out
}

func (r *OpenAIReframer) finish() ([]byte, error) {
	r.finished = true
	reason := MapStopReason(r.stopReason)
	frames, err := r.frame(ChunkDelta{}, &reason)
	if err != nil {
		return nil, err
	}
	return append(frames, DoneFrame...), nil
}

func (r *OpenAIReframer) assignToolIndex(blockIndex int) int {
	if idx, ok := r.toolIndex[blockIndex]; ok {
		return idx
	}
	idx := len(r.toolIndex)
	r.toolIndex[blockIndex] = idx
	return idx
}

func (r *OpenAIReframer) frame(delta ChunkDelta, finish *string) ([]byte, error) {
	chunk := ChatCompletionChunk{
		ID:      r.id,
		Object:  "chat.completion.chunk",
		Created: r.created,
		Model:   r.model,
		Choices: []ChunkChoice{{Delta: delta, FinishReason: finish}},
	}

	data, err := json.Marshal(chunk)
	if err != nil {
		return nil, fmt.Errorf("marshal chunk: %w", err)
	}
	return []byte("data: " + string(data) + "\n\n"), nil
}

// ClaudeReframer re-serializes canonical events as Claude SSE frames without
// reinterpretation.
type ClaudeReframer struct{}

func NewClaudeReframer() *ClaudeReframer { return &ClaudeReframer{} }

func (r *ClaudeReframer) Frame(ev Event) ([]byte, error) {
	payload, err := claudeEventPayload(ev)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Kind, err)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Kind, data)), nil
}

func claudeEventPayload(ev Event) (map[string]any, error) {
	switch ev.Kind {
	case EventMessageStart:
		return map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":          ev.MessageID,
				"type":        "message",
				"role":        RoleAssistant,
				"model":       ev.Model,
				"content":     []any{},
				"stop_reason": nil,
				"usage":       map[string]any{"input_tokens": 0, "output_tokens": 0},
			},
		}, nil

	case EventContentBlockStart:
		block := map[string]any{"type": ContentTypeText, "text": ""}
		if ev.Block != nil && ev.Block.Type == ContentTypeToolUse {
			block = map[string]any{
				"type":  ContentTypeToolUse,
				"id":    ev.Block.ToolID,
				"name":  ev.Block.ToolName,
				"input": map[string]any{},
			}
		}
		return map[string]any{
			"type":          "content_block_start",
			"index":         ev.Index,
			"content_block": block,
		}, nil

	case EventContentBlockDelta:
		if ev.Delta == nil {
			return nil, fmt.Errorf("content_block_delta without delta payload")
		}
		delta := map[string]any{"type": "text_delta", "text": ev.Delta.Text}
		if ev.Delta.IsToolInput {
			delta = map[string]any{"type": "input_json_delta", "partial_json": ev.Delta.PartialJSON}
		}
		return map[string]any{
			"type":  "content_block_delta",
			"index": ev.Index,
			"delta": delta,
		}, nil

	case EventContentBlockStop:
		return map[string]any{
			"type":  "content_block_stop",
			"index": ev.Index,
		}, nil

	case EventMessageDelta:
		payload := map[string]any{
			"type": "message_delta",
			"delta": map[string]any{
				"stop_reason":   orNil(ev.StopReason),
				"stop_sequence": nil,
			},
		}
		if ev.Usage != nil {
			payload["usage"] = map[string]any{
				"input_tokens":  ev.Usage.InputTokens,
				"output_tokens": ev.Usage.OutputTokens,
			}
		}
		return payload, nil

	case EventMessageStop:
		return map[string]any{"type": "message_stop"}, nil

	default:
		return nil, fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

func orNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func strPtr(s string) *string { return &s }
