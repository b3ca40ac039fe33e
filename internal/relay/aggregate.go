package relay

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Aggregator accumulates a complete canonical event sequence and builds one
// non-streaming response object. A sequence that ends without message_stop
// still yields a best-effort response with whatever was accumulated.
type Aggregator struct {
	id      string
	model   string
	created int64

	text       strings.Builder
	stopReason string
	usage      Usage

	// tool blocks keyed by block index, ordered by first appearance
	tools     map[int]*ToolCall
	toolOrder []int
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		id:      "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24],
		created: time.Now().Unix(),
		tools:   map[int]*ToolCall{},
	}
}

// Add consumes one event.
func (a *Aggregator) Add(ev Event) {
	switch ev.Kind {
	case EventMessageStart:
		if ev.Model != "" {
			a.model = ev.Model
		}
		if ev.MessageID != "" {
			a.id = ev.MessageID
		}
		if !ev.Created.IsZero() {
			a.created = ev.Created.Unix()
		}

	case EventContentBlockStart:
		if ev.Block != nil && ev.Block.Type == ContentTypeToolUse {
			a.tool(ev.Index).ID = ev.Block.ToolID
			a.tool(ev.Index).Name = ev.Block.ToolName
		}

	case EventContentBlockDelta:
		if ev.Delta != nil && !ev.Delta.IsToolInput {
			a.text.WriteString(ev.Delta.Text)
		}

	case EventContentBlockStop:
		if ev.Block != nil && ev.Block.Type == ContentTypeToolUse {
			tc := a.tool(ev.Index)
			if ev.Block.ToolID != "" {
				tc.ID = ev.Block.ToolID
			}
			if ev.Block.ToolName != "" {
				tc.Name = ev.Block.ToolName
			}
			tc.Input = ev.Block.Input
		}

	case EventMessageDelta, EventMessageStop:
		if ev.StopReason != "" {
			a.stopReason = ev.StopReason
		}
		if ev.Usage != nil {
			a.usage = *ev.Usage
		}
	}
}

func (a *Aggregator) tool(index int) *ToolCall {
	if tc, ok := a.tools[index]; ok {
		return tc
	}
	tc := &ToolCall{}
	a.tools[index] = tc
	a.toolOrder = append(a.toolOrder, index)
	return tc
}

// ToolCalls returns the reconstructed tool calls in order of first
// appearance.
func (a *Aggregator) ToolCalls() []ToolCall {
	calls := make([]ToolCall, 0, len(a.toolOrder))
	for _, idx := range a.toolOrder {
		calls = append(calls, *a.tools[idx])
	}
	return calls
}

// OpenAIResponse builds the aggregated chat.completion object. Text content
// and tool calls coexist when both are non-empty.
func (a *Aggregator) OpenAIResponse() *ChatCompletion {
	msg := CompletionMessage{Role: RoleAssistant}
	if text := a.text.String(); text != "" {
		msg.Content = &text
	}

	for _, tc := range a.ToolCalls() {
		args := "{}"
		if tc.Input != nil {
			if b, err := json.Marshal(tc.Input); err == nil {
				args = string(b)
			}
		}
		msg.ToolCalls = append(msg.ToolCalls, CompletionToolCall{
			ID:       tc.ID,
			Type:     "function",
			Function: StoredFunction{Name: tc.Name, Arguments: args},
		})
	}

	return &ChatCompletion{
		ID:      a.id,
		Object:  "chat.completion",
		Created: a.created,
		Model:   a.model,
		Choices: []CompletionChoice{{
			Message:      msg,
			FinishReason: MapStopReason(a.stopReason),
		}},
		Usage: CompletionUsage{
			PromptTokens:     a.usage.InputTokens,
			CompletionTokens: a.usage.OutputTokens,
			TotalTokens:      a.usage.InputTokens + a.usage.OutputTokens,
		},
	}
}

// ClaudeResponse builds the aggregated Claude message object.
func (a *Aggregator) ClaudeResponse() *ClaudeResponse {
	resp := &ClaudeResponse{
		ID:    a.id,
		Type:  "message",
		Role:  RoleAssistant,
		Model: a.model,
		Usage: &ClaudeUsage{
			InputTokens:  a.usage.InputTokens,
			OutputTokens: a.usage.OutputTokens,
		},
	}

	if a.stopReason != "" {
		resp.StopReason = a.stopReason
	} else {
		resp.StopReason = StopEndTurn
	}

	if text := a.text.String(); text != "" {
		resp.Content = append(resp.Content, ClaudeContentPart{Type: ContentTypeText, Text: text})
	}
	for _, tc := range a.ToolCalls() {
		input := tc.Input
		if input == nil {
			input = map[string]any{}
		}
		resp.Content = append(resp.Content, ClaudeContentPart{
			Type:  ContentTypeToolUse,
			ID:    tc.ID,
			Name:  tc.Name,
			Input: input,
		})
	}

	return resp
}

// Usage exposes the accumulated token counts.
func (a *Aggregator) Usage() Usage { return a.usage }

// Model exposes the model reported by the upstream message_start.
func (a *Aggregator) Model() string { return a.model }
