package relay

import "time"

// EventKind tags the variants of the canonical upstream event stream.
type EventKind string

const (
	EventMessageStart      EventKind = "message_start"
	EventContentBlockStart EventKind = "content_block_start"
	EventContentBlockDelta EventKind = "content_block_delta"
	EventContentBlockStop  EventKind = "content_block_stop"
	EventMessageDelta      EventKind = "message_delta"
	EventMessageStop       EventKind = "message_stop"
)

// Event is one canonical upstream event. Which payload fields are meaningful
// depends on Kind; the re-framer switches exhaustively on it.
type Event struct {
	Kind EventKind

	// message_start
	MessageID string
	Model     string
	Created   time.Time

	// content_block_start / content_block_stop
	Index int
	Block *BlockDescriptor

	// content_block_delta
	Delta *Delta

	// message_delta / message_stop
	StopReason string
	Usage      *Usage
}

// BlockDescriptor describes a content block: plain text, or a tool-use slot
// carrying its name and id. On content_block_stop the tool input is the fully
// reassembled object.
type BlockDescriptor struct {
	Type     string // text or tool_use
	Text     string
	ToolID   string
	ToolName string
	Input    map[string]any
}

// Delta is an incremental fragment within a content block: either text or a
// partial JSON slice of a tool's input.
type Delta struct {
	Text        string
	PartialJSON string
	IsToolInput bool
}

// Upstream stop reasons.
const (
	StopEndTurn      = "end_turn"
	StopMaxTokens    = "max_tokens"
	StopStopSequence = "stop_sequence"
	StopToolUse      = "tool_use"
)

// OpenAI finish reasons.
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishToolCalls = "tool_calls"
)

// MapStopReason converts an upstream stop reason to an OpenAI finish reason.
// Unrecognized values collapse to "stop".
func MapStopReason(reason string) string {
	switch reason {
	case StopEndTurn, StopStopSequence:
		return FinishStop
	case StopMaxTokens:
		return FinishLength
	case StopToolUse:
		return FinishToolCalls
	default:
		return FinishStop
	}
}
