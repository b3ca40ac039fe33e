package upstream

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mstefan21/qrelay/internal/relay"
)

// MalformedEventError marks a single event the decoder could not interpret.
// Callers skip it unless it is the very first event of the stream.
type MalformedEventError struct {
	Line string
	Err  error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed upstream event: %v", e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// errSkipEvent marks well-formed events the relay has no use for, such as
// keepalive pings. Next drops them without surfacing an error.
var errSkipEvent = errors.New("skip event")

// Decoder turns the upstream's SSE byte stream into the canonical event
// sequence. It reconstructs tool inputs: input_json_delta fragments are
// accumulated per block index and the assembled object travels on the
// block's stop event.
type Decoder struct {
	scanner *bufio.Scanner

	eventType string
	blocks    map[int]*blockState
}

type blockState struct {
	typ      string
	toolID   string
	toolName string
	partial  strings.Builder
}

func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	return &Decoder{scanner: sc, blocks: map[int]*blockState{}}
}

// Next returns the next canonical event. It returns io.EOF at the end of the
// stream, a *MalformedEventError for a single uninterpretable event, and any
// other error for a broken underlying stream.
func (d *Decoder) Next() (relay.Event, error) {
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())

		switch {
		case line == "" || strings.HasPrefix(line, ":"):
			continue
		case strings.HasPrefix(line, "event:"):
			d.eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return relay.Event{}, io.EOF
			}
			ev, err := d.decode(data)
			if errors.Is(err, errSkipEvent) {
				continue
			}
			if err != nil {
				return relay.Event{}, &MalformedEventError{Line: line, Err: err}
			}
			return ev, nil
		default:
			continue
		}
	}

	if err := d.scanner.Err(); err != nil {
		return relay.Event{}, &relay.UpstreamError{Err: err}
	}
	return relay.Event{}, io.EOF
}

type wireEvent struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message *struct {
		ID    string `json:"id"`
		Model string `json:"model"`
	} `json:"message"`
	ContentBlock *struct {
		Type  string         `json:"type"`
		Text  string         `json:"text"`
		ID    string         `json:"id"`
		Name  string         `json:"name"`
		Input map[string]any `json:"input"`
	} `json:"content_block"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	StopReason string `json:"stop_reason"`
}

func (d *Decoder) decode(data string) (relay.Event, error) {
	var w wireEvent
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return relay.Event{}, err
	}

	typ := w.Type
	if typ == "" {
		typ = d.eventType
	}

	switch relay.EventKind(typ) {
	case relay.EventMessageStart:
		ev := relay.Event{Kind: relay.EventMessageStart, Created: time.Now()}
		if w.Message != nil {
			ev.MessageID = w.Message.ID
			ev.Model = w.Message.Model
		}
		return ev, nil

	case relay.EventContentBlockStart:
		if w.ContentBlock == nil {
			return relay.Event{}, fmt.Errorf("content_block_start without content_block")
		}
		bs := &blockState{typ: w.ContentBlock.Type, toolID: w.ContentBlock.ID, toolName: w.ContentBlock.Name}
		d.blocks[w.Index] = bs
		return relay.Event{
			Kind:  relay.EventContentBlockStart,
			Index: w.Index,
			Block: &relay.BlockDescriptor{
				Type:     w.ContentBlock.Type,
				Text:     w.ContentBlock.Text,
				ToolID:   w.ContentBlock.ID,
				ToolName: w.ContentBlock.Name,
			},
		}, nil

	case relay.EventContentBlockDelta:
		if w.Delta == nil {
			return relay.Event{}, fmt.Errorf("content_block_delta without delta")
		}
		ev := relay.Event{Kind: relay.EventContentBlockDelta, Index: w.Index}
		switch w.Delta.Type {
		case "input_json_delta":
			ev.Delta = &relay.Delta{IsToolInput: true, PartialJSON: w.Delta.PartialJSON}
			if bs, ok := d.blocks[w.Index]; ok {
				bs.partial.WriteString(w.Delta.PartialJSON)
			}
		case "text_delta", "":
			ev.Delta = &relay.Delta{Text: w.Delta.Text}
		default:
			return relay.Event{}, fmt.Errorf("unknown delta type %q", w.Delta.Type)
		}
		return ev, nil

	case relay.EventContentBlockStop:
		ev := relay.Event{Kind: relay.EventContentBlockStop, Index: w.Index}
		bs, ok := d.blocks[w.Index]
		if !ok {
			// Stop for a block that never started; pass it through as a bare
			// text block so indices stay aligned.
			ev.Block = &relay.BlockDescriptor{Type: relay.ContentTypeText}
			return ev, nil
		}
		desc := &relay.BlockDescriptor{Type: bs.typ, ToolID: bs.toolID, ToolName: bs.toolName}
		if bs.typ == relay.ContentTypeToolUse {
			desc.Input = map[string]any{}
			if raw := bs.partial.String(); raw != "" {
				if err := json.Unmarshal([]byte(raw), &desc.Input); err != nil {
					return relay.Event{}, fmt.Errorf("assemble tool input: %w", err)
				}
			}
		}
		ev.Block = desc
		return ev, nil

	case relay.EventMessageDelta:
		ev := relay.Event{Kind: relay.EventMessageDelta}
		if w.Delta != nil {
			ev.StopReason = w.Delta.StopReason
		}
		if w.Usage != nil {
			ev.Usage = &relay.Usage{InputTokens: w.Usage.InputTokens, OutputTokens: w.Usage.OutputTokens}
		}
		return ev, nil

	case relay.EventMessageStop:
		ev := relay.Event{Kind: relay.EventMessageStop, StopReason: w.StopReason}
		if w.Usage != nil {
			ev.Usage = &relay.Usage{InputTokens: w.Usage.InputTokens, OutputTokens: w.Usage.OutputTokens}
		}
		return ev, nil

	default:
		// Keepalives and other unrecognized-but-parseable kinds are dropped.
		return relay.Event{}, errSkipEvent
	}
}
