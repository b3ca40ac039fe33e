package relay

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// dataURLPattern is anchored on purpose: anything that is not exactly
// data:<mime>;base64,<payload> is rejected rather than partially recovered.
var dataURLPattern = regexp.MustCompile(`^data:([a-zA-Z0-9][a-zA-Z0-9!#$&^_.+-]*/[a-zA-Z0-9][a-zA-Z0-9!#$&^_.+-]*);base64,(.+)$`)

// FromOpenAI translates an OpenAI-shape request body into the canonical form.
// The first system message becomes the canonical system prompt, tool-role
// messages become user-role tool_result parts, and image_url parts are split
// into base64 or url image sources.
func FromOpenAI(body []byte) (*Request, error) {
	var in OpenAIRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("parse openai request: %w", err)
	}

	req := &Request{
		Model:       in.Model,
		Temperature: in.Temperature,
		MaxTokens:   DefaultMaxTokens,
	}
	if in.MaxTokens != nil {
		req.MaxTokens = *in.MaxTokens
	}
	if in.Stream != nil {
		req.Stream = *in.Stream
	}

	for _, m := range in.Messages {
		switch m.Role {
		case RoleSystem:
			if req.System == "" {
				req.System = rawToText(m.Content)
			}
		case RoleTool:
			req.Messages = append(req.Messages, Message{
				Role: RoleUser,
				Parts: []ContentPart{{
					Type:        ContentTypeToolResult,
					ToolUseID:   m.ToolCallID,
					ToolContent: rawToText(m.Content),
				}},
			})
		default:
			msg, err := openAIMessage(m)
			if err != nil {
				return nil, err
			}
			req.Messages = append(req.Messages, msg)
		}
	}

	for _, t := range in.Tools {
		if t.Type != "" && t.Type != "function" {
			continue
		}
		req.Tools = append(req.Tools, Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	return req, nil
}

func openAIMessage(m OpenAIMessage) (Message, error) {
	msg := Message{Role: m.Role}

	// Assistant turns that only carry tool_calls omit content, or send null.
	if len(m.Content) > 0 && string(m.Content) != "null" {
		var text string
		if err := json.Unmarshal(m.Content, &text); err == nil {
			msg.Content = text
		} else if err := openAIParts(m, &msg); err != nil {
			return msg, err
		}
	}

	if len(m.ToolCalls) > 0 {
		if msg.Content != "" {
			msg.Parts = append(msg.Parts, ContentPart{Type: ContentTypeText, Text: msg.Content})
			msg.Content = ""
		}
		for _, tc := range m.ToolCalls {
			input := map[string]any{}
			if tc.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
					return msg, fmt.Errorf("parse tool call %s arguments: %w", tc.ID, err)
				}
			}
			msg.Parts = append(msg.Parts, ContentPart{
				Type:      ContentTypeToolUse,
				ToolUseID: tc.ID,
				ToolContent: map[string]any{
					"name":  tc.Function.Name,
					"input": input,
				},
			})
		}
	}

	return msg, nil
}

func openAIParts(m OpenAIMessage, msg *Message) error {
	var parts []OpenAIContentPart
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return fmt.Errorf("parse %s message content: %w", m.Role, err)
	}

	for _, p := range parts {
		switch p.Type {
		case ContentTypeText:
			msg.Parts = append(msg.Parts, ContentPart{Type: ContentTypeText, Text: p.Text})
		case ContentTypeImageURL:
			if p.ImageURL == nil {
				return fmt.Errorf("image_url part without url")
			}
			src, err := parseImageURL(p.ImageURL.URL)
			if err != nil {
				return err
			}
			msg.Parts = append(msg.Parts, ContentPart{Type: ContentTypeImage, Image: src})
		default:
			return fmt.Errorf("unsupported content part type %q", p.Type)
		}
	}

	return nil
}

func parseImageURL(url string) (*ImageSource, error) {
	if strings.HasPrefix(url, "data:") {
		m := dataURLPattern.FindStringSubmatch(url)
		if m == nil {
			return nil, fmt.Errorf("malformed data url")
		}
		return &ImageSource{Kind: ImageSourceBase64, MediaType: m[1], Data: m[2]}, nil
	}
	return &ImageSource{Kind: ImageSourceURL, URL: url}, nil
}

// FromClaude translates a Claude-shape request body into the canonical form.
// Content and tools pass through structurally unchanged.
func FromClaude(body []byte) (*Request, error) {
	var in ClaudeRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("parse claude request: %w", err)
	}

	req := &Request{
		Model:       in.Model,
		System:      rawToText(in.System),
		Temperature: in.Temperature,
		MaxTokens:   in.MaxTokens,
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = DefaultMaxTokens
	}
	if in.Stream != nil {
		req.Stream = *in.Stream
	}

	for _, m := range in.Messages {
		msg, err := claudeMessage(m)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, msg)
	}

	for _, t := range in.Tools {
		req.Tools = append(req.Tools, Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	return req, nil
}

func claudeMessage(m ClaudeMessage) (Message, error) {
	msg := Message{Role: m.Role}

	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		msg.Content = text
		return msg, nil
	}

	var parts []ClaudeContentPart
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return msg, fmt.Errorf("parse %s message content: %w", m.Role, err)
	}

	for _, p := range parts {
		switch p.Type {
		case ContentTypeText:
			msg.Parts = append(msg.Parts, ContentPart{Type: ContentTypeText, Text: p.Text})
		case ContentTypeImage:
			if p.Source == nil {
				return msg, fmt.Errorf("image part without source")
			}
			msg.Parts = append(msg.Parts, ContentPart{Type: ContentTypeImage, Image: &ImageSource{
				Kind:      p.Source.Type,
				MediaType: p.Source.MediaType,
				Data:      p.Source.Data,
				URL:       p.Source.URL,
			}})
		case ContentTypeToolResult:
			msg.Parts = append(msg.Parts, ContentPart{
				Type:        ContentTypeToolResult,
				ToolUseID:   p.ToolUseID,
				ToolContent: p.Content,
			})
		case ContentTypeToolUse:
			msg.Parts = append(msg.Parts, ContentPart{
				Type:      ContentTypeToolUse,
				ToolUseID: p.ID,
				ToolContent: map[string]any{
					"name":  p.Name,
					"input": p.Input,
				},
			})
		default:
			return msg, fmt.Errorf("unsupported content part type %q", p.Type)
		}
	}

	return msg, nil
}

// rawToText pulls a plain string out of a raw content field. System prompts
// may arrive as either a string or a list of text parts.
func rawToText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			b.WriteString(p.Text)
		}
		return b.String()
	}

	return ""
}
