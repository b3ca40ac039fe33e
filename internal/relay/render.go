package relay

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Upstream wire shapes. The service speaks a conversation-state envelope: the
// last user turn is the current message, every earlier turn lands in history.

type UpstreamRequest struct {
	ConversationState ConversationState `json:"conversationState"`
	ProfileARN        string            `json:"profileArn,omitempty"`
}

type ConversationState struct {
	ChatTriggerType string         `json:"chatTriggerType"`
	ConversationID  string         `json:"conversationId"`
	CurrentMessage  UpstreamTurn   `json:"currentMessage"`
	History         []UpstreamTurn `json:"history,omitempty"`
}

type UpstreamTurn struct {
	UserInputMessage         *UserInputMessage         `json:"userInputMessage,omitempty"`
	AssistantResponseMessage *AssistantResponseMessage `json:"assistantResponseMessage,omitempty"`
}

type UserInputMessage struct {
	Content string            `json:"content"`
	ModelID string            `json:"modelId,omitempty"`
	Origin  string            `json:"origin,omitempty"`
	Images  []UpstreamImage   `json:"images,omitempty"`
	Context *UserInputContext `json:"userInputMessageContext,omitempty"`
}

type UserInputContext struct {
	Tools       []UpstreamTool       `json:"tools,omitempty"`
	ToolResults []UpstreamToolResult `json:"toolResults,omitempty"`
}

type AssistantResponseMessage struct {
	Content  string            `json:"content"`
	ToolUses []UpstreamToolUse `json:"toolUses,omitempty"`
}

type UpstreamTool struct {
	ToolSpecification ToolSpecification `json:"toolSpecification"`
}

type ToolSpecification struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

type UpstreamToolResult struct {
	ToolUseID string               `json:"toolUseId"`
	Status    string               `json:"status"`
	Content   []UpstreamToolOutput `json:"content"`
}

type UpstreamToolOutput struct {
	Text string `json:"text,omitempty"`
	JSON any    `json:"json,omitempty"`
}

type UpstreamToolUse struct {
	ToolUseID string         `json:"toolUseId"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input,omitempty"`
}

type UpstreamImage struct {
	Format string              `json:"format"`
	Source UpstreamImageSource `json:"source"`
}

type UpstreamImageSource struct {
	Bytes string `json:"bytes,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Render embeds a canonical request into the upstream envelope. The system
// prompt is folded into the first user content; the final user message is the
// current turn and the rest become history.
func Render(req *Request, profileARN string) *UpstreamRequest {
	out := &UpstreamRequest{
		ConversationState: ConversationState{
			ChatTriggerType: "MANUAL",
			ConversationID:  uuid.NewString(),
		},
		ProfileARN: profileARN,
	}

	turns := make([]UpstreamTurn, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			turns = append(turns, assistantTurn(m))
		default:
			turns = append(turns, userTurn(m, req))
		}
	}

	if len(turns) == 0 {
		turns = append(turns, UpstreamTurn{UserInputMessage: &UserInputMessage{ModelID: req.Model}})
	}

	current := turns[len(turns)-1]
	if current.UserInputMessage == nil {
		// The sequence ended on an assistant turn; synthesize an empty user
		// turn so the envelope stays well-formed.
		turns = append(turns, UpstreamTurn{UserInputMessage: &UserInputMessage{ModelID: req.Model}})
		current = turns[len(turns)-1]
	}

	if req.System != "" {
		current.UserInputMessage.Content = joinPrompt(req.System, current.UserInputMessage.Content)
	}
	if len(req.Tools) > 0 {
		if current.UserInputMessage.Context == nil {
			current.UserInputMessage.Context = &UserInputContext{}
		}
		for _, t := range req.Tools {
			current.UserInputMessage.Context.Tools = append(current.UserInputMessage.Context.Tools, UpstreamTool{
				ToolSpecification: ToolSpecification{
					Name:        t.Name,
					Description: t.Description,
					InputSchema: t.InputSchema,
				},
			})
		}
	}

	out.ConversationState.CurrentMessage = current
	out.ConversationState.History = normalizeHistory(turns[:len(turns)-1])

	return out
}

func userTurn(m Message, req *Request) UpstreamTurn {
	in := &UserInputMessage{ModelID: req.Model}

	if m.Content != "" {
		in.Content = m.Content
	}

	var texts []string
	for _, p := range m.Parts {
		switch p.Type {
		case ContentTypeText:
			texts = append(texts, p.Text)
		case ContentTypeImage:
			if p.Image == nil {
				continue
			}
			img := UpstreamImage{Format: imageFormat(p.Image.MediaType)}
			if p.Image.Kind == ImageSourceBase64 {
				img.Source.Bytes = p.Image.Data
			} else {
				img.Source.URL = p.Image.URL
			}
			in.Images = append(in.Images, img)
		case ContentTypeToolResult:
			if in.Context == nil {
				in.Context = &UserInputContext{}
			}
			in.Context.ToolResults = append(in.Context.ToolResults, UpstreamToolResult{
				ToolUseID: p.ToolUseID,
				Status:    "success",
				Content:   []UpstreamToolOutput{toolOutput(p.ToolContent)},
			})
		}
	}
	if len(texts) > 0 {
		in.Content = joinPrompt(in.Content, strings.Join(texts, "\n"))
	}

	return UpstreamTurn{UserInputMessage: in}
}

func assistantTurn(m Message) UpstreamTurn {
	out := &AssistantResponseMessage{Content: m.Content}

	for _, p := range m.Parts {
		switch p.Type {
		case ContentTypeText:
			out.Content = joinPrompt(out.Content, p.Text)
		case ContentTypeToolUse:
			use := UpstreamToolUse{ToolUseID: p.ToolUseID}
			if meta, ok := p.ToolContent.(map[string]any); ok {
				use.Name, _ = meta["name"].(string)
				use.Input, _ = meta["input"].(map[string]any)
			}
			out.ToolUses = append(out.ToolUses, use)
		}
	}

	return UpstreamTurn{AssistantResponseMessage: out}
}

// normalizeHistory drops dangling turns so history alternates user/assistant
// pairs, which the upstream requires.
func normalizeHistory(turns []UpstreamTurn) []UpstreamTurn {
	var history []UpstreamTurn
	for i := 0; i+1 < len(turns); i += 2 {
		if turns[i].UserInputMessage == nil || turns[i+1].AssistantResponseMessage == nil {
			continue
		}
		history = append(history, turns[i], turns[i+1])
	}
	return history
}

func toolOutput(content any) UpstreamToolOutput {
	switch v := content.(type) {
	case nil:
		return UpstreamToolOutput{Text: ""}
	case string:
		return UpstreamToolOutput{Text: v}
	default:
		if b, err := json.Marshal(v); err == nil {
			return UpstreamToolOutput{JSON: json.RawMessage(b)}
		}
		return UpstreamToolOutput{}
	}
}

func imageFormat(mediaType string) string {
	if i := strings.IndexByte(mediaType, '/'); i >= 0 {
		return mediaType[i+1:]
	}
	return "png"
}

func joinPrompt(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n\n" + b
	}
}
