package relay

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"

	ContentTypeText       = "text"
	ContentTypeImage      = "image"
	ContentTypeImageURL   = "image_url"
	ContentTypeToolUse    = "tool_use"
	ContentTypeToolResult = "tool_result"

	ImageSourceBase64 = "base64"
	ImageSourceURL    = "url"

	DefaultMaxTokens = 4096
)

// Request is the canonical internal form every inbound request is translated
// into before it is rendered for the upstream service.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []Tool
	Temperature *float64
	MaxTokens   int
	Stream      bool
}

// Message is a role-tagged canonical message. Content holds plain text when
// the inbound message carried a bare string; Parts holds the ordered typed
// content blocks otherwise. Exactly one of the two is populated.
type Message struct {
	Role    string
	Content string
	Parts   []ContentPart
}

// ContentPart is one typed block of a multimodal message.
type ContentPart struct {
	Type string

	// Text is set for text parts.
	Text string

	// Image is set for image parts.
	Image *ImageSource

	// ToolUseID and ToolContent are set for tool_result parts.
	ToolUseID   string
	ToolContent any
}

// ImageSource describes where an image part's bytes come from.
type ImageSource struct {
	Kind      string // base64 or url
	MediaType string // base64 only, e.g. image/png
	Data      string // base64 payload
	URL       string // url only
}

// Tool is a canonical tool definition.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCall is a fully reconstructed tool invocation from a completed
// response.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// Usage carries upstream token accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
