package toolloop

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentKind tags the variant held by Content.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image"
)

// Image is an image attachment, either inline base64 data or a URL.
type Image struct {
	Data     string // base64, without the data: prefix
	URL      string
	MimeType string
}

// DataURL returns the URL form of the image. Inline data is rendered as a data: URL.
func (i Image) DataURL() string {
	if i.URL != "" {
		return i.URL
	}
	mime := i.MimeType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + i.Data
}

// Content is a single message attachment: text or image.
type Content struct {
	Kind  ContentKind
	Text  string
	Image *Image
}

// TextContent builds a text attachment.
func TextContent(text string) Content {
	return Content{Kind: ContentText, Text: text}
}

// ImageURL builds an image attachment referenced by URL.
func ImageURL(url, mimeType string) Content {
	return Content{Kind: ContentImage, Image: &Image{URL: url, MimeType: mimeType}}
}

// ImageBase64 builds an inline image attachment.
func ImageBase64(data, mimeType string) Content {
	return Content{Kind: ContentImage, Image: &Image{Data: data, MimeType: mimeType}}
}

// Message is one turn of a conversation. Treat it as immutable once built.
type Message struct {
	Role        Role
	Text        string
	Attachments []Content
}

func SystemMessage(text string) Message { return Message{Role: RoleSystem, Text: text} }
func UserMessage(text string, attachments ...Content) Message {
	return Message{Role: RoleUser, Text: text, Attachments: slices.Clone(attachments)}
}
func AssistantMessage(text string) Message { return Message{Role: RoleAssistant, Text: text} }

// BackendConfig carries the connection settings of the backend chosen for a request.
// The orchestration core never looks inside it.
type BackendConfig struct {
	Provider string
	Name     string
	Gateway  string // base URL
	APIKey   string
	Extra    map[string]string
}

// Request is a single model call. Derive modified copies with WithSystemPrompt and
// WithHistory; never mutate a request that has been handed to a Service.
type Request struct {
	RequestID    string
	Model        string
	SystemPrompt string
	History      []Message
	Backend      BackendConfig
	StartTime    time.Time
}

// NewRequest creates a request with a fresh id and start time.
func NewRequest(model string, history ...Message) Request {
	return Request{
		RequestID: uuid.NewString(),
		Model:     model,
		History:   slices.Clone(history),
		StartTime: time.Now(),
	}
}

// WithSystemPrompt returns a copy of r with the system prompt replaced.
func (r Request) WithSystemPrompt(prompt string) Request {
	r.SystemPrompt = prompt
	return r
}

// WithHistory returns a copy of r with msgs appended to a new history slice.
// The receiver's history is left untouched.
func (r Request) WithHistory(msgs ...Message) Request {
	h := make([]Message, 0, len(r.History)+len(msgs))
	h = append(h, r.History...)
	r.History = append(h, msgs...)
	return r
}

// Response is the outcome of a model call. Exactly one of three shapes:
// success (IsSuccess, Text), failure (!IsSuccess, ErrorMessage), or a streaming
// placeholder (Streaming) that is replaced once the stream completes.
type Response struct {
	RequestID    string
	Model        string
	IsSuccess    bool
	Text         string
	ErrorMessage string
	Streaming    bool
	StartTime    time.Time
	EndTime      time.Time
}

// SuccessResponse builds a terminal success for req.
func SuccessResponse(req Request, text string) Response {
	return Response{
		RequestID: req.RequestID,
		Model:     req.Model,
		IsSuccess: true,
		Text:      text,
		StartTime: req.StartTime,
		EndTime:   time.Now(),
	}
}

// FailureResponse builds a terminal failure for req.
func FailureResponse(req Request, message string) Response {
	return Response{
		RequestID:    req.RequestID,
		Model:        req.Model,
		ErrorMessage: message,
		StartTime:    req.StartTime,
		EndTime:      time.Now(),
	}
}

// StreamingResponse builds the placeholder held by a Stream until it completes.
func StreamingResponse(req Request) Response {
	return Response{
		RequestID: req.RequestID,
		Model:     req.Model,
		Streaming: true,
		StartTime: req.StartTime,
	}
}

// ParamType is the declared type of a tool parameter.
type ParamType string

const (
	String  ParamType = "string"
	Number  ParamType = "number"
	Boolean ParamType = "boolean"
	Object  ParamType = "object"
	Array   ParamType = "array"
)

// Valid reports whether t is one of the declared parameter types.
func (t ParamType) Valid() bool {
	switch t {
	case String, Number, Boolean, Object, Array:
		return true
	}
	return false
}

// ToolParameterSpec describes one tool parameter.
type ToolParameterSpec struct {
	Name        string
	Type        ParamType
	Required    bool
	Description string
	// Default is used when an optional parameter is omitted. Nil means no default.
	Default any
	// Enum restricts String parameters to the listed values.
	Enum []string
}

// ToolDefinition is the schema advertised to the model. Name is the registry key.
type ToolDefinition struct {
	Name        string
	Description string
	Category    string
	Parameters  []ToolParameterSpec
	Enabled     bool
}

// Invocation is one parsed tool call about to be dispatched.
type Invocation struct {
	InvocationID string
	ToolName     string
	Arguments    map[string]any
}

// NewInvocation creates an invocation with a generated id.
func NewInvocation(toolName string, args map[string]any) Invocation {
	if args == nil {
		args = map[string]any{}
	}
	return Invocation{InvocationID: uuid.NewString(), ToolName: toolName, Arguments: args}
}

// InvocationResult is the outcome of dispatching one Invocation.
// Err holds the underlying error for failures (for errors.Is); it is never sent to the model.
type InvocationResult struct {
	InvocationID string
	ToolName     string
	IsSuccess    bool
	Result       any
	ErrorMessage string
	Err          error
}
