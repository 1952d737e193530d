package types

// Role identifies the author of an LLM wire message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in the message list sent to an LLM provider.
type Message struct {
	// Metadata holds optional additional information about the message.
	Metadata map[string]interface{}

	// Role indicates who authored the message.
	Role Role

	// Content is the message text.
	Content string
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) *Message {
	return &Message{
		Role:     RoleSystem,
		Content:  content,
		Metadata: make(map[string]interface{}),
	}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) *Message {
	return &Message{
		Role:     RoleUser,
		Content:  content,
		Metadata: make(map[string]interface{}),
	}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) *Message {
	return &Message{
		Role:     RoleAssistant,
		Content:  content,
		Metadata: make(map[string]interface{}),
	}
}

// WithMetadata sets a metadata key on the message and returns it for
// chaining.
func (m *Message) WithMetadata(key string, value interface{}) *Message {
	if m.Metadata == nil {
		m.Metadata = make(map[string]interface{})
	}
	m.Metadata[key] = value
	return m
}

// ToolCall describes a tool invocation requested by the model.
type ToolCall struct {
	// Name is the tool being invoked.
	Name string

	// Arguments is the raw argument payload, typically JSON.
	Arguments string
}
