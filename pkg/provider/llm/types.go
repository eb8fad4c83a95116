package llm

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// ModelCapabilities describes the limits of one model.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input plus output.
	ContextWindow int

	MaxOutputTokens int

	// SupportsJSONMode reports whether the backend can be asked for a strict
	// JSON object. The RAG responder parses replies either way.
	SupportsJSONMode bool
}
