// Package model defines the LLM collaborator used by LLM-structured and tool
// nodes: a prompt goes in, a payload of a declared shape comes out.
package model

// Message is one entry of a conversation history.
//
// Typical history structure:
//   - System message (first): sets context and behavior
//   - User messages: the user's requests
//   - Assistant messages: generated answers
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Standard role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant returns an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }
