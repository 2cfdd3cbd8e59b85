package domain

// ChatRef identifies the chat an incoming message arrived in and the message
// replies should be threaded under.
type ChatRef struct {
	ChatID    int64
	MessageID int
	SenderID  int64
}

// IncomingMessage is one text event received from the chat transport.
type IncomingMessage struct {
	Text string
	Chat ChatRef
}

// MessageHandle points at a message the relay itself sent, so it can be
// deleted later.
type MessageHandle struct {
	ChatID    int64
	MessageID int
}

// IsZero reports whether the handle refers to no message.
func (h MessageHandle) IsZero() bool { return h.MessageID == 0 }

// TextFormat selects how the transport interprets outgoing text.
type TextFormat string

const (
	FormatPlain    TextFormat = ""
	FormatMarkdown TextFormat = "Markdown"
)
