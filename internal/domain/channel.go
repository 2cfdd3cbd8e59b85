package domain

import "context"

// ChatAction is a transient status indicator shown in the chat.
type ChatAction string

const (
	ActionTyping      ChatAction = "typing"
	ActionUploadVideo ChatAction = "upload_video"
)

// ChatTransport is the subset of a chat session the relay drives.
type ChatTransport interface {
	SendText(ctx context.Context, chat ChatRef, text string, format TextFormat) (MessageHandle, error)
	DeleteMessage(ctx context.Context, msg MessageHandle) error
	SendVideo(ctx context.Context, chat ChatRef, video VideoUpload) error
	SendAction(ctx context.Context, chat ChatRef, action ChatAction) error
}

// MessageHandler receives the two subscriptions the relay exposes to the
// transport.
type MessageHandler interface {
	HandleText(ctx context.Context, msg IncomingMessage)
	HandleStart(ctx context.Context, msg IncomingMessage)
	HandleHelp(ctx context.Context, msg IncomingMessage)
}
