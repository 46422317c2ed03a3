// Package gateway carries inbound chat events into the bot and outbound
// messages back to the chat platform.
package gateway

import "context"

// InboundMessage is a plain chat message as seen by the orchestrator.
type InboundMessage struct {
	MessageID   string `json:"message_id"`
	ChannelID   string `json:"channel_id"`
	AuthorID    string `json:"author_id"`
	AuthorName  string `json:"author_name,omitempty"`
	Content     string `json:"content"`
	IsBot       bool   `json:"is_bot,omitempty"`
	MentionsBot bool   `json:"mentions_bot,omitempty"`
	// Identity optionally overrides the persona for this message, e.g. when
	// the platform integration carries a per-webhook persona.
	Identity string `json:"identity,omitempty"`
	// ReferencedContent holds the text of the message this one replies to,
	// empty when it is not a reply.
	ReferencedContent string `json:"referenced_content,omitempty"`
	ReferencedAuthor  string `json:"referenced_author,omitempty"`
}

// Interaction is a structured command invocation (slash command).
type Interaction struct {
	ID        string            `json:"id"`
	Token     string            `json:"token"`
	ChannelID string            `json:"channel_id"`
	UserID    string            `json:"user_id"`
	Command   string            `json:"command"`
	Options   map[string]string `json:"options,omitempty"`
}

// Replier posts plain messages into a channel.
type Replier interface {
	CreateMessage(ctx context.Context, channelID, content string) (messageID string, err error)
}

// StatusEditor rewrites an earlier message in place.
type StatusEditor interface {
	EditMessage(ctx context.Context, channelID, messageID, content string) error
}

// Uploader attaches a file to a channel message.
type Uploader interface {
	UploadFile(ctx context.Context, channelID, filename string, data []byte, content string) error
}
