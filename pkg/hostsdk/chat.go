package hostsdk

import (
	"context"
	"maps"

	"hostbridge/internal/domain"
)

const funcOpenChat = "chat.openChat"

var chatContexts = []FrameContext{ContextContent}

// SingleChatRequest opens a 1:1 chat with User, prefilled with Message.
// Extras are passed through to the host but never override members or message.
type SingleChatRequest struct {
	User    string
	Message string
	Extras  map[string]any
}

// GroupChatRequest opens a group chat with Users.
type GroupChatRequest struct {
	Users   []string
	Message string
	Topic   string
}

type groupChatArgs struct {
	Members []string `json:"members"`
	Message string   `json:"message,omitempty"`
	Topic   string   `json:"topic,omitempty"`
}

// Chat opens chats in the host. Every call is allowed only in the content context.
type Chat struct {
	c *Client
}

// OpenSingleChat asks the host to open a chat with one user.
func (ch *Chat) OpenSingleChat(ctx context.Context, req SingleChatRequest) error {
	if err := ch.c.state.EnsureAllowed(chatContexts...); err != nil {
		return err
	}
	if req.User == "" {
		return domain.NewSubSystemError("chat.single", "chat.OpenSingleChat", domain.ErrInvalidInput, "user is required")
	}
	if req.Message == "" {
		return domain.NewSubSystemError("chat.single", "chat.OpenSingleChat", domain.ErrInvalidInput, "message is required")
	}

	args := make(map[string]any, len(req.Extras)+2)
	maps.Copy(args, req.Extras)
	args["members"] = req.User
	args["message"] = req.Message

	_, err := ch.c.dispatch(ctx, funcOpenChat, args)
	return err
}

// OpenGroupChat asks the host to open a chat with several users. An empty
// user list is rejected before the session is consulted, so it is reported
// whatever the initialization state or frame context.
func (ch *Chat) OpenGroupChat(ctx context.Context, req GroupChatRequest) error {
	if len(req.Users) == 0 {
		return domain.NewSubSystemError("chat.group", "chat.OpenGroupChat", domain.ErrInvalidInput, "no users specified")
	}
	if err := ch.c.state.EnsureAllowed(chatContexts...); err != nil {
		return err
	}

	_, err := ch.c.dispatch(ctx, funcOpenChat, groupChatArgs{
		Members: req.Users,
		Message: req.Message,
		Topic:   req.Topic,
	})
	return err
}
