package app

import "errors"

var (
	ErrChatNotFound         = errors.New("chat not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotParticipant       = errors.New("not a participant of this chat")
	ErrGroupOnly            = errors.New("operation applies to group chats only")
	ErrAdminOnly            = errors.New("operation requires chat admin")
	ErrCreatorRemoval       = errors.New("the chat creator cannot be removed")
	ErrParticipantsRequired = errors.New("participants are required")
	ErrDirectChatSize       = errors.New("a direct chat has exactly two participants")
	ErrContentRequired      = errors.New("message content is required")
	ErrGroupNameRequired    = errors.New("group name is required")
)
