package entity

import "errors"

var (
	ErrInvalidMessageID      = errors.New("invalid message id")
	ErrInvalidConversationID = errors.New("invalid conversation id")
	ErrInvalidSenderID       = errors.New("invalid sender id")
	ErrEmptyCredentialSecret = errors.New("empty credential secret")
)
