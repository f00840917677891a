package chat

import "tribechat/internal/utils"

var (
	ErrNotInitialized = utils.NewChatError("chat not initialized")
	ErrInvalidRoomKey = utils.NewChatError("invalid room key format")
	ErrRoomNotFound   = utils.NewChatError("room not known locally")
	ErrNoActiveRoom   = utils.NewChatError("no active room")
)
