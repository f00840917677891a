package storage

import "tribechat/internal/utils"

var (
	ErrNoRows        = utils.NewChatError("no rows in result set")
	ErrCannotConnect = utils.NewChatError("cannot connect to database")
	ErrQueueFull     = utils.NewChatError("message write queue full")
)
