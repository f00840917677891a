package p2p

import "tribechat/internal/utils"

var (
	ErrNotInitialized  = utils.NewChatError("network manager not initialized")
	ErrNetworkFailure  = utils.NewChatError("network operation failed")
	ErrRootPeerTimeout = utils.NewChatError("timed out waiting for root peer")
	ErrRoomNotJoined   = utils.NewChatError("room not joined")
	ErrBadSeed         = utils.NewChatError("invalid identity seed")
)
