package crypto

import "tribechat/internal/utils"

var (
	ErrEncryptionFailed = utils.NewChatError("encryption failed")
	ErrDecryptionFailed = utils.NewChatError("decryption failed")
	ErrBadKey           = utils.NewChatError("invalid key provided")
)
