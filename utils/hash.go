package utils

import (
	"crypto/sha256"
	"encoding/hex"

	"StatusBridge/config"
)

// HashPhone 把手机号加盐哈希后做限流 key，避免明文进入 Redis
func HashPhone(phone string) string {
	key := config.Cfg.PhoneHashSalt

	sum := sha256.Sum256([]byte(key + ":" + phone))

	return hex.EncodeToString(sum[:])
}
