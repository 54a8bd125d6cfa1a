package cache

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/cloudio/cloudio/internal/remote"
)

// DeriveKey 将 location 与 validator 映射为缓存文件名：sha256(location)，
// 若存在非空 validator 则追加 "." + sha256(validator)。
func DeriveKey(location string, validator remote.Validator) string {
	sum := sha256.Sum256([]byte(location))
	key := hex.EncodeToString(sum[:])

	if validator.Present() && validator.Value() != "" {
		vsum := sha256.Sum256([]byte(validator.Value()))
		key += "." + hex.EncodeToString(vsum[:])
	}
	return key
}
