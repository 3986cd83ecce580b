package types

import (
	"crypto/sha256"
	"encoding/hex"
)

// TrustKey 返回一对身份的信任记录键
//
// 键仅由排序后的身份对决定，与发起方无关：
// TrustKey(a, b) == TrustKey(b, a)。
func TrustKey(a, b string) string {
	lo, hi := SortPair(a, b)
	return lo + ":" + hi
}

// ConversationID 返回一对身份的会话 ID
//
// 与 TrustKey 一样是排序后身份对的纯函数。
func ConversationID(a, b string) string {
	sum := sha256.Sum256([]byte(TrustKey(a, b)))
	return hex.EncodeToString(sum[:])[:32]
}

// SortPair 按字典序返回 (较小, 较大)
func SortPair(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}
