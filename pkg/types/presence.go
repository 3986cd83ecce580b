package types

import (
	"encoding/json"
	"time"
)

// PresenceStatus 在线状态
type PresenceStatus string

const (
	// PresenceOnline 在线
	PresenceOnline PresenceStatus = "online"
	// PresenceOffline 离线
	PresenceOffline PresenceStatus = "offline"
)

// PresenceRecord 在线状态记录
//
// 记录从不删除，只按年龄重新解读：
// online 仅在 now - LastSeen < 陈旧阈值 时成立。
//
// Signature 由 PeerID 对 CanonicalBytes() 签名。
type PresenceRecord struct {
	PeerID    string         `json:"peerId"`
	Status    PresenceStatus `json:"status"`
	LastSeen  time.Time      `json:"lastSeen"`
	Timestamp time.Time      `json:"timestamp"`
	Signature []byte         `json:"signature,omitempty"`
}

// CanonicalBytes 返回签名覆盖的规范字节
func (r *PresenceRecord) CanonicalBytes() []byte {
	data, _ := json.Marshal([]any{
		r.PeerID,
		string(r.Status),
		r.LastSeen.UnixMilli(),
		r.Timestamp.UnixMilli(),
	})
	return data
}

// IsOnline 在 now 时刻按陈旧阈值判断是否在线
func (r *PresenceRecord) IsOnline(now time.Time, staleness time.Duration) bool {
	if r == nil || r.Status != PresenceOnline {
		return false
	}
	return now.Sub(r.LastSeen) < staleness
}
