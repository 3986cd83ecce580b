package presence

import (
	"time"

	"github.com/dep2p/go-trustlink/pkg/types"
)

// peerStatus 本地缓存的对端状态
type peerStatus struct {
	peerID   string
	online   bool
	lastSeen time.Time
	// status 对端最后一次声明的状态
	status types.PresenceStatus
}

// apply 合并新记录，返回在线状态是否变化
//
// 只接受 LastSeen 不早于缓存的记录，存储回放的旧值不会覆盖数据通道上收到的新值。
func (ps *peerStatus) apply(rec *types.PresenceRecord, now time.Time, staleness time.Duration) (changed, accepted bool) {
	if rec.LastSeen.Before(ps.lastSeen) {
		return false, false
	}
	ps.lastSeen = rec.LastSeen
	ps.status = rec.Status

	online := rec.IsOnline(now, staleness)
	changed = online != ps.online
	ps.online = online
	return changed, true
}

// expire 超过阈值时降级为离线，返回是否变化
func (ps *peerStatus) expire(now time.Time, staleness time.Duration) bool {
	if !ps.online || now.Sub(ps.lastSeen) < staleness {
		return false
	}
	ps.online = false
	return true
}

func (ps *peerStatus) event() types.PresenceEvent {
	return types.PresenceEvent{PeerID: ps.peerID, Online: ps.online, LastSeen: ps.lastSeen}
}
