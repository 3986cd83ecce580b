package connmgr

import (
	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/types"
)

// conn 单个对端的一次连接尝试
//
// 字段变更在对端锁内进行；state 与 channel 同时受 Manager.mu 保护，供无锁查询读取。
type conn struct {
	m    *Manager
	peer string
	seq  uint64

	pc interfaces.PeerConnection

	state   types.ConnState
	channel interfaces.DataChannel

	// remoteSDP 已应用的远端 offer，用于识别重复投递
	remoteSDP string

	timer *clock.Timer

	// connected 进入 CONNECTED 时关闭
	connected chan struct{}
	// done 实例退出（终态或被替换）时关闭
	done chan struct{}
	err  error
}

var _ interfaces.PeerConnectionHandler = (*conn)(nil)

func newConn(m *Manager, peer string, seq uint64) *conn {
	return &conn{
		m:         m,
		peer:      peer,
		seq:       seq,
		state:     types.ConnStateNew,
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// OnICECandidate 转发本地候选给对端
func (c *conn) OnICECandidate(cand types.ICECandidate) {
	c.m.sendCandidate(c, cand)
}

// OnDataChannel 响应方收到数据通道
func (c *conn) OnDataChannel(dc interfaces.DataChannel) {
	c.m.withPeer(c.peer, func() {
		if c.m.isCurrent(c) {
			c.m.setChannel(c, dc)
		}
	})
}

// OnChannelOpen 数据通道打开，迁移到 CONNECTED
func (c *conn) OnChannelOpen(dc interfaces.DataChannel) {
	c.m.channelOpen(c, dc)
}

// OnChannelMessage 收到数据通道消息
func (c *conn) OnChannelMessage(_ interfaces.DataChannel, data []byte) {
	if !c.m.isCurrent(c) {
		return
	}
	c.m.receive(c.peer, data)
}

// OnClosed 传输失败或关闭
func (c *conn) OnClosed(err error) {
	c.m.transportClosed(c, err)
}
