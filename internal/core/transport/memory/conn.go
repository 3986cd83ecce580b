package memory

import (
	"strings"
	"sync"

	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/types"
)

// PeerConnection 回环对等连接
type PeerConnection struct {
	net     *Network
	local   string
	remote  string
	token   string
	handler interfaces.PeerConnectionHandler
	exec    *executor

	mu           sync.Mutex
	localDesc    *types.SessionDescription
	remoteDesc   *types.SessionDescription
	remoteToken  string
	gotCandidate bool
	channel      *DataChannel
	peer         *PeerConnection
	linked       bool
	closed       bool
}

var _ interfaces.PeerConnection = (*PeerConnection)(nil)

// CreateDataChannel 创建数据通道（发起方在 CreateOffer 之前调用）
func (pc *PeerConnection) CreateDataChannel(label string) (interfaces.DataChannel, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.closed {
		return nil, types.ErrConnectionClosed
	}
	if pc.channel != nil {
		return nil, ErrWrongState
	}
	pc.channel = newDataChannel(pc, label)
	return pc.channel, nil
}

// CreateOffer 创建 offer 并设为本地描述
func (pc *PeerConnection) CreateOffer() (types.SessionDescription, error) {
	return pc.createDescription("offer")
}

// CreateAnswer 创建 answer 并设为本地描述
func (pc *PeerConnection) CreateAnswer() (types.SessionDescription, error) {
	pc.mu.Lock()
	ok := pc.remoteDesc != nil && pc.remoteDesc.Type == "offer"
	pc.mu.Unlock()
	if !ok {
		return types.SessionDescription{}, ErrWrongState
	}
	return pc.createDescription("answer")
}

func (pc *PeerConnection) createDescription(kind string) (types.SessionDescription, error) {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return types.SessionDescription{}, types.ErrConnectionClosed
	}
	if pc.localDesc != nil {
		pc.mu.Unlock()
		return types.SessionDescription{}, ErrWrongState
	}
	desc := types.SessionDescription{Type: kind, SDP: sdpPrefix + pc.token}
	pc.localDesc = &desc
	pc.mu.Unlock()

	if !pc.net.suppressICE.Load() {
		cand := candidateFor(pc.token)
		pc.exec.run(func() {
			if !pc.isClosed() {
				pc.handler.OnICECandidate(cand)
			}
		})
	}
	return desc, nil
}

// SetRemoteDescription 应用远端描述
func (pc *PeerConnection) SetRemoteDescription(desc types.SessionDescription) error {
	if (desc.Type != "offer" && desc.Type != "answer") || !strings.HasPrefix(desc.SDP, sdpPrefix) {
		return ErrInvalidDescription
	}

	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return types.ErrConnectionClosed
	}
	if pc.remoteDesc != nil {
		pc.mu.Unlock()
		return ErrWrongState
	}
	switch desc.Type {
	case "offer":
		if pc.localDesc != nil {
			pc.mu.Unlock()
			return ErrWrongState
		}
	case "answer":
		if pc.localDesc == nil || pc.localDesc.Type != "offer" {
			pc.mu.Unlock()
			return ErrWrongState
		}
	}
	d := desc
	pc.remoteDesc = &d
	pc.remoteToken = strings.TrimPrefix(desc.SDP, sdpPrefix)
	pc.mu.Unlock()

	pc.tryLink()
	return nil
}

// HasRemoteDescription 是否已设置远端描述
func (pc *PeerConnection) HasRemoteDescription() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.remoteDesc != nil
}

// AddICECandidate 添加远端候选
func (pc *PeerConnection) AddICECandidate(c types.ICECandidate) error {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return types.ErrConnectionClosed
	}
	if pc.remoteDesc == nil {
		pc.mu.Unlock()
		return ErrNoRemoteDescription
	}
	token := strings.TrimPrefix(c.Candidate, candidatePrefix)
	if token == c.Candidate || token != pc.remoteToken {
		pc.mu.Unlock()
		return ErrInvalidCandidate
	}
	pc.gotCandidate = true
	pc.mu.Unlock()

	pc.tryLink()
	return nil
}

// ready 本端是否满足连通条件
func (pc *PeerConnection) ready() bool {
	return !pc.closed && pc.localDesc != nil && pc.remoteDesc != nil && pc.gotCandidate
}

// tryLink 双方条件均满足时打开数据通道
func (pc *PeerConnection) tryLink() {
	pc.mu.Lock()
	remoteToken := pc.remoteToken
	pc.mu.Unlock()

	other := pc.net.lookup(remoteToken)
	if other == nil {
		return
	}

	// 以 token 排序加锁，避免双方同时 tryLink 时死锁
	first, second := pc, other
	if first.token > second.token {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()

	if pc.linked || !pc.ready() || !other.ready() || other.remoteToken != pc.token {
		second.mu.Unlock()
		first.mu.Unlock()
		return
	}

	offerer, answerer := pc, other
	if pc.localDesc.Type != "offer" {
		offerer, answerer = other, pc
	}
	if offerer.channel == nil {
		second.mu.Unlock()
		first.mu.Unlock()
		return
	}

	local := offerer.channel
	remote := newDataChannel(answerer, local.label)
	answerer.channel = remote
	local.peer, remote.peer = remote, local
	offerer.peer, answerer.peer = answerer, offerer
	offerer.linked, answerer.linked = true, true

	second.mu.Unlock()
	first.mu.Unlock()

	local.open()
	remote.open()

	answerer.exec.run(func() { answerer.handler.OnDataChannel(remote) })
	answerer.exec.run(func() { answerer.handler.OnChannelOpen(remote) })
	offerer.exec.run(func() { offerer.handler.OnChannelOpen(local) })
}

// Close 关闭连接，对端收到 OnClosed
func (pc *PeerConnection) Close() error {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return nil
	}
	pc.closed = true
	peer := pc.peer
	ch := pc.channel
	pc.mu.Unlock()

	pc.net.unregister(pc)
	if ch != nil {
		ch.markClosed()
	}
	if peer != nil {
		peer.remoteClosed()
	}
	return nil
}

// remoteClosed 对端关闭
func (pc *PeerConnection) remoteClosed() {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return
	}
	ch := pc.channel
	pc.mu.Unlock()

	if ch != nil {
		ch.markClosed()
	}
	pc.exec.run(func() { pc.handler.OnClosed(types.ErrConnectionClosed) })
}

func (pc *PeerConnection) isClosed() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.closed
}

// DataChannel 回环数据通道
type DataChannel struct {
	owner *PeerConnection
	label string

	mu     sync.Mutex
	peer   *DataChannel
	opened bool
	closed bool
}

var _ interfaces.DataChannel = (*DataChannel)(nil)

func newDataChannel(owner *PeerConnection, label string) *DataChannel {
	return &DataChannel{owner: owner, label: label}
}

// Label 通道标签
func (dc *DataChannel) Label() string {
	return dc.label
}

// IsOpen 通道是否打开
func (dc *DataChannel) IsOpen() bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.opened && !dc.closed
}

// Send 发送数据，对端按发送顺序收到
func (dc *DataChannel) Send(data []byte) error {
	dc.mu.Lock()
	if !dc.opened || dc.closed {
		dc.mu.Unlock()
		return types.ErrChannelNotReady
	}
	peer := dc.peer
	dc.mu.Unlock()

	msg := append([]byte(nil), data...)
	owner := peer.owner
	owner.exec.run(func() {
		if peer.IsOpen() {
			owner.handler.OnChannelMessage(peer, msg)
		}
	})
	return nil
}

// Close 关闭通道所属连接
func (dc *DataChannel) Close() error {
	return dc.owner.Close()
}

func (dc *DataChannel) open() {
	dc.mu.Lock()
	dc.opened = true
	dc.mu.Unlock()
}

func (dc *DataChannel) markClosed() {
	dc.mu.Lock()
	dc.closed = true
	dc.mu.Unlock()
}
