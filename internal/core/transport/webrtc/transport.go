// Package webrtc 基于 pion/webrtc 实现 interfaces.Transport
//
// 每个 PeerConnection 只承载一个可靠有序的数据通道，使用 trickle ICE：
// 本地候选通过 OnICECandidate 逐个交给信令层转发。
package webrtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dep2p/go-trustlink/config"
	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/lib/log"
	"github.com/dep2p/go-trustlink/pkg/types"
)

var logger = log.Logger("transport/webrtc")

// Transport pion/webrtc 传输层
type Transport struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

var _ interfaces.Transport = (*Transport)(nil)

// New 按配置创建传输层
func New(cfg config.TransportConfig) (*Transport, error) {
	se := webrtc.SettingEngine{LoggerFactory: loggerFactory{}}
	if cfg.EphemeralUDPPortMin != 0 || cfg.EphemeralUDPPortMax != 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.EphemeralUDPPortMin, cfg.EphemeralUDPPortMax); err != nil {
			return nil, fmt.Errorf("webrtc: port range: %w", err)
		}
	}

	servers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	return &Transport{
		api: webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		cfg: webrtc.Configuration{ICEServers: servers},
	}, nil
}

// NewPeerConnection 创建对等连接
func (t *Transport) NewPeerConnection(peerID string, handler interfaces.PeerConnectionHandler) (interfaces.PeerConnection, error) {
	raw, err := t.api.NewPeerConnection(t.cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrTransportFailed, err)
	}

	pc := &peerConnection{pc: raw, peer: peerID, handler: handler}

	raw.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil 表示收集结束
		if c == nil {
			return
		}
		init := c.ToJSON()
		handler.OnICECandidate(types.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})

	raw.OnDataChannel(func(dc *webrtc.DataChannel) {
		ch := pc.attach(dc)
		handler.OnDataChannel(ch)
	})

	raw.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		logger.Debug("连接状态变化", "peer", log.TruncateID(peerID, 8), "state", s.String())
		if err := terminalError(s); err != nil {
			pc.notifyClosed(err)
		}
	})

	return pc, nil
}

// terminalError 返回终止状态对应的关闭原因，非终止状态返回 nil
//
// Disconnected 是暂态，ICE 可能自行恢复；恢复失败时 pion 会继续迁移到 Failed。
func terminalError(s webrtc.PeerConnectionState) error {
	switch s {
	case webrtc.PeerConnectionStateFailed:
		return fmt.Errorf("%w: ice failed", types.ErrTransportFailed)
	case webrtc.PeerConnectionStateClosed:
		return types.ErrConnectionClosed
	default:
		return nil
	}
}

// peerConnection 包装 pion PeerConnection
type peerConnection struct {
	pc      *webrtc.PeerConnection
	peer    string
	handler interfaces.PeerConnectionHandler

	closeOnce sync.Once
	closing   sync.Once
}

// CreateDataChannel 创建有序可靠数据通道
func (p *peerConnection) CreateDataChannel(label string) (interfaces.DataChannel, error) {
	ordered := true
	dc, err := p.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrTransportFailed, err)
	}
	return p.attach(dc), nil
}

// attach 注册数据通道回调
func (p *peerConnection) attach(dc *webrtc.DataChannel) *dataChannel {
	ch := &dataChannel{dc: dc}
	dc.OnOpen(func() { p.handler.OnChannelOpen(ch) })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		p.handler.OnChannelMessage(ch, msg.Data)
	})
	dc.OnClose(func() { p.notifyClosed(types.ErrConnectionClosed) })
	return ch
}

// CreateOffer 创建 offer 并设为本地描述
func (p *peerConnection) CreateOffer() (types.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return types.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return types.SessionDescription{}, err
	}
	return types.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

// CreateAnswer 创建 answer 并设为本地描述
func (p *peerConnection) CreateAnswer() (types.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return types.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return types.SessionDescription{}, err
	}
	return types.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

// SetRemoteDescription 应用远端描述
func (p *peerConnection) SetRemoteDescription(desc types.SessionDescription) error {
	typ := webrtc.NewSDPType(desc.Type)
	if typ == webrtc.SDPTypeUnknown {
		return errors.New("webrtc: unknown sdp type " + desc.Type)
	}
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: desc.SDP})
}

// HasRemoteDescription 是否已设置远端描述
func (p *peerConnection) HasRemoteDescription() bool {
	return p.pc.RemoteDescription() != nil
}

// AddICECandidate 添加远端候选
func (p *peerConnection) AddICECandidate(c types.ICECandidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

// Close 关闭连接
func (p *peerConnection) Close() error {
	var err error
	p.closing.Do(func() {
		err = p.pc.Close()
	})
	return err
}

// notifyClosed 只通知上层一次
func (p *peerConnection) notifyClosed(err error) {
	p.closeOnce.Do(func() {
		p.handler.OnClosed(err)
	})
}

// dataChannel 包装 pion DataChannel
type dataChannel struct {
	dc *webrtc.DataChannel
}

func (d *dataChannel) Label() string {
	return d.dc.Label()
}

func (d *dataChannel) Send(data []byte) error {
	if !d.IsOpen() {
		return types.ErrChannelNotReady
	}
	return d.dc.Send(data)
}

func (d *dataChannel) IsOpen() bool {
	return d.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (d *dataChannel) Close() error {
	return d.dc.Close()
}
