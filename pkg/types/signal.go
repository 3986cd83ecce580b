package types

import (
	"time"
)

// SignalType 信令类型
type SignalType string

const (
	// SignalOffer SDP offer
	SignalOffer SignalType = "offer"
	// SignalAnswer SDP answer
	SignalAnswer SignalType = "answer"
	// SignalICECandidate ICE 候选
	SignalICECandidate SignalType = "ice-candidate"
)

// Valid 是否为已知信令类型
func (t SignalType) Valid() bool {
	switch t {
	case SignalOffer, SignalAnswer, SignalICECandidate:
		return true
	default:
		return false
	}
}

// PeerSignal 通过信令邮箱传递的消息
//
// 仅在 now - Timestamp < TTL 时有效；分发后删除，至少一次投递。
type PeerSignal struct {
	Type      SignalType `json:"type"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	Payload   []byte     `json:"payload"`
	Timestamp time.Time  `json:"timestamp"`
	Nonce     string     `json:"nonce"`
	Sealed    bool       `json:"sealed,omitempty"`
}

// Age 返回信令在 now 时刻的年龄
func (s *PeerSignal) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

// Validate 校验结构字段
func (s *PeerSignal) Validate() error {
	if !s.Type.Valid() || s.From == "" || s.To == "" || s.Nonce == "" {
		return ErrInvalidSignal
	}
	return nil
}

// SessionDescription SDP 描述（offer / answer 的载荷）
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate ICE 候选（ice-candidate 的载荷）
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}
