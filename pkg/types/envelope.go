package types

import "encoding/json"

// EnvelopeKind 数据通道消息类别
type EnvelopeKind string

const (
	// EnvelopeMessage 应用消息
	EnvelopeMessage EnvelopeKind = "message"
	// EnvelopePresence 在线状态广播
	EnvelopePresence EnvelopeKind = "presence"
)

// Envelope 数据通道上的消息封装
type Envelope struct {
	Kind EnvelopeKind    `json:"kind"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data"`
}
