package config

import (
	"fmt"
	"time"
)

// ConnectionConfig 连接管理配置
type ConnectionConfig struct {
	// ReadyWait SendMessage 等待通道就绪的最长时间
	ReadyWait Duration `json:"ready_wait"`

	// ReadyPollInterval 等待通道就绪的轮询间隔
	ReadyPollInterval Duration `json:"ready_poll_interval"`

	// NegotiationTimeout 协商超时，超时未连接则判定失败
	NegotiationTimeout Duration `json:"negotiation_timeout"`

	// MaxPendingCandidates 每个对端缓冲的早到 ICE 候选上限
	MaxPendingCandidates int `json:"max_pending_candidates"`

	// ChannelLabel 数据通道标签
	ChannelLabel string `json:"channel_label"`
}

// DefaultConnectionConfig 返回默认连接配置
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		ReadyWait:            Duration(5 * time.Second),
		ReadyPollInterval:    Duration(100 * time.Millisecond),
		NegotiationTimeout:   Duration(30 * time.Second),
		MaxPendingCandidates: 64,
		ChannelLabel:         "trustlink",
	}
}

// Validate 验证连接配置
func (c *ConnectionConfig) Validate() error {
	if c.ReadyWait <= 0 || c.ReadyPollInterval <= 0 {
		return fmt.Errorf("connection: ready_wait and ready_poll_interval must be positive")
	}
	if c.ReadyPollInterval > c.ReadyWait {
		return fmt.Errorf("connection: ready_poll_interval exceeds ready_wait")
	}
	if c.NegotiationTimeout <= 0 {
		return fmt.Errorf("connection: negotiation_timeout must be positive")
	}
	if c.MaxPendingCandidates <= 0 {
		return fmt.Errorf("connection: max_pending_candidates must be positive")
	}
	if c.ChannelLabel == "" {
		return fmt.Errorf("connection: channel_label cannot be empty")
	}
	return nil
}
