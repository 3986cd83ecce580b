package connmgr

import (
	"time"

	"github.com/dep2p/go-trustlink/config"
	"github.com/dep2p/go-trustlink/internal/util/retry"
)

// Config 连接管理器配置
type Config struct {
	// ReadyWait SendMessage 等待通道就绪的最长时间
	ReadyWait time.Duration

	// ReadyPollInterval 等待通道就绪的轮询间隔
	ReadyPollInterval time.Duration

	// NegotiationTimeout 协商超时
	NegotiationTimeout time.Duration

	// MaxPendingCandidates 每个对端缓冲的 ICE 候选上限
	MaxPendingCandidates int

	// ChannelLabel 数据通道标签
	ChannelLabel string

	// TrustLookup 门控查询信任记录的重试策略
	TrustLookup retry.Policy
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return ConfigFromUnified(config.NewConfig())
}

// ConfigFromUnified 从统一配置创建连接管理器配置
func ConfigFromUnified(c *config.Config) Config {
	conn := c.Connection
	return Config{
		ReadyWait:            conn.ReadyWait.Duration(),
		ReadyPollInterval:    conn.ReadyPollInterval.Duration(),
		NegotiationTimeout:   conn.NegotiationTimeout.Duration(),
		MaxPendingCandidates: conn.MaxPendingCandidates,
		ChannelLabel:         conn.ChannelLabel,
		TrustLookup: retry.Policy{
			Attempts: c.Invite.LookupAttempts,
			Initial:  c.Invite.LookupInitialBackoff.Duration(),
			Max:      c.Invite.LookupMaxBackoff.Duration(),
		},
	}
}
