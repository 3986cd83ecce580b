package presence

import (
	"time"

	"github.com/dep2p/go-trustlink/config"
	"github.com/dep2p/go-trustlink/pkg/interfaces"
)

// Option 定义配置选项函数
type Option func(*Config)

// Config 在线状态配置
type Config struct {
	// StalenessThreshold 心跳最大年龄
	StalenessThreshold time.Duration

	// HeartbeatInterval 心跳间隔，严格小于 StalenessThreshold
	HeartbeatInterval time.Duration

	// CleanupInterval 本地缓存清理间隔
	CleanupInterval time.Duration

	// WatchBuffer 每个 Watch 通道的缓冲
	WatchBuffer int

	// Signer 与 Crypto 同时设置时，发布的记录由本地身份签名，
	// 从存储读取的记录必须带有 PeerID 的有效签名
	Signer interfaces.LocalIdentity
	Crypto interfaces.CryptoService
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return ConfigFromUnified(config.DefaultPresenceConfig())
}

// ConfigFromUnified 从统一配置创建在线状态配置
func ConfigFromUnified(c config.PresenceConfig) *Config {
	return &Config{
		StalenessThreshold: c.StalenessThreshold.Duration(),
		HeartbeatInterval:  c.Heartbeat(),
		CleanupInterval:    c.Cleanup(),
		WatchBuffer:        8,
	}
}

// WithStaleness 设置陈旧阈值，心跳与清理间隔按比例推导
func WithStaleness(d time.Duration) Option {
	return func(c *Config) {
		c.StalenessThreshold = d
		c.HeartbeatInterval = d / 2
		c.CleanupInterval = d / 4
	}
}

// WithHeartbeatInterval 设置心跳间隔
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = d
	}
}

// WithSigner 启用记录签名与存储记录校验
func WithSigner(local interfaces.LocalIdentity, cs interfaces.CryptoService) Option {
	return func(c *Config) {
		c.Signer = local
		c.Crypto = cs
	}
}

// WithCleanupInterval 设置清理间隔
func WithCleanupInterval(d time.Duration) Option {
	return func(c *Config) {
		c.CleanupInterval = d
	}
}
