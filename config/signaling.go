package config

import (
	"fmt"
	"time"
)

// SignalingConfig 信令邮箱配置
type SignalingConfig struct {
	// TTL 信令有效期，超过后丢弃且由发送方删除
	TTL Duration `json:"ttl"`

	// SealPayloads 已知对端加密公钥时加密信令载荷
	SealPayloads bool `json:"seal_payloads"`

	// DedupCacheSize 已处理 nonce 缓存大小
	DedupCacheSize int `json:"dedup_cache_size"`
}

// DefaultSignalingConfig 返回默认信令配置
func DefaultSignalingConfig() SignalingConfig {
	return SignalingConfig{
		TTL:            Duration(30 * time.Second),
		SealPayloads:   true,
		DedupCacheSize: 1024,
	}
}

// Validate 验证信令配置
func (c *SignalingConfig) Validate() error {
	if c.TTL <= 0 {
		return fmt.Errorf("signaling: ttl must be positive")
	}
	if c.DedupCacheSize <= 0 {
		return fmt.Errorf("signaling: dedup_cache_size must be positive")
	}
	return nil
}
