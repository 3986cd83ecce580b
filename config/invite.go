package config

import (
	"fmt"
	"time"
)

// SignaturePolicy 邀请签名校验失败时的处理策略
type SignaturePolicy string

const (
	// SignatureReject 签名无效时拒绝（默认）
	SignatureReject SignaturePolicy = "reject"
	// SignatureWarn 签名无效时记录警告并继续
	SignatureWarn SignaturePolicy = "warn"
)

// InviteConfig 邀请协议配置
type InviteConfig struct {
	// DefaultTTL 邀请默认有效期
	DefaultTTL Duration `json:"default_ttl"`

	// RateLimit 每个签发者在 RateWindow 内最多签发的邀请数
	RateLimit int `json:"rate_limit"`

	// RateWindow 速率限制窗口
	RateWindow Duration `json:"rate_window"`

	// LookupAttempts 接受邀请时查找的最大尝试次数（容忍复制延迟）
	LookupAttempts int `json:"lookup_attempts"`

	// LookupInitialBackoff 首次重试间隔
	LookupInitialBackoff Duration `json:"lookup_initial_backoff"`

	// LookupMaxBackoff 最大重试间隔
	LookupMaxBackoff Duration `json:"lookup_max_backoff"`

	// SignaturePolicy 签名校验策略
	SignaturePolicy SignaturePolicy `json:"signature_policy"`

	// LinkBaseURL 生成邀请链接的基础地址
	LinkBaseURL string `json:"link_base_url,omitempty"`
}

// DefaultInviteConfig 返回默认邀请配置
func DefaultInviteConfig() InviteConfig {
	return InviteConfig{
		DefaultTTL:           Duration(24 * time.Hour),
		RateLimit:            10,
		RateWindow:           Duration(time.Hour),
		LookupAttempts:       5,
		LookupInitialBackoff: Duration(250 * time.Millisecond),
		LookupMaxBackoff:     Duration(4 * time.Second),
		SignaturePolicy:      SignatureReject,
		LinkBaseURL:          "trustlink://app",
	}
}

// Validate 验证邀请配置
func (c *InviteConfig) Validate() error {
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("invite: default_ttl must be positive")
	}
	if c.RateLimit <= 0 || c.RateWindow <= 0 {
		return fmt.Errorf("invite: rate_limit and rate_window must be positive")
	}
	if c.LookupAttempts <= 0 {
		return fmt.Errorf("invite: lookup_attempts must be positive")
	}
	if c.LookupInitialBackoff <= 0 || c.LookupMaxBackoff < c.LookupInitialBackoff {
		return fmt.Errorf("invite: invalid lookup backoff range")
	}
	switch c.SignaturePolicy {
	case SignatureReject, SignatureWarn:
	default:
		return fmt.Errorf("invite: unknown signature_policy %q", c.SignaturePolicy)
	}
	return nil
}
