package config

import (
	"fmt"
	"time"
)

// PresenceConfig 在线状态配置
type PresenceConfig struct {
	// StalenessThreshold 心跳最大年龄，超过则视为离线
	StalenessThreshold Duration `json:"staleness_threshold"`

	// HeartbeatInterval 心跳间隔，必须严格小于 StalenessThreshold（0 表示阈值的一半）
	HeartbeatInterval Duration `json:"heartbeat_interval,omitempty"`

	// CleanupInterval 本地缓存清理间隔（0 表示阈值的四分之一）
	CleanupInterval Duration `json:"cleanup_interval,omitempty"`
}

// DefaultPresenceConfig 返回默认在线状态配置
func DefaultPresenceConfig() PresenceConfig {
	return PresenceConfig{
		StalenessThreshold: Duration(60 * time.Second),
	}
}

// Heartbeat 返回生效的心跳间隔
func (c *PresenceConfig) Heartbeat() time.Duration {
	if c.HeartbeatInterval > 0 {
		return c.HeartbeatInterval.Duration()
	}
	return c.StalenessThreshold.Duration() / 2
}

// Cleanup 返回生效的清理间隔
func (c *PresenceConfig) Cleanup() time.Duration {
	if c.CleanupInterval > 0 {
		return c.CleanupInterval.Duration()
	}
	return c.StalenessThreshold.Duration() / 4
}

// Validate 验证在线状态配置
func (c *PresenceConfig) Validate() error {
	if c.StalenessThreshold <= 0 {
		return fmt.Errorf("presence: staleness_threshold must be positive")
	}
	if c.Heartbeat() >= c.StalenessThreshold.Duration() {
		return fmt.Errorf("presence: heartbeat_interval must be less than staleness_threshold")
	}
	return nil
}
