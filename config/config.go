// Package config 提供统一的配置管理
//
// 本包采用与组件一一对应的子配置：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义，并提供 DefaultXConfig() 与 Validate()
//   - 支持从 JSON 加载和保存配置，时长使用 "30s" 等字符串
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	cfg.Invite.DefaultTTL = config.Duration(12 * time.Hour)
//
//	// 从 JSON 文件加载
//	cfg, err := config.LoadFile("trustlink.json")
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config 是 TrustLink 的完整配置结构
//
// 配置按照功能模块组织：
//   - Identity: 身份密钥文件
//   - Store: 共享信任存储后端
//   - Invite: 邀请协议
//   - Signaling: 信令邮箱
//   - Connection: 连接状态机
//   - Transport: WebRTC 传输
//   - Presence: 在线状态
//   - Metrics: 指标
//   - Diagnostics: 本地诊断 HTTP 服务
type Config struct {
	// Identity 身份配置
	Identity IdentityConfig `json:"identity"`

	// Store 信任存储配置
	Store StoreConfig `json:"store"`

	// Invite 邀请协议配置
	Invite InviteConfig `json:"invite"`

	// Signaling 信令配置
	Signaling SignalingConfig `json:"signaling"`

	// Connection 连接管理配置
	Connection ConnectionConfig `json:"connection"`

	// Transport 传输层配置
	Transport TransportConfig `json:"transport"`

	// Presence 在线状态配置
	Presence PresenceConfig `json:"presence"`

	// Metrics 指标配置
	Metrics MetricsConfig `json:"metrics"`

	// Diagnostics 诊断配置
	Diagnostics DiagnosticsConfig `json:"diagnostics"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Identity:    DefaultIdentityConfig(),
		Store:       DefaultStoreConfig(),
		Invite:      DefaultInviteConfig(),
		Signaling:   DefaultSignalingConfig(),
		Connection:  DefaultConnectionConfig(),
		Transport:   DefaultTransportConfig(),
		Presence:    DefaultPresenceConfig(),
		Metrics:     DefaultMetricsConfig(),
		Diagnostics: DefaultDiagnosticsConfig(),
	}
}

// Validate 验证整个配置树
func (c *Config) Validate() error {
	validators := []interface{ Validate() error }{
		&c.Identity,
		&c.Store,
		&c.Invite,
		&c.Signaling,
		&c.Connection,
		&c.Transport,
		&c.Presence,
		&c.Metrics,
		&c.Diagnostics,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// FromJSON 从 JSON 解析配置
//
// 未出现在 JSON 中的字段保留默认值。
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse json: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToJSON 序列化为带缩进的 JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// LoadFile 从文件加载配置
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return FromJSON(data)
}

// SaveFile 保存配置到文件
func (c *Config) SaveFile(path string) error {
	data, err := c.ToJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
