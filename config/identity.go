package config

// IdentityConfig 身份配置
type IdentityConfig struct {
	// KeyFile 身份密钥文件路径，为空时每次启动生成临时身份
	KeyFile string `json:"key_file,omitempty"`

	// Nickname 昵称，写入签发的邀请
	Nickname string `json:"nickname,omitempty"`
}

// DefaultIdentityConfig 返回默认身份配置
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{}
}

// Validate 验证身份配置
func (c *IdentityConfig) Validate() error {
	return nil
}
