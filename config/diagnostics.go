package config

import (
	"fmt"
	"net"
)

// DiagnosticsConfig 诊断配置
type DiagnosticsConfig struct {
	// IntrospectAddr 本地自省服务监听地址（同时暴露 /metrics），为空时不启动
	IntrospectAddr string `json:"introspect_addr,omitempty"`
}

// DefaultDiagnosticsConfig 返回默认诊断配置
func DefaultDiagnosticsConfig() DiagnosticsConfig {
	return DiagnosticsConfig{}
}

// Validate 验证诊断配置
func (c *DiagnosticsConfig) Validate() error {
	if c.IntrospectAddr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.IntrospectAddr); err != nil {
		return fmt.Errorf("diagnostics: invalid introspect_addr %q: %w", c.IntrospectAddr, err)
	}
	return nil
}
