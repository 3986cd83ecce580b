package config

import "fmt"

// ICEServer ICE 服务器
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// TransportConfig 传输层配置
type TransportConfig struct {
	// ICEServers STUN / TURN 服务器
	ICEServers []ICEServer `json:"ice_servers"`

	// EphemeralUDPPortMin / Max 限制 ICE 使用的 UDP 端口范围（0 表示不限制）
	EphemeralUDPPortMin uint16 `json:"ephemeral_udp_port_min,omitempty"`
	EphemeralUDPPortMax uint16 `json:"ephemeral_udp_port_max,omitempty"`
}

// DefaultTransportConfig 返回默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ICEServers: []ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// Validate 验证传输配置
func (c *TransportConfig) Validate() error {
	for i, s := range c.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("transport: ice_servers[%d] has no urls", i)
		}
	}
	if c.EphemeralUDPPortMax < c.EphemeralUDPPortMin {
		return fmt.Errorf("transport: invalid ephemeral udp port range")
	}
	return nil
}
