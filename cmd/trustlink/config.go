package main

import (
	"flag"
	"os"
	"time"
)

// 环境变量（TRUSTLINK_ 前缀）
const (
	envConfig    = "TRUSTLINK_CONFIG"
	envIdentity  = "TRUSTLINK_IDENTITY"
	envRelay     = "TRUSTLINK_RELAY"
	envDebugAddr = "TRUSTLINK_DEBUG_ADDR"
)

// applyEnvOverrides 用环境变量填充未在命令行显式设置的参数
func applyEnvOverrides(c *commonFlags, fs *flag.FlagSet) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	overrides := []struct {
		flag string
		env  string
		dst  *string
	}{
		{"config", envConfig, &c.configFile},
		{"identity", envIdentity, &c.identityFile},
		{"relay", envRelay, &c.relayURL},
		{"debug-addr", envDebugAddr, &c.debugAddr},
	}
	for _, o := range overrides {
		if set[o.flag] {
			continue
		}
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

// extraFlags 子命令专用参数
type extraFlags struct {
	ttl  time.Duration
	wait bool
}

var extra extraFlags

// registerExtra 注册子命令专用参数
func registerExtra(name string, fs *flag.FlagSet) *extraFlags {
	switch name {
	case "invite":
		fs.DurationVar(&extra.ttl, "ttl", 0, "邀请有效期（0 = 使用配置默认值）")
		fs.BoolVar(&extra.wait, "wait", true, "等待邀请被接受后退出")
	}
	return &extra
}

// apply 校验子命令参数
func (e *extraFlags) apply() {
	if e.ttl < 0 {
		e.ttl = 0
	}
}
