package config

import (
	"fmt"
	"path/filepath"
	"time"
)

const defaultGCInterval = 10 * time.Minute

// StoreBackend 信任存储后端类型
type StoreBackend string

const (
	// StoreMemory 进程内存储（测试与单进程演示）
	StoreMemory StoreBackend = "memory"
	// StoreBadger 本地 BadgerDB 持久化存储
	StoreBadger StoreBackend = "badger"
	// StoreRelay 通过 websocket 连接共享中继存储
	StoreRelay StoreBackend = "relay"
)

// StoreConfig 信任存储配置
//
// 数据目录结构（badger 后端）：
//
//	${DataDir}/
//	└── trust.db/           # BadgerDB 数据库
type StoreConfig struct {
	// Backend 存储后端
	Backend StoreBackend `json:"backend"`

	// DataDir 数据目录（badger 后端）
	DataDir string `json:"data_dir,omitempty"`

	// RelayURL 中继地址（relay 后端），例如 ws://127.0.0.1:7000/store
	RelayURL string `json:"relay_url,omitempty"`

	// GCInterval BadgerDB 值日志回收间隔
	GCInterval Duration `json:"gc_interval,omitempty"`
}

// DefaultStoreConfig 返回默认存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Backend:    StoreMemory,
		DataDir:    "./data",
		GCInterval: Duration(defaultGCInterval),
	}
}

// Validate 验证存储配置
func (c *StoreConfig) Validate() error {
	switch c.Backend {
	case StoreMemory:
	case StoreBadger:
		if c.DataDir == "" {
			return fmt.Errorf("store: data_dir cannot be empty for badger backend")
		}
	case StoreRelay:
		if c.RelayURL == "" {
			return fmt.Errorf("store: relay_url cannot be empty for relay backend")
		}
	default:
		return fmt.Errorf("store: unknown backend %q", c.Backend)
	}
	return nil
}

// DBPath 返回 BadgerDB 数据库路径
func (c *StoreConfig) DBPath() string {
	return filepath.Join(c.DataDir, "trust.db")
}
