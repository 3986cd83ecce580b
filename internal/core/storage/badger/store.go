// Package badger 提供基于 BadgerDB 的持久化信任存储
//
// 路径直接作为 BadgerDB 键，SubscribeMap 的回放通过前缀迭代完成。
// 变化通知只在进程内传播；多进程共享请使用 relay 后端。
package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-trustlink/internal/core/storage"
	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/lib/log"
	"github.com/dep2p/go-trustlink/pkg/types"
)

var logger = log.Logger("storage/badger")

// gcDiscardRatio 值日志回收阈值
const gcDiscardRatio = 0.5

// Config BadgerDB 存储配置
type Config struct {
	// Path 数据库目录，InMemory 为 true 时忽略
	Path string
	// InMemory 纯内存模式（测试使用）
	InMemory bool
	// GCInterval 值日志回收间隔，0 表示不回收
	GCInterval time.Duration
	// SyncWrites 每次写入是否同步落盘
	SyncWrites bool
}

// Store BadgerDB 信任存储
type Store struct {
	db  *badger.DB
	hub *storage.Hub
	cfg Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ interfaces.TrustStore = (*Store)(nil)

// Open 打开数据库
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{})
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", cfg.Path, err)
	}

	return &Store{
		db:  db,
		hub: storage.NewHub(),
		cfg: cfg,
	}, nil
}

// Start 启动后台值日志回收
func (s *Store) Start() {
	if s.cfg.GCInterval <= 0 || s.cfg.InMemory {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.GCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runGC()
			}
		}
	}()
}

// runGC 反复回收直到没有可回收的值日志
func (s *Store) runGC() {
	for n := 0; ; n++ {
		err := s.db.RunValueLogGC(gcDiscardRatio)
		if err != nil {
			if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
				logger.Warn("值日志回收失败", "error", err)
			}
			if n > 0 {
				logger.Debug("值日志回收完成", "rounds", n)
			}
			return
		}
	}
}

// Put 写入值
func (s *Store) Put(ctx context.Context, path string, value []byte) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.hub.Update(path, value, false, func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte(path), value)
		})
	})
}

// GetOnce 读取值，不存在时返回 types.ErrNotFound
func (s *Store) GetOnce(ctx context.Context, path string) ([]byte, error) {
	if err := storage.ValidatePath(path); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(path))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, types.ErrNotFound
	}
	if errors.Is(err, badger.ErrDBClosed) {
		return nil, storage.ErrClosed
	}
	return out, err
}

// Delete 删除值
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.hub.Update(path, nil, true, func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte(path))
		})
	})
}

// SubscribeMap 订阅直接子键，先按键序回放已有子键
func (s *Store) SubscribeMap(ctx context.Context, path string) (interfaces.StoreSubscription, error) {
	if err := storage.ValidatePath(path); err != nil {
		return nil, err
	}
	prefix := path + "/"
	return s.hub.Subscribe(ctx, path, func(push func(interfaces.StoreEvent)) error {
		return s.db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.IteratorOptions{
				PrefetchValues: true,
				PrefetchSize:   64,
				Prefix:         []byte(prefix),
			})
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				item := it.Item()
				full := string(item.Key())
				if strings.Contains(full[len(prefix):], "/") {
					continue
				}
				v, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				_, key := storage.Split(full)
				push(interfaces.StoreEvent{Path: full, Key: key, Value: v})
			}
			return nil
		})
	})
}

// Close 停止回收并关闭数据库
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.hub.Close()
	return s.db.Close()
}

// badgerLogger 将 badger 日志转发到 slog
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
