// Package memory 提供进程内信任存储
//
// 同一进程内的多个会话可共享一个 Store 实例，模拟共享存储。
// WithReplicationLag 可让写入延迟可见，用于复现最终一致存储下的
// 竞态（例如接受方先于邀请复制完成就开始查找）。
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-trustlink/internal/core/storage"
	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/types"
)

// Option 配置选项
type Option func(*Store)

// WithClock 设置时钟（测试使用 clock.NewMock()）
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithReplicationLag 设置写入可见延迟
func WithReplicationLag(lag time.Duration) Option {
	return func(s *Store) { s.lag = lag }
}

// Store 进程内信任存储
type Store struct {
	clock clock.Clock
	lag   time.Duration
	hub   *storage.Hub

	// data 受 hub 锁保护
	data map[string][]byte

	flushMu   sync.Mutex
	pendingMu sync.Mutex
	pending   []op
	closed    bool
}

// op 尚未可见的写操作
type op struct {
	due     time.Time
	path    string
	value   []byte
	deleted bool
}

var _ interfaces.TrustStore = (*Store)(nil)

// New 创建进程内存储
func New(opts ...Option) *Store {
	s := &Store{
		clock: clock.New(),
		hub:   storage.NewHub(),
		data:  make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put 写入值
func (s *Store) Put(ctx context.Context, path string, value []byte) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	return s.submit(ctx, op{path: path, value: append([]byte(nil), value...)})
}

// Delete 删除值
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	return s.submit(ctx, op{path: path, deleted: true})
}

// GetOnce 读取值，不存在时返回 types.ErrNotFound
func (s *Store) GetOnce(ctx context.Context, path string) ([]byte, error) {
	if err := storage.ValidatePath(path); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		v  []byte
		ok bool
	)
	s.withData(func(data map[string][]byte) {
		v, ok = data[path]
	})
	if !ok {
		return nil, types.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// SubscribeMap 订阅直接子键
func (s *Store) SubscribeMap(ctx context.Context, path string) (interfaces.StoreSubscription, error) {
	if err := storage.ValidatePath(path); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ctx, path, func(push func(interfaces.StoreEvent)) error {
		prefix := path + "/"
		keys := make([]string, 0)
		for k := range s.data {
			if strings.HasPrefix(k, prefix) && !strings.Contains(k[len(prefix):], "/") {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			_, key := storage.Split(k)
			push(interfaces.StoreEvent{Path: k, Key: key, Value: append([]byte(nil), s.data[k]...)})
		}
		return nil
	})
}

// Close 关闭存储，未可见的写入被丢弃
func (s *Store) Close() error {
	s.pendingMu.Lock()
	s.closed = true
	s.pending = nil
	s.pendingMu.Unlock()

	s.hub.Close()
	return nil
}

// Len 返回当前可见键数量
func (s *Store) Len() int {
	var n int
	s.withData(func(data map[string][]byte) { n = len(data) })
	return n
}

func (s *Store) submit(ctx context.Context, o op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.lag <= 0 {
		return s.apply(o)
	}

	s.pendingMu.Lock()
	if s.closed {
		s.pendingMu.Unlock()
		return storage.ErrClosed
	}
	o.due = s.clock.Now().Add(s.lag)
	s.pending = append(s.pending, o)
	s.pendingMu.Unlock()

	s.clock.AfterFunc(s.lag, s.flush)
	return nil
}

// flush 按提交顺序应用所有已到期的写入
func (s *Store) flush() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	now := s.clock.Now()

	s.pendingMu.Lock()
	var ready []op
	i := 0
	for ; i < len(s.pending); i++ {
		if s.pending[i].due.After(now) {
			break
		}
		ready = append(ready, s.pending[i])
	}
	s.pending = s.pending[i:]
	s.pendingMu.Unlock()

	for _, o := range ready {
		_ = s.apply(o)
	}
}

// errNoop 删除不存在的键，不产生通知
var errNoop = errors.New("noop")

func (s *Store) apply(o op) error {
	err := s.hub.Update(o.path, o.value, o.deleted, func() error {
		if o.deleted {
			if _, ok := s.data[o.path]; !ok {
				return errNoop
			}
			delete(s.data, o.path)
			return nil
		}
		s.data[o.path] = o.value
		return nil
	})
	if errors.Is(err, errNoop) {
		return nil
	}
	return err
}

func (s *Store) withData(fn func(map[string][]byte)) {
	s.hub.Locked(func() { fn(s.data) })
}
