package storage

import (
	"context"
	"sync"

	"github.com/dep2p/go-trustlink/pkg/interfaces"
)

// Hub 子键变化订阅中心
//
// 后端在每次写入/删除后通知 Hub，Hub 按父路径分发给订阅者。
// 每个订阅者有独立的无界队列，慢订阅者不会阻塞写入，也不会丢失事件。
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

// NewHub 创建订阅中心
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe 订阅 parent 下的直接子键
//
// replay 在持有 Hub 锁时调用，用于回放已有子键；后端的写入同样
// 在 Hub 锁内完成（见 Update），回放与后续通知之间不丢事件也不乱序。
// ctx 结束时订阅自动关闭。
func (h *Hub) Subscribe(ctx context.Context, parent string, replay func(push func(interfaces.StoreEvent)) error) (*Subscription, error) {
	sub := newSubscription(h, parent)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	if replay != nil {
		if err := replay(sub.push); err != nil {
			h.mu.Unlock()
			return nil, err
		}
	}
	set, ok := h.subs[parent]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[parent] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	go sub.pump()
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Update 在 Hub 锁内执行写入并通知
//
// apply 返回错误时不发送通知。
func (h *Hub) Update(path string, value []byte, deleted bool, apply func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if apply != nil {
		if err := apply(); err != nil {
			return err
		}
	}
	h.notifyLocked(path, value, deleted)
	return nil
}

// Locked 在 Hub 锁内执行 fn，用于读取与写入互斥的后端数据
func (h *Hub) Locked(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn()
}

// Notify 通知 path 的变化
func (h *Hub) Notify(path string, value []byte, deleted bool) {
	_ = h.Update(path, value, deleted, nil)
}

// Deliver 将事件原样投递给 parent 的订阅者
func (h *Hub) Deliver(parent string, ev interfaces.StoreEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[parent] {
		sub.push(ev)
	}
}

func (h *Hub) notifyLocked(path string, value []byte, deleted bool) {
	parent, key := Split(path)
	for sub := range h.subs[parent] {
		ev := interfaces.StoreEvent{Path: path, Key: key, Deleted: deleted}
		if !deleted {
			ev.Value = append([]byte(nil), value...)
		}
		sub.push(ev)
	}
}

// Close 关闭所有订阅
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*Subscription
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range all {
		_ = sub.Close()
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[sub.parent]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.parent)
		}
	}
}

// Subscription 存储订阅
type Subscription struct {
	hub    *Hub
	parent string
	out    chan interfaces.StoreEvent

	mu    sync.Mutex
	queue []interfaces.StoreEvent
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

var _ interfaces.StoreSubscription = (*Subscription)(nil)

func newSubscription(h *Hub, parent string) *Subscription {
	return &Subscription{
		hub:    h,
		parent: parent,
		out:    make(chan interfaces.StoreEvent),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (s *Subscription) push(ev interfaces.StoreEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump 将队列中的事件按序送入输出通道
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = interfaces.StoreEvent{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

// Events 返回事件通道，订阅关闭后通道关闭
func (s *Subscription) Events() <-chan interfaces.StoreEvent {
	return s.out
}

// Done 订阅关闭时关闭的通道
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close 取消订阅，可重复调用
func (s *Subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.hub.remove(s)
	})
	return nil
}
