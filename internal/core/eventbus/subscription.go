package eventbus

import (
	"reflect"
	"sync"

	"github.com/dep2p/go-trustlink/pkg/interfaces"
)

// Subscription 事件订阅
type Subscription struct {
	bus  *Bus
	typ  reflect.Type
	out  chan interface{}
	once sync.Once
}

var _ interfaces.Subscription = (*Subscription)(nil)

// Out 返回事件通道，Close 后通道关闭
func (s *Subscription) Out() <-chan interface{} {
	return s.out
}

// Close 取消订阅，可重复调用
//
// 先在节点锁内摘除订阅者再关闭通道，emit 不会向已关闭通道发送。
func (s *Subscription) Close() error {
	s.once.Do(func() {
		n := s.bus.acquire(s.typ)
		for i, sink := range n.sinks {
			if sink == s {
				n.sinks = append(n.sinks[:i], n.sinks[i+1:]...)
				break
			}
		}
		close(s.out)
		n.mu.Unlock()

		s.bus.release(s.typ)
	})
	return nil
}

// Emitter 事件发射器
type Emitter struct {
	bus    *Bus
	node   *node
	mu     sync.RWMutex
	closed bool
}

var _ interfaces.Emitter = (*Emitter)(nil)

// Emit 发射事件，事件类型须与创建发射器时一致（值类型）
func (e *Emitter) Emit(event interface{}) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrEmitterClosed
	}
	if reflect.TypeOf(event) != e.node.typ {
		return ErrWrongEventType
	}
	e.node.emit(event)
	return nil
}

// Close 关闭发射器
func (e *Emitter) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.node.mu.Lock()
	e.node.emitters--
	e.node.mu.Unlock()
	e.bus.release(e.node.typ)
	return nil
}
