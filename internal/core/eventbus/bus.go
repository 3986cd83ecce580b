package eventbus

import (
	"errors"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/lib/log"
)

var logger = log.Logger("core/eventbus")

var (
	// ErrInvalidEventType 无效的事件类型
	ErrInvalidEventType = errors.New("eventbus: invalid event type")
	// ErrNonPointerType 事件类型必须以指针形式传入
	ErrNonPointerType = errors.New("eventbus: event type must be a pointer")
	// ErrEmitterClosed 发射器已关闭
	ErrEmitterClosed = errors.New("eventbus: emitter closed")
	// ErrWrongEventType 发射的事件与发射器类型不符
	ErrWrongEventType = errors.New("eventbus: wrong event type")
)

// defaultBufSize 默认订阅缓冲区大小
const defaultBufSize = 16

// Bus 事件总线
type Bus struct {
	mu    sync.Mutex
	nodes map[reflect.Type]*node
}

// 确保 Bus 实现了 interfaces.EventBus 接口
var _ interfaces.EventBus = (*Bus)(nil)

// node 单个事件类型的订阅者集合
type node struct {
	mu       sync.Mutex
	typ      reflect.Type
	sinks    []*Subscription
	emitters int
	keepLast bool
	last     interface{}

	dropped atomic.Int64
}

// NewBus 创建事件总线
func NewBus() *Bus {
	return &Bus{nodes: make(map[reflect.Type]*node)}
}

// Subscribe 订阅事件
//
// eventType 为指向事件类型的指针，例如 new(types.PresenceEvent)。
func (b *Bus) Subscribe(eventType interface{}, opts ...interfaces.SubscriptionOpt) (interfaces.Subscription, error) {
	typ, err := elemType(eventType)
	if err != nil {
		return nil, err
	}

	settings := interfaces.SubscriptionSettings{Buffer: defaultBufSize}
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.Buffer < 0 {
		settings.Buffer = 0
	}

	sub := &Subscription{
		bus: b,
		typ: typ,
		out: make(chan interface{}, settings.Buffer),
	}

	n := b.acquire(typ)
	defer n.mu.Unlock()
	n.sinks = append(n.sinks, sub)
	if n.keepLast && n.last != nil {
		select {
		case sub.out <- n.last:
		default:
		}
	}
	return sub, nil
}

// Emitter 获取事件发射器
func (b *Bus) Emitter(eventType interface{}, opts ...interfaces.EmitterOpt) (interfaces.Emitter, error) {
	typ, err := elemType(eventType)
	if err != nil {
		return nil, err
	}

	var settings interfaces.EmitterSettings
	for _, opt := range opts {
		opt(&settings)
	}

	n := b.acquire(typ)
	n.emitters++
	if settings.Stateful {
		n.keepLast = true
	}
	n.mu.Unlock()

	return &Emitter{bus: b, node: n}, nil
}

// GetAllEventTypes 返回所有已注册事件类型的零值
func (b *Bus) GetAllEventTypes() []interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]interface{}, 0, len(b.nodes))
	for typ := range b.nodes {
		out = append(out, reflect.Zero(typ).Interface())
	}
	return out
}

// acquire 获取（必要时创建）类型节点并持有其锁返回
func (b *Bus) acquire(typ reflect.Type) *node {
	b.mu.Lock()
	n, ok := b.nodes[typ]
	if !ok {
		n = &node{typ: typ}
		b.nodes[typ] = n
	}
	n.mu.Lock()
	b.mu.Unlock()
	return n
}

// release 节点无订阅者和发射器时从总线移除
func (b *Bus) release(typ reflect.Type) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, ok := b.nodes[typ]
	if !ok {
		return
	}
	n.mu.Lock()
	idle := len(n.sinks) == 0 && n.emitters == 0
	n.mu.Unlock()
	if idle {
		delete(b.nodes, typ)
	}
}

// emit 非阻塞地投递事件
func (n *node) emit(event interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.keepLast {
		n.last = event
	}
	for _, sub := range n.sinks {
		select {
		case sub.out <- event:
		default:
			if d := n.dropped.Add(1); d%100 == 1 {
				logger.Warn("订阅者处理过慢，事件被丢弃", "type", n.typ.String(), "dropped", d)
			}
		}
	}
}

func elemType(eventType interface{}) (reflect.Type, error) {
	if eventType == nil {
		return nil, ErrInvalidEventType
	}
	typ := reflect.TypeOf(eventType)
	if typ.Kind() != reflect.Ptr {
		return nil, ErrNonPointerType
	}
	return typ.Elem(), nil
}
