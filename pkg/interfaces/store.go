package interfaces

import "context"

// TrustStore 定义共享信任存储接口
//
// 层级化、最终一致的键值存储，同时用作持久信任账本与信令邮箱。
// 路径以 "/" 分隔，"~<id>/..." 为身份私有命名空间。
// 存储没有加锁原语，调用方依赖幂等、单调的写入。
type TrustStore interface {
	// Put 写入（覆盖）路径上的值
	Put(ctx context.Context, path string, value []byte) error

	// GetOnce 读取一次路径上的值
	//
	// 值（尚）不存在时返回 types.ErrNotFound。
	GetOnce(ctx context.Context, path string) ([]byte, error)

	// Delete 删除路径上的值
	Delete(ctx context.Context, path string) error

	// SubscribeMap 订阅路径下所有直接子键
	//
	// 订阅建立后先回放已有子键，随后按子键推送整值替换事件。
	SubscribeMap(ctx context.Context, path string) (StoreSubscription, error)
}

// StoreEvent 存储子键变化事件
type StoreEvent struct {
	// Path 完整路径
	Path string
	// Key 子键名
	Key string
	// Value 新值（删除时为 nil）
	Value []byte
	// Deleted 是否为删除事件
	Deleted bool
}

// StoreSubscription 可取消的存储订阅
type StoreSubscription interface {
	// Events 返回事件通道，订阅关闭后通道关闭
	Events() <-chan StoreEvent
	// Close 取消订阅
	Close() error
}
