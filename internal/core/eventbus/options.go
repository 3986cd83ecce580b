package eventbus

import "github.com/dep2p/go-trustlink/pkg/interfaces"

// BufSize 设置订阅缓冲区大小，等价于 interfaces.BufSize
func BufSize(size int) interfaces.SubscriptionOpt {
	return interfaces.BufSize(size)
}

// Stateful 设置发射器为有状态模式，等价于 interfaces.Stateful
func Stateful() interfaces.EmitterOpt {
	return interfaces.Stateful()
}
