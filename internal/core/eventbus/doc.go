// Package eventbus 实现进程内事件总线
//
// 事件按 Go 类型路由：Subscribe(new(types.ConnectionStateEvent)) 只会收到
// 该类型的事件。发射不阻塞，订阅者缓冲区满时事件被丢弃并计数告警。
//
// 应用层通过事件总线观察：
//   - types.ConnectionStateEvent  连接状态变化
//   - types.PresenceEvent         对端上下线
//   - types.MessageEvent          数据通道消息
//   - types.InviteAcceptedEvent   自己签发的邀请被接受
//
// Stateful 发射器会缓存最后一个事件，新订阅者立即收到该事件。
package eventbus
