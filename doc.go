// Package trustlink 提供基于邀请信任的点对点数据通道
//
// 两个身份通过带外传递的邀请建立互信，随后以共享的最终一致存储作为信令邮箱
// 协商 WebRTC 数据通道，并通过心跳互相感知在线状态。
//
// # 快速开始
//
//	import "github.com/dep2p/go-trustlink"
//
//	// 1. 创建并启动会话
//	sess, err := trustlink.New(
//	    trustlink.WithIdentityFile("alice.pem"),
//	    trustlink.WithRelay("ws://127.0.0.1:7000/store"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := sess.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer sess.Close()
//
//	// 2. 签发邀请，把链接交给对方
//	inv, _ := sess.GenerateInvite(ctx, 0)
//	fmt.Println(sess.InviteLink(inv))
//
//	// 3. 对方接受后建立连接并发送消息
//	sess.Connect(ctx, peerID)
//	sess.WaitConnected(ctx, peerID)
//	sess.SendMessage(ctx, peerID, []byte("hello"))
//
// # 组件结构
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│  入口层        Session  trustlink.New() / Start() / Close()     │
//	├─────────────────────────────────────────────────────────────────┤
//	│  协议层        invite   signaling   presence                    │
//	├─────────────────────────────────────────────────────────────────┤
//	│  核心层        connmgr  transport  storage  identity  crypto    │
//	│               eventbus metrics                                 │
//	└─────────────────────────────────────────────────────────────────┘
//
// 每个会话拥有独立的 fx 容器，同一进程内可运行多个互相隔离的会话
// （测试中两个会话共享一个内存存储与一个回环网络）。
//
// # 事件
//
// SubscribeEvents 订阅 pkg/types 中的事件类型：
//
//   - types.ConnectionStateEvent: 连接状态变化
//   - types.MessageEvent: 收到对端消息
//   - types.PresenceEvent: 对端上下线
//   - types.InviteAcceptedEvent: 本地签发的邀请被接受
package trustlink
