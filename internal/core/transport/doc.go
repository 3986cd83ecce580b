// Package transport 装配点对点传输层
//
// 传输层负责 SDP 协商、ICE 与可靠有序数据通道，对上层暴露
// interfaces.Transport。提供两种实现：
//
//   - webrtc：基于 pion/webrtc，真实网络
//   - memory：进程内回环网络，协商语义与 WebRTC 一致（测试、演示）
//
// # Fx 模块集成
//
//	app := fx.New(
//	    transport.Module(),
//	    fx.Invoke(func(t interfaces.Transport) {
//	        // 使用传输层
//	    }),
//	)
//
// 注入 name:"preset_transport" 的 interfaces.Transport 可替换默认的 webrtc 实现。
package transport
