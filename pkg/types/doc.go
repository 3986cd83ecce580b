// Package types 定义 TrustLink 的基础类型
//
// 本包包含在信任存储、信令邮箱与数据通道上传输的全部记录结构：
//   - Invite: 一次性签名邀请
//   - TrustRecord: 双方信任记录
//   - PeerSignal: 信令消息（offer / answer / ice-candidate）
//   - PresenceRecord: 在线状态记录
//   - Envelope: 数据通道消息封装
//
// 以及连接状态、事件与错误定义。所有记录都可直接 JSON 序列化。
package types
