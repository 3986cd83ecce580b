// Package storage 实现共享信任存储（TrustStore）
//
// 信任存储是层级化、最终一致的键值存储，同时承载持久信任账本与信令邮箱。
//
// # 路径布局
//
//	~<issuer>/invites/<id>      签发方私有邀请记录
//	invites/<id>                公开邀请索引（接受方查找）
//	trust/<lo>:<hi>             信任记录，键为排序后的双方 ID
//	~<id>/blocked/<other>       屏蔽列表
//	mailbox/<target>/<nonce>    信令邮箱
//	presence/<id>               在线状态
//
// # 后端
//
//   - memory：进程内存储，可模拟复制延迟（测试、单进程演示）
//   - badger：BadgerDB 本地持久化
//   - relay：通过 websocket 连接 relay.Server 共享存储（多进程）
//
// 所有后端的 SubscribeMap 都先回放已有子键，再按写入顺序推送变化。
package storage
