// Package connmgr 实现按对端的连接状态机管理器
//
// # 状态机
//
// 每个远端身份至多一个存活的连接实例，状态如下：
//
//	NEW ──connect──▶ HAVE_LOCAL_OFFER ──answer + 通道打开──▶ CONNECTED
//	NEW ──offer────▶ HAVE_REMOTE_OFFER ──通道打开─────────▶ CONNECTED
//	任意非终态 ──失败 / 超时──▶ FAILED
//	任意非终态 ──关闭────────▶ CLOSED
//
// 状态迁移通过替换实例完成，同一对端的所有变更在该对端的锁内串行执行。
//
// # 并发 offer（glare）
//
// 双方同时 connect 时各自处于 HAVE_LOCAL_OFFER。收到对方 offer 后，
// ID 字典序较大的一方保留自己的 offer 并忽略对方的；
// 较小的一方丢弃自己的尝试，作为响应方应答对方的 offer。
//
// # ICE 候选缓冲
//
// 远端描述设置之前（或实例尚不存在时）到达的候选按对端缓冲，
// 设置远端描述后依次应用；缓冲有上限，超出时丢弃最旧的候选。
//
// # 信任门控
//
// 主动连接要求存在信任记录；来自未信任或已屏蔽对端的 offer 被丢弃。
package connmgr
