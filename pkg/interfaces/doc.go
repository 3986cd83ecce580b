// Package interfaces 定义 TrustLink 公共接口
//
// 外部协作者（信任存储、密码服务、传输层）与核心组件
// （邀请协议、信令通道、连接管理、在线状态）均以接口形式定义，
// 由 internal/ 下的实现通过 fx 注入。
package interfaces
