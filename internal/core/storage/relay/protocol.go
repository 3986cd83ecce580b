// Package relay 通过 websocket 共享信任存储
//
// Server 将任意 interfaces.TrustStore 暴露为 websocket 端点；
// Client 实现 interfaces.TrustStore，把请求转发给 Server。
// 多个进程连接同一个 Server 即共享同一份信任账本与信令邮箱。
//
// # 帧格式
//
// 所有帧均为 JSON 文本帧：
//
//	请求 {"id":1,"op":"put","path":"trust/a:b","value":"..."}
//	响应 {"id":1,"ok":true}
//	事件 {"sub":7,"event":{"path":"mailbox/b/x","key":"x","value":"..."}}
//
// op 取值：put、get、delete、sub、unsub。
package relay

import (
	"errors"

	"github.com/dep2p/go-trustlink/pkg/types"
)

// 请求操作
const (
	opPut    = "put"
	opGet    = "get"
	opDelete = "delete"
	opSub    = "sub"
	opUnsub  = "unsub"
)

// 响应错误码
const (
	codeNotFound    = "not_found"
	codeInvalidPath = "invalid_path"
	codeRateLimited = "rate_limited"
	codeInternal    = "internal"
)

// ErrRemote 中继返回的未分类错误
var ErrRemote = errors.New("relay: remote error")

// request 客户端请求帧
type request struct {
	ID    uint64 `json:"id"`
	Op    string `json:"op"`
	Path  string `json:"path,omitempty"`
	Value []byte `json:"value,omitempty"`
	Sub   uint64 `json:"sub,omitempty"`
}

// response 服务端响应帧
type response struct {
	ID    uint64 `json:"id,omitempty"`
	OK    bool   `json:"ok,omitempty"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
	Value []byte `json:"value,omitempty"`

	Sub   uint64     `json:"sub,omitempty"`
	Event *wireEvent `json:"event,omitempty"`
}

// wireEvent 存储事件的线上表示
type wireEvent struct {
	Path    string `json:"path"`
	Key     string `json:"key"`
	Value   []byte `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// codeOf 将错误映射为错误码
func codeOf(err error, invalidPath error) string {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return codeNotFound
	case errors.Is(err, invalidPath):
		return codeInvalidPath
	case errors.Is(err, types.ErrRateLimitExceeded):
		return codeRateLimited
	default:
		return codeInternal
	}
}
