package connmgr

import "errors"

var (
	// ErrManagerClosed 连接管理器已关闭
	ErrManagerClosed = errors.New("connmgr: manager closed")

	// ErrNoConnection 与对端没有连接实例
	ErrNoConnection = errors.New("connmgr: no connection")

	// ErrNilTransport 未提供传输层
	ErrNilTransport = errors.New("connmgr: nil transport")

	// ErrNilSignaling 未提供信令通道
	ErrNilSignaling = errors.New("connmgr: nil signaling channel")
)
