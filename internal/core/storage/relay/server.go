package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-trustlink/internal/core/storage"
	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/lib/log"
	"github.com/dep2p/go-trustlink/pkg/types"
)

var logger = log.Logger("storage/relay")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	maxFrameSize = 1 << 20
)

// Server 中继存储服务端
type Server struct {
	store    interfaces.TrustStore
	upgrader websocket.Upgrader

	// reqRate 与 reqBurst 为单连接请求限速，reqRate 为 0 时不限制
	reqRate  rate.Limit
	reqBurst int

	mu     sync.Mutex
	conns  map[*serverConn]struct{}
	closed bool

	// OnConnChange 连接数变化回调（指标使用），可为 nil
	OnConnChange func(active int)
}

// ServerOption 服务端选项
type ServerOption func(*Server)

// WithRequestLimit 限制每个连接的请求速率
//
// 超限的请求直接返回 rate_limited 错误码，连接保持打开。
func WithRequestLimit(r rate.Limit, burst int) ServerOption {
	return func(s *Server) {
		s.reqRate = r
		s.reqBurst = burst
	}
}

// NewServer 创建中继服务端
func NewServer(store interfaces.TrustStore, opts ...ServerOption) *Server {
	s := &Server{
		store: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*serverConn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP 升级为 websocket 并处理请求
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("websocket 升级失败", "remote", r.RemoteAddr, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &serverConn{
		srv:    s,
		ws:     ws,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[uint64]interfaces.StoreSubscription),
	}
	if s.reqRate > 0 {
		c.limiter = rate.NewLimiter(s.reqRate, s.reqBurst)
	}
	if !s.track(c) {
		_ = ws.Close()
		cancel()
		return
	}
	logger.Debug("中继连接建立", "remote", r.RemoteAddr)

	go c.pingLoop()
	c.readLoop()

	c.shutdown()
	s.untrack(c)
	logger.Debug("中继连接断开", "remote", r.RemoteAddr)
}

// Close 断开所有连接
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	conns := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.shutdown()
	}
	return nil
}

func (s *Server) track(c *serverConn) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.conns[c] = struct{}{}
	n := len(s.conns)
	s.mu.Unlock()
	if s.OnConnChange != nil {
		s.OnConnChange(n)
	}
	return true
}

func (s *Server) untrack(c *serverConn) {
	s.mu.Lock()
	delete(s.conns, c)
	n := len(s.conns)
	s.mu.Unlock()
	if s.OnConnChange != nil {
		s.OnConnChange(n)
	}
}

// serverConn 单个客户端连接
type serverConn struct {
	srv    *Server
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	// limiter 请求限速器（可为 nil）
	limiter *rate.Limiter

	writeMu sync.Mutex

	subMu sync.Mutex
	subs  map[uint64]interfaces.StoreSubscription

	once sync.Once
}

func (c *serverConn) readLoop() {
	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req request
		if err := c.ws.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("读取请求失败", "error", err)
			}
			return
		}
		c.handle(&req)
	}
}

func (c *serverConn) handle(req *request) {
	resp := response{ID: req.ID}
	var (
		err   error
		start func()
	)

	if c.limiter != nil && req.Op != opUnsub && !c.limiter.Allow() {
		resp.Code = codeRateLimited
		resp.Error = types.ErrRateLimitExceeded.Error()
		c.write(&resp)
		return
	}

	switch req.Op {
	case opPut:
		err = c.srv.store.Put(c.ctx, req.Path, req.Value)
	case opGet:
		resp.Value, err = c.srv.store.GetOnce(c.ctx, req.Path)
	case opDelete:
		err = c.srv.store.Delete(c.ctx, req.Path)
	case opSub:
		start, err = c.subscribe(req.Sub, req.Path)
	case opUnsub:
		c.unsubscribe(req.Sub)
	default:
		err = ErrRemote
	}

	if err != nil {
		resp.Code = codeOf(err, storage.ErrInvalidPath)
		resp.Error = err.Error()
	} else {
		resp.OK = true
	}
	c.write(&resp)
	if start != nil {
		go start()
	}
}

// subscribe 建立订阅，返回的 start 在响应帧写出后启动事件转发
func (c *serverConn) subscribe(id uint64, path string) (func(), error) {
	sub, err := c.srv.store.SubscribeMap(c.ctx, path)
	if err != nil {
		return nil, err
	}

	c.subMu.Lock()
	if old, ok := c.subs[id]; ok {
		_ = old.Close()
	}
	c.subs[id] = sub
	c.subMu.Unlock()

	return func() {
		for ev := range sub.Events() {
			c.write(&response{Sub: id, Event: &wireEvent{
				Path:    ev.Path,
				Key:     ev.Key,
				Value:   ev.Value,
				Deleted: ev.Deleted,
			}})
		}
	}, nil
}

func (c *serverConn) unsubscribe(id uint64) {
	c.subMu.Lock()
	sub, ok := c.subs[id]
	delete(c.subs, id)
	c.subMu.Unlock()
	if ok {
		_ = sub.Close()
	}
}

func (c *serverConn) write(resp *response) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(resp); err != nil {
		logger.Debug("写入响应失败", "error", err)
		c.fail()
	}
}

func (c *serverConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.fail()
				return
			}
		}
	}
}

// fail 写失败时中断读循环
func (c *serverConn) fail() {
	c.cancel()
	_ = c.ws.Close()
}

func (c *serverConn) shutdown() {
	c.once.Do(func() {
		c.cancel()
		c.subMu.Lock()
		for id, sub := range c.subs {
			_ = sub.Close()
			delete(c.subs, id)
		}
		c.subMu.Unlock()
		_ = c.ws.Close()
	})
}
