package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/dep2p/go-trustlink/internal/core/storage"
	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/types"
)

// ErrDisconnected 与中继的连接已断开
var ErrDisconnected = errors.New("relay: disconnected")

// DialOptions 拨号选项
type DialOptions struct {
	// Attempts 最大拨号次数
	Attempts uint
	// Header 附加 HTTP 头
	Header http.Header
}

// Client 中继存储客户端
//
// 连接断开后所有请求返回 ErrDisconnected，订阅通道关闭；
// 客户端不自动重连，由上层重建会话。
type Client struct {
	ws  *websocket.Conn
	hub *storage.Hub

	nextID  atomic.Uint64
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan *response
	subs    map[uint64]string
	closed  bool

	done chan struct{}
	err  error
}

var _ interfaces.TrustStore = (*Client)(nil)

// Dial 连接中继，失败时指数退避重试
func Dial(ctx context.Context, url string, opts DialOptions) (*Client, error) {
	if opts.Attempts == 0 {
		opts.Attempts = 5
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
		conn, resp, err := dialer.DialContext(ctx, url, opts.Header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return conn, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(opts.Attempts),
	)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}

	c := &Client{
		ws:      ws,
		hub:     storage.NewHub(),
		pending: make(map[uint64]chan *response),
		subs:    make(map[uint64]string),
		done:    make(chan struct{}),
	}
	ws.SetReadLimit(maxFrameSize)
	ws.SetPingHandler(func(data string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	go c.readLoop()
	return c, nil
}

// Put 写入值
func (c *Client) Put(ctx context.Context, path string, value []byte) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	_, err := c.call(ctx, &request{Op: opPut, Path: path, Value: value})
	return err
}

// GetOnce 读取值，不存在时返回 types.ErrNotFound
func (c *Client) GetOnce(ctx context.Context, path string) ([]byte, error) {
	if err := storage.ValidatePath(path); err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, &request{Op: opGet, Path: path})
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// Delete 删除值
func (c *Client) Delete(ctx context.Context, path string) error {
	if err := storage.ValidatePath(path); err != nil {
		return err
	}
	_, err := c.call(ctx, &request{Op: opDelete, Path: path})
	return err
}

// SubscribeMap 订阅直接子键
func (c *Client) SubscribeMap(ctx context.Context, path string) (interfaces.StoreSubscription, error) {
	if err := storage.ValidatePath(path); err != nil {
		return nil, err
	}

	id := c.nextID.Add(1)
	key := subKey(id)
	sub, err := c.hub.Subscribe(ctx, key, nil)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.subs[id] = path
	c.mu.Unlock()

	if _, err := c.call(ctx, &request{Op: opSub, Path: path, Sub: id}); err != nil {
		c.forget(id)
		_ = sub.Close()
		return nil, err
	}

	go func() {
		select {
		case <-sub.Done():
		case <-c.done:
			return
		}
		if c.forget(id) {
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			defer cancel()
			_, _ = c.call(ctx, &request{Op: opUnsub, Sub: id})
		}
	}()
	return sub, nil
}

// Done 连接断开时关闭
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close 关闭连接
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.ws.Close()
	<-c.done
	return err
}

func (c *Client) call(ctx context.Context, req *request) (*response, error) {
	req.ID = c.nextID.Add(1)
	ch := make(chan *response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrDisconnected
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.ws.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	select {
	case resp := <-ch:
		return resp, respError(resp)
	case <-c.done:
		return nil, ErrDisconnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func respError(resp *response) error {
	if resp.OK {
		return nil
	}
	switch resp.Code {
	case codeNotFound:
		return types.ErrNotFound
	case codeInvalidPath:
		return storage.ErrInvalidPath
	case codeRateLimited:
		return types.ErrRateLimitExceeded
	default:
		return fmt.Errorf("%w: %s", ErrRemote, resp.Error)
	}
}

func (c *Client) readLoop() {
	defer c.teardown()
	for {
		var resp response
		if err := c.ws.ReadJSON(&resp); err != nil {
			c.err = err
			return
		}

		if resp.Event != nil {
			c.hub.Deliver(subKey(resp.Sub), interfaces.StoreEvent{
				Path:    resp.Event.Path,
				Key:     resp.Event.Key,
				Value:   resp.Event.Value,
				Deleted: resp.Event.Deleted,
			})
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		c.mu.Unlock()
		if ok {
			r := resp
			ch <- &r
		}
	}
}

func (c *Client) teardown() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	close(c.done)
	c.hub.Close()
	if c.err != nil && !websocket.IsCloseError(c.err, websocket.CloseNormalClosure) {
		logger.Debug("中继连接已断开", "error", c.err)
	}
}

// forget 移除订阅记录，返回是否存在
func (c *Client) forget(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[id]
	delete(c.subs, id)
	return ok
}

func subKey(id uint64) string {
	return fmt.Sprintf("sub-%d", id)
}
