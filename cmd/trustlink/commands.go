package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/lib/log"
	"github.com/dep2p/go-trustlink/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              invite
// ════════════════════════════════════════════════════════════════════════════

func runInvite(ctx context.Context, c *commonFlags, _ []string) error {
	sess, cleanup, err := startSession(ctx, c)
	if err != nil {
		return err
	}
	defer cleanup()

	sub, err := sess.SubscribeEvents(new(types.InviteAcceptedEvent), interfaces.BufSize(4))
	if err != nil {
		return err
	}
	defer sub.Close()

	inv, err := sess.GenerateInvite(ctx, extra.ttl)
	if err != nil {
		return fmt.Errorf("签发邀请失败: %w", err)
	}
	fmt.Println("邀请已签发，请通过可信渠道把链接交给对方:")
	fmt.Println()
	fmt.Printf("  %s\n", sess.InviteLink(inv))
	fmt.Println()
	fmt.Printf("有效期至: %s\n", inv.ExpiresAt.Local().Format("2006-01-02 15:04:05"))

	if !extra.wait {
		return nil
	}
	fmt.Println("等待对方接受，按 Ctrl+C 退出...")
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-sub.Out():
			if !ok {
				return nil
			}
			ev := raw.(types.InviteAcceptedEvent)
			if ev.InviteID != inv.ID {
				continue
			}
			fmt.Printf("邀请已被接受，对端 ID: %s\n", ev.Accepter)
			fmt.Printf("使用 trustlink chat %s 开始通信\n", ev.Accepter)
			return nil
		}
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              accept
// ════════════════════════════════════════════════════════════════════════════

func runAccept(ctx context.Context, c *commonFlags, args []string) error {
	if len(args) != 1 {
		return errors.New("用法: trustlink accept [参数] <邀请链接或ID>")
	}

	sess, cleanup, err := startSession(ctx, c)
	if err != nil {
		return err
	}
	defer cleanup()

	rec, err := sess.AcceptInvite(ctx, args[0])
	if err != nil {
		switch types.ClassOf(err) {
		case types.ClassTransient:
			return fmt.Errorf("邀请暂不可见，请稍后重试: %w", err)
		default:
			return fmt.Errorf("接受邀请失败: %w", err)
		}
	}

	peer, _, _ := rec.Peer(sess.ID())
	fmt.Printf("已建立信任关系，对端 ID: %s\n", peer)
	fmt.Printf("使用 trustlink chat %s 开始通信\n", peer)
	return nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              chat
// ════════════════════════════════════════════════════════════════════════════

func runChat(ctx context.Context, c *commonFlags, args []string) error {
	if len(args) != 1 {
		return errors.New("用法: trustlink chat [参数] <对端ID>")
	}
	peer := args[0]

	sess, cleanup, err := startSession(ctx, c)
	if err != nil {
		return err
	}
	defer cleanup()

	messages, err := sess.SubscribeEvents(new(types.MessageEvent), interfaces.BufSize(64))
	if err != nil {
		return err
	}
	defer messages.Close()
	states, err := sess.SubscribeEvents(new(types.ConnectionStateEvent), interfaces.BufSize(16))
	if err != nil {
		return err
	}
	defer states.Close()

	if err := sess.SetOnline(ctx); err != nil {
		logger.Warn("发布在线状态失败", "error", err)
	}
	if online, err := sess.IsOnline(ctx, peer); err == nil && !online {
		fmt.Println("对端当前不在线，连接将在其上线并发起或响应协商后建立")
	}

	fmt.Printf("正在连接 %s ...\n", log.TruncateID(peer, 12))
	if _, err := sess.Connect(ctx, peer); err != nil {
		return fmt.Errorf("发起连接失败: %w", err)
	}

	go printInbound(ctx, peer, messages, states)

	if err := sess.WaitConnected(ctx, peer); err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}
	fmt.Println("数据通道已打开，输入消息后回车发送，Ctrl+D 退出")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := sess.SendMessage(ctx, peer, []byte(line)); err != nil {
				fmt.Fprintf(os.Stderr, "发送失败: %v\n", err)
			}
		}
	}
}

// printInbound 打印对端消息与连接状态变化
func printInbound(ctx context.Context, peer string, messages, states interfaces.Subscription) {
	short := log.TruncateID(peer, 8)
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-messages.Out():
			if !ok {
				return
			}
			ev := raw.(types.MessageEvent)
			if ev.PeerID == peer {
				fmt.Printf("[%s] %s\n", short, ev.Payload)
			}
		case raw, ok := <-states.Out():
			if !ok {
				return
			}
			ev := raw.(types.ConnectionStateEvent)
			if ev.PeerID != peer {
				continue
			}
			switch ev.State {
			case types.ConnStateFailed:
				fmt.Printf("连接失败: %v\n", ev.Err)
			case types.ConnStateClosed:
				fmt.Println("对端已断开")
			}
		}
	}
}
