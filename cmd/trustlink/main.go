// Package main 提供 trustlink 命令行入口
//
// 子命令：
//
//	trustlink init   --identity alice.pem --nickname alice
//	trustlink invite --identity alice.pem --relay ws://127.0.0.1:7000/store
//	trustlink accept --identity bob.pem   --relay ws://127.0.0.1:7000/store <链接>
//	trustlink chat   --identity bob.pem   --relay ws://127.0.0.1:7000/store <对端ID>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dep2p/go-trustlink"
	"github.com/dep2p/go-trustlink/config"
	"github.com/dep2p/go-trustlink/internal/core/identity"
	"github.com/dep2p/go-trustlink/pkg/lib/log"
)

var logger = log.Logger("trustlink/cmd")

const defaultIdentityFile = "trustlink.pem"

// commonFlags 所有子命令共享的参数
//
// 命令行参数覆盖环境变量，环境变量覆盖配置文件。
type commonFlags struct {
	configFile   string
	identityFile string
	nickname     string
	relayURL     string
	dataDir      string
	debugAddr    string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configFile, "config", "", "配置文件路径（JSON）")
	fs.StringVar(&c.identityFile, "identity", defaultIdentityFile, "身份密钥文件路径（PEM）")
	fs.StringVar(&c.nickname, "nickname", "", "昵称，写入签发的邀请")
	fs.StringVar(&c.relayURL, "relay", "", "共享存储中继地址，例如 ws://127.0.0.1:7000/store")
	fs.StringVar(&c.dataDir, "data-dir", "", "本地 BadgerDB 数据目录（单机多进程调试）")
	fs.StringVar(&c.debugAddr, "debug-addr", "", "诊断服务监听地址（自省、pprof、/metrics），例如 127.0.0.1:6060")
}

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, c *commonFlags, args []string) error
}

var commands = []command{
	{"init", "创建身份密钥文件", runInit},
	{"invite", "签发邀请并等待对方接受", runInvite},
	{"accept", "接受邀请链接，建立信任关系", runAccept},
	{"chat", "与已信任的对端建立数据通道并收发消息", runChat},
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printHelp()
		return nil
	}
	if args[0] == "version" || args[0] == "--version" {
		fmt.Println(trustlink.VersionInfo())
		return nil
	}

	for _, cmd := range commands {
		if cmd.name != args[0] {
			continue
		}
		fs := flag.NewFlagSet(cmd.name, flag.ContinueOnError)
		var c commonFlags
		c.register(fs)
		extra := registerExtra(cmd.name, fs)
		if err := fs.Parse(args[1:]); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return nil
			}
			return err
		}
		applyEnvOverrides(&c, fs)
		extra.apply()

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return cmd.run(ctx, &c, fs.Args())
	}
	printHelp()
	return fmt.Errorf("未知子命令 %q", args[0])
}

func printHelp() {
	fmt.Println("TrustLink - 基于邀请信任的点对点数据通道")
	fmt.Println()
	fmt.Println("用法: trustlink <子命令> [参数]")
	fmt.Println()
	fmt.Println("子命令:")
	for _, cmd := range commands {
		fmt.Printf("  %-8s %s\n", cmd.name, cmd.usage)
	}
	fmt.Printf("  %-8s %s\n", "version", "显示版本信息")
	fmt.Println()
	fmt.Println("通用参数:")
	fs := flag.NewFlagSet("trustlink", flag.ContinueOnError)
	var c commonFlags
	c.register(fs)
	fs.SetOutput(os.Stdout)
	fs.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  TRUSTLINK_CONFIG, TRUSTLINK_IDENTITY, TRUSTLINK_RELAY, TRUSTLINK_DEBUG_ADDR")
	fmt.Println("  TRUSTLINK_LOG_LEVEL, TRUSTLINK_LOG_FORMAT")
}

// ════════════════════════════════════════════════════════════════════════════
//                              会话
// ════════════════════════════════════════════════════════════════════════════

// startSession 按参数创建并启动会话
func startSession(ctx context.Context, c *commonFlags) (*trustlink.Session, func(), error) {
	opts := []trustlink.Option{
		trustlink.WithIdentityFile(c.identityFile),
	}
	if c.configFile != "" {
		opts = append(opts, trustlink.WithConfigFile(c.configFile))
	}
	if c.nickname != "" {
		opts = append(opts, trustlink.WithNickname(c.nickname))
	}
	if c.relayURL != "" {
		opts = append(opts, trustlink.WithRelay(c.relayURL))
	}
	if c.dataDir != "" {
		opts = append(opts, trustlink.WithDataDir(c.dataDir))
	}
	if c.debugAddr != "" {
		opts = append(opts, trustlink.WithIntrospectAddr(c.debugAddr))
	}

	sess, err := trustlink.New(opts...)
	if err != nil {
		return nil, nil, err
	}
	if sess.Config().Store.Backend == config.StoreMemory {
		fmt.Fprintln(os.Stderr, "警告: 未指定 --relay 或 --data-dir，信任存储仅存在于本进程内存")
	}
	if err := sess.Start(ctx); err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		if err := sess.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "关闭会话: %v\n", err)
		}
	}
	return sess, cleanup, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              init
// ════════════════════════════════════════════════════════════════════════════

func runInit(_ context.Context, c *commonFlags, _ []string) error {
	id, created, err := identity.LoadOrCreate(c.identityFile, c.nickname)
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("已创建身份: %s\n", c.identityFile)
	} else {
		fmt.Printf("身份已存在: %s\n", c.identityFile)
	}
	fmt.Printf("  ID:     %s\n", id.ID())
	fmt.Printf("  昵称:   %s\n", id.Nickname())
	fmt.Printf("  加密键: %s\n", id.EncryptionKey())
	return nil
}
