// Package main 提供共享信任存储中继
//
// 中继把一个信任存储（BadgerDB 或内存）通过 websocket 暴露给多个 trustlink 进程，
// 作为邀请账本与信令邮箱的共享介质。
//
// 使用方法:
//
//	trustlink-relay -listen :7000 -data-dir ./relay-data -req-rate 200
//
// 客户端使用 --relay ws://<host>:7000/store 连接。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-trustlink"
	"github.com/dep2p/go-trustlink/internal/core/metrics"
	"github.com/dep2p/go-trustlink/internal/core/storage/badger"
	"github.com/dep2p/go-trustlink/internal/core/storage/memory"
	"github.com/dep2p/go-trustlink/internal/core/storage/relay"
	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/lib/log"
)

var logger = log.Logger("trustlink/relay")

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	listen := flag.String("listen", ":7000", "监听地址")
	dataDir := flag.String("data-dir", "", "BadgerDB 数据目录（为空时使用内存存储）")
	gcInterval := flag.Duration("gc-interval", 10*time.Minute, "BadgerDB 值日志回收间隔")
	reqRate := flag.Float64("req-rate", 200, "每个连接每秒允许的请求数（0 表示不限制）")
	reqBurst := flag.Int("req-burst", 400, "每个连接的请求突发上限")
	enableMetrics := flag.Bool("metrics", true, "在 /metrics 暴露 Prometheus 指标")
	showVersion := flag.Bool("version", false, "显示版本信息")
	flag.Parse()

	if *showVersion {
		fmt.Println(trustlink.VersionInfo())
		return nil
	}

	store, closeStore, err := openStore(*dataDir, *gcInterval)
	if err != nil {
		return fmt.Errorf("打开存储失败: %w", err)
	}

	srv := relay.NewServer(store, relay.WithRequestLimit(rate.Limit(*reqRate), *reqBurst))
	mux := http.NewServeMux()
	mux.Handle("/store", srv)
	if *enableMetrics {
		m := metrics.New("trustlink_relay")
		srv.OnConnChange = m.SetRelayClients
		mux.Handle("/metrics", m.Handler())
	}

	httpSrv := &http.Server{Addr: *listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	fmt.Printf("📦 %s\n", trustlink.VersionInfo())
	fmt.Printf("中继已启动: ws://%s/store\n", *listen)
	if *dataDir != "" {
		fmt.Printf("数据目录: %s\n", *dataDir)
	} else {
		fmt.Println("使用内存存储，进程退出后数据丢失")
	}
	fmt.Println("按 Ctrl+C 停止")
	logger.Info("中继已启动", "listen", *listen, "persistent", *dataDir != "")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		fmt.Println("\n正在关闭中继...")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = closeStore()
			return fmt.Errorf("监听失败: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return multierr.Combine(
		httpSrv.Shutdown(shutdownCtx),
		srv.Close(),
		closeStore(),
	)
}

// openStore 打开中继背后的信任存储
func openStore(dataDir string, gc time.Duration) (interfaces.TrustStore, func() error, error) {
	if dataDir == "" {
		s := memory.New()
		return s, s.Close, nil
	}
	s, err := badger.Open(badger.Config{Path: dataDir, GCInterval: gc})
	if err != nil {
		return nil, nil, err
	}
	s.Start()
	return s, s.Close, nil
}
