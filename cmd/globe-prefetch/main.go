// globe-prefetch 在无 GPU 的环境下沿相机路径运行瓦片调度，预热瓦片响应缓存。
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"globe-engine/config"
	"globe-engine/logger"
)

func main() {
	// 解析命令行参数
	configPath := flag.String("config", "", "配置文件路径（为空时合并 config/globe.toml 与 ./globe.toml）")
	healthAddr := flag.String("health", "", "gRPC 健康检查监听地址，覆盖配置中的 prefetch.health_addr")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadMerged()
	}
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *healthAddr != "" {
		cfg.Prefetch.HealthAddr = *healthAddr
	}

	// 初始化日志记录器
	l, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	logger.SetGlobalLogger(l)

	session := uuid.NewString()
	l.Info("预取会话 %s 开始", session)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var health *healthServer
	if cfg.Prefetch.HealthAddr != "" {
		health, err = startHealth(cfg.Prefetch.HealthAddr, l)
		if err != nil {
			log.Fatalf("启动健康检查失败: %v", err)
		}
		defer health.Stop()
	}

	r, err := newRunner(cfg, l)
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	report, err := r.Run(ctx)
	if cerr := r.Close(); cerr != nil {
		l.Warn("关闭资源失败: %v", cerr)
	}
	if err != nil {
		l.Error("预取会话 %s 失败: %v", session, err)
		os.Exit(1)
	}
	l.Info("预取会话 %s 完成: %s", session, report)
}
