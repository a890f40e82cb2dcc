package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"maker-bot-go/internal/config"
	"maker-bot-go/internal/exchange"
	"maker-bot-go/internal/logger"
	"maker-bot-go/internal/margin"
	"maker-bot-go/internal/models"
	"maker-bot-go/internal/performance"
	"maker-bot-go/internal/persistence"
	"maker-bot-go/internal/reconciler"
	"maker-bot-go/internal/reporter"
	"maker-bot-go/internal/supervisor"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	flag.Parse()

	// --- 初始化日志 (提前) ---
	// 为了在加载.env或配置时就能记录日志，先用默认配置初始化一个logger
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	// --- 加载 JSON 配置 ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}
	config.ApplyEnv(cfg)

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	if cfg.APIKey == "" || cfg.SecretKey == "" {
		logger.S().Fatal("错误：APIKEY 和 SECRET 环境变量必须被设置。")
	}

	// --- 初始化交易所 ---
	ex, err := exchange.New(cfg, exchange.Credentials{APIKey: cfg.APIKey, SecretKey: cfg.SecretKey}, logger.L())
	if err != nil {
		logger.S().Fatalf("初始化交易所失败: %v (可用: %v)", err, exchange.Names())
	}
	defer ex.Close()

	// --- 初始化持久化 ---
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.S().Fatalf("创建数据目录失败: %v", err)
	}
	repo, err := persistence.NewBadgerRepository(filepath.Join(cfg.DataDir, "baseline"))
	if err != nil {
		logger.S().Fatalf("初始化基准仓库失败: %v", err)
	}
	defer repo.Close()

	// --- 组装各组件 ---
	tracker := performance.NewTracker(repo, logger.S())
	margins := margin.New(ex, cfg, logger.S())
	policy := reconciler.PolicyRefresh
	if cfg.MarginMode() {
		policy = reconciler.PolicyCoverage
	}
	if cfg.ReconcilePolicy != "" {
		policy = reconciler.Policy(cfg.ReconcilePolicy)
	}
	rec := reconciler.New(ex, cfg.Symbol(), policy, logger.S())
	rep := reporter.New(os.Stdout, cfg.Base)

	sup, err := supervisor.New(cfg, ex, tracker, margins, rec, rep, logger.S())
	if err != nil {
		logger.S().Fatalf("初始化失败: %v", err)
	}

	// --- 启动并等待中断信号 ---
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
			logger.S().Errorf("运行结束: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.S().Info("收到退出信号，正在停止……")
	cancel()
	<-done
	logger.S().Info("机器人已成功停止。")
}
