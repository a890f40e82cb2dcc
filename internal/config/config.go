package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"maker-bot-go/internal/models"
)

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中
// Missing knobs fall back to defaults; credentials are read from the
// environment afterwards (see ApplyEnv).
func LoadConfig(path string) (*models.Config, error) {
	config := defaultConfig()

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// 没有配置文件时完全依赖默认值和环境变量
			return config, nil
		}
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	if err := validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv reads the credentials from the process environment (hydrated from
// .env by the caller) into the config. The keys match the original
// deployment: APIKEY and SECRET.
func ApplyEnv(cfg *models.Config) {
	cfg.APIKey = strings.TrimSpace(os.Getenv("APIKEY"))
	cfg.SecretKey = strings.TrimSpace(os.Getenv("SECRET"))
}

func defaultConfig() *models.Config {
	return &models.Config{
		Exchange: "bybit",
		Asset:    "PEPE",
		Base:     "USDT",
		FeeAsset: "USDT",
		Mode:     "spot",

		OrdersMax:          4,
		OrderAmountPercent: 0.1,
		SpreadPercent:      0.003,
		OrderGap:           1,
		SafetyMultiplier:   1.5,
		FeeReservePercent:  0.01,
		FeeReserveFloor:    5,
		IndexAsset:         "BTC",

		IntervalSec:     5,
		FailIntervalSec: 5,
		ReportTicks:     5,
		RefreshTicks:    10,

		DataDir: "data",
		LogConfig: models.LogConfig{
			Level:  "info",
			Output: "console",
		},
	}
}

func validate(cfg *models.Config) error {
	if cfg.Mode != "spot" && cfg.Mode != "margin" {
		return fmt.Errorf("未知的交易模式: %q (应为 spot 或 margin)", cfg.Mode)
	}
	if p := cfg.ReconcilePolicy; p != "" && p != "refresh" && p != "coverage" {
		return fmt.Errorf("未知的对账策略: %q (应为 refresh 或 coverage)", p)
	}
	if cfg.OrdersMax <= 0 {
		return fmt.Errorf("orders_max 必须为正数, 当前值: %d", cfg.OrdersMax)
	}
	if cfg.SpreadPercent <= 0 {
		return fmt.Errorf("spread_percent 必须为正数, 当前值: %f", cfg.SpreadPercent)
	}
	if cfg.OrderAmountPercent <= 0 || cfg.OrderAmountPercent > 1 {
		return fmt.Errorf("order_amount_percent 必须在 (0, 1] 区间内, 当前值: %f", cfg.OrderAmountPercent)
	}
	if cfg.SafetyMultiplier < 1 {
		return fmt.Errorf("safety_multiplier 不能小于1, 当前值: %f", cfg.SafetyMultiplier)
	}
	if cfg.IntervalSec <= 0 {
		return fmt.Errorf("interval_sec 必须为正数, 当前值: %d", cfg.IntervalSec)
	}
	if cfg.FailIntervalSec <= 0 {
		return fmt.Errorf("fail_interval_sec 必须为正数, 当前值: %d", cfg.FailIntervalSec)
	}
	if cfg.ReportTicks <= 0 {
		return fmt.Errorf("report_ticks 必须为正数, 当前值: %d", cfg.ReportTicks)
	}
	if cfg.RefreshTicks <= 0 {
		return fmt.Errorf("refresh_ticks 必须为正数, 当前值: %d", cfg.RefreshTicks)
	}
	return nil
}
