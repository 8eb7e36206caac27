package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"combine-guard-go/api"
	"combine-guard-go/calendar"
	"combine-guard-go/config"
	"combine-guard-go/enforce"
	"combine-guard-go/engine"
	"combine-guard-go/gateway"
	"combine-guard-go/infrastructure/alert"
	"combine-guard-go/infrastructure/logger"
	"combine-guard-go/journal"
	"combine-guard-go/metrics"
)

func main() {
	cfgPath := flag.String("config", "configs/guard.yaml", "配置文件路径")
	dryRun := flag.Bool("dryRun", false, "不向 broker 发送强制命令，只记日志")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	appLog, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer appLog.Close()

	cal, err := calendar.Load(cfg.CalendarPath)
	if err != nil {
		appLog.Fatal("加载交易日历失败", zap.Error(err))
	}

	var jnl journal.Journal
	if cfg.Journal.Path != "" {
		jnl, err = journal.NewSQLite(cfg.Journal.Path)
		if err != nil {
			appLog.Fatal("打开审计库失败", zap.Error(err))
		}
		defer jnl.Close()
	}

	alerts := buildAlerts(cfg.Alerting)

	commander := gateway.NewRESTCommander(
		cfg.Broker.BaseURL,
		cfg.Broker.Username,
		cfg.Broker.APIKey,
		cfg.Broker.RatePerSec,
		cfg.Broker.RateBurst,
	)
	var cmd enforce.Commander = commander
	if *dryRun {
		cmd = dryRunCommander{logger: appLog.Logger}
	}

	disp := enforce.NewDispatcher(cmd, cfg.Enforcement.Retry, cfg.Enforcement.Cooldown, alerts, jnl, appLog.Logger)

	accounts := make([]engine.AccountConfig, 0, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		accounts = append(accounts, engine.AccountConfig{
			AccountID:       a.ID,
			Limits:          a.Limits,
			Specs:           cfg.Specs(),
			Lateness:        a.Lateness,
			StaleCheckEvery: a.StaleCheckEvery,
		})
	}
	eng, err := engine.New(accounts, cal, disp, jnl, alerts, appLog.Logger)
	if err != nil {
		appLog.Fatal("初始化引擎失败", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		appLog.Fatal("启动引擎失败", zap.Error(err))
	}

	if cfg.Metrics.Addr != "" {
		metrics.StartMetricsServer(cfg.Metrics.Addr)
	}

	srv := api.NewServer(cfg.API.Addr, eng, jnl, appLog.Logger)
	srv.Start()

	if cfg.StatusPath != "" {
		sw := engine.NewStatusWriter(cfg.StatusPath, 5*time.Second, appLog.Logger)
		go sw.Run(ctx, eng.SubscribeSnapshots())
	}

	feed := gateway.NewFeedClient(cfg.Broker.UserHubURL, commander, eng, appLog)
	go func() {
		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			appLog.Error("用户事件流退出", zap.Error(err))
			cancel()
		}
	}()

	// 配置热加载：只接受阈值变更，其余字段需要重启生效
	watcher := config.Watcher{Path: *cfgPath, Cooldown: 2 * time.Second}
	go func() {
		err := watcher.Start(ctx, func(next config.GuardConfig) {
			for _, a := range next.Accounts {
				if err := eng.UpdateLimits(a.ID, a.Limits); err != nil {
					appLog.Warn("阈值热更新被拒绝",
						zap.String("account", a.ID),
						zap.Error(err))
				}
			}
		})
		if err != nil && ctx.Err() == nil {
			appLog.Warn("配置监听退出", zap.Error(err))
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	go watchdogLoop(ctx)

	appLog.Info("combine guard running",
		zap.String("env", cfg.Env),
		zap.Int("accounts", len(accounts)),
		zap.Bool("dryRun", *dryRun))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	cancel()
	if err := eng.Stop(10 * time.Second); err != nil {
		appLog.Warn("引擎关闭超时", zap.Error(err))
	}
	appLog.Info("combine guard stopped")
}

func buildAlerts(cfg config.AlertConfig) *alert.Manager {
	channels := []alert.Channel{alert.NewConsoleChannel("console")}
	if cfg.WebhookURL != "" {
		wh := alert.NewWebhookChannel("webhook", cfg.WebhookURL)
		if cfg.Mention != "" {
			wh.SetMention(cfg.Mention)
		}
		channels = append(channels, wh)
	}
	throttle := cfg.Throttle
	if throttle <= 0 {
		throttle = time.Minute
	}
	return alert.NewManager(channels, throttle)
}

// watchdogLoop 按 systemd 的 WatchdogSec 周期喂狗；未启用时直接返回。
func watchdogLoop(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}

// dryRunCommander 演练模式：记录将要执行的动作但不触碰 broker。
type dryRunCommander struct {
	logger *zap.Logger
}

func (d dryRunCommander) DisableTrading(ctx context.Context, accountID string) error {
	d.logger.Warn("dry-run: disable trading", zap.String("account", accountID))
	return nil
}

func (d dryRunCommander) FlattenAll(ctx context.Context, accountID, symbol string) error {
	d.logger.Warn("dry-run: flatten",
		zap.String("account", accountID),
		zap.String("symbol", symbol))
	return nil
}

func (d dryRunCommander) Cooldown(ctx context.Context, accountID string, dur time.Duration) error {
	d.logger.Warn("dry-run: cooldown",
		zap.String("account", accountID),
		zap.Duration("duration", dur))
	return nil
}
