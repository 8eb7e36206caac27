package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"combine-guard-go/config"
	"combine-guard-go/gateway"
)

// 应急工具：绕过引擎直接对账户强平并停用下单。
// 守护进程异常或 broker 卡单时的最后一道手动手段。
func main() {
	cfgPath := flag.String("config", "configs/guard.yaml", "配置文件路径")
	account := flag.String("account", "", "账户 ID（必填）")
	symbol := flag.String("symbol", "", "仅平指定合约，留空则全平")
	disable := flag.Bool("disable", true, "平仓后停用下单")
	flag.Parse()

	if *account == "" {
		fmt.Fprintln(os.Stderr, "必须指定 -account")
		os.Exit(1)
	}

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	cmd := gateway.NewRESTCommander(
		cfg.Broker.BaseURL,
		cfg.Broker.Username,
		cfg.Broker.APIKey,
		cfg.Broker.RatePerSec,
		cfg.Broker.RateBurst,
	)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Printf("🔸 强平 %s", *account)
	if *symbol != "" {
		fmt.Printf(" (%s)", *symbol)
	}
	fmt.Println("...")
	if err := cmd.FlattenAll(ctx, *account, *symbol); err != nil {
		log.Fatalf("强平失败: %v", err)
	}
	fmt.Println("✅ 持仓已平、挂单已撤")

	if *disable {
		fmt.Println("🔸 停用下单...")
		if err := cmd.DisableTrading(ctx, *account); err != nil {
			log.Fatalf("停用失败: %v", err)
		}
		fmt.Println("✅ 账户已停用")
	}
}
