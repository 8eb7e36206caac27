package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"combine-guard-go/journal"
)

// 审计报表：汇总指定账户的强制动作与违规记录，排查赛后争议用。
func main() {
	dbPath := flag.String("db", "logs/guard_audit.db", "审计库路径")
	account := flag.String("account", "", "账户 ID（必填）")
	limit := flag.Int("limit", 100, "每类记录的最大条数")
	sinceStr := flag.String("since", "", "仅统计此时间之后的记录 (RFC3339)")
	flag.Parse()

	if *account == "" {
		fmt.Fprintln(os.Stderr, "必须指定 -account")
		os.Exit(1)
	}
	var since time.Time
	if *sinceStr != "" {
		var err error
		since, err = time.Parse(time.RFC3339Nano, *sinceStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "解析 since 参数失败: %v\n", err)
			os.Exit(1)
		}
	}

	jnl, err := journal.NewSQLite(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法打开审计库: %v\n", err)
		os.Exit(1)
	}
	defer jnl.Close()

	breaches, err := jnl.RecentBreaches(*account, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "查询违规记录失败: %v\n", err)
		os.Exit(1)
	}
	actions, err := jnl.ActionsFor(*account, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "查询动作记录失败: %v\n", err)
		os.Exit(1)
	}

	byRule := map[string]int{}
	fmt.Printf("== 违规记录 %s ==\n", *account)
	for _, b := range breaches {
		if !since.IsZero() && b.At.Before(since) {
			continue
		}
		byRule[string(b.Rule)]++
		fmt.Printf("%s  %-18s %-8s %s\n",
			b.At.Format(time.RFC3339), b.Rule, b.Status, b.Detail)
	}

	failed := 0
	fmt.Printf("\n== 强制动作 %s ==\n", *account)
	for _, a := range actions {
		if !since.IsZero() && a.IssuedAt.Before(since) {
			continue
		}
		note := ""
		if a.Permanent {
			note = " [PERMANENT]"
		}
		if a.Outcome == "FAILED" {
			failed++
			note += " [需人工核实]"
		}
		fmt.Printf("%s  %-10s rule=%-18s attempts=%d outcome=%s%s\n",
			a.IssuedAt.Format(time.RFC3339), a.Kind, a.Rule, a.Attempts, a.Outcome, note)
	}

	fmt.Println("\n== 汇总 ==")
	for rule, n := range byRule {
		fmt.Printf("%-18s %d\n", rule, n)
	}
	if failed > 0 {
		fmt.Printf("失败动作: %d（需人工核实 broker 侧状态）\n", failed)
	}
}
