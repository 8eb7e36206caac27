// Package metrics provides Prometheus metrics for the guardrail engine
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Equity 账户权益
	Equity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "guard_equity_dollars",
		Help: "Current account equity",
	}, []string{"account"})

	// TrailingDrawdown 距高水位的回撤
	TrailingDrawdown = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "guard_trailing_drawdown_dollars",
		Help: "Drawdown from the high water mark",
	}, []string{"account"})

	// DailyLossUsed 当日亏损额度已用
	DailyLossUsed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "guard_daily_loss_used_dollars",
		Help: "Daily loss budget consumed this session",
	}, []string{"account"})

	// OpenRisk 当前开放风险
	OpenRisk = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "guard_open_risk_dollars",
		Help: "Aggregate stop-distance risk of open positions",
	}, []string{"account"})

	// RuleStatus 规则状态（0=OK 1=WARNING 2=BREACH）
	RuleStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "guard_rule_status",
		Help: "Rule status per account: 0 ok, 1 warning, 2 breach",
	}, []string{"account", "rule"})

	// AccountState 账户状态（0=ACTIVE 1=WARNING 2=DISABLED_SESSION 3=DISABLED_PERMANENT）
	AccountState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "guard_account_state",
		Help: "Account lifecycle state",
	}, []string{"account"})

	// ActionsIssued 已发出的强制动作
	ActionsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_actions_issued_total",
		Help: "Enforcement actions issued",
	}, []string{"account", "kind"})

	// ActionsFailed 重试耗尽的强制动作
	ActionsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_actions_failed_total",
		Help: "Enforcement actions that exhausted retries",
	}, []string{"account", "kind"})

	// EventsRejected 被拒绝的 feed 事件
	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_events_rejected_total",
		Help: "Feed events rejected during aggregation",
	}, []string{"account"})

	// FeedAge feed 静默时长
	FeedAge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "guard_feed_age_seconds",
		Help: "Seconds since the last feed event",
	}, []string{"account"})
)

// UpdateAccountMetrics 按快照刷新账户级指标
func UpdateAccountMetrics(account string, equity, trailingDD, dailyLossUsed, openRisk float64, state int) {
	Equity.WithLabelValues(account).Set(equity)
	TrailingDrawdown.WithLabelValues(account).Set(trailingDD)
	DailyLossUsed.WithLabelValues(account).Set(dailyLossUsed)
	OpenRisk.WithLabelValues(account).Set(openRisk)
	AccountState.WithLabelValues(account).Set(float64(state))
}

// UpdateRuleStatus 刷新单条规则的状态指标
func UpdateRuleStatus(account, rule string, status int) {
	RuleStatus.WithLabelValues(account, rule).Set(float64(status))
}

// IncrementActionIssued 记一次强制动作
func IncrementActionIssued(account, kind string) {
	ActionsIssued.WithLabelValues(account, kind).Inc()
}

// IncrementActionFailed 记一次重试耗尽
func IncrementActionFailed(account, kind string) {
	ActionsFailed.WithLabelValues(account, kind).Inc()
}

// StartMetricsServer 启动Prometheus指标服务器
func StartMetricsServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, nil)
	}()
}
