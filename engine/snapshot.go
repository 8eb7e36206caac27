package engine

import (
	"time"

	"combine-guard-go/enforce"
	"combine-guard-go/risk"
)

// ComplianceSnapshot 每个评估周期发布的不可变合规快照。只有引擎写，
// 消费方拿到的是副本，不回写。
type ComplianceSnapshot struct {
	AccountID string       `json:"account_id"`
	Timestamp time.Time    `json:"timestamp"`
	State     AccountState `json:"state"`

	Equity        float64 `json:"equity"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`

	HighWaterMark       float64 `json:"high_water_mark"`
	TrailingDrawdown    float64 `json:"trailing_dd"`
	KillswitchThreshold float64 `json:"killswitch_threshold"`
	RemainingMLL        float64 `json:"remaining_mll"`

	DailyLossUsed   float64 `json:"daily_loss_used"`
	DailyLossCap    float64 `json:"daily_loss_cap"`
	SessionLossUsed float64 `json:"session_loss_used"`

	OpenRisk      float64 `json:"open_risk"`
	OpenRiskCap   float64 `json:"open_risk_cap"`
	OpenContracts int     `json:"open_contracts"`

	TradeCount        int `json:"trade_count"`
	ConsecutiveLosses int `json:"consecutive_losses"`

	SessionDate string `json:"session_date"`
	InSession   bool   `json:"in_session"`

	Rules         map[risk.RuleID]risk.RuleStatus `json:"rules_status"`
	ActiveActions []enforce.Action                `json:"active_actions"`
}

// clone 深拷贝可变部分，发布后的快照不共享底层 map/slice。
func (s ComplianceSnapshot) clone() ComplianceSnapshot {
	out := s
	out.Rules = make(map[risk.RuleID]risk.RuleStatus, len(s.Rules))
	for k, v := range s.Rules {
		out.Rules[k] = v
	}
	out.ActiveActions = append([]enforce.Action(nil), s.ActiveActions...)
	return out
}
