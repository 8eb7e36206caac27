package risk

import "time"

// Metrics 单次评估周期的全部派生指标。每个事件都从当前完整状态重算，
// 不做可能漂移的增量修补。
type Metrics struct {
	AccountID string
	Timestamp time.Time

	Equity        float64
	RealizedPnL   float64
	UnrealizedPnL float64

	HighWaterMark    float64
	TrailingDrawdown float64
	DailyLossUsed    float64
	SessionLossUsed  float64

	OpenRisk             float64
	UnboundedRisk        bool // 存在未登记止损的仓位
	LargestPositionRisk  float64
	SmallestPositionRisk float64
	OpenContracts        int
	NewestRiskSymbol     string

	TradeCount        int
	ConsecutiveLosses int

	RecentRejects int
	FeedAge       time.Duration

	// 会话上下文，由引擎在评估前注入。
	InSession     bool
	SessionEndsIn time.Duration
	CalendarGap   bool
}
