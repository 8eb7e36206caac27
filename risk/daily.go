package risk

// DailyState 单个会话日的账户状态。会话切换时整体替换为新实例，
// 旧实例只读保留用于历史报告，不在原地复用。
type DailyState struct {
	SessionDate       string
	StartEquity       float64
	LowEquity         float64
	RealizedPnLToday  float64
	RealizedLossToday float64 // 当日实现亏损累计（正数）
	TradeCount        int
	ConsecutiveLosses int
}

// NewDailyState 在会话首个事件处创建当日状态。
func NewDailyState(sessionDate string, startEquity float64) *DailyState {
	return &DailyState{
		SessionDate: sessionDate,
		StartEquity: startEquity,
		LowEquity:   startEquity,
	}
}

// ObserveEquity 更新当日最低权益。
func (d *DailyState) ObserveEquity(equity float64) {
	if equity < d.LowEquity {
		d.LowEquity = equity
	}
}

// ObserveFill 记录一笔成交的已实现盈亏，维护交易计数与连亏计数。
func (d *DailyState) ObserveFill(realizedPnL float64) {
	d.TradeCount++
	d.RealizedPnLToday += realizedPnL
	if realizedPnL < 0 {
		d.RealizedLossToday += -realizedPnL
		d.ConsecutiveLosses++
	} else if realizedPnL > 0 {
		d.ConsecutiveLosses = 0
	}
}

// LossUsed 当日亏损占用：起始权益相对当日最低（含当前）权益的回撤，下限 0。
func (d *DailyState) LossUsed(currentEquity float64) float64 {
	low := d.LowEquity
	if currentEquity < low {
		low = currentEquity
	}
	used := d.StartEquity - low
	if used < 0 {
		return 0
	}
	return used
}

// SessionLossUsed 会话实现亏损占用：当日净实现盈亏的亏损部分。
func (d *DailyState) SessionLossUsed() float64 {
	if d.RealizedPnLToday < 0 {
		return -d.RealizedPnLToday
	}
	return 0
}
