package risk

import (
	"fmt"
	"time"

	"combine-guard-go/gateway"
)

// EventSink 结构化事件记录回调。
type EventSink func(event string, fields map[string]interface{})

// Aggregator 从原始账户/仓位/订单事件派生风控指标。
// 单账户实例，调用方负责串行化。
type Aggregator struct {
	accountID string
	specs     map[string]ContractSpec

	hwm     HighWaterMark
	daily   *DailyState
	history []*DailyState

	book *OpenRiskBook

	equity     float64
	realized   float64
	unrealized float64

	lastEventTS time.Time // 已应用事件的最大 feed 时间戳
	lastArrival time.Time // 最近一次事件到达的墙钟时间

	rejects      []time.Time
	rejectWindow time.Duration

	clock Clock
	sink  EventSink
}

// NewAggregator 创建聚合器。specs 提供合约元数据，缺失的合约事件会被拒绝。
func NewAggregator(accountID string, startBalance float64, specs []ContractSpec, sink EventSink) *Aggregator {
	m := make(map[string]ContractSpec, len(specs))
	for _, s := range specs {
		m[s.Symbol] = s
	}
	return &Aggregator{
		accountID:    accountID,
		specs:        m,
		hwm:          HighWaterMark{Value: startBalance},
		book:         NewOpenRiskBook(),
		equity:       startBalance,
		rejectWindow: time.Minute,
		clock:        NowUTC,
		sink:         sink,
	}
}

// SetClock 注入测试时钟。
func (a *Aggregator) SetClock(c Clock) { a.clock = c }

// EnsureSession 保证当日状态对应给定的会话日。跨入新会话时旧实例转入历史、
// 新实例替换之；同一会话日重复调用是幂等的（重复边界事件不会二次重置）。
func (a *Aggregator) EnsureSession(sessionDate string) bool {
	if a.daily != nil && a.daily.SessionDate == sessionDate {
		return false
	}
	if a.daily != nil {
		a.history = append(a.history, a.daily)
	}
	a.daily = NewDailyState(sessionDate, a.equity)
	a.logEvent("session_reset", map[string]interface{}{
		"account":      a.accountID,
		"session_date": sessionDate,
		"start_equity": a.equity,
	})
	return true
}

// SessionDate 当前会话日，尚无状态时为空串。
func (a *Aggregator) SessionDate() string {
	if a.daily == nil {
		return ""
	}
	return a.daily.SessionDate
}

// History 已结束会话的只读历史。
func (a *Aggregator) History() []*DailyState { return a.history }

// HWM 当前高水位。
func (a *Aggregator) HWM() HighWaterMark { return a.hwm }

// AdminResetHWM 账户再注资时的管理重置。
func (a *Aggregator) AdminResetHWM(equity float64, ts time.Time) {
	a.hwm = AdminReset(equity, ts)
	a.logEvent("hwm_admin_reset", map[string]interface{}{
		"account": a.accountID,
		"equity":  equity,
	})
}

// Apply 应用一个事件并返回重算后的指标。被拒绝的事件返回非 nil 错误，
// 同时仍返回当前有效指标；拒绝计入 connectivity 预警窗口，绝不静默丢弃。
func (a *Aggregator) Apply(ev gateway.Event) (Metrics, error) {
	now := a.clock.Now()
	a.lastArrival = now

	var applyErr error
	switch ev.Kind {
	case gateway.EventEquity:
		a.applyEquity(ev.Equity)
	case gateway.EventPosition:
		applyErr = a.applyPosition(ev.Position)
	case gateway.EventFill:
		a.applyFill(ev.Fill)
	case gateway.EventOrderAck:
		// 回执只刷新 feed 新鲜度；被拒订单记录到事件流。
		if ev.OrderAck != nil && ev.OrderAck.Status == "REJECTED" {
			a.logEvent("order_rejected", map[string]interface{}{
				"account":  a.accountID,
				"order_id": ev.OrderAck.OrderID,
			})
		}
	default:
		applyErr = fmt.Errorf("unknown event kind %d", ev.Kind)
	}

	if ev.Timestamp.After(a.lastEventTS) {
		a.lastEventTS = ev.Timestamp
	}
	return a.compute(ev.Timestamp, now), applyErr
}

// Compute 不应用任何事件，按当前状态重算指标（定时器驱动的周期用）。
func (a *Aggregator) Compute(ts time.Time) Metrics {
	return a.compute(ts, a.clock.Now())
}

func (a *Aggregator) applyEquity(e *gateway.EquityUpdate) {
	if e == nil {
		return
	}
	a.equity = e.Equity
	a.realized = e.RealizedPnL
	a.unrealized = e.UnrealizedPnL
	a.hwm = a.hwm.Observe(e.Equity, e.Timestamp)
	if a.daily != nil {
		a.daily.ObserveEquity(e.Equity)
	}
}

func (a *Aggregator) applyPosition(p *gateway.PositionDelta) error {
	if p == nil {
		return nil
	}
	spec, ok := a.specs[p.Symbol]
	if !ok {
		a.rejects = append(a.rejects, a.clock.Now())
		a.logEvent("event_rejected", map[string]interface{}{
			"account": a.accountID,
			"symbol":  p.Symbol,
			"reason":  "unknown instrument",
		})
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, p.Symbol)
	}
	a.book.Set(spec, p.Quantity, p.EntryPrice, p.StopDistance, p.Timestamp)
	return nil
}

func (a *Aggregator) applyFill(f *gateway.Fill) {
	if f == nil || a.daily == nil {
		return
	}
	a.daily.ObserveFill(f.RealizedPnL)
}

func (a *Aggregator) compute(eventTS, now time.Time) Metrics {
	m := Metrics{
		AccountID:     a.accountID,
		Timestamp:     eventTS,
		Equity:        a.equity,
		RealizedPnL:   a.realized,
		UnrealizedPnL: a.unrealized,
		HighWaterMark: a.hwm.Value,
	}

	if dd := a.hwm.Value - a.equity; dd > 0 {
		m.TrailingDrawdown = dd
	}
	if a.daily != nil {
		m.DailyLossUsed = a.daily.LossUsed(a.equity)
		m.SessionLossUsed = a.daily.SessionLossUsed()
		m.TradeCount = a.daily.TradeCount
		m.ConsecutiveLosses = a.daily.ConsecutiveLosses
	}

	m.OpenRisk, m.UnboundedRisk = a.book.Total()
	m.LargestPositionRisk = a.book.Largest()
	m.SmallestPositionRisk = a.book.Smallest()
	m.OpenContracts = a.book.Contracts()
	m.NewestRiskSymbol = a.book.Newest()

	a.trimRejects(now)
	m.RecentRejects = len(a.rejects)
	if !a.lastArrival.IsZero() {
		m.FeedAge = now.Sub(a.lastArrival)
	}
	return m
}

func (a *Aggregator) trimRejects(now time.Time) {
	cutoff := now.Add(-a.rejectWindow)
	i := 0
	for ; i < len(a.rejects); i++ {
		if a.rejects[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		a.rejects = a.rejects[i:]
	}
}

func (a *Aggregator) logEvent(event string, fields map[string]interface{}) {
	if a.sink != nil {
		a.sink(event, fields)
	}
}
