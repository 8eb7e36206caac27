package risk

import "time"

// 接近收盘/新闻窗口的提前预警量。
const (
	closeWarnLead = 15 * time.Minute
	newsWarnLead  = 5 * time.Minute
)

// Evaluator 把阈值策略应用到聚合指标上，得到每条规则的状态。
// 锁存状态保存在这里：dailyLoss/sessionLoss 锁存到会话重置，
// trailingDrawdown 永久锁存。单账户实例，调用方负责串行化。
type Evaluator struct {
	limits  Limits
	latched map[RuleID]bool
	warned  map[RuleID]bool
}

// NewEvaluator 校验阈值后构建评估器。阈值不通过健全性检查时拒绝创建，
// 引擎据此拒绝为该账户启动。
func NewEvaluator(limits Limits) (*Evaluator, error) {
	limits = limits.WithDefaults()
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{
		limits:  limits,
		latched: make(map[RuleID]bool),
		warned:  make(map[RuleID]bool),
	}, nil
}

// Limits 返回生效中的阈值（含默认值）。
func (e *Evaluator) Limits() Limits { return e.limits }

// UpdateLimits 热更新阈值。已锁存的规则保持锁存，只有后续评估用新阈值。
func (e *Evaluator) UpdateLimits(limits Limits) error {
	limits = limits.WithDefaults()
	if err := limits.Validate(); err != nil {
		return err
	}
	e.limits = limits
	return nil
}

// Evaluate 对一份指标给出全部规则状态。
func (e *Evaluator) Evaluate(m Metrics) map[RuleID]RuleStatus {
	out := make(map[RuleID]RuleStatus, len(AllRules))

	out[RuleDailyLoss] = e.latch(RuleDailyLoss,
		e.grade(m.DailyLossUsed, e.limits.DailyLossCap))
	out[RuleTrailingDrawdown] = e.latch(RuleTrailingDrawdown,
		e.grade(m.TrailingDrawdown, e.limits.TrailingKillThreshold()))
	out[RuleSessionLoss] = e.latch(RuleSessionLoss,
		e.grade(m.SessionLossUsed, e.limits.SessionLossCap()))

	out[RuleOpenRiskCap] = e.evalOpenRisk(m)
	out[RuleTradeLimits] = e.evalTradeLimits(m)
	out[RuleHoursWindow] = e.evalHoursWindow(m)
	out[RuleNewsFilter] = e.evalNewsFilter(m)
	out[RuleScalingLimit] = e.evalScaling(m)
	out[RuleConnectivity] = e.evalConnectivity(m)
	return out
}

// ResetSession 会话边界处清除会话级锁存与迟滞状态。永久锁存不受影响。
func (e *Evaluator) ResetSession() {
	for rule := range e.latched {
		if KindOf(rule) == KindLatchingSession {
			delete(e.latched, rule)
		}
	}
	e.warned = make(map[RuleID]bool)
}

// PermanentlyLatched 永久禁用锁存是否已触发。
func (e *Evaluator) PermanentlyLatched() bool {
	return e.latched[RuleTrailingDrawdown]
}

// AdminRelease 外部管理动作（再注资）解除永久锁存。没有内部路径能到这里。
func (e *Evaluator) AdminRelease() {
	delete(e.latched, RuleTrailingDrawdown)
}

// grade 连续量的通用分级：达到预警带为 WARNING，达到 100% 为 BREACH。
func (e *Evaluator) grade(used, cap float64) RuleStatus {
	if cap <= 0 {
		return StatusOK
	}
	if used >= cap {
		return StatusBreach
	}
	if used >= e.limits.WarnBand*cap {
		return StatusWarning
	}
	return StatusOK
}

// latch 锁存规则一旦 BREACH 即保持 BREACH，会话内不自动痊愈。
func (e *Evaluator) latch(rule RuleID, fresh RuleStatus) RuleStatus {
	if e.latched[rule] {
		return StatusBreach
	}
	if fresh == StatusBreach {
		e.latched[rule] = true
	}
	return fresh
}

// hysteresis 可逆规则的迟滞：WARNING 后要降到 (warnBand-rearmBand)*cap
// 以下才回到 OK，避免在阈值附近来回抖动。
func (e *Evaluator) hysteresis(rule RuleID, fresh RuleStatus, used, cap float64) RuleStatus {
	if fresh >= StatusWarning {
		e.warned[rule] = true
		return fresh
	}
	if !e.warned[rule] || cap <= 0 {
		return fresh
	}
	rearm := (e.limits.WarnBand - e.limits.RearmBand) * cap
	if used >= rearm {
		return StatusWarning
	}
	delete(e.warned, rule)
	return fresh
}

func (e *Evaluator) evalOpenRisk(m Metrics) RuleStatus {
	// 无止损仓位 = 无界风险，立即 BREACH，不看合计值。
	if m.UnboundedRisk {
		return StatusBreach
	}
	cap := e.limits.OpenRiskCap()
	return e.hysteresis(RuleOpenRiskCap, e.grade(m.OpenRisk, cap), m.OpenRisk, cap)
}

func (e *Evaluator) evalTradeLimits(m Metrics) RuleStatus {
	status := StatusOK

	if max := e.limits.MaxTradesPerDay; max > 0 {
		s := e.grade(float64(m.TradeCount), float64(max))
		status = worst(status, e.hysteresis(RuleTradeLimits, s, float64(m.TradeCount), float64(max)))
	}
	if max := e.limits.MaxConsecutiveLosses; max > 0 {
		switch {
		case m.ConsecutiveLosses >= max:
			status = StatusBreach
		case max > 1 && m.ConsecutiveLosses == max-1:
			status = worst(status, StatusWarning)
		}
	}
	if m.Equity > 0 && m.LargestPositionRisk > 0 {
		maxRisk := e.limits.PerTradeRiskMaxFrac * m.Equity
		status = worst(status, e.grade(m.LargestPositionRisk, maxRisk))
	}
	if m.Equity > 0 && m.SmallestPositionRisk > 0 {
		// 风险过小同样违反单笔风险纪律，无预警带。
		if m.SmallestPositionRisk < e.limits.PerTradeRiskMinFrac*m.Equity {
			status = StatusBreach
		}
	}
	return status
}

func (e *Evaluator) evalHoursWindow(m Metrics) RuleStatus {
	// 日历缺口按非交易日处理：封闭，不放行。
	if m.CalendarGap {
		return StatusBreach
	}
	if !m.InSession {
		return StatusBreach
	}
	if m.SessionEndsIn > 0 && m.SessionEndsIn <= closeWarnLead {
		return StatusWarning
	}
	return StatusOK
}

func (e *Evaluator) evalNewsFilter(m Metrics) RuleStatus {
	if in, _ := e.limits.InBlackout(m.Timestamp); in {
		return StatusBreach
	}
	for _, b := range e.limits.NewsBlackouts {
		if b.Start.After(m.Timestamp) && b.Start.Sub(m.Timestamp) <= newsWarnLead {
			return StatusWarning
		}
	}
	return StatusOK
}

func (e *Evaluator) evalScaling(m Metrics) RuleStatus {
	allowed := e.limits.MaxContractsFor(m.Equity - e.limits.StartBalance)
	if allowed <= 0 {
		return StatusOK
	}
	switch {
	case m.OpenContracts > allowed:
		return StatusBreach
	case m.OpenContracts == allowed:
		return StatusWarning
	default:
		return StatusOK
	}
}

func (e *Evaluator) evalConnectivity(m Metrics) RuleStatus {
	status := StatusOK
	switch {
	case m.FeedAge >= e.limits.StaleFeedBreach:
		status = StatusBreach
	case m.FeedAge >= e.limits.StaleFeedWarn:
		status = StatusWarning
	}
	if m.RecentRejects >= e.limits.RejectWarnCount {
		status = worst(status, StatusWarning)
	}
	return status
}

func worst(a, b RuleStatus) RuleStatus {
	if b > a {
		return b
	}
	return a
}
