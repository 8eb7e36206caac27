package risk

import (
	"fmt"
	"time"
)

// ScalingStep 规模限制阶梯：账户盈利达到 ProfitAtLeast 后允许的最大合约手数。
type ScalingStep struct {
	ProfitAtLeast float64 `yaml:"profitAtLeast"`
	MaxContracts  int     `yaml:"maxContracts"`
}

// BlackoutWindow 新闻禁交易窗口（绝对时间区间）。
type BlackoutWindow struct {
	Start time.Time `yaml:"start"`
	End   time.Time `yaml:"end"`
	Label string    `yaml:"label"`
}

// In 判断时间戳是否落在窗口内。
func (w BlackoutWindow) In(ts time.Time) bool {
	return !ts.Before(w.Start) && ts.Before(w.End)
}

// Limits Combine 规则集的全部阈值，纯数据，不含策略。
type Limits struct {
	StartBalance float64 `yaml:"startBalance"`
	ProfitTarget float64 `yaml:"profitTarget"`
	MaxLossLimit float64 `yaml:"maxLossLimit"` // MLL，距起始余额的绝对回撤上限

	DailyLossCap     float64 `yaml:"dailyLossCap"`
	TrailingKillFrac float64 `yaml:"trailingKillFrac"` // 触发永久禁用的 MLL 占比，默认 0.8
	SessionCapFrac   float64 `yaml:"sessionCapFrac"`   // 会话实现亏损上限 = 该比例 * 日上限，默认 0.5
	OpenRiskCapFrac  float64 `yaml:"openRiskCapFrac"`  // 开放风险上限 = 该比例 * 日上限，默认 0.3

	PerTradeRiskMinFrac float64 `yaml:"perTradeRiskMinFrac"` // 单笔风险下限（权益占比），默认 0.001
	PerTradeRiskMaxFrac float64 `yaml:"perTradeRiskMaxFrac"` // 单笔风险上限（权益占比），默认 0.003

	MaxConsecutiveLosses int `yaml:"maxConsecutiveLosses"`
	MaxTradesPerDay      int `yaml:"maxTradesPerDay"`

	WarnBand  float64 `yaml:"warnBand"`  // 预警带，默认 0.8
	RearmBand float64 `yaml:"rearmBand"` // 可逆规则 WARNING→OK 的迟滞带宽，默认 0.05

	Scaling       []ScalingStep    `yaml:"scaling"`
	NewsBlackouts []BlackoutWindow `yaml:"newsBlackouts"`

	StaleFeedWarn   time.Duration `yaml:"staleFeedWarn"`
	StaleFeedBreach time.Duration `yaml:"staleFeedBreach"`
	RejectWarnCount int           `yaml:"rejectWarnCount"` // 短窗口内拒绝事件数的预警阈值
}

// WithDefaults 填充未设置的比例与带宽。
func (l Limits) WithDefaults() Limits {
	if l.TrailingKillFrac == 0 {
		l.TrailingKillFrac = 0.8
	}
	if l.SessionCapFrac == 0 {
		l.SessionCapFrac = 0.5
	}
	if l.OpenRiskCapFrac == 0 {
		l.OpenRiskCapFrac = 0.3
	}
	if l.PerTradeRiskMinFrac == 0 {
		l.PerTradeRiskMinFrac = 0.001
	}
	if l.PerTradeRiskMaxFrac == 0 {
		l.PerTradeRiskMaxFrac = 0.003
	}
	if l.WarnBand == 0 {
		l.WarnBand = 0.8
	}
	if l.RearmBand == 0 {
		l.RearmBand = 0.05
	}
	if l.StaleFeedWarn == 0 {
		l.StaleFeedWarn = 15 * time.Second
	}
	if l.StaleFeedBreach == 0 {
		l.StaleFeedBreach = 60 * time.Second
	}
	if l.RejectWarnCount == 0 {
		l.RejectWarnCount = 5
	}
	return l
}

// Validate 阈值健全性检查。不通过时引擎拒绝为该账户启动，
// 绝不带着未定义的策略运行。
func (l Limits) Validate() error {
	if l.StartBalance <= 0 {
		return fmt.Errorf("%w: startBalance must be > 0", ErrConfigInvalid)
	}
	if l.MaxLossLimit <= 0 {
		return fmt.Errorf("%w: maxLossLimit must be > 0", ErrConfigInvalid)
	}
	if l.DailyLossCap <= 0 {
		return fmt.Errorf("%w: dailyLossCap must be > 0", ErrConfigInvalid)
	}
	if l.WarnBand <= 0 || l.WarnBand >= 1 {
		return fmt.Errorf("%w: warnBand must be in (0,1), got %.2f", ErrConfigInvalid, l.WarnBand)
	}
	if l.RearmBand < 0 || l.RearmBand >= l.WarnBand {
		return fmt.Errorf("%w: rearmBand must be in [0,warnBand), got %.2f", ErrConfigInvalid, l.RearmBand)
	}
	if l.TrailingKillFrac <= 0 || l.TrailingKillFrac > 1 {
		return fmt.Errorf("%w: trailingKillFrac must be in (0,1], got %.2f", ErrConfigInvalid, l.TrailingKillFrac)
	}
	if l.SessionCapFrac <= 0 || l.SessionCapFrac > 1 {
		return fmt.Errorf("%w: sessionCapFrac must be in (0,1], got %.2f", ErrConfigInvalid, l.SessionCapFrac)
	}
	if l.OpenRiskCapFrac <= 0 || l.OpenRiskCapFrac > 1 {
		return fmt.Errorf("%w: openRiskCapFrac must be in (0,1], got %.2f", ErrConfigInvalid, l.OpenRiskCapFrac)
	}
	if l.PerTradeRiskMinFrac <= 0 || l.PerTradeRiskMaxFrac <= l.PerTradeRiskMinFrac {
		return fmt.Errorf("%w: per-trade risk bounds must satisfy 0 < min < max", ErrConfigInvalid)
	}
	if l.MaxConsecutiveLosses < 0 || l.MaxTradesPerDay < 0 {
		return fmt.Errorf("%w: trade limits must be >= 0", ErrConfigInvalid)
	}
	if l.StaleFeedBreach <= l.StaleFeedWarn {
		return fmt.Errorf("%w: staleFeedBreach must exceed staleFeedWarn", ErrConfigInvalid)
	}
	for i := 1; i < len(l.Scaling); i++ {
		if l.Scaling[i].ProfitAtLeast <= l.Scaling[i-1].ProfitAtLeast {
			return fmt.Errorf("%w: scaling steps must be ascending by profit", ErrConfigInvalid)
		}
	}
	for _, s := range l.Scaling {
		if s.MaxContracts < 0 {
			return fmt.Errorf("%w: scaling maxContracts must be >= 0", ErrConfigInvalid)
		}
	}
	for _, b := range l.NewsBlackouts {
		if !b.End.After(b.Start) {
			return fmt.Errorf("%w: news blackout %q end must be after start", ErrConfigInvalid, b.Label)
		}
	}
	return nil
}

// TrailingKillThreshold 永久禁用阈值（美元）。
func (l Limits) TrailingKillThreshold() float64 { return l.TrailingKillFrac * l.MaxLossLimit }

// SessionLossCap 会话实现亏损上限（美元）。
func (l Limits) SessionLossCap() float64 { return l.SessionCapFrac * l.DailyLossCap }

// OpenRiskCap 开放风险上限（美元）。
func (l Limits) OpenRiskCap() float64 { return l.OpenRiskCapFrac * l.DailyLossCap }

// MaxContractsFor 根据盈利进度返回规模阶梯允许的最大手数。
// 未配置阶梯时返回 0 表示不限制。
func (l Limits) MaxContractsFor(profitToDate float64) int {
	if len(l.Scaling) == 0 {
		return 0
	}
	allowed := l.Scaling[0].MaxContracts
	for _, s := range l.Scaling {
		if profitToDate >= s.ProfitAtLeast {
			allowed = s.MaxContracts
		}
	}
	return allowed
}

// InBlackout 判断时间戳是否落在任一新闻禁交易窗口内。
func (l Limits) InBlackout(ts time.Time) (bool, string) {
	for _, b := range l.NewsBlackouts {
		if b.In(ts) {
			return true, b.Label
		}
	}
	return false, ""
}
