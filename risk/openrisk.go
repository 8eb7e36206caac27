package risk

import "time"

// ContractSpec 合约元数据。TickValue 为一个最小跳动的美元价值。
type ContractSpec struct {
	Symbol    string  `yaml:"symbol"`
	TickValue float64 `yaml:"tickValue"`
}

// PositionRisk 单个合约的持仓风险。StopDistance 以 tick 计。
// HasStop 为 false 时该仓位按无界风险处理。
type PositionRisk struct {
	Symbol       string
	Quantity     float64
	EntryPrice   float64
	StopDistance float64
	RiskAmount   float64
	HasStop      bool
	UpdatedAt    time.Time
}

// OpenRiskBook 按合约维护持仓风险。每次变更后全量重算聚合值，
// 不做增量修补，避免漏事件导致的漂移。
type OpenRiskBook struct {
	positions map[string]PositionRisk
}

func NewOpenRiskBook() *OpenRiskBook {
	return &OpenRiskBook{positions: make(map[string]PositionRisk)}
}

// Set 以事件中的数量为该合约的权威仓位；数量归零即移除。
func (b *OpenRiskBook) Set(spec ContractSpec, quantity, entryPrice float64, stopDistance *float64, ts time.Time) {
	if quantity == 0 {
		delete(b.positions, spec.Symbol)
		return
	}
	p := PositionRisk{
		Symbol:     spec.Symbol,
		Quantity:   quantity,
		EntryPrice: entryPrice,
		UpdatedAt:  ts,
	}
	if stopDistance != nil && *stopDistance > 0 {
		p.HasStop = true
		p.StopDistance = *stopDistance
		p.RiskAmount = abs(quantity) * *stopDistance * spec.TickValue
	}
	b.positions[spec.Symbol] = p
}

// Total 开放风险合计。存在无止损仓位时返回 unbounded=true。
func (b *OpenRiskBook) Total() (total float64, unbounded bool) {
	for _, p := range b.positions {
		if !p.HasStop {
			unbounded = true
			continue
		}
		total += p.RiskAmount
	}
	return total, unbounded
}

// Contracts 当前持仓合约手数合计（绝对值）。
func (b *OpenRiskBook) Contracts() int {
	n := 0.0
	for _, p := range b.positions {
		n += abs(p.Quantity)
	}
	return int(n)
}

// Largest 返回单笔最大风险金额。
func (b *OpenRiskBook) Largest() float64 {
	var max float64
	for _, p := range b.positions {
		if p.HasStop && p.RiskAmount > max {
			max = p.RiskAmount
		}
	}
	return max
}

// Smallest 返回单笔最小风险金额（仅统计有止损的仓位），没有仓位时返回 0。
func (b *OpenRiskBook) Smallest() float64 {
	var min float64
	first := true
	for _, p := range b.positions {
		if !p.HasStop {
			continue
		}
		if first || p.RiskAmount < min {
			min = p.RiskAmount
			first = false
		}
	}
	if first {
		return 0
	}
	return min
}

// Newest 返回最近更新的仓位合约，开放风险超限时只平掉超出部分而非全平。
func (b *OpenRiskBook) Newest() string {
	var symbol string
	var latest time.Time
	for _, p := range b.positions {
		if p.UpdatedAt.After(latest) {
			latest = p.UpdatedAt
			symbol = p.Symbol
		}
	}
	return symbol
}

// Positions 返回当前仓位快照副本。
func (b *OpenRiskBook) Positions() []PositionRisk {
	out := make([]PositionRisk, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
