package risk

// RuleID 规则标识。
type RuleID string

const (
	RuleDailyLoss        RuleID = "dailyLoss"
	RuleTrailingDrawdown RuleID = "trailingDrawdown"
	RuleSessionLoss      RuleID = "sessionLoss"
	RuleOpenRiskCap      RuleID = "openRiskCap"
	RuleTradeLimits      RuleID = "tradeLimits"
	RuleHoursWindow      RuleID = "hoursWindow"
	RuleNewsFilter       RuleID = "newsFilter"
	RuleScalingLimit     RuleID = "scalingLimit"
	RuleConnectivity     RuleID = "connectivity"
)

// AllRules 固定的评估顺序。
var AllRules = []RuleID{
	RuleDailyLoss,
	RuleTrailingDrawdown,
	RuleSessionLoss,
	RuleOpenRiskCap,
	RuleTradeLimits,
	RuleHoursWindow,
	RuleNewsFilter,
	RuleScalingLimit,
	RuleConnectivity,
}

// RuleStatus 规则健康度。WARNING 纯提示，BREACH 触发强制动作。
type RuleStatus int

const (
	StatusOK RuleStatus = iota
	StatusWarning
	StatusBreach
)

func (s RuleStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "WARNING"
	case StatusBreach:
		return "BREACH"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON 状态在快照与审计输出里一律用文本，不暴露枚举值。
func (s RuleStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *RuleStatus) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"WARNING"`:
		*s = StatusWarning
	case `"BREACH"`:
		*s = StatusBreach
	default:
		*s = StatusOK
	}
	return nil
}

// RuleKind 区分锁存与可逆两类规则。按标签分派行为，不做类型层级。
type RuleKind int

const (
	// KindReversible 每周期重新评估，可回到 OK。
	KindReversible RuleKind = iota
	// KindLatchingSession BREACH 后锁存到下一个会话重置。
	// 编码的是一次性的日限额，不是实时仪表：权益回升也不解锁。
	KindLatchingSession
	// KindLatchingPermanent BREACH 后永久锁存，只有外部管理动作能解除。
	KindLatchingPermanent
)

// KindOf 返回规则的锁存标签。
func KindOf(rule RuleID) RuleKind {
	switch rule {
	case RuleDailyLoss, RuleSessionLoss:
		return KindLatchingSession
	case RuleTrailingDrawdown:
		return KindLatchingPermanent
	default:
		return KindReversible
	}
}
