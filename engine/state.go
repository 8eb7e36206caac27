package engine

import "combine-guard-go/risk"

// AccountState 账户生命周期状态。DisabledPermanent 是终态，内部转换
// 永远到不了回去，只有外部管理动作（重新注资）能解除。
type AccountState int

const (
	StateActive AccountState = iota
	StateWarning
	StateDisabledSession
	StateDisabledPermanent
)

func (s AccountState) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateWarning:
		return "WARNING"
	case StateDisabledSession:
		return "DISABLED_SESSION"
	case StateDisabledPermanent:
		return "DISABLED_PERMANENT"
	default:
		return "UNKNOWN"
	}
}

func (s AccountState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *AccountState) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"WARNING"`:
		*s = StateWarning
	case `"DISABLED_SESSION"`:
		*s = StateDisabledSession
	case `"DISABLED_PERMANENT"`:
		*s = StateDisabledPermanent
	default:
		*s = StateActive
	}
	return nil
}

// nextState 由本周期规则状态推导账户状态。永久禁用粘滞；会话禁用
// 只能被会话重置清除，不在这里降级。
func nextState(current AccountState, statuses map[risk.RuleID]risk.RuleStatus) AccountState {
	if current == StateDisabledPermanent {
		return current
	}
	if statuses[risk.RuleTrailingDrawdown] == risk.StatusBreach {
		return StateDisabledPermanent
	}

	breached := false
	warned := false
	for _, st := range statuses {
		switch st {
		case risk.StatusBreach:
			breached = true
		case risk.StatusWarning:
			warned = true
		}
	}
	if breached {
		return StateDisabledSession
	}
	if current == StateDisabledSession {
		// 锁存的日限额规则回落前不离开禁用态。
		return current
	}
	if warned {
		return StateWarning
	}
	return StateActive
}
