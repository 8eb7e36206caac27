package journal

import (
	"time"

	"combine-guard-go/enforce"
	"combine-guard-go/risk"
)

// BreachRecord 一次规则状态越过 BREACH 的审计记录。
type BreachRecord struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	Rule      risk.RuleID     `json:"rule"`
	Status    risk.RuleStatus `json:"status"`
	Detail    string          `json:"detail"`
	At        time.Time       `json:"at"`
}

// Journal 强制动作与违规的审计存储。
type Journal interface {
	AppendAction(a enforce.Action) error
	AppendBreach(b BreachRecord) error
	ActionsFor(accountID string, limit int) ([]enforce.Action, error)
	RecentBreaches(accountID string, limit int) ([]BreachRecord, error)
	Close() error
}
