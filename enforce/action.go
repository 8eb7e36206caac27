package enforce

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"combine-guard-go/risk"
)

// Kind 强制动作类型。
type Kind string

const (
	KindDisable  Kind = "DISABLE"
	KindAutoFlat Kind = "AUTO_FLAT"
	KindCooldown Kind = "COOLDOWN"
)

// Outcome 动作结果。Pending 直到下游确认或重试耗尽。
type Outcome string

const (
	OutcomePending Outcome = "PENDING"
	OutcomeApplied Outcome = "APPLIED"
	OutcomeFailed  Outcome = "FAILED"
)

// Action 一次强制动作及其生命周期。终态动作进入只追加的审计日志，永不删除。
type Action struct {
	ID         string        `json:"id"`
	AccountID  string        `json:"account_id"`
	Kind       Kind          `json:"kind"`
	Rule       risk.RuleID   `json:"rule"`
	Symbol     string        `json:"symbol,omitempty"` // AutoFlat 只平指定合约时非空，空为全平
	Permanent  bool          `json:"permanent"`        // Disable 是否为永久禁用
	Cooldown   time.Duration `json:"cooldown,omitempty"`
	IssuedAt   time.Time     `json:"issued_at"`
	ResolvedAt time.Time     `json:"resolved_at,omitempty"`
	Outcome    Outcome       `json:"outcome"`
	Attempts   int           `json:"attempts"`
	LastError  string        `json:"last_error,omitempty"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

func newActionID(ts time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(ts), entropy).String()
}
