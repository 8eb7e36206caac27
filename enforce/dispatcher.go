package enforce

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"combine-guard-go/risk"
)

// Commander 下游 broker 命令面。实现必须幂等，可安全重复调用。
type Commander interface {
	DisableTrading(ctx context.Context, accountID string) error
	FlattenAll(ctx context.Context, accountID, symbol string) error
	Cooldown(ctx context.Context, accountID string, d time.Duration) error
}

// Alerter 告警出口，Manager 满足该接口。
type Alerter interface {
	SendCritical(message string, fields map[string]interface{}) error
	SendWarning(message string, fields map[string]interface{}) error
}

// ActionLog 只追加的审计日志。终态动作写入后永不删除。
type ActionLog interface {
	AppendAction(a Action) error
}

// Breach 一次 BREACH 转换，由引擎交给分发器翻译为动作。
type Breach struct {
	AccountID string
	Rule      risk.RuleID
	Symbol    string // openRiskCap/scalingLimit 超限时要平的合约
	At        time.Time
}

// Result 动作到达终态后的回报。
type Result struct {
	Action Action
}

type inflightKey struct {
	accountID string
	kind      Kind
}

// Dispatcher 把 BREACH 翻译为强制动作：去重、异步执行、有界退避重试、
// 失败升级。Dispatch 立即返回已入队的动作，实际应用在带外完成。
type Dispatcher struct {
	cmd      Commander
	policy   RetryPolicy
	cooldown time.Duration
	alerts   Alerter
	log      ActionLog
	logger   *zap.Logger
	clock    risk.Clock

	mu        sync.Mutex
	inflight  map[inflightKey]string     // 去重：每个 {账户,类型} 至多一个 Pending
	hurry     map[string]chan struct{}   // 账户级退避坍缩信号
	escalated map[string]bool            // 失败升级每账户只发一次

	results chan Result
	wg      sync.WaitGroup
}

// NewDispatcher 创建分发器。log 与 alerts 可为 nil（测试场景）。
func NewDispatcher(cmd Commander, policy RetryPolicy, cooldown time.Duration, alerts Alerter, log ActionLog, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cooldown <= 0 {
		cooldown = 15 * time.Minute
	}
	return &Dispatcher{
		cmd:       cmd,
		policy:    policy.WithDefaults(),
		cooldown:  cooldown,
		alerts:    alerts,
		log:       log,
		logger:    logger,
		clock:     risk.NowUTC,
		inflight:  make(map[inflightKey]string),
		hurry:     make(map[string]chan struct{}),
		escalated: make(map[string]bool),
		results:   make(chan Result, 64),
	}
}

// SetClock 注入测试时钟。
func (d *Dispatcher) SetClock(c risk.Clock) { d.clock = c }

// Results 终态动作的回报通道，由引擎消费。
func (d *Dispatcher) Results() <-chan Result { return d.results }

// Dispatch 把一批 BREACH 翻译为动作并异步入队。同一 {账户,类型} 已有
// Pending 动作时第二次触发被合并，不会重复。
func (d *Dispatcher) Dispatch(ctx context.Context, breaches []Breach) []Action {
	var issued []Action
	for _, b := range breaches {
		for _, a := range d.plan(b) {
			if d.enqueue(ctx, a) {
				issued = append(issued, a)
			}
		}
	}
	return issued
}

// CollapseBackoff 账户转入永久禁用时坍缩其在途重试的退避计时。
// 只取消等待，不取消底层请求：已发出的平仓仍须完成确认。
func (d *Dispatcher) CollapseBackoff(accountID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.hurry[accountID]; ok {
		close(ch)
	}
	d.hurry[accountID] = make(chan struct{})
}

// Wait 等待全部在途动作到达终态（关闭流程用）。
func (d *Dispatcher) Wait() { d.wg.Wait() }

// plan 规则到动作的映射。
func (d *Dispatcher) plan(b Breach) []Action {
	base := Action{
		AccountID: b.AccountID,
		Rule:      b.Rule,
		IssuedAt:  b.At,
		Outcome:   OutcomePending,
	}
	if base.IssuedAt.IsZero() {
		base.IssuedAt = d.clock.Now()
	}

	mk := func(kind Kind, mut func(*Action)) Action {
		a := base
		a.Kind = kind
		if mut != nil {
			mut(&a)
		}
		a.ID = newActionID(a.IssuedAt)
		return a
	}

	switch b.Rule {
	case risk.RuleDailyLoss, risk.RuleSessionLoss:
		// 日/会话限额：当日禁用 + 全平。
		return []Action{mk(KindDisable, nil), mk(KindAutoFlat, nil)}
	case risk.RuleTrailingDrawdown:
		// 移动回撤 = 永久禁用开关 + 全平。
		return []Action{
			mk(KindDisable, func(a *Action) { a.Permanent = true }),
			mk(KindAutoFlat, nil),
		}
	case risk.RuleOpenRiskCap, risk.RuleScalingLimit:
		// 只平最新的超限仓位，不全平。
		return []Action{mk(KindAutoFlat, func(a *Action) { a.Symbol = b.Symbol })}
	case risk.RuleHoursWindow:
		// 收盘强制全平，无条件。
		return []Action{mk(KindAutoFlat, nil)}
	case risk.RuleTradeLimits:
		return []Action{mk(KindCooldown, func(a *Action) { a.Cooldown = d.cooldown })}
	case risk.RuleConnectivity, risk.RuleNewsFilter:
		return []Action{mk(KindDisable, nil)}
	default:
		return nil
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, a Action) bool {
	key := inflightKey{a.AccountID, a.Kind}
	d.mu.Lock()
	if _, busy := d.inflight[key]; busy {
		d.mu.Unlock()
		d.logger.Debug("action coalesced",
			zap.String("account", a.AccountID),
			zap.String("kind", string(a.Kind)),
			zap.String("rule", string(a.Rule)))
		return false
	}
	d.inflight[key] = a.ID
	if _, ok := d.hurry[a.AccountID]; !ok {
		d.hurry[a.AccountID] = make(chan struct{})
	}
	d.mu.Unlock()

	d.logger.Warn("enforcement action issued",
		zap.String("action_id", a.ID),
		zap.String("account", a.AccountID),
		zap.String("kind", string(a.Kind)),
		zap.String("rule", string(a.Rule)),
		zap.Bool("permanent", a.Permanent))

	d.wg.Add(1)
	go d.applyWithRetry(ctx, a)
	return true
}

func (d *Dispatcher) applyWithRetry(ctx context.Context, a Action) {
	defer d.wg.Done()

	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		a.Attempts = attempt
		err := d.apply(ctx, a)
		if err == nil {
			a.Outcome = OutcomeApplied
			a.ResolvedAt = d.clock.Now()
			d.finish(a)
			return
		}
		a.LastError = err.Error()
		d.logger.Error("enforcement apply failed",
			zap.String("action_id", a.ID),
			zap.String("account", a.AccountID),
			zap.String("kind", string(a.Kind)),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt == d.policy.MaxAttempts {
			break
		}
		d.mu.Lock()
		hurry := d.hurry[a.AccountID]
		d.mu.Unlock()

		timer := time.NewTimer(d.policy.Delay(attempt))
		select {
		case <-timer.C:
		case <-hurry:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
		}
	}

	// 重试耗尽：记 Failed 并升级。系统永远朝"停止交易"退化，
	// 绝不在未确认的平仓上继续交易。
	a.Outcome = OutcomeFailed
	a.ResolvedAt = d.clock.Now()
	d.finish(a)
	d.escalate(ctx, a)
}

func (d *Dispatcher) apply(ctx context.Context, a Action) error {
	switch a.Kind {
	case KindDisable:
		return d.cmd.DisableTrading(ctx, a.AccountID)
	case KindAutoFlat:
		return d.cmd.FlattenAll(ctx, a.AccountID, a.Symbol)
	case KindCooldown:
		return d.cmd.Cooldown(ctx, a.AccountID, a.Cooldown)
	default:
		return nil
	}
}

func (d *Dispatcher) finish(a Action) {
	d.mu.Lock()
	delete(d.inflight, inflightKey{a.AccountID, a.Kind})
	d.mu.Unlock()

	if d.log != nil {
		if err := d.log.AppendAction(a); err != nil {
			d.logger.Error("audit log append failed",
				zap.String("action_id", a.ID), zap.Error(err))
		}
	}
	select {
	case d.results <- Result{Action: a}:
	default:
		d.logger.Warn("result channel full, dropping notification",
			zap.String("action_id", a.ID))
	}
}

// escalate 平仓确认失败后的升级：每账户恰好一次永久禁用 + 严重告警。
func (d *Dispatcher) escalate(ctx context.Context, failed Action) {
	d.mu.Lock()
	already := d.escalated[failed.AccountID]
	d.escalated[failed.AccountID] = true
	d.mu.Unlock()
	if already {
		return
	}

	if d.alerts != nil {
		_ = d.alerts.SendCritical("enforcement action failed after retries, disabling account", map[string]interface{}{
			"account":   failed.AccountID,
			"action_id": failed.ID,
			"kind":      string(failed.Kind),
			"rule":      string(failed.Rule),
			"attempts":  failed.Attempts,
			"error":     failed.LastError,
		})
	}

	esc := Action{
		ID:        newActionID(d.clock.Now()),
		AccountID: failed.AccountID,
		Kind:      KindDisable,
		Rule:      failed.Rule,
		Permanent: true,
		IssuedAt:  d.clock.Now(),
		Outcome:   OutcomePending,
	}
	if d.enqueue(ctx, esc) {
		d.logger.Error("escalated to permanent disable",
			zap.String("account", failed.AccountID),
			zap.String("failed_action", failed.ID))
	}
}
