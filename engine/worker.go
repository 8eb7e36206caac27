package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"combine-guard-go/calendar"
	"combine-guard-go/enforce"
	"combine-guard-go/gateway"
	"combine-guard-go/journal"
	"combine-guard-go/metrics"
	"combine-guard-go/risk"
)

// AccountConfig 单账户的引擎配置。
type AccountConfig struct {
	AccountID string
	Limits    risk.Limits
	Specs     []risk.ContractSpec

	// Lateness 乱序归并的容忍窗口。
	Lateness time.Duration
	// StaleCheckEvery 无事件时的定时重估间隔，驱动 connectivity 规则。
	StaleCheckEvery time.Duration
}

func (c AccountConfig) withDefaults() AccountConfig {
	if c.Lateness <= 0 {
		c.Lateness = 500 * time.Millisecond
	}
	if c.StaleCheckEvery <= 0 {
		c.StaleCheckEvery = 5 * time.Second
	}
	return c
}

// worker 单账户的串行评估序列。全部状态只在 run 协程里变更，
// 对外读取走快照副本。
type worker struct {
	cfg        AccountConfig
	agg        *risk.Aggregator
	eval       *risk.Evaluator
	cal        *calendar.Calendar
	merge      *mergeBuffer
	dispatcher *enforce.Dispatcher
	journal    journal.Journal
	pub        *Publisher
	alerts     enforce.Alerter
	logger     *zap.Logger
	clock      risk.Clock

	events  chan gateway.Event
	results chan enforce.Result
	admin   chan func()
	done    chan struct{}

	mu       sync.RWMutex
	state    AccountState
	last     map[risk.RuleID]risk.RuleStatus
	active   map[string]enforce.Action
	snapshot ComplianceSnapshot

	gapAlerted bool
}

func newWorker(cfg AccountConfig, cal *calendar.Calendar, disp *enforce.Dispatcher, jnl journal.Journal, pub *Publisher, alerts enforce.Alerter, logger *zap.Logger, clock risk.Clock) (*worker, error) {
	cfg = cfg.withDefaults()
	eval, err := risk.NewEvaluator(cfg.Limits)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", cfg.AccountID, err)
	}

	logger = logger.With(zap.String("account", cfg.AccountID))
	agg := risk.NewAggregator(cfg.AccountID, cfg.Limits.StartBalance, cfg.Specs, func(event string, fields map[string]interface{}) {
		zf := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zf = append(zf, zap.Any(k, v))
		}
		logger.Info(event, zf...)
	})
	agg.SetClock(clock)

	w := &worker{
		cfg:        cfg,
		agg:        agg,
		eval:       eval,
		cal:        cal,
		merge:      newMergeBuffer(cfg.Lateness),
		dispatcher: disp,
		journal:    jnl,
		pub:        pub,
		alerts:     alerts,
		logger:     logger,
		clock:      clock,
		events:     make(chan gateway.Event, 256),
		results:    make(chan enforce.Result, 16),
		admin:      make(chan func(), 4),
		done:       make(chan struct{}),
		state:      StateActive,
		last:       make(map[risk.RuleID]risk.RuleStatus),
		active:     make(map[string]enforce.Action),
	}
	w.snapshot = ComplianceSnapshot{
		AccountID: cfg.AccountID,
		State:     StateActive,
		Rules:     map[risk.RuleID]risk.RuleStatus{},
	}
	return w, nil
}

func (w *worker) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.StaleCheckEvery)
	defer ticker.Stop()

	// 归并缓冲非空时的放行定时器，保证滞留不超过容忍窗口。
	var flush <-chan time.Time
	var flushTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			return
		case ev := <-w.events:
			for _, ready := range w.merge.Add(ev) {
				w.cycleEvent(ctx, ready)
			}
			if w.merge.Len() > 0 && flush == nil {
				flushTimer = time.NewTimer(w.cfg.Lateness)
				flush = flushTimer.C
			}
		case <-flush:
			flush = nil
			for _, ready := range w.merge.Flush() {
				w.cycleEvent(ctx, ready)
			}
		case res := <-w.results:
			w.applyResult(res)
		case fn := <-w.admin:
			fn()
		case <-ticker.C:
			// feed 静默：先放行归并缓冲里滞留的事件，再做一次
			// 无事件重估，让 FeedAge 驱动 connectivity 规则。
			for _, ready := range w.merge.Flush() {
				w.cycleEvent(ctx, ready)
			}
			w.cycleTimer(ctx)
		}
	}
}

// cycleEvent 一次事件驱动的完整评估周期：聚合、评估、分发、发布。
func (w *worker) cycleEvent(ctx context.Context, ev gateway.Event) {
	gap := w.ensureSession(ev.Timestamp)

	m, err := w.agg.Apply(ev)
	if err != nil {
		metrics.EventsRejected.WithLabelValues(w.cfg.AccountID).Inc()
		if errors.Is(err, risk.ErrUnknownInstrument) {
			w.logger.Warn("event rejected", zap.Error(err), zap.Uint64("seq", ev.Seq))
		} else {
			w.logger.Error("event apply failed", zap.Error(err), zap.Uint64("seq", ev.Seq))
		}
	}
	w.finishCycle(ctx, m, ev.Timestamp, gap)
}

// cycleTimer 定时驱动的评估周期，不应用任何事件。
func (w *worker) cycleTimer(ctx context.Context) {
	now := w.clock.Now()
	gap := w.ensureSession(now)
	m := w.agg.Compute(now)
	w.finishCycle(ctx, m, now, gap)
}

// ensureSession 对齐会话窗口，必要时重置日状态与锁存。返回是否
// 处于日历空洞（fail-safe 封锁）。
func (w *worker) ensureSession(ts time.Time) bool {
	window, err := w.cal.WindowFor(ts)
	if err != nil {
		if !w.gapAlerted && w.alerts != nil {
			_ = w.alerts.SendCritical("trading calendar has no session data, blocking account", map[string]interface{}{
				"account":   w.cfg.AccountID,
				"timestamp": ts.UTC().Format(time.RFC3339),
			})
		}
		w.gapAlerted = true
		return true
	}
	w.gapAlerted = false

	if w.agg.EnsureSession(window.Date) {
		w.eval.ResetSession()
		w.mu.Lock()
		if w.state == StateDisabledSession || w.state == StateWarning {
			w.state = StateActive
		}
		w.mu.Unlock()
		w.logger.Info("session rolled over", zap.String("session_date", window.Date))
	}
	return false
}

func (w *worker) finishCycle(ctx context.Context, m risk.Metrics, ts time.Time, gap bool) {
	m.CalendarGap = gap
	if !gap {
		if window, err := w.cal.WindowFor(ts); err == nil {
			m.InSession = window.InSession(ts)
			m.SessionEndsIn = window.End.Sub(ts)
		}
	}

	statuses := w.eval.Evaluate(m)
	breaches := w.detectTransitions(statuses, m, ts)

	var issued []enforce.Action
	if len(breaches) > 0 {
		issued = w.dispatcher.Dispatch(ctx, breaches)
	}

	w.mu.Lock()
	prev := w.state
	w.state = nextState(w.state, statuses)
	for _, a := range issued {
		w.active[a.ID] = a
	}
	w.last = statuses
	w.snapshot = w.buildSnapshot(m, statuses)
	snap := w.snapshot.clone()
	nowPermanent := prev != StateDisabledPermanent && w.state == StateDisabledPermanent
	w.mu.Unlock()

	if nowPermanent {
		// 永久禁用：坍缩在途重试的退避等待，平仓请求本身继续。
		w.dispatcher.CollapseBackoff(w.cfg.AccountID)
		w.logger.Error("account permanently disabled",
			zap.Float64("trailing_dd", m.TrailingDrawdown),
			zap.Float64("threshold", w.cfg.Limits.TrailingKillThreshold()))
	}

	metrics.UpdateAccountMetrics(w.cfg.AccountID, m.Equity, m.TrailingDrawdown, m.DailyLossUsed, m.OpenRisk, int(snap.State))
	metrics.FeedAge.WithLabelValues(w.cfg.AccountID).Set(m.FeedAge.Seconds())
	for rule, st := range statuses {
		metrics.UpdateRuleStatus(w.cfg.AccountID, string(rule), int(st))
	}
	for _, a := range issued {
		metrics.IncrementActionIssued(w.cfg.AccountID, string(a.Kind))
		w.pub.PublishAction(a)
	}
	w.pub.PublishSnapshot(snap)
}

// detectTransitions 找出进入 WARNING/BREACH 的规则，写审计并构造
// 待分发的违规。只有 BREACH 产生强制动作。
func (w *worker) detectTransitions(statuses map[risk.RuleID]risk.RuleStatus, m risk.Metrics, ts time.Time) []enforce.Breach {
	var breaches []enforce.Breach
	for _, rule := range risk.AllRules {
		cur := statuses[rule]
		prev := w.last[rule]
		if cur == prev || cur < prev {
			continue
		}

		if w.journal != nil {
			rec := journal.BreachRecord{
				AccountID: w.cfg.AccountID,
				Rule:      rule,
				Status:    cur,
				Detail:    transitionDetail(rule, m),
				At:        ts,
			}
			if err := w.journal.AppendBreach(rec); err != nil {
				w.logger.Error("breach audit append failed", zap.Error(err))
			}
		}

		if cur != risk.StatusBreach {
			continue
		}
		b := enforce.Breach{AccountID: w.cfg.AccountID, Rule: rule, At: ts}
		if rule == risk.RuleOpenRiskCap || rule == risk.RuleScalingLimit {
			b.Symbol = m.NewestRiskSymbol
		}
		breaches = append(breaches, b)
		w.logger.Warn("rule breached",
			zap.String("rule", string(rule)),
			zap.String("detail", transitionDetail(rule, m)))
	}
	return breaches
}

func transitionDetail(rule risk.RuleID, m risk.Metrics) string {
	switch rule {
	case risk.RuleDailyLoss:
		return fmt.Sprintf("daily loss used %.2f", m.DailyLossUsed)
	case risk.RuleSessionLoss:
		return fmt.Sprintf("session loss used %.2f", m.SessionLossUsed)
	case risk.RuleTrailingDrawdown:
		return fmt.Sprintf("trailing drawdown %.2f from high water mark %.2f", m.TrailingDrawdown, m.HighWaterMark)
	case risk.RuleOpenRiskCap:
		if m.UnboundedRisk {
			return "position without registered stop, risk unbounded"
		}
		return fmt.Sprintf("open risk %.2f", m.OpenRisk)
	case risk.RuleTradeLimits:
		return fmt.Sprintf("trades %d, consecutive losses %d", m.TradeCount, m.ConsecutiveLosses)
	case risk.RuleConnectivity:
		return fmt.Sprintf("feed age %s, recent rejects %d", m.FeedAge, m.RecentRejects)
	case risk.RuleScalingLimit:
		return fmt.Sprintf("open contracts %d", m.OpenContracts)
	default:
		return ""
	}
}

func (w *worker) buildSnapshot(m risk.Metrics, statuses map[risk.RuleID]risk.RuleStatus) ComplianceSnapshot {
	lim := w.cfg.Limits

	actions := make([]enforce.Action, 0, len(w.active))
	for _, a := range w.active {
		actions = append(actions, a)
	}

	remaining := lim.MaxLossLimit - m.TrailingDrawdown
	if remaining < 0 {
		remaining = 0
	}

	return ComplianceSnapshot{
		AccountID:           w.cfg.AccountID,
		Timestamp:           m.Timestamp,
		State:               w.state,
		Equity:              m.Equity,
		RealizedPnL:         m.RealizedPnL,
		UnrealizedPnL:       m.UnrealizedPnL,
		HighWaterMark:       m.HighWaterMark,
		TrailingDrawdown:    m.TrailingDrawdown,
		KillswitchThreshold: lim.TrailingKillThreshold(),
		RemainingMLL:        remaining,
		DailyLossUsed:       m.DailyLossUsed,
		DailyLossCap:        lim.DailyLossCap,
		SessionLossUsed:     m.SessionLossUsed,
		OpenRisk:            m.OpenRisk,
		OpenRiskCap:         lim.OpenRiskCap(),
		OpenContracts:       m.OpenContracts,
		TradeCount:          m.TradeCount,
		ConsecutiveLosses:   m.ConsecutiveLosses,
		SessionDate:         w.agg.SessionDate(),
		InSession:           m.InSession,
		Rules:               statuses,
		ActiveActions:       actions,
	}
}

// applyResult 消化分发器的终态回报：更新在途动作列表并转发给订阅方。
func (w *worker) applyResult(res enforce.Result) {
	a := res.Action
	w.mu.Lock()
	if a.Outcome == enforce.OutcomePending {
		w.active[a.ID] = a
	} else {
		delete(w.active, a.ID)
	}
	w.mu.Unlock()
	if a.Outcome == enforce.OutcomeFailed {
		metrics.IncrementActionFailed(w.cfg.AccountID, string(a.Kind))
	}
	w.pub.PublishAction(a)
}

// Snapshot 返回最近发布的快照副本。
func (w *worker) Snapshot() ComplianceSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot.clone()
}

func (w *worker) State() AccountState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}
