package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"combine-guard-go/calendar"
	"combine-guard-go/enforce"
	"combine-guard-go/gateway"
	"combine-guard-go/journal"
	"combine-guard-go/risk"
)

// Engine 守护引擎总线：按账户路由事件到各自的串行评估序列，
// 消费分发器回报，对外提供快照与订阅。账户之间没有任何共享锁。
type Engine struct {
	workers    map[string]*worker
	dispatcher *enforce.Dispatcher
	journal    journal.Journal
	pub        *Publisher
	logger     *zap.Logger
	clock      risk.Clock

	seq     atomic.Uint64
	cancel  context.CancelFunc
	stopped chan struct{}
	started bool
	mu      sync.Mutex
}

// New 组装引擎。每个账户的 Limits 在此校验，任何一个非法都拒绝启动，
// 绝不带着未定义的策略运行。
func New(accounts []AccountConfig, cal *calendar.Calendar, disp *enforce.Dispatcher, jnl journal.Journal, alerts enforce.Alerter, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: no accounts configured", risk.ErrConfigInvalid)
	}

	e := &Engine{
		workers:    make(map[string]*worker, len(accounts)),
		dispatcher: disp,
		journal:    jnl,
		pub:        NewPublisher(),
		logger:     logger,
		clock:      risk.NowUTC,
		stopped:    make(chan struct{}),
	}
	for _, cfg := range accounts {
		if _, dup := e.workers[cfg.AccountID]; dup {
			return nil, fmt.Errorf("%w: duplicate account %s", risk.ErrConfigInvalid, cfg.AccountID)
		}
		w, err := newWorker(cfg, cal, disp, jnl, e.pub, alerts, logger, e.clock)
		if err != nil {
			return nil, err
		}
		e.workers[cfg.AccountID] = w
	}
	return e, nil
}

// SetClock 注入测试时钟，必须在 Start 之前调用。
func (e *Engine) SetClock(c risk.Clock) {
	e.clock = c
	for _, w := range e.workers {
		w.clock = c
		w.agg.SetClock(c)
	}
}

// Start 启动全部账户工作协程与回报路由。
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("engine already started")
	}
	e.started = true

	ctx, e.cancel = context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, w := range e.workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.run(ctx)
		}(w)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.routeResults(ctx)
	}()

	go func() {
		wg.Wait()
		close(e.stopped)
	}()

	e.logger.Info("guardrail engine started", zap.Int("accounts", len(e.workers)))
	return nil
}

// Stop 取消工作协程并等待在途动作到达终态。
func (e *Engine) Stop(timeout time.Duration) error {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	flushed := make(chan struct{})
	go func() {
		e.dispatcher.Wait()
		close(flushed)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.stopped:
	case <-timer.C:
		return fmt.Errorf("timeout waiting for engine workers to stop")
	}
	select {
	case <-flushed:
		return nil
	case <-timer.C:
		return fmt.Errorf("timeout waiting for in-flight actions")
	}
}

// Submit 接收一个 feed 事件。到达序号在此统一分配，作为相同时间戳
// 的决定性平局裁决。未知账户的事件丢弃并计数日志。
func (e *Engine) Submit(ev gateway.Event) {
	ev.Seq = e.seq.Add(1)
	w, ok := e.workers[ev.AccountID]
	if !ok {
		e.logger.Warn("event for unknown account dropped",
			zap.String("account", ev.AccountID),
			zap.String("kind", ev.Kind.String()))
		return
	}
	select {
	case w.events <- ev:
	default:
		// 队列满说明该账户的评估落后于 feed，丢最旧不如丢最新，
		// 但这里没有去队头的通道原语，记录后丢弃并让 connectivity
		// 规则随 FeedAge 抬升。
		e.logger.Error("account event queue full, dropping event",
			zap.String("account", ev.AccountID),
			zap.Uint64("seq", ev.Seq))
	}
}

// Snapshot 拉取某账户最近发布的合规快照。
func (e *Engine) Snapshot(accountID string) (ComplianceSnapshot, bool) {
	w, ok := e.workers[accountID]
	if !ok {
		return ComplianceSnapshot{}, false
	}
	return w.Snapshot(), true
}

// Snapshots 全部账户的当前快照。
func (e *Engine) Snapshots() []ComplianceSnapshot {
	out := make([]ComplianceSnapshot, 0, len(e.workers))
	for _, w := range e.workers {
		out = append(out, w.Snapshot())
	}
	return out
}

// SubscribeSnapshots 订阅快照推送。
func (e *Engine) SubscribeSnapshots() <-chan ComplianceSnapshot { return e.pub.SubscribeSnapshots() }

// SubscribeActions 订阅强制动作事件流。
func (e *Engine) SubscribeActions() <-chan enforce.Action { return e.pub.SubscribeActions() }

// AdminRelease 外部管理动作：解除永久禁用并以重新注资后的权益重置
// 高水位。这是离开 DisabledPermanent 的唯一路径。
func (e *Engine) AdminRelease(accountID string, equity float64) error {
	w, ok := e.workers[accountID]
	if !ok {
		return fmt.Errorf("unknown account %s", accountID)
	}
	done := make(chan struct{})
	w.admin <- func() {
		defer close(done)
		w.eval.AdminRelease()
		w.agg.AdminResetHWM(equity, e.clock.Now())
		w.mu.Lock()
		w.state = StateActive
		w.snapshot.State = StateActive
		w.snapshot.Rules = map[risk.RuleID]risk.RuleStatus{}
		w.last = map[risk.RuleID]risk.RuleStatus{}
		w.mu.Unlock()
		w.logger.Warn("admin release, account re-enabled", zap.Float64("equity", equity))
	}
	<-done
	return nil
}

// UpdateLimits 热更新单账户阈值，配置热加载时调用。非法阈值被拒绝，
// 旧阈值继续生效；已锁存的规则不受影响。
func (e *Engine) UpdateLimits(accountID string, limits risk.Limits) error {
	w, ok := e.workers[accountID]
	if !ok {
		return fmt.Errorf("unknown account %s", accountID)
	}
	errc := make(chan error, 1)
	w.admin <- func() {
		if err := w.eval.UpdateLimits(limits); err != nil {
			errc <- err
			return
		}
		w.cfg.Limits = w.eval.Limits()
		w.logger.Info("limits updated")
		errc <- nil
	}
	return <-errc
}

// routeResults 把分发器的终态回报送回对应账户的串行序列。
func (e *Engine) routeResults(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-e.dispatcher.Results():
			w, ok := e.workers[res.Action.AccountID]
			if !ok {
				continue
			}
			select {
			case w.results <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}
