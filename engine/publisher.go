package engine

import (
	"sync"

	"combine-guard-go/enforce"
)

// Publisher 快照与动作事件的轻量分发器。慢消费者丢最新一条，
// 绝不阻塞评估周期。
type Publisher struct {
	mu           sync.RWMutex
	snapshotSubs []chan ComplianceSnapshot
	actionSubs   []chan enforce.Action
}

func NewPublisher() *Publisher {
	return &Publisher{
		snapshotSubs: make([]chan ComplianceSnapshot, 0),
		actionSubs:   make([]chan enforce.Action, 0),
	}
}

func (p *Publisher) SubscribeSnapshots() <-chan ComplianceSnapshot {
	ch := make(chan ComplianceSnapshot, 16)
	p.mu.Lock()
	p.snapshotSubs = append(p.snapshotSubs, ch)
	p.mu.Unlock()
	return ch
}

func (p *Publisher) SubscribeActions() <-chan enforce.Action {
	ch := make(chan enforce.Action, 16)
	p.mu.Lock()
	p.actionSubs = append(p.actionSubs, ch)
	p.mu.Unlock()
	return ch
}

func (p *Publisher) PublishSnapshot(s ComplianceSnapshot) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.snapshotSubs {
		select {
		case ch <- s:
		default:
		}
	}
}

func (p *Publisher) PublishAction(a enforce.Action) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.actionSubs {
		select {
		case ch <- a:
		default:
		}
	}
}
