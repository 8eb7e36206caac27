package engine

import (
	"sort"
	"time"

	"combine-guard-go/gateway"
)

// mergeBuffer 把多个独立 feed 的事件按 (时间戳, 到达序号) 归并成单一
// 有序流。事件最多滞留 tolerance，等待乱序的同伴；超过容忍窗口才到
// 的事件仍然放行（亏损核算不能丢事件），由评估层的锁存保证已触发的
// BREACH 不被追溯解除。
type mergeBuffer struct {
	tolerance time.Duration
	pending   []gateway.Event
	maxSeen   time.Time
}

func newMergeBuffer(tolerance time.Duration) *mergeBuffer {
	if tolerance <= 0 {
		tolerance = 500 * time.Millisecond
	}
	return &mergeBuffer{tolerance: tolerance}
}

// Add 接收一个事件，返回本次可以按序放行的事件（可能为空）。
func (b *mergeBuffer) Add(ev gateway.Event) []gateway.Event {
	if ev.Timestamp.After(b.maxSeen) {
		b.maxSeen = ev.Timestamp
	}

	i := sort.Search(len(b.pending), func(i int) bool {
		p := b.pending[i]
		if !p.Timestamp.Equal(ev.Timestamp) {
			return p.Timestamp.After(ev.Timestamp)
		}
		return p.Seq > ev.Seq
	})
	b.pending = append(b.pending, gateway.Event{})
	copy(b.pending[i+1:], b.pending[i:])
	b.pending[i] = ev

	return b.release(b.maxSeen.Add(-b.tolerance))
}

// Flush 放行剩余全部事件（feed 静默或关闭时由定时器驱动）。
func (b *mergeBuffer) Flush() []gateway.Event {
	return b.release(b.maxSeen.Add(time.Second))
}

// FlushOlderThan 放行水位之前的事件。
func (b *mergeBuffer) FlushOlderThan(watermark time.Time) []gateway.Event {
	return b.release(watermark)
}

func (b *mergeBuffer) release(watermark time.Time) []gateway.Event {
	n := 0
	for n < len(b.pending) && !b.pending[n].Timestamp.After(watermark) {
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]gateway.Event, n)
	copy(out, b.pending[:n])
	b.pending = b.pending[:copy(b.pending, b.pending[n:])]
	return out
}

func (b *mergeBuffer) Len() int { return len(b.pending) }
