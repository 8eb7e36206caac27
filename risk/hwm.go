package risk

import "time"

// HighWaterMark 账户历史最高权益。整个资金账户生命周期内只增不减：
// 交易活动永远不会下调它，重置只能来自再注资等外部管理事件。
type HighWaterMark struct {
	Value     float64
	ReachedAt time.Time
}

// Observe 纯函数：返回纳入新权益样本后的 HWM。不修改接收者，由调用方持久化。
func (h HighWaterMark) Observe(equity float64, ts time.Time) HighWaterMark {
	if equity > h.Value {
		return HighWaterMark{Value: equity, ReachedAt: ts}
	}
	return h
}

// AdminReset 管理事件触发的重置（账户再注资）。唯一允许 HWM 下调的入口。
func AdminReset(equity float64, ts time.Time) HighWaterMark {
	return HighWaterMark{Value: equity, ReachedAt: ts}
}
