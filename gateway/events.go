package gateway

import "time"

// EventKind 标识账户事件流中的事件类型。
type EventKind int

const (
	EventEquity EventKind = iota
	EventPosition
	EventOrderAck
	EventFill
)

func (k EventKind) String() string {
	switch k {
	case EventEquity:
		return "EQUITY"
	case EventPosition:
		return "POSITION"
	case EventOrderAck:
		return "ORDER_ACK"
	case EventFill:
		return "FILL"
	default:
		return "UNKNOWN"
	}
}

// EquityUpdate 账户权益流事件。
type EquityUpdate struct {
	AccountID     string
	Timestamp     time.Time
	Equity        float64
	RealizedPnL   float64
	UnrealizedPnL float64
}

// PositionDelta 仓位流事件。StopDistance 为 nil 表示该仓位没有登记止损，
// 风控侧会按无界风险处理，不允许静默忽略。
type PositionDelta struct {
	AccountID    string
	Symbol       string
	Quantity     float64
	EntryPrice   float64
	StopDistance *float64
	Timestamp    time.Time
}

// OrderAck 订单回执流事件。
type OrderAck struct {
	AccountID string
	OrderID   string
	Status    string
	Timestamp time.Time
}

// Fill 成交事件，携带本笔已实现盈亏，用于日内亏损与连亏计数。
type Fill struct {
	AccountID   string
	OrderID     string
	Symbol      string
	Side        string // BUY/SELL
	Quantity    float64
	Price       float64
	RealizedPnL float64
	Timestamp   time.Time
}

// Event 三路独立 feed 合并后的统一事件。Seq 由接入层按到达顺序递增分配，
// 时间戳相同时用于稳定排序。
type Event struct {
	Kind      EventKind
	AccountID string
	Timestamp time.Time
	Seq       uint64

	Equity   *EquityUpdate
	Position *PositionDelta
	OrderAck *OrderAck
	Fill     *Fill
}
