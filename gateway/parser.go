package gateway

import (
	"encoding/json"
	"fmt"
	"time"
)

// 用户事件 hub 的消息按 target 分发，十分接近 SignalR 的 invocation 包装。
const (
	targetAccount  = "GatewayUserAccount"
	targetPosition = "GatewayUserPosition"
	targetOrder    = "GatewayUserOrder"
	targetTrade    = "GatewayUserTrade"
)

// HubMessage 对应 userhub 的包装帧；heartbeat 帧没有 target。
type HubMessage struct {
	Target    string            `json:"target"`
	Arguments []json.RawMessage `json:"arguments"`
}

type accountPayload struct {
	AccountID     string    `json:"accountId"`
	Balance       float64   `json:"balance"`
	RealizedPnL   float64   `json:"realizedPnl"`
	UnrealizedPnL float64   `json:"unrealizedPnl"`
	Timestamp     time.Time `json:"timestamp"`
}

type positionPayload struct {
	AccountID    string    `json:"accountId"`
	Symbol       string    `json:"symbol"`
	Quantity     float64   `json:"quantity"`
	EntryPrice   float64   `json:"entryPrice"`
	StopDistance *float64  `json:"stopDistance"`
	Timestamp    time.Time `json:"timestamp"`
}

type orderPayload struct {
	AccountID string    `json:"accountId"`
	OrderID   string    `json:"orderId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type tradePayload struct {
	AccountID   string    `json:"accountId"`
	OrderID     string    `json:"orderId"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	RealizedPnL float64   `json:"profitAndLoss"`
	Timestamp   time.Time `json:"timestamp"`
}

// ParseUserEvent 解析 userhub 原始帧。返回 ok=false 表示该帧与风控无关
// （heartbeat、握手、未知 target），上层直接丢弃即可。
func ParseUserEvent(raw []byte) (Event, bool, error) {
	var msg HubMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Event{}, false, fmt.Errorf("decode hub frame: %w", err)
	}
	if msg.Target == "" || len(msg.Arguments) == 0 {
		return Event{}, false, nil
	}
	arg := msg.Arguments[0]

	switch msg.Target {
	case targetAccount:
		var p accountPayload
		if err := json.Unmarshal(arg, &p); err != nil {
			return Event{}, false, fmt.Errorf("decode %s: %w", msg.Target, err)
		}
		return Event{
			Kind:      EventEquity,
			AccountID: p.AccountID,
			Timestamp: p.Timestamp,
			Equity: &EquityUpdate{
				AccountID:     p.AccountID,
				Timestamp:     p.Timestamp,
				Equity:        p.Balance + p.UnrealizedPnL,
				RealizedPnL:   p.RealizedPnL,
				UnrealizedPnL: p.UnrealizedPnL,
			},
		}, true, nil
	case targetPosition:
		var p positionPayload
		if err := json.Unmarshal(arg, &p); err != nil {
			return Event{}, false, fmt.Errorf("decode %s: %w", msg.Target, err)
		}
		return Event{
			Kind:      EventPosition,
			AccountID: p.AccountID,
			Timestamp: p.Timestamp,
			Position: &PositionDelta{
				AccountID:    p.AccountID,
				Symbol:       p.Symbol,
				Quantity:     p.Quantity,
				EntryPrice:   p.EntryPrice,
				StopDistance: p.StopDistance,
				Timestamp:    p.Timestamp,
			},
		}, true, nil
	case targetOrder:
		var p orderPayload
		if err := json.Unmarshal(arg, &p); err != nil {
			return Event{}, false, fmt.Errorf("decode %s: %w", msg.Target, err)
		}
		return Event{
			Kind:      EventOrderAck,
			AccountID: p.AccountID,
			Timestamp: p.Timestamp,
			OrderAck: &OrderAck{
				AccountID: p.AccountID,
				OrderID:   p.OrderID,
				Status:    p.Status,
				Timestamp: p.Timestamp,
			},
		}, true, nil
	case targetTrade:
		var p tradePayload
		if err := json.Unmarshal(arg, &p); err != nil {
			return Event{}, false, fmt.Errorf("decode %s: %w", msg.Target, err)
		}
		return Event{
			Kind:      EventFill,
			AccountID: p.AccountID,
			Timestamp: p.Timestamp,
			Fill: &Fill{
				AccountID:   p.AccountID,
				OrderID:     p.OrderID,
				Symbol:      p.Symbol,
				Side:        p.Side,
				Quantity:    p.Quantity,
				Price:       p.Price,
				RealizedPnL: p.RealizedPnL,
				Timestamp:   p.Timestamp,
			},
		}, true, nil
	default:
		return Event{}, false, nil
	}
}
