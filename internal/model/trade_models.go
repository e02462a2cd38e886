package model

import (
	"fmt"
	"time"
)

// Side 定义了交易方向
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// PositionStatus 持仓状态机的三个状态
type PositionStatus string

const (
	StatusFlat        PositionStatus = "Flat"        // 空仓
	StatusHolding     PositionStatus = "Holding"     // 持仓
	StatusPendingSell PositionStatus = "PendingSell" // 待确认卖出（CHO 首次回落，等待次日确认）
)

// Position 是单只标的的权威持仓状态，由 PositionStore 独占管理。
// 不变式：HoldVolume > 0 当且仅当 Status 为 Holding 或 PendingSell；
// PendingSellSince 非空则 Status 必为 PendingSell。
// SignalEngine 只做试探性状态迁移，HoldVolume 只能由 TradeReconciler
// 在成交确认后写入。
type Position struct {
	Code             string
	Status           PositionStatus
	HoldVolume       int64
	LastBuyPrice     float64
	LastSellPrice    float64
	PendingSellSince string // 首次回落的交易日，空串表示无
	LastSignalTime   string
	UpdateTime       time.Time
}

// NewFlatPosition 返回某标的的初始空仓状态
func NewFlatPosition(code string) *Position {
	return &Position{Code: code, Status: StatusFlat, UpdateTime: time.Now().UTC()}
}

// Signal 是策略层发给订单构建层的一次性指令
type Signal struct {
	Code         string
	Side         Side
	PriceHint    float64 // 参考价（最新收盘价），用于计算限价
	SignalTime   string  // 信号产生的交易日
	SecurityName string  // 证券简称，用于 ST 识别与日志
}

func (s Signal) String() string {
	return fmt.Sprintf("SIGNAL [%s %s] @ %.2f (%s)", s.Side, s.Code, s.PriceHint, s.SignalTime)
}

// PendingOrder 是某个交易日待报/已报订单批次中的一条记录。
// OrderExecutor 就地回填 RequestID 与 ResponseTime；TradeReconciler
// 对账后置位 Reconciled，之后该批次视为不可变的历史档案。
type PendingOrder struct {
	Code         string  `json:"code"`
	Side         Side    `json:"side"`
	Volume       int64   `json:"volume"`
	LimitPrice   float64 `json:"limit_price"`
	SignalTime   string  `json:"signal_time"`
	TradeDate    string  `json:"trade_date"`
	RequestID    string  `json:"request_id,omitempty"`
	ResponseTime string  `json:"order_response_ts,omitempty"`
	Reconciled   bool    `json:"reconciled,omitempty"`
	Notes        string  `json:"notes,omitempty"`
}

// Submitted 判断该订单是否已成功报入柜台
func (o PendingOrder) Submitted() bool {
	return o.RequestID != ""
}

// TradeStatus 对账后的订单终态分类
type TradeStatus string

const (
	TradeFilled          TradeStatus = "Filled"
	TradePartiallyFilled TradeStatus = "PartiallyFilled"
	TradeUnfilled        TradeStatus = "Unfilled"
	TradeRejected        TradeStatus = "Rejected"
)

// TradeRecord 是对账阶段由 PendingOrder 派生的成交记录
type TradeRecord struct {
	Code         string
	Side         Side
	Status       TradeStatus
	OrderPrice   float64
	TradedPrice  float64
	TradedVolume int64
	OrderNumber  string
	RequestID    string
	ManualReview bool // 柜台查无此单等需要人工复核的情形
}
