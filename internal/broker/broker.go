package broker

import (
	"context"

	"ashare-trader/internal/model"
)

// 柜台返回的订单状态常量
const (
	OrderFilled     = "Filled"     // 全部成交
	OrderPartFilled = "PartFilled" // 部分成交（收盘后即为终态）
	OrderUnfilled   = "Unfilled"   // 未成交
	OrderCancelled  = "Cancelled"  // 已撤单
	OrderRejected   = "Rejected"   // 柜台拒单
)

// OrderRequest 单笔报单参数
type OrderRequest struct {
	Code      string
	Side      model.Side
	Price     float64
	Volume    int64
	ClientRef string // 本地生成的报单引用，便于日志追踪
}

// OrderResponse 柜台对报单的应答
type OrderResponse struct {
	RequestID string
	ErrorCode int
	ErrorMsg  string
}

// OK 判断报单是否被柜台接受
func (r OrderResponse) OK() bool { return r.ErrorCode == 0 && r.RequestID != "" }

// OrderStatus 对账查询到的订单状态
type OrderStatus struct {
	RequestID    string
	Status       string // OrderFilled 等常量
	OrderPrice   float64
	TradedPrice  float64
	TradedVolume int64
	OrderNumber  string
}

// TradeDetail 成交明细
type TradeDetail struct {
	Code      string
	Side      model.Side
	Price     float64
	Volume    int64
	TradeTime string
}

// Session 是对交易柜台的能力抽象：登录/报单/查询/登出。
// 真实实现走网关桥接（gateway.go），测试用确定性 Mock（mock.go）。
// 一个 Session 只服务一次逻辑运行（一次报单或一次对账），
// 严格串行使用，不得跨运行共享。
type Session interface {
	Login(ctx context.Context) error
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error)
	QueryOrder(ctx context.Context, requestID string) (OrderStatus, error)
	QueryTrades(ctx context.Context, code string) ([]TradeDetail, error)
	Logout(ctx context.Context) error
}
