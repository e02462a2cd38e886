package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"ashare-trader/internal/model"
	"ashare-trader/internal/service"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// gatewayRequest 发往交易网关的 JSON 帧。网关是跑在交易终端旁边的
// 桥接进程，把 WebSocket 请求翻译成柜台 API 调用。
type gatewayRequest struct {
	ID     int64           `json:"id"`
	Op     string          `json:"op"` // login / order / query_order / query_trade / logout
	Params json.RawMessage `json:"params,omitempty"`
}

type gatewayResponse struct {
	ID        int64           `json:"id"`
	ErrorCode int             `json:"error_code"`
	ErrorMsg  string          `json:"error_msg,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type loginParams struct {
	BrokerID     string `json:"broker_id"`
	DepartmentID string `json:"department_id"`
	Account      string `json:"account"`
	Password     string `json:"password"`
	AccountType  string `json:"account_type"`
}

type orderParams struct {
	Code      string  `json:"code"`
	Side      string  `json:"side"`
	Price     float64 `json:"price"`
	Volume    int64   `json:"volume"`
	OrderType string  `json:"order_type"`
	ClientRef string  `json:"client_ref,omitempty"`
	LogonID   string  `json:"logon_id"`
}

type queryParams struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code,omitempty"`
	LogonID   string `json:"logon_id"`
}

type loginData struct {
	LogonID string `json:"logon_id"`
}

type orderData struct {
	RequestID string `json:"request_id"`
}

type orderStatusData struct {
	RequestID    string  `json:"request_id"`
	Status       string  `json:"status"`
	OrderPrice   float64 `json:"order_price"`
	TradedPrice  float64 `json:"traded_price"`
	TradedVolume int64   `json:"traded_volume"`
	OrderNumber  string  `json:"order_number"`
}

type tradeData struct {
	Code      string  `json:"code"`
	Side      string  `json:"side"`
	Price     float64 `json:"price"`
	Volume    int64   `json:"volume"`
	TradeTime string  `json:"trade_time"`
}

// GatewaySession 是 Session 的真实实现：与交易网关保持一条
// WebSocket 连接，请求严格串行（同一时刻最多一个在途请求），
// 与柜台单连接会话的约束一致。
type GatewaySession struct {
	cfg     service.BrokerConfig
	conn    *websocket.Conn
	logonID string
	seq     atomic.Int64
	logger  *zap.Logger
}

// NewGatewaySession 创建网关会话（尚未连接，Login 时建立）
func NewGatewaySession(cfg service.BrokerConfig, logger *zap.Logger) *GatewaySession {
	return &GatewaySession{
		cfg:    cfg,
		logger: logger.With(zap.String("broker", "gateway")),
	}
}

// Login 建立 WebSocket 连接并完成柜台登录
func (s *GatewaySession) Login(ctx context.Context) error {
	u, err := url.Parse(s.cfg.GatewayURL)
	if err != nil {
		return fmt.Errorf("invalid gateway url: %w", err)
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 15 * time.Second
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	s.conn = conn

	var data loginData
	err = s.call(ctx, "login", loginParams{
		BrokerID:     s.cfg.BrokerID,
		DepartmentID: s.cfg.DepartmentID,
		Account:      s.cfg.Account,
		Password:     s.cfg.Password,
		AccountType:  s.cfg.AccountType,
	}, &data)
	if err != nil {
		conn.Close()
		s.conn = nil
		return fmt.Errorf("%w: %v", model.ErrLoginFailed, err)
	}
	s.logonID = data.LogonID
	s.logger.Info("Broker login successful", zap.String("logon_id", s.logonID))
	return nil
}

// PlaceOrder 报入一笔限价单
func (s *GatewaySession) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error) {
	var data orderData
	err := s.call(ctx, "order", orderParams{
		Code:      req.Code,
		Side:      string(req.Side),
		Price:     req.Price,
		Volume:    req.Volume,
		OrderType: "LMT",
		ClientRef: req.ClientRef,
		LogonID:   s.logonID,
	}, &data)
	if err != nil {
		var gwErr *gatewayError
		// 柜台拒单带错误码返回，连接级错误原样上抛
		if errors.As(err, &gwErr) {
			return OrderResponse{ErrorCode: gwErr.code, ErrorMsg: gwErr.msg}, nil
		}
		return OrderResponse{}, err
	}
	return OrderResponse{RequestID: data.RequestID}, nil
}

// QueryOrder 按 RequestID 查询订单状态
func (s *GatewaySession) QueryOrder(ctx context.Context, requestID string) (OrderStatus, error) {
	var data orderStatusData
	err := s.call(ctx, "query_order", queryParams{RequestID: requestID, LogonID: s.logonID}, &data)
	if err != nil {
		return OrderStatus{}, err
	}
	return OrderStatus{
		RequestID:    data.RequestID,
		Status:       data.Status,
		OrderPrice:   data.OrderPrice,
		TradedPrice:  data.TradedPrice,
		TradedVolume: data.TradedVolume,
		OrderNumber:  data.OrderNumber,
	}, nil
}

// QueryTrades 按代码查询当日成交明细
func (s *GatewaySession) QueryTrades(ctx context.Context, code string) ([]TradeDetail, error) {
	var data []tradeData
	err := s.call(ctx, "query_trade", queryParams{Code: code, LogonID: s.logonID}, &data)
	if err != nil {
		return nil, err
	}
	out := make([]TradeDetail, 0, len(data))
	for _, t := range data {
		out = append(out, TradeDetail{
			Code:      t.Code,
			Side:      model.Side(t.Side),
			Price:     t.Price,
			Volume:    t.Volume,
			TradeTime: t.TradeTime,
		})
	}
	return out, nil
}

// Logout 登出并断开连接，无论每笔订单结果如何都必须调用
func (s *GatewaySession) Logout(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	err := s.call(ctx, "logout", queryParams{LogonID: s.logonID}, nil)
	closeErr := s.conn.Close()
	s.conn = nil
	s.logonID = ""
	if err != nil {
		s.logger.Warn("Logout returned error", zap.Error(err))
		return err
	}
	s.logger.Info("Broker session closed")
	return closeErr
}

// gatewayError 柜台业务错误（带错误码），区别于连接错误
type gatewayError struct {
	code int
	msg  string
}

func (e *gatewayError) Error() string {
	return fmt.Sprintf("gateway error %d: %s", e.code, e.msg)
}

// call 发送一帧请求并等待对应 ID 的应答。串行使用，不做并发复用。
func (s *GatewaySession) call(ctx context.Context, op string, params any, out any) error {
	if s.conn == nil {
		return fmt.Errorf("gateway session not connected")
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	id := s.seq.Add(1)
	req := gatewayRequest{ID: id, Op: op, Params: raw}

	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(deadline)
		s.conn.SetReadDeadline(deadline)
	} else {
		s.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
		s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	}

	if err := s.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write %s: %w", op, err)
	}

	for {
		var resp gatewayResponse
		if err := s.conn.ReadJSON(&resp); err != nil {
			return fmt.Errorf("read %s response: %w", op, err)
		}
		if resp.ID != id {
			// 网关可能推送无关帧（心跳等），跳过
			continue
		}
		if resp.ErrorCode != 0 {
			return &gatewayError{code: resp.ErrorCode, msg: resp.ErrorMsg}
		}
		if out != nil && len(resp.Data) > 0 {
			if err := json.Unmarshal(resp.Data, out); err != nil {
				return fmt.Errorf("decode %s response: %w", op, err)
			}
		}
		return nil
	}
}
