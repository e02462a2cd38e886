package broker

import (
	"context"
	"fmt"
	"sync"

	"ashare-trader/internal/model"
)

// MockOutcome 预设某代码的柜台行为，用于测试与演练
type MockOutcome struct {
	RejectSubmit bool   // 报单即拒
	SubmitErrNo  int    // 拒单错误码（RejectSubmit 时生效）
	Status       string // 对账查询返回的订单状态，空则 OrderFilled
	TradedPrice  float64
	TradedVolume int64
	NotFound     bool // 柜台查无此单
}

// MockSession 是 Session 的确定性实现：按脚本应答，
// 并记录全部调用顺序，供测试断言串行性与登出保障。
type MockSession struct {
	mu sync.Mutex

	// 脚本
	LoginFailures int // 前 N 次登录失败
	Outcomes      map[string]MockOutcome

	// 记录
	LoginCalls  int
	LogoutCalls int
	Placed      []OrderRequest
	Queried     []string

	loggedIn bool
	seq      int
	byReqID  map[string]OrderRequest
}

// NewMockSession 创建空脚本的 Mock 会话（默认全部成交）
func NewMockSession() *MockSession {
	return &MockSession{
		Outcomes: make(map[string]MockOutcome),
		byReqID:  make(map[string]OrderRequest),
	}
}

func (m *MockSession) Login(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LoginCalls++
	if m.LoginCalls <= m.LoginFailures {
		return fmt.Errorf("%w: mock connect refused", model.ErrLoginFailed)
	}
	m.loggedIn = true
	return nil
}

func (m *MockSession) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loggedIn {
		return OrderResponse{}, fmt.Errorf("mock: place order before login")
	}
	m.Placed = append(m.Placed, req)

	outcome := m.Outcomes[req.Code]
	if outcome.RejectSubmit {
		errNo := outcome.SubmitErrNo
		if errNo == 0 {
			errNo = -1
		}
		return OrderResponse{ErrorCode: errNo, ErrorMsg: "mock reject"}, nil
	}

	m.seq++
	reqID := fmt.Sprintf("REQ-%04d", m.seq)
	m.byReqID[reqID] = req
	return OrderResponse{RequestID: reqID}, nil
}

func (m *MockSession) QueryOrder(ctx context.Context, requestID string) (OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loggedIn {
		return OrderStatus{}, fmt.Errorf("mock: query before login")
	}
	m.Queried = append(m.Queried, requestID)

	req, ok := m.byReqID[requestID]
	if !ok {
		return OrderStatus{}, fmt.Errorf("mock: unknown request id %s", requestID)
	}
	outcome := m.Outcomes[req.Code]
	if outcome.NotFound {
		return OrderStatus{}, fmt.Errorf("mock: order %s not found at venue", requestID)
	}

	status := outcome.Status
	if status == "" {
		status = OrderFilled
	}
	tradedPrice := outcome.TradedPrice
	tradedVolume := outcome.TradedVolume
	if status == OrderFilled && tradedVolume == 0 {
		tradedPrice = req.Price
		tradedVolume = req.Volume
	}
	return OrderStatus{
		RequestID:    requestID,
		Status:       status,
		OrderPrice:   req.Price,
		TradedPrice:  tradedPrice,
		TradedVolume: tradedVolume,
		OrderNumber:  "N" + requestID,
	}, nil
}

func (m *MockSession) QueryTrades(ctx context.Context, code string) ([]TradeDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	outcome := m.Outcomes[code]
	if outcome.TradedVolume == 0 {
		return nil, nil
	}
	return []TradeDetail{{
		Code:   code,
		Price:  outcome.TradedPrice,
		Volume: outcome.TradedVolume,
	}}, nil
}

func (m *MockSession) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LogoutCalls++
	m.loggedIn = false
	return nil
}
